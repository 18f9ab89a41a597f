package utils

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"growthos/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("prospect_source", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || models.NormalizeSource(s) == strings.ToLower(strings.TrimSpace(s))
	})
	return v
}

func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	var messages []string
	for _, err := range verrs {
		field := strings.ToLower(err.Field())
		tag := err.Tag()
		param := err.Param()

		switch tag {
		case "required", "required_if", "required_unless":
			messages = append(messages, field+" is required")
		case "gt":
			messages = append(messages, field+" must be greater than "+param)
		case "len":
			messages = append(messages, field+" must be "+param+" characters long")
		case "min":
			messages = append(messages, field+" must be at least "+param)
		case "max":
			messages = append(messages, field+" must be at most "+param)
		case "email":
			messages = append(messages, field+" must be a valid email")
		case "oneof":
			messages = append(messages, field+" must be one of: "+param)
		case "url":
			messages = append(messages, field+" must be a valid URL")
		case "prospect_source":
			messages = append(messages, field+" is not a known source")
		default:
			messages = append(messages, field+" is invalid")
		}
	}

	return errors.New(strings.Join(messages, ", "))
}
