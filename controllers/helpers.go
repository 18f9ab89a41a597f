package controller

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"growthos/services"
	"growthos/utils"
)

func requestContext(c *fiber.Ctx) *utils.RequestContext {
	if rc := utils.CurrentRequest(c); rc != nil {
		return rc
	}
	return &utils.RequestContext{Ctx: c.UserContext()}
}

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid id")
	}
	return uint(id), nil
}

// serviceError maps service errors onto the response envelope.
func serviceError(c *fiber.Ctx, message string, err error) error {
	var ferr *fiber.Error
	switch {
	case errors.As(err, &ferr):
		return utils.ErrorResponse(c, ferr.Code, ferr.Message, nil)
	case errors.Is(err, services.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Not found", nil)
	case errors.Is(err, services.ErrInvalidWebhook),
		errors.Is(err, services.ErrEmptySequence),
		errors.Is(err, services.ErrInvoiceIncomplete),
		errors.Is(err, services.ErrUnsupported):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, services.ErrAlreadyEnrolled), errors.Is(err, services.ErrInvoiceNotSendable):
		return utils.ErrorResponse(c, fiber.StatusConflict, err.Error(), nil)
	default:
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, message, err)
	}
}

// bindJSON parses and validates a request body. The returned error is a *fiber.Error.
func bindJSON(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := utils.ValidateStruct(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}
