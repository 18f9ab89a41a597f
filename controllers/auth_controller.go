package controller

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"growthos/models"
	"growthos/services"
	"growthos/utils"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"omitempty,max=100"`
	Company  string `json:"company" validate:"omitempty,max=200"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type AuthResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user"`
}

type AuthController struct {
	DB        *gorm.DB
	Logger    *logrus.Entry
	Templates []services.SequenceTemplate
	Secure    bool
}

func NewAuthController(db *gorm.DB, logger *logrus.Entry, templates []services.SequenceTemplate, secure bool) *AuthController {
	return &AuthController{DB: db, Logger: logger, Templates: templates, Secure: secure}
}

func (ac *AuthController) issue(c *fiber.Ctx, user *models.User, status int) error {
	accessToken, refreshToken, err := utils.GenerateJWTToken(user)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate tokens", err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    accessToken,
		Expires:  time.Now().Add(15 * time.Minute),
		HTTPOnly: true,
		Secure:   ac.Secure,
		SameSite: "Lax",
	})

	return c.Status(status).JSON(AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	})
}

func (ac *AuthController) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := bindJSON(c, &req); err != nil {
		return serviceError(c, "", err)
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	// Check if user already exists
	var existing int64
	if err := ac.DB.WithContext(c.UserContext()).Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check email", err)
	}
	if existing > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Email already registered", nil)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to hash password", err)
	}

	user := models.User{
		Email:        email,
		PasswordHash: string(hashedPassword),
		IsActive:     true,
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		user.Name = &name
	}
	if company := strings.TrimSpace(req.Company); company != "" {
		user.Company = &company
	}

	if err := ac.DB.WithContext(c.UserContext()).Create(&user).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create user", err)
	}

	// Starter sequences are a convenience; registration succeeds without them.
	rc := &utils.RequestContext{Ctx: c.UserContext(), UserID: user.ID, Email: user.Email}
	if n, err := services.SeedSequences(ac.DB, rc, ac.Templates); err != nil {
		utils.LogError("seed_sequences", err, map[string]interface{}{"user_id": user.ID})
	} else if n > 0 {
		ac.Logger.WithFields(rc.Fields()).WithField("sequences", n).Info("Seeded starter sequences")
	}

	ac.Logger.WithField("user_id", user.ID).Info("User registered")
	return ac.issue(c, &user, fiber.StatusCreated)
}

func (ac *AuthController) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := bindJSON(c, &req); err != nil {
		return serviceError(c, "", err)
	}

	var user models.User
	if err := ac.DB.WithContext(c.UserContext()).
		Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).
		First(&user).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid email or password", nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid email or password", nil)
	}
	if !user.IsActive {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "Account is not active", nil)
	}

	return ac.issue(c, &user, fiber.StatusOK)
}

// RefreshToken trades a refresh token for a new pair. Tokens issued before the last logout
// or password change are rejected.
func (ac *AuthController) RefreshToken(c *fiber.Ctx) error {
	var req RefreshTokenRequest
	if err := bindJSON(c, &req); err != nil {
		return serviceError(c, "", err)
	}

	claims, err := utils.ParseJWTToken(req.RefreshToken)
	if err != nil || claims.Kind != "refresh" {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid refresh token", nil)
	}

	var user models.User
	if err := ac.DB.WithContext(c.UserContext()).First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid refresh token", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load user", err)
	}
	if !user.IsActive || user.TokenVersion != claims.TokenVersion {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid refresh token", nil)
	}

	return ac.issue(c, &user, fiber.StatusOK)
}

func (ac *AuthController) GetCurrentUser(c *fiber.Ctx) error {
	user, ok := c.Locals("user").(*models.User)
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Authorization required", nil)
	}
	return c.JSON(utils.SuccessResponse(user))
}

// Logout invalidates every token issued so far by bumping the user's token version.
func (ac *AuthController) Logout(c *fiber.Ctx) error {
	rc := requestContext(c)
	if err := ac.DB.WithContext(rc.Context()).Model(&models.User{}).
		Where("id = ?", rc.UserID).
		UpdateColumn("token_version", gorm.Expr("token_version + 1")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to log out", err)
	}
	c.ClearCookie("access_token")
	return c.JSON(utils.SuccessResponse(fiber.Map{"message": "Logged out"}))
}

func (ac *AuthController) ChangePassword(c *fiber.Ctx) error {
	rc := requestContext(c)

	var req ChangePasswordRequest
	if err := bindJSON(c, &req); err != nil {
		return serviceError(c, "", err)
	}

	user, ok := c.Locals("user").(*models.User)
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Authorization required", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid current password", nil)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to hash password", err)
	}

	// Invalidate existing tokens along with the password
	if err := ac.DB.WithContext(rc.Context()).Model(user).Updates(map[string]interface{}{
		"password_hash": string(hashedPassword),
		"token_version": gorm.Expr("token_version + 1"),
	}).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update password", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"message": "Password changed successfully"}))
}
