package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"growthos/models"
	"growthos/utils"
)

// RequestIDHeader is echoed back on every authenticated response.
const RequestIDHeader = "X-Request-ID"

// Protected authenticates the caller and stores one RequestContext for the request.
func Protected(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Try to get token from Authorization header first
		var token string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid authorization format", nil)
			}
			token = tokenParts[1]
		} else {
			token = c.Cookies("access_token")
			if token == "" {
				return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Authorization required", nil)
			}
		}

		claims, err := utils.ParseJWTToken(token)
		if err != nil || claims.Kind != "access" {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid or expired token", nil)
		}

		var user models.User
		if err := db.WithContext(c.UserContext()).First(&user, claims.UserID).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "User not found", nil)
		}
		if !user.IsActive {
			return utils.ErrorResponse(c, fiber.StatusForbidden, "Account is not active", nil)
		}
		if claims.TokenVersion != user.TokenVersion {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid token version", nil)
		}

		requestID := c.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDHeader, requestID)

		utils.SetRequestContext(c, &utils.RequestContext{
			Ctx:       c.UserContext(),
			UserID:    user.ID,
			Email:     user.Email,
			RequestID: requestID,
		})
		c.Locals("user", &user)

		return c.Next()
	}
}

// NewWebhookContext builds the request context for unauthenticated webhook deliveries.
func NewWebhookContext(c *fiber.Ctx) *utils.RequestContext {
	requestID := c.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(RequestIDHeader, requestID)
	return &utils.RequestContext{Ctx: c.UserContext(), RequestID: requestID}
}
