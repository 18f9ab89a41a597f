package utils

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// RequestContextKey is the fiber locals key holding the *RequestContext.
const RequestContextKey = "request_context"

// RequestContext carries the caller identity for one request. It is built once by the
// auth middleware and passed explicitly into services.
type RequestContext struct {
	Ctx       context.Context
	UserID    uint
	Email     string
	RequestID string
}

func (rc *RequestContext) Context() context.Context {
	if rc == nil || rc.Ctx == nil {
		return context.Background()
	}
	return rc.Ctx
}

// Fields returns log fields identifying the request.
func (rc *RequestContext) Fields() logrus.Fields {
	return logrus.Fields{
		"user_id":    rc.UserID,
		"request_id": rc.RequestID,
	}
}

func SetRequestContext(c *fiber.Ctx, rc *RequestContext) {
	c.Locals(RequestContextKey, rc)
}

// CurrentRequest returns the request context stored by the auth middleware, or nil.
func CurrentRequest(c *fiber.Ctx) *RequestContext {
	rc, _ := c.Locals(RequestContextKey).(*RequestContext)
	return rc
}
