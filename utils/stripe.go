package utils

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ConstructStripeEvent verifies the Stripe-Signature header against the raw body.
func ConstructStripeEvent(c *fiber.Ctx, secret string) (stripe.Event, error) {
	payload := c.Body()

	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return stripe.Event{}, fiber.NewError(fiber.StatusBadRequest, "Missing Stripe-Signature header")
	}

	event, err := webhook.ConstructEventWithTolerance(payload, signature, secret, 5*time.Minute)
	if err != nil {
		prefix := signature
		if len(prefix) > 10 {
			prefix = prefix[:10] + "..."
		}
		logrus.WithError(err).WithField("signature_prefix", prefix).Warn("Failed to verify Stripe webhook signature")
		return stripe.Event{}, fiber.NewError(fiber.StatusBadRequest, "Invalid webhook signature")
	}

	logrus.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	}).Info("Stripe webhook event verified")

	return event, nil
}
