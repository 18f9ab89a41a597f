package controller

import (
	"crypto/subtle"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"growthos/middleware"
	"growthos/services"
	"growthos/utils"
)

const webhookSecretHeader = "x-webhook-secret"

type WebhookController struct {
	Logger  *logrus.Entry
	Service *services.WebhookService

	Secret              string
	StripeSecret        string
	WhatsAppAppSecret   string
	WhatsAppVerifyToken string
}

func NewWebhookController(logger *logrus.Entry, svc *services.WebhookService) *WebhookController {
	return &WebhookController{Logger: logger, Service: svc}
}

// Ingest accepts {type|event, data, userId} from automation tools and inserts one record.
// The shared secret is compared exactly; on mismatch only the two lengths are disclosed.
func (wc *WebhookController) Ingest(c *fiber.Ctx) error {
	const endpoint = "ingest"
	rc := middleware.NewWebhookContext(c)
	log := wc.Logger.WithField("request_id", rc.RequestID)

	received := c.Get(webhookSecretHeader)
	if wc.Secret == "" || subtle.ConstantTimeCompare([]byte(received), []byte(wc.Secret)) != 1 {
		utils.WebhookRequests.WithLabelValues(endpoint, "unauthorized").Inc()
		log.WithField("ip", c.IP()).Warn("Webhook rejected: secret mismatch")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success":         false,
			"error":           "Invalid webhook secret",
			"expected_length": len(wc.Secret),
			"received_length": len(received),
		})
	}

	var hook services.GenericWebhook
	if err := json.Unmarshal(c.Body(), &hook); err != nil {
		utils.WebhookRequests.WithLabelValues(endpoint, "invalid").Inc()
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid JSON body", nil)
	}

	id, err := wc.Service.Ingest(rc, &hook)
	if err != nil {
		outcome := "error"
		if errors.Is(err, services.ErrInvalidWebhook) {
			outcome = "invalid"
		}
		utils.WebhookRequests.WithLabelValues(endpoint, outcome).Inc()
		log.WithError(err).WithField("type", hook.Kind()).Warn("Webhook ingest failed")
		return serviceError(c, "Failed to process webhook", err)
	}

	utils.WebhookRequests.WithLabelValues(endpoint, "ok").Inc()
	return c.JSON(fiber.Map{
		"success": true,
		"id":      id,
	})
}

// Stripe applies invoice payment events to the matching invoice.
func (wc *WebhookController) Stripe(c *fiber.Ctx) error {
	const endpoint = "stripe"
	rc := middleware.NewWebhookContext(c)

	event, err := utils.ConstructStripeEvent(c, wc.StripeSecret)
	if err != nil {
		utils.WebhookRequests.WithLabelValues(endpoint, "unauthorized").Inc()
		return serviceError(c, "", err)
	}

	if err := wc.Service.ApplyStripeEvent(rc, event); err != nil {
		utils.WebhookRequests.WithLabelValues(endpoint, "error").Inc()
		utils.LogError("stripe_webhook", err, map[string]interface{}{
			"event_id":   event.ID,
			"event_type": event.Type,
		})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to process event", err)
	}

	utils.WebhookRequests.WithLabelValues(endpoint, "ok").Inc()
	return c.JSON(fiber.Map{"success": true, "received": true})
}

// WhatsAppVerify answers the subscription challenge sent when the webhook is registered.
func (wc *WebhookController) WhatsAppVerify(c *fiber.Ctx) error {
	if c.Query("hub.mode") != "subscribe" || wc.WhatsAppVerifyToken == "" ||
		c.Query("hub.verify_token") != wc.WhatsAppVerifyToken {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "Verification failed", nil)
	}
	return c.SendString(c.Query("hub.challenge"))
}

// WhatsApp stores inbound messages after checking X-Hub-Signature-256.
func (wc *WebhookController) WhatsApp(c *fiber.Ctx) error {
	const endpoint = "whatsapp"
	rc := middleware.NewWebhookContext(c)

	body := c.Body()
	if !utils.VerifyHubSignature(body, c.Get("X-Hub-Signature-256"), wc.WhatsAppAppSecret) {
		utils.WebhookRequests.WithLabelValues(endpoint, "unauthorized").Inc()
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid signature", nil)
	}

	stored, err := wc.Service.IngestWhatsApp(rc, body)
	if err != nil {
		utils.WebhookRequests.WithLabelValues(endpoint, "error").Inc()
		wc.Logger.WithField("request_id", rc.RequestID).WithError(err).Error("Failed to store WhatsApp messages")
		return serviceError(c, "Failed to store messages", err)
	}

	utils.WebhookRequests.WithLabelValues(endpoint, "ok").Inc()
	return c.JSON(fiber.Map{"success": true, "stored": stored})
}
