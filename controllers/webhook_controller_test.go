package controller

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growthos/models"
	"growthos/services"
	"growthos/utils"
)

func newWebhookApp(t *testing.T) (*fiber.App, *WebhookController, uint) {
	t.Helper()
	db := newTestDB(t)
	userID := createUser(t, db, "owner@example.com")

	inbox := services.NewInboxService(db, testLogger())
	wc := NewWebhookController(testLogger(), services.NewWebhookService(db, testLogger(), inbox))
	wc.Secret = "s3cret-value"
	wc.WhatsAppAppSecret = "app-secret"
	wc.WhatsAppVerifyToken = "verify-me"

	app := fiber.New()
	app.Post("/webhooks/ingest", wc.Ingest)
	app.Get("/webhooks/whatsapp", wc.WhatsAppVerify)
	app.Post("/webhooks/whatsapp", wc.WhatsApp)
	return app, wc, userID
}

func ingestRequest(secret, body string) *http.Request {
	req := jsonRequest(http.MethodPost, "/webhooks/ingest", body)
	if secret != "" {
		req.Header.Set(webhookSecretHeader, secret)
	}
	return req
}

func TestIngestRejectsBadSecret(t *testing.T) {
	app, _, userID := newWebhookApp(t)
	body := fmt.Sprintf(`{"type":"prospect","data":{"first_name":"Jane"},"userId":%d}`, userID)

	tests := []struct {
		name   string
		secret string
	}{
		{"missing", ""},
		{"wrong", "nope"},
		{"prefix", "s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := doRequest(t, app, ingestRequest(tt.secret, body))
			assert.Equal(t, fiber.StatusUnauthorized, status)
			assert.Equal(t, false, out["success"])
			assert.Equal(t, "Invalid webhook secret", out["error"])
			assert.EqualValues(t, len("s3cret-value"), out["expected_length"])
			assert.EqualValues(t, len(tt.secret), out["received_length"])
			assert.NotContains(t, fmt.Sprint(out), "s3cret-value")
		})
	}
}

func TestIngestRejectsWhenSecretUnset(t *testing.T) {
	app, wc, userID := newWebhookApp(t)
	wc.Secret = ""

	status, _ := doRequest(t, app, ingestRequest("", fmt.Sprintf(`{"type":"task","data":{"title":"x"},"userId":%d}`, userID)))
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestIngestValidation(t *testing.T) {
	app, _, userID := newWebhookApp(t)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"malformed json", `{"type":`, "Invalid JSON body"},
		{"missing user", `{"type":"prospect","data":{"first_name":"Jane"}}`, "userId is required"},
		{"missing data", fmt.Sprintf(`{"type":"prospect","userId":%d}`, userID), "data is required"},
		{"unknown type", fmt.Sprintf(`{"type":"invoice","data":{},"userId":%d}`, userID), "unknown type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := doRequest(t, app, ingestRequest("s3cret-value", tt.body))
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, false, out["success"])
			assert.Contains(t, out["error"], tt.wantErr)
		})
	}
}

func TestIngestCreatesOneRowPerDelivery(t *testing.T) {
	app, wc, userID := newWebhookApp(t)
	body := fmt.Sprintf(`{"event":"prospect","data":{"first_name":"Jane","email":"jane@acme.com"},"userId":"%d"}`, userID)

	var ids []float64
	for i := 0; i < 2; i++ {
		status, out := doRequest(t, app, ingestRequest("s3cret-value", body))
		require.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, true, out["success"])
		ids = append(ids, out["id"].(float64))
	}
	assert.NotEqual(t, ids[0], ids[1])

	var prospects []models.Prospect
	require.NoError(t, wc.Service.DB.Find(&prospects).Error)
	require.Len(t, prospects, 2)
	assert.Equal(t, models.SourceOther, prospects[0].Source)
}

func TestWhatsAppVerify(t *testing.T) {
	app, _, _ := newWebhookApp(t)

	req, _ := http.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	status, _ := doRequest(t, app, req)
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestWhatsAppRequiresSignature(t *testing.T) {
	app, wc, userID := newWebhookApp(t)
	account := models.ChannelAccount{UserID: userID, Channel: models.ChannelWhatsApp, Name: "Line", Address: "10001", IsActive: true}
	require.NoError(t, wc.Service.DB.Create(&account).Error)

	body := `{"entry":[{"changes":[{"value":{"metadata":{"phone_number_id":"10001"},"messages":[{"id":"wamid.1","from":"1555","timestamp":"1711962000","type":"text","text":{"body":"hi"}}]}}]}]}`

	req := jsonRequest(http.MethodPost, "/webhooks/whatsapp", body)
	req.Header.Set("X-Hub-Signature-256", "sha256=00")
	status, _ := doRequest(t, app, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	req = jsonRequest(http.MethodPost, "/webhooks/whatsapp", body)
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(utils.HubSignature([]byte(body), "app-secret")))
	status, out := doRequest(t, app, req)
	assert.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, out["stored"])

	var msg models.InboxMessage
	require.NoError(t, wc.Service.DB.First(&msg).Error)
	assert.Equal(t, userID, msg.UserID)
	assert.True(t, strings.HasPrefix(msg.ExternalID, "wamid."))
}
