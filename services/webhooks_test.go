package services

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"growthos/models"
	"growthos/utils"
)

func webhookRC() *utils.RequestContext {
	return &utils.RequestContext{RequestID: "hook"}
}

func TestGenericWebhookValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"complete", `{"type":"prospect","data":{"first_name":"Jane"},"userId":1}`, ""},
		{"event alias", `{"event":"Deal","data":{"title":"Retainer"},"userId":"7"}`, ""},
		{"missing type", `{"data":{"a":1},"userId":1}`, "type or event is required"},
		{"missing data", `{"type":"task","userId":1}`, "data is required"},
		{"null data", `{"type":"task","data":null,"userId":1}`, "data is required"},
		{"missing user", `{"type":"task","data":{"title":"x"}}`, "userId is required"},
		{"malformed user", `{"type":"task","data":{"title":"x"},"userId":"abc"}`, "userId is required"},
		{"fractional user", `{"type":"task","data":{"title":"x"},"userId":1.5}`, "userId is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hook GenericWebhook
			require.NoError(t, json.Unmarshal([]byte(tt.body), &hook))
			err := hook.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidWebhook)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func ingest(t *testing.T, svc *WebhookService, body string) (uint, error) {
	t.Helper()
	var hook GenericWebhook
	require.NoError(t, json.Unmarshal([]byte(body), &hook))
	return svc.Ingest(webhookRC(), &hook)
}

func TestIngestAppliesDefaults(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewWebhookService(db, testLogger(), nil)

	id, err := ingest(t, svc, fmt.Sprintf(`{"type":"prospect","data":{"first_name":"Jane","email":"Jane@Acme.com","source":"carrier pigeon"},"userId":%d}`, rc.UserID))
	require.NoError(t, err)
	var prospect models.Prospect
	require.NoError(t, db.First(&prospect, id).Error)
	assert.Equal(t, models.SourceOther, prospect.Source)
	assert.Equal(t, models.ProspectStatusNew, prospect.Status)
	assert.Equal(t, "jane@acme.com", prospect.Email)
	assert.Equal(t, rc.UserID, prospect.UserID)

	id, err = ingest(t, svc, fmt.Sprintf(`{"event":"deal","data":{"title":"Retainer","value":500000},"userId":"%d"}`, rc.UserID))
	require.NoError(t, err)
	var deal models.Deal
	require.NoError(t, db.First(&deal, id).Error)
	assert.Equal(t, models.DealStageLead, deal.Stage)
	assert.Equal(t, "USD", deal.Currency)
	assert.EqualValues(t, 500000, deal.Value)

	id, err = ingest(t, svc, fmt.Sprintf(`{"type":"task","data":{"title":"Call back"},"userId":%d}`, rc.UserID))
	require.NoError(t, err)
	var task models.Task
	require.NoError(t, db.First(&task, id).Error)
	assert.Equal(t, models.TaskSourceWebhook, task.Source)
	assert.Equal(t, "medium", task.Priority)
}

func TestIngestDuplicatesAreNotCollapsed(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewWebhookService(db, testLogger(), nil)

	body := fmt.Sprintf(`{"type":"prospect","data":{"first_name":"Jane","email":"jane@acme.com"},"userId":%d}`, rc.UserID)
	first, err := ingest(t, svc, body)
	require.NoError(t, err)
	second, err := ingest(t, svc, body)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	var count int64
	require.NoError(t, db.Model(&models.Prospect{}).Where("email = ?", "jane@acme.com").Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestIngestRejects(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewWebhookService(db, testLogger(), nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing user", `{"type":"prospect","data":{"first_name":"Jane"}}`},
		{"unknown user", `{"type":"prospect","data":{"first_name":"Jane"},"userId":424242}`},
		{"unknown type", fmt.Sprintf(`{"type":"invoice","data":{"a":1},"userId":%d}`, rc.UserID)},
		{"data not an object", fmt.Sprintf(`{"type":"deal","data":"Retainer","userId":%d}`, rc.UserID)},
		{"payload validation", fmt.Sprintf(`{"type":"deal","data":{"title":"X","stage":"closed"},"userId":%d}`, rc.UserID)},
		{"prospect without first name", fmt.Sprintf(`{"type":"prospect","data":{"email":"a@b.com"},"userId":%d}`, rc.UserID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingest(t, svc, tt.body)
			assert.ErrorIs(t, err, ErrInvalidWebhook)
		})
	}

	var prospects, deals int64
	require.NoError(t, db.Model(&models.Prospect{}).Count(&prospects).Error)
	require.NoError(t, db.Model(&models.Deal{}).Count(&deals).Error)
	assert.Zero(t, prospects)
	assert.Zero(t, deals)
}

func TestApplyStripeEvent(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	paidAt := time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC)
	svc := NewWebhookService(db, testLogger(), nil)
	svc.Now = fixedClock(paidAt)

	inv := models.Invoice{UserID: rc.UserID, Number: "INV-0001", ClientName: "Acme", Status: models.InvoiceSent, StripeInvoiceID: "in_123", IssueDate: paidAt}
	require.NoError(t, db.Create(&inv).Error)

	event := func(kind, raw string) stripe.Event {
		return stripe.Event{ID: "evt_1", Type: stripe.EventType(kind), Data: &stripe.EventData{Raw: json.RawMessage(raw)}}
	}

	require.NoError(t, svc.ApplyStripeEvent(webhookRC(), event("invoice.payment_failed", `{"id":"in_123"}`)))
	require.NoError(t, db.First(&inv, inv.ID).Error)
	assert.Equal(t, models.InvoiceFailed, inv.Status)
	assert.Equal(t, "payment failed", inv.FailureReason)

	require.NoError(t, svc.ApplyStripeEvent(webhookRC(), event("invoice.paid", `{"id":"in_123","hosted_invoice_url":"https://pay.example/in_123"}`)))
	require.NoError(t, db.First(&inv, inv.ID).Error)
	assert.Equal(t, models.InvoicePaid, inv.Status)
	assert.Empty(t, inv.FailureReason)
	assert.Equal(t, "https://pay.example/in_123", inv.HostedURL)
	require.NotNil(t, inv.PaidAt)
	assert.True(t, inv.PaidAt.Equal(paidAt))

	assert.NoError(t, svc.ApplyStripeEvent(webhookRC(), event("invoice.paid", `{"id":"in_unknown"}`)))
	assert.NoError(t, svc.ApplyStripeEvent(webhookRC(), event("customer.created", `{"id":"cus_1"}`)))
}

func TestIngestWhatsApp(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	inbox := NewInboxService(db, testLogger())
	svc := NewWebhookService(db, testLogger(), inbox)

	account := models.ChannelAccount{UserID: rc.UserID, Channel: models.ChannelWhatsApp, Name: "Sales line", Address: "10001", IsActive: true}
	require.NoError(t, db.Create(&account).Error)

	body := []byte(`{
	  "object": "whatsapp_business_account",
	  "entry": [{"changes": [
	    {"field": "messages", "value": {
	      "metadata": {"phone_number_id": "10001", "display_phone_number": "+1 555 0100"},
	      "contacts": [{"wa_id": "15550123", "profile": {"name": "Jane"}}],
	      "messages": [
	        {"id": "wamid.1", "from": "15550123", "timestamp": "1711962000", "type": "text", "text": {"body": "Hi there"}},
	        {"id": "wamid.2", "from": "15550123", "timestamp": "1711962060", "type": "image"}
	      ]}},
	    {"field": "messages", "value": {
	      "metadata": {"phone_number_id": "99999"},
	      "messages": [{"id": "wamid.3", "from": "1", "timestamp": "1711962000", "type": "text", "text": {"body": "lost"}}]}}
	  ]}]
	}`)

	stored, err := svc.IngestWhatsApp(webhookRC(), body)
	require.NoError(t, err)
	assert.Equal(t, 2, stored)

	messages, _, err := inbox.List(rc, FilterAll)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	byID := map[string]models.InboxMessage{}
	for _, m := range messages {
		byID[m.ExternalID] = m
	}
	text := byID["wamid.1"]
	assert.Equal(t, "Hi there", text.Body)
	assert.Equal(t, "Jane", text.FromName)
	assert.Equal(t, models.ChannelWhatsApp, text.Channel)
	require.NotNil(t, text.AccountID)
	assert.Equal(t, account.ID, *text.AccountID)
	assert.True(t, text.ReceivedAt.Equal(time.Unix(1711962000, 0)))
	assert.Equal(t, "[image message]", byID["wamid.2"].Body)

	stored, err = svc.IngestWhatsApp(webhookRC(), body)
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	messages, _, err = inbox.List(rc, FilterAll)
	require.NoError(t, err)
	assert.Len(t, messages, 2, "redelivery updates in place")

	_, err = svc.IngestWhatsApp(webhookRC(), []byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidWebhook)
}
