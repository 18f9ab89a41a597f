package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"

	"growthos/models"
	"growthos/utils"
)

// GenericWebhook is the body accepted by the generic ingest endpoint. Event is an alias
// for Type. UserID may arrive as a JSON string or number.
type GenericWebhook struct {
	Type   string          `json:"type"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	UserID interface{}     `json:"userId"`
}

func (w *GenericWebhook) Kind() string {
	if w.Type != "" {
		return strings.ToLower(strings.TrimSpace(w.Type))
	}
	return strings.ToLower(strings.TrimSpace(w.Event))
}

// User returns the numeric user id, or 0 when it is missing or malformed.
func (w *GenericWebhook) User() uint {
	switch v := w.UserID.(type) {
	case float64:
		if v > 0 && v == float64(uint(v)) {
			return uint(v)
		}
	case string:
		id, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err == nil {
			return uint(id)
		}
	}
	return 0
}

// Validate reports the first missing required field.
func (w *GenericWebhook) Validate() error {
	if w.Kind() == "" {
		return fmt.Errorf("%w: type or event is required", ErrInvalidWebhook)
	}
	if len(w.Data) == 0 || string(w.Data) == "null" {
		return fmt.Errorf("%w: data is required", ErrInvalidWebhook)
	}
	if w.User() == 0 {
		return fmt.Errorf("%w: userId is required", ErrInvalidWebhook)
	}
	return nil
}

type prospectPayload struct {
	CompanyName string `json:"company_name"`
	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone"`
	JobTitle    string `json:"job_title"`
	Website     string `json:"website"`
	LinkedInURL string `json:"linkedin_url"`
	Notes       string `json:"notes"`
	Source      string `json:"source"`
	Status      string `json:"status" validate:"omitempty,oneof=new contacted converted"`
}

type dealPayload struct {
	Title       string `json:"title" validate:"required"`
	ProspectID  *uint  `json:"prospect_id"`
	Value       int64  `json:"value" validate:"min=0"`
	Currency    string `json:"currency"`
	Stage       string `json:"stage" validate:"omitempty,oneof=lead qualified proposal negotiation won lost"`
	Probability int    `json:"probability" validate:"min=0,max=100"`
	Notes       string `json:"notes"`
}

type taskPayload struct {
	Title       string     `json:"title" validate:"required"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	Priority    string     `json:"priority" validate:"omitempty,oneof=low medium high"`
	ProspectID  *uint      `json:"prospect_id"`
	DealID      *uint      `json:"deal_id"`
}

type WebhookService struct {
	DB     *gorm.DB
	Logger *logrus.Entry
	Inbox  *InboxService
	Now    func() time.Time
}

func NewWebhookService(db *gorm.DB, logger *logrus.Entry, inbox *InboxService) *WebhookService {
	return &WebhookService{
		DB:     db,
		Logger: logger,
		Inbox:  inbox,
		Now:    time.Now,
	}
}

// Ingest validates a generic delivery and inserts exactly one row for it. Deliveries are not
// deduplicated.
func (s *WebhookService) Ingest(rc *utils.RequestContext, hook *GenericWebhook) (uint, error) {
	if err := hook.Validate(); err != nil {
		return 0, err
	}
	rc.UserID = hook.User()

	db := s.DB.WithContext(rc.Context())

	var users int64
	if err := db.Model(&models.User{}).Where("id = ?", rc.UserID).Count(&users).Error; err != nil {
		return 0, err
	}
	if users == 0 {
		return 0, fmt.Errorf("%w: unknown user", ErrInvalidWebhook)
	}

	var (
		id  uint
		err error
	)
	switch kind := hook.Kind(); kind {
	case "prospect":
		id, err = s.insertProspect(db, rc.UserID, hook.Data)
	case "deal":
		id, err = s.insertDeal(db, rc.UserID, hook.Data)
	case "task":
		id, err = s.insertTask(db, rc.UserID, hook.Data)
	default:
		err = fmt.Errorf("%w: unknown type %q", ErrInvalidWebhook, kind)
	}
	if err != nil {
		return 0, err
	}

	s.Logger.WithFields(rc.Fields()).WithFields(logrus.Fields{
		"type": hook.Kind(),
		"id":   id,
	}).Info("Webhook record created")
	return id, nil
}

func decodePayload(raw json.RawMessage, dst interface{}) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: data is not a valid object", ErrInvalidWebhook)
	}
	if err := utils.ValidateStruct(dst); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidWebhook, err.Error())
	}
	return nil
}

func (s *WebhookService) insertProspect(db *gorm.DB, userID uint, raw json.RawMessage) (uint, error) {
	var p prospectPayload
	if err := decodePayload(raw, &p); err != nil {
		return 0, err
	}

	prospect := models.Prospect{
		UserID:      userID,
		CompanyName: strings.TrimSpace(p.CompanyName),
		FirstName:   strings.TrimSpace(p.FirstName),
		LastName:    strings.TrimSpace(p.LastName),
		Email:       strings.ToLower(strings.TrimSpace(p.Email)),
		Phone:       p.Phone,
		JobTitle:    p.JobTitle,
		Website:     p.Website,
		LinkedInURL: p.LinkedInURL,
		Notes:       p.Notes,
		Source:      models.NormalizeSource(p.Source),
		Status:      p.Status,
	}
	if prospect.Status == "" {
		prospect.Status = models.ProspectStatusNew
	}
	if err := db.Create(&prospect).Error; err != nil {
		return 0, fmt.Errorf("failed to create prospect: %w", err)
	}
	return prospect.ID, nil
}

func (s *WebhookService) insertDeal(db *gorm.DB, userID uint, raw json.RawMessage) (uint, error) {
	var p dealPayload
	if err := decodePayload(raw, &p); err != nil {
		return 0, err
	}

	deal := models.Deal{
		UserID:      userID,
		ProspectID:  p.ProspectID,
		Title:       strings.TrimSpace(p.Title),
		Value:       p.Value,
		Currency:    strings.ToUpper(p.Currency),
		Stage:       p.Stage,
		Probability: p.Probability,
		Notes:       p.Notes,
	}
	if deal.Stage == "" {
		deal.Stage = models.DealStageLead
	}
	if deal.Currency == "" {
		deal.Currency = "USD"
	}
	if err := db.Create(&deal).Error; err != nil {
		return 0, fmt.Errorf("failed to create deal: %w", err)
	}
	return deal.ID, nil
}

func (s *WebhookService) insertTask(db *gorm.DB, userID uint, raw json.RawMessage) (uint, error) {
	var p taskPayload
	if err := decodePayload(raw, &p); err != nil {
		return 0, err
	}

	task := models.Task{
		UserID:      userID,
		Title:       strings.TrimSpace(p.Title),
		Description: p.Description,
		DueDate:     p.DueDate,
		Priority:    p.Priority,
		Source:      models.TaskSourceWebhook,
		ProspectID:  p.ProspectID,
		DealID:      p.DealID,
	}
	if task.Priority == "" {
		task.Priority = "medium"
	}
	if err := db.Create(&task).Error; err != nil {
		return 0, fmt.Errorf("failed to create task: %w", err)
	}
	return task.ID, nil
}

// ApplyStripeEvent records invoice payment outcomes. Events for invoices this service did not
// send are ignored.
func (s *WebhookService) ApplyStripeEvent(rc *utils.RequestContext, event stripe.Event) error {
	log := s.Logger.WithFields(logrus.Fields{
		"request_id": rc.RequestID,
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	switch event.Type {
	case "invoice.paid", "invoice.payment_failed":
	default:
		log.Debug("Ignoring Stripe event")
		return nil
	}

	var stripeInvoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &stripeInvoice); err != nil {
		return fmt.Errorf("%w: failed to parse invoice: %v", ErrInvalidWebhook, err)
	}

	db := s.DB.WithContext(rc.Context())
	var invoice models.Invoice
	if err := db.Where("stripe_invoice_id = ?", stripeInvoice.ID).First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.WithField("stripe_invoice_id", stripeInvoice.ID).Warn("No invoice for Stripe event")
			return nil
		}
		return err
	}

	updates := map[string]interface{}{}
	if event.Type == "invoice.paid" {
		updates["status"] = models.InvoicePaid
		updates["paid_at"] = s.Now()
		updates["failure_reason"] = ""
	} else {
		updates["status"] = models.InvoiceFailed
		reason := "payment failed"
		switch {
		case stripeInvoice.Charge != nil && stripeInvoice.Charge.FailureMessage != "":
			reason = stripeInvoice.Charge.FailureMessage
		case stripeInvoice.LastFinalizationError != nil && stripeInvoice.LastFinalizationError.Msg != "":
			reason = stripeInvoice.LastFinalizationError.Msg
		}
		updates["failure_reason"] = reason
	}
	if stripeInvoice.HostedInvoiceURL != "" {
		updates["hosted_url"] = stripeInvoice.HostedInvoiceURL
	}

	if err := db.Model(&invoice).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}

	log.WithFields(logrus.Fields{
		"invoice_id": invoice.ID,
		"status":     updates["status"],
	}).Info("Invoice updated from Stripe")
	return nil
}

// whatsAppPayload is the subset of the Cloud API notification body that carries messages.
type whatsAppPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Metadata struct {
					PhoneNumberID      string `json:"phone_number_id"`
					DisplayPhoneNumber string `json:"display_phone_number"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID        string `json:"id"`
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
					Context struct {
						ID string `json:"id"`
					} `json:"context"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// IngestWhatsApp stores inbound WhatsApp messages for the accounts owning the receiving phone
// numbers. Messages for unknown numbers are dropped.
func (s *WebhookService) IngestWhatsApp(rc *utils.RequestContext, body []byte) (int, error) {
	var payload whatsAppPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	stored := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			if len(value.Messages) == 0 {
				continue
			}

			var account models.ChannelAccount
			err := s.DB.WithContext(rc.Context()).
				Where("channel = ? AND address = ? AND is_active = ?", models.ChannelWhatsApp, value.Metadata.PhoneNumberID, true).
				First(&account).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.Logger.WithField("phone_number_id", value.Metadata.PhoneNumberID).Warn("WhatsApp message for unknown number")
				continue
			}
			if err != nil {
				return stored, err
			}

			names := make(map[string]string, len(value.Contacts))
			for _, contact := range value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}

			fetched := make([]FetchedMessage, 0, len(value.Messages))
			for _, m := range value.Messages {
				received := s.Now()
				if secs, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
					received = time.Unix(secs, 0).UTC()
				}
				text := m.Text.Body
				if m.Type != "text" {
					text = fmt.Sprintf("[%s message]", m.Type)
				}
				thread := m.Context.ID
				if thread == "" {
					thread = m.From
				}
				fetched = append(fetched, FetchedMessage{
					ExternalID:  m.ID,
					ThreadID:    thread,
					FromName:    names[m.From],
					FromAddress: m.From,
					ToAddress:   value.Metadata.DisplayPhoneNumber,
					Body:        text,
					ReceivedAt:  received,
				})
			}

			accountRC := *rc
			accountRC.UserID = account.UserID
			n, err := s.Inbox.Store(&accountRC, models.ChannelWhatsApp, &account.ID, fetched)
			if err != nil {
				return stored, err
			}
			stored += n
		}
	}
	return stored, nil
}
