package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/invoice"
	"github.com/stripe/stripe-go/v76/invoiceitem"
	"gorm.io/gorm"

	"growthos/models"
	"growthos/utils"
)

var (
	ErrInvoiceNotSendable = errors.New("invoice cannot be sent in its current state")
	ErrInvoiceIncomplete  = errors.New("invoice needs a client email and at least one item")
)

// PublishedInvoice is what the payment provider returns for a sent invoice.
type PublishedInvoice struct {
	ProviderID string
	HostedURL  string
}

// InvoicePublisher hands an invoice to a payment provider for collection.
type InvoicePublisher interface {
	Publish(inv *models.Invoice) (*PublishedInvoice, error)
}

// StripePublisher sends invoices through Stripe's hosted invoice flow.
type StripePublisher struct {
	DaysUntilDue int64
}

func (p StripePublisher) Publish(inv *models.Invoice) (*PublishedInvoice, error) {
	if stripe.Key == "" {
		return nil, errors.New("stripe is not configured")
	}

	currency := strings.ToLower(inv.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	meta := map[string]string{
		"invoice_id": strconv.Itoa(int(inv.ID)),
		"user_id":    strconv.Itoa(int(inv.UserID)),
		"number":     inv.Number,
	}

	cust, err := customer.New(&stripe.CustomerParams{
		Email:    stripe.String(inv.ClientEmail),
		Name:     stripe.String(inv.ClientName),
		Metadata: meta,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe customer: %w", err)
	}

	days := p.DaysUntilDue
	if inv.DueDate != nil {
		if d := int64(time.Until(*inv.DueDate).Hours() / 24); d > 0 {
			days = d
		}
	}
	if days <= 0 {
		days = 30
	}

	draft, err := invoice.New(&stripe.InvoiceParams{
		Customer:         stripe.String(cust.ID),
		CollectionMethod: stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:     stripe.Int64(days),
		Currency:         stripe.String(currency),
		AutoAdvance:      stripe.Bool(false),
		Description:      stripe.String(inv.Notes),
		Metadata:         meta,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe invoice: %w", err)
	}

	for _, item := range inv.Items {
		if _, err := invoiceitem.New(&stripe.InvoiceItemParams{
			Customer:    stripe.String(cust.ID),
			Invoice:     stripe.String(draft.ID),
			Amount:      stripe.Int64(item.Amount()),
			Currency:    stripe.String(currency),
			Description: stripe.String(item.Description),
		}); err != nil {
			return nil, fmt.Errorf("failed to add Stripe invoice item: %w", err)
		}
	}

	if _, err := invoice.FinalizeInvoice(draft.ID, nil); err != nil {
		return nil, fmt.Errorf("failed to finalize Stripe invoice: %w", err)
	}
	sent, err := invoice.SendInvoice(draft.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to send Stripe invoice: %w", err)
	}

	return &PublishedInvoice{ProviderID: sent.ID, HostedURL: sent.HostedInvoiceURL}, nil
}

type BillingService struct {
	DB        *gorm.DB
	Logger    *logrus.Entry
	Publisher InvoicePublisher
	Now       func() time.Time
}

func NewBillingService(db *gorm.DB, logger *logrus.Entry, publisher InvoicePublisher) *BillingService {
	return &BillingService{
		DB:        db,
		Logger:    logger,
		Publisher: publisher,
		Now:       time.Now,
	}
}

// NextInvoiceNumber returns the next sequential number for the user, e.g. INV-0007.
func (s *BillingService) NextInvoiceNumber(rc *utils.RequestContext) (string, error) {
	var count int64
	if err := s.DB.WithContext(rc.Context()).
		Unscoped().
		Model(&models.Invoice{}).
		Where("user_id = ?", rc.UserID).
		Count(&count).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%04d", count+1), nil
}

// Create stores a draft invoice with its items, numbering it when no number is given.
func (s *BillingService) Create(rc *utils.RequestContext, inv *models.Invoice) error {
	inv.UserID = rc.UserID
	inv.Status = models.InvoiceDraft
	if inv.IssueDate.IsZero() {
		inv.IssueDate = s.Now()
	}
	if strings.TrimSpace(inv.Number) == "" {
		number, err := s.NextInvoiceNumber(rc)
		if err != nil {
			return err
		}
		inv.Number = number
	}
	if err := s.DB.WithContext(rc.Context()).Create(inv).Error; err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

func (s *BillingService) Load(rc *utils.RequestContext, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.DB.WithContext(rc.Context()).
		Preload("Items").
		Where("id = ? AND user_id = ?", id, rc.UserID).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Send publishes a draft (or previously failed) invoice and marks it sent.
func (s *BillingService) Send(rc *utils.RequestContext, id uint) (*models.Invoice, error) {
	inv, err := s.Load(rc, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InvoiceDraft && inv.Status != models.InvoiceFailed {
		return nil, ErrInvoiceNotSendable
	}
	if inv.ClientEmail == "" || len(inv.Items) == 0 {
		return nil, ErrInvoiceIncomplete
	}

	published, err := s.Publisher.Publish(inv)
	if err != nil {
		utils.LogError("invoice_publish", err, map[string]interface{}{
			"invoice_id": inv.ID,
			"user_id":    rc.UserID,
		})
		return nil, err
	}

	if err := s.DB.WithContext(rc.Context()).Model(inv).Updates(map[string]interface{}{
		"status":            models.InvoiceSent,
		"stripe_invoice_id": published.ProviderID,
		"hosted_url":        published.HostedURL,
		"failure_reason":    "",
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to update invoice: %w", err)
	}

	s.Logger.WithFields(rc.Fields()).WithFields(logrus.Fields{
		"invoice_id":        inv.ID,
		"stripe_invoice_id": published.ProviderID,
	}).Info("Invoice sent")

	return s.Load(rc, id)
}
