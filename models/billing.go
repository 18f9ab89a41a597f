package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	InvoiceDraft  = "draft"
	InvoiceSent   = "sent"
	InvoicePaid   = "paid"
	InvoiceFailed = "payment_failed"
	InvoiceVoid   = "void"
)

// Invoice represents a bill sent to a client
type Invoice struct {
	gorm.Model
	UserID    uint  `gorm:"not null;index;uniqueIndex:idx_invoice_user_number" json:"user_id"`
	ProjectID *uint `gorm:"index" json:"project_id,omitempty"`

	Number      string `gorm:"not null;uniqueIndex:idx_invoice_user_number" json:"number"`
	ClientName  string `gorm:"not null" json:"client_name"`
	ClientEmail string `json:"client_email"`
	Currency    string `gorm:"default:'USD'" json:"currency"`
	Status      string `gorm:"default:'draft';index" json:"status"`
	Notes       string `gorm:"type:text" json:"notes"`

	IssueDate time.Time  `json:"issue_date"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`

	StripeInvoiceID string `gorm:"index" json:"stripe_invoice_id,omitempty"`
	HostedURL       string `json:"hosted_url,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`

	// Relations
	Items []InvoiceItem `gorm:"foreignKey:InvoiceID" json:"items"`
}

// Total sums the line items in cents.
func (i Invoice) Total() int64 {
	var total int64
	for _, item := range i.Items {
		total += item.Amount()
	}
	return total
}

// InvoiceItem is one billed line
type InvoiceItem struct {
	gorm.Model
	InvoiceID   uint    `gorm:"not null;index" json:"invoice_id"`
	Description string  `gorm:"not null" json:"description"`
	Quantity    float64 `gorm:"default:1" json:"quantity"`
	UnitPrice   int64   `gorm:"not null" json:"unit_price"` // in cents
}

func (it InvoiceItem) Amount() int64 {
	return int64(it.Quantity*float64(it.UnitPrice) + 0.5)
}
