package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ChannelEmail    = "email"
	ChannelLinkedIn = "linkedin"
	ChannelWhatsApp = "whatsapp"
)

// InboxMessage is one message from any channel in the unified inbox.
// (user, channel, external id) is unique so repeated syncs update instead of duplicating.
type InboxMessage struct {
	gorm.Model
	UserID     uint   `gorm:"not null;index;uniqueIndex:idx_inbox_external" json:"user_id"`
	AccountID  *uint  `gorm:"index" json:"account_id,omitempty"`
	Channel    string `gorm:"not null;uniqueIndex:idx_inbox_external" json:"channel"`
	ExternalID string `gorm:"not null;uniqueIndex:idx_inbox_external" json:"external_id"`
	ThreadID   string `gorm:"index" json:"thread_id"`

	FromName    string    `json:"from_name"`
	FromAddress string    `gorm:"not null" json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Subject     string    `json:"subject"`
	Body        string    `gorm:"type:text" json:"body"`
	BodyHTML    string    `gorm:"type:text" json:"body_html,omitempty"`
	ReceivedAt  time.Time `gorm:"not null;index" json:"received_at"`

	IsRead     bool `gorm:"default:false" json:"is_read"`
	IsStarred  bool `gorm:"default:false" json:"is_starred"`
	IsArchived bool `gorm:"default:false" json:"is_archived"`

	ProspectID *uint `gorm:"index" json:"prospect_id,omitempty"`
}
