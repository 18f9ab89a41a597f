package models

import (
	"time"

	"gorm.io/gorm"
)

// ChannelAccount holds the credentials used to sync one inbox channel
type ChannelAccount struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Channel string `gorm:"not null" json:"channel"` // email, linkedin, whatsapp
	Name    string `gorm:"not null" json:"name"`
	Address string `json:"address"` // mailbox address, LinkedIn member URN or WhatsApp phone number id

	// ========= IMAP (email) =========
	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `json:"imap_port" gorm:"default:993"`
	IMAPUsername   string `json:"imap_username"`
	IMAPPassword   string `json:"-"` // Encrypted in application layer
	IMAPEncryption string `json:"imap_encryption" gorm:"default:'SSL'"`
	IMAPMailbox    string `json:"imap_mailbox" gorm:"default:'INBOX'"`

	// ========= SMTP (email replies) =========
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port" gorm:"default:587"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"` // Encrypted in application layer

	// ========= API token (linkedin, whatsapp) =========
	AccessToken string `json:"-"` // Encrypted in application layer

	IsActive     bool       `gorm:"default:true" json:"is_active"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	LastError    *string    `json:"last_error"`
}
