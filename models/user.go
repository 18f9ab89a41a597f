package models

import (
	"gorm.io/gorm"
)

// User represents an account owner; every business record is scoped to one.
type User struct {
	gorm.Model

	Email        string  `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string  `gorm:"not null" json:"-"`
	Name         *string `json:"name,omitempty"`
	Company      *string `json:"company,omitempty"`
	Timezone     string  `gorm:"default:'UTC'" json:"timezone"`

	IsActive     bool `gorm:"default:true" json:"is_active"`
	TokenVersion int  `gorm:"default:0" json:"-"`

	// Relations
	Prospects       []Prospect       `gorm:"foreignKey:UserID" json:"prospects,omitempty"`
	Sequences       []Sequence       `gorm:"foreignKey:UserID" json:"sequences,omitempty"`
	ChannelAccounts []ChannelAccount `gorm:"foreignKey:UserID" json:"channel_accounts,omitempty"`
}
