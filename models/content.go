package models

import (
	"time"

	"gorm.io/gorm"
)

// ContentDraft is a piece of marketing content in the editorial pipeline
type ContentDraft struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Title        string     `gorm:"not null" json:"title" validate:"required,max=300"`
	Channel      string     `gorm:"default:'linkedin'" json:"channel" validate:"omitempty,oneof=linkedin blog newsletter twitter"`
	Body         string     `gorm:"type:text" json:"body"`
	Status       string     `gorm:"default:'draft'" json:"status" validate:"omitempty,oneof=draft scheduled published"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
}
