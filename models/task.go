package models

import (
	"time"

	"gorm.io/gorm"
)

// Task source tags identify the module that created a task.
const (
	TaskSourceManual   = "manual"
	TaskSourceSequence = "sequence"
	TaskSourceWebhook  = "webhook"
	TaskSourceDeal     = "deal"
	TaskSourceProject  = "project"
)

type Task struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Title       string     `gorm:"not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	DueDate     *time.Time `gorm:"index" json:"due_date"`
	Priority    string     `gorm:"default:'medium'" json:"priority"` // low, medium, high
	Source      string     `gorm:"not null;default:'manual';index" json:"source"`
	Completed   bool       `gorm:"default:false;index" json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ProspectID *uint `gorm:"index" json:"prospect_id,omitempty"`
	DealID     *uint `gorm:"index" json:"deal_id,omitempty"`
	ProjectID  *uint `gorm:"index" json:"project_id,omitempty"`

	// Sequence metadata; set on tasks generated from a sequence step.
	SequenceID           *uint  `gorm:"index" json:"sequence_id,omitempty"`
	SequenceAssignmentID *uint  `gorm:"index" json:"sequence_assignment_id,omitempty"`
	StepNumber           int    `json:"step_number,omitempty"`
	ActionType           string `json:"action_type,omitempty"`
}
