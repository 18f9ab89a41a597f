package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	StepTypeEmail              = "email"
	StepTypeLinkedInConnection = "linkedin_connection"
	StepTypeLinkedInMessage    = "linkedin_message"
)

const (
	AssignmentActive    = "active"
	AssignmentCompleted = "completed"
)

// Sequence is a named, ordered outreach playbook
type Sequence struct {
	gorm.Model
	UserID uint `gorm:"not null;uniqueIndex:idx_sequence_user_name" json:"user_id"`

	Name        string `gorm:"not null;uniqueIndex:idx_sequence_user_name" json:"name"`
	Description string `json:"description"`

	// Relations
	Steps       []SequenceStep       `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Assignments []SequenceAssignment `gorm:"foreignKey:SequenceID" json:"assignments,omitempty"`
}

// StepByNumber returns the step numbered n, or nil.
func (s *Sequence) StepByNumber(n int) *SequenceStep {
	for i := range s.Steps {
		if s.Steps[i].StepNumber == n {
			return &s.Steps[i]
		}
	}
	return nil
}

// SequenceStep is one touch point of a sequence
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	StepNumber      int    `gorm:"not null" json:"step_number"`
	StepType        string `gorm:"not null" json:"step_type"` // email, linkedin_connection, linkedin_message
	MessageTemplate string `gorm:"type:text" json:"message_template"`
	DelayDays       int    `gorm:"not null;default:0" json:"delay_days"`
}

// SequenceAssignment enrols one prospect in one sequence.
// CurrentStep points at the step whose task is outstanding and never exceeds the step count.
type SequenceAssignment struct {
	gorm.Model
	UserID     uint `gorm:"not null;index" json:"user_id"`
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	ProspectID uint `gorm:"not null;index" json:"prospect_id"`

	CurrentStep int        `gorm:"not null;default:1" json:"current_step"`
	Status      string     `gorm:"not null;default:'active'" json:"status"` // active, completed
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Relations
	Sequence Sequence `json:"sequence,omitempty"`
	Prospect Prospect `json:"prospect,omitempty"`
}
