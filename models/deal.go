package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	DealStageLead        = "lead"
	DealStageQualified   = "qualified"
	DealStageProposal    = "proposal"
	DealStageNegotiation = "negotiation"
	DealStageWon         = "won"
	DealStageLost        = "lost"
)

// Deal represents a sales opportunity
type Deal struct {
	gorm.Model
	UserID     uint  `gorm:"not null;index" json:"user_id"`
	ProspectID *uint `gorm:"index" json:"prospect_id,omitempty"`

	Title             string     `gorm:"not null" json:"title" validate:"required,max=200"`
	Value             int64      `gorm:"default:0" json:"value" validate:"min=0"` // in cents
	Currency          string     `gorm:"default:'USD'" json:"currency"`
	Stage             string     `gorm:"not null;default:'lead';index" json:"stage" validate:"omitempty,oneof=lead qualified proposal negotiation won lost"`
	Probability       int        `gorm:"default:0" json:"probability" validate:"min=0,max=100"`
	ExpectedCloseDate *time.Time `json:"expected_close_date,omitempty"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	Notes             string     `gorm:"type:text" json:"notes"`

	// Relations
	Prospect *Prospect `json:"prospect,omitempty"`
}

func (d *Deal) BeforeCreate(tx *gorm.DB) error {
	if d.Stage == "" {
		d.Stage = DealStageLead
	}
	return nil
}

// Closed reports whether the deal has left the open pipeline.
func (d *Deal) Closed() bool {
	return d.Stage == DealStageWon || d.Stage == DealStageLost
}

// StampClosed keeps ClosedAt in step with the stage.
func (d *Deal) StampClosed(now time.Time) {
	switch {
	case d.Closed() && d.ClosedAt == nil:
		d.ClosedAt = &now
	case !d.Closed() && d.Stage != "":
		d.ClosedAt = nil
	}
}

// Project represents delivery work, usually started from a won deal
type Project struct {
	gorm.Model
	UserID uint  `gorm:"not null;index" json:"user_id"`
	DealID *uint `gorm:"index" json:"deal_id,omitempty"`

	Name        string     `gorm:"not null" json:"name" validate:"required,max=200"`
	Description string     `gorm:"type:text" json:"description"`
	Status      string     `gorm:"default:'planning'" json:"status" validate:"omitempty,oneof=planning active on_hold done"`
	Budget      int64      `gorm:"default:0" json:"budget" validate:"min=0"` // in cents
	StartDate   *time.Time `json:"start_date,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`

	// Relations
	Deal *Deal `json:"deal,omitempty"`
}
