package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Prospect sources. Anything outside this set is stored as SourceOther.
const (
	SourceLinkedIn     = "linkedin"
	SourceEmail        = "email"
	SourceReferral     = "referral"
	SourceWebsite      = "website"
	SourceEvent        = "event"
	SourceColdOutreach = "cold_outreach"
	SourceOther        = "other"
)

const (
	ProspectStatusNew       = "new"
	ProspectStatusContacted = "contacted"
	ProspectStatusConverted = "converted"
)

var prospectSources = map[string]struct{}{
	SourceLinkedIn:     {},
	SourceEmail:        {},
	SourceReferral:     {},
	SourceWebsite:      {},
	SourceEvent:        {},
	SourceColdOutreach: {},
	SourceOther:        {},
}

// NormalizeSource lower-cases s and falls back to "other" when it is not a known source.
func NormalizeSource(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, ok := prospectSources[s]; ok {
		return s
	}
	return SourceOther
}

// Prospect represents a lead the business is working
type Prospect struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	CompanyName string `gorm:"not null" json:"company_name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `gorm:"index" json:"email"`
	Phone       string `json:"phone"`
	JobTitle    string `json:"job_title"`
	Website     string `json:"website"`
	LinkedInURL string `gorm:"column:linkedin_url" json:"linkedin_url"`
	Notes       string `gorm:"type:text" json:"notes"`

	Source string `gorm:"not null;default:'other'" json:"source"`
	Status string `gorm:"not null;default:'new'" json:"status"` // free text; "converted" is terminal for the funnel

	ConvertedAt *time.Time `json:"converted_at,omitempty"`
	LastContact *time.Time `json:"last_contact,omitempty"`

	// Relations
	Assignments []SequenceAssignment `gorm:"foreignKey:ProspectID" json:"assignments,omitempty"`
}

// BeforeCreate keeps the source inside the fixed enumeration.
func (p *Prospect) BeforeCreate(tx *gorm.DB) error {
	p.Source = NormalizeSource(p.Source)
	if strings.TrimSpace(p.Status) == "" {
		p.Status = ProspectStatusNew
	}
	return nil
}

func (p Prospect) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}
