package models

import "gorm.io/gorm"

// Affiliate represents a referral partner
type Affiliate struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name           string  `gorm:"not null" json:"name" validate:"required,max=200"`
	Email          string  `json:"email" validate:"omitempty,email"`
	Company        string  `json:"company"`
	Website        string  `json:"website"`
	CommissionRate float64 `gorm:"default:10" json:"commission_rate" validate:"min=0,max=100"` // percent
	Status         string  `gorm:"default:'active'" json:"status" validate:"omitempty,oneof=active paused ended"`
	ReferralCode   string  `gorm:"index" json:"referral_code"`
	Referrals      int     `gorm:"default:0" json:"referrals"`
	TotalEarned    int64   `gorm:"default:0" json:"total_earned"` // in cents
	Notes          string  `gorm:"type:text" json:"notes"`
}
