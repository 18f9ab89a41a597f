package utils

import (
	"net/url"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/likexian/whois"
)

// EmailCheck summarises what could be learned about a prospect's address.
type EmailCheck struct {
	Email       string `json:"email"`
	Status      string `json:"status"` // valid, invalid, unknown
	Details     string `json:"details,omitempty"`
	HasMX       bool   `json:"has_mx"`
	IsFreeEmail bool   `json:"is_free_email"`
	WHOIS       string `json:"whois,omitempty"`
}

var freeEmailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"live.com":       true,
	"icloud.com":     true,
	"aol.com":        true,
	"proton.me":      true,
	"protonmail.com": true,
}

// Resolver lets tests replace the network lookups.
type Resolver struct {
	MX    func(email string) error
	Whois func(domain string) (string, error)
}

var DefaultResolver = Resolver{
	MX: checkmail.ValidateMX,
	Whois: func(domain string) (string, error) {
		return whois.Whois(domain)
	},
}

// VerifyEmailAddress checks format, MX records and, for company domains, WHOIS.
func (r Resolver) VerifyEmailAddress(email string) EmailCheck {
	email = strings.ToLower(strings.TrimSpace(email))
	result := EmailCheck{Email: email, Status: "unknown"}

	if err := checkmail.ValidateFormat(email); err != nil || !ValidImportEmail(email) {
		result.Status = "invalid"
		result.Details = "Invalid email format"
		return result
	}

	domain := ExtractDomain(email)
	result.IsFreeEmail = freeEmailDomains[domain]

	if r.MX != nil {
		if err := r.MX(email); err != nil {
			result.Status = "invalid"
			result.Details = "Domain has no mail exchanger: " + err.Error()
			return result
		}
		result.HasMX = true
	}
	result.Status = "valid"

	if !result.IsFreeEmail && r.Whois != nil {
		if info, err := r.Whois(domain); err == nil {
			result.WHOIS = info
		}
	}
	return result
}

// ExtractDomain returns the domain part of an email address or URL.
func ExtractDomain(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if i := strings.LastIndex(s, "@"); i >= 0 {
		return s[i+1:]
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
