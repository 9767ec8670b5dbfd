package models

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const maxBrandNameLength = 100

// CreateAuditRequest is the submission payload for a new audit.
type CreateAuditRequest struct {
	BrandName  string `json:"brandName"`
	WebsiteURL string `json:"websiteUrl"`
}

// CreateAuditResponse is returned once the audit has been accepted.
type CreateAuditResponse struct {
	AuditID string `json:"auditId"`
}

// Normalize trims surrounding whitespace from the inputs.
func (r *CreateAuditRequest) Normalize() {
	r.BrandName = strings.TrimSpace(r.BrandName)
	r.WebsiteURL = strings.TrimSpace(r.WebsiteURL)
}

// Validate enforces the submission rules. It must run before any record is
// created.
func (r *CreateAuditRequest) Validate() error {
	if r.BrandName == "" {
		return fmt.Errorf("brandName is required")
	}
	if utf8.RuneCountInString(r.BrandName) > maxBrandNameLength {
		return fmt.Errorf("brandName must be at most %d characters", maxBrandNameLength)
	}
	if r.WebsiteURL == "" {
		return fmt.Errorf("websiteUrl is required")
	}
	// Any absolute URL is accepted; the site is only echoed into the strategy
	// prompt, never fetched.
	u, err := url.Parse(r.WebsiteURL)
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
		return fmt.Errorf("websiteUrl must be a valid URL")
	}
	return nil
}
