package models

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"brandaudit/pkg/platform/sentinel"
)

// Status is the lifecycle state of an audit job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the audit can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	default:
		return 2
	}
}

// Result is the outcome of checking one publication. Title, Snippet and URL
// are only populated when BrandMentioned is true.
type Result struct {
	Domain         string `json:"domain"`
	BrandMentioned bool   `json:"brandMentioned"`
	Title          string `json:"title,omitempty"`
	Snippet        string `json:"snippet,omitempty"`
	URL            string `json:"url,omitempty"`
	Logo           string `json:"logo,omitempty"`
}

// Strategy is the generated PR guidance attached to a completed audit.
type Strategy struct {
	Insights        []string `json:"insights"`
	PriorityTargets []string `json:"priorityTargets"`
	Actions         []string `json:"actions"`
}

// Audit is one brand-mention scan job and the single source of truth polled
// by clients.
type Audit struct {
	ID                string     `json:"id"`
	BrandName         string     `json:"brandName"`
	WebsiteURL        string     `json:"websiteUrl"`
	Status            Status     `json:"status"`
	Results           []Result   `json:"results"`
	MentionsFound     int        `json:"mentionsFound"`
	CoverageRate      int        `json:"coverageRate"`
	TotalPublications int        `json:"totalPublications"`
	TopSource         *string    `json:"topSource"`
	Strategy          *Strategy  `json:"strategy"`
	ShareableLink     *string    `json:"shareableLink"`
	CreatedAt         time.Time  `json:"createdAt"`
	CompletedAt       *time.Time `json:"completedAt"`
}

// AuditFields are the caller-provided values for a new audit record.
type AuditFields struct {
	BrandName         string
	WebsiteURL        string
	Status            Status
	TotalPublications int
}

// NewAudit assigns identity and timestamps to a fresh record. Status
// defaults to pending.
func NewAudit(fields AuditFields, now time.Time) *Audit {
	status := fields.Status
	if status == "" {
		status = StatusPending
	}
	return &Audit{
		ID:                uuid.NewString(),
		BrandName:         fields.BrandName,
		WebsiteURL:        fields.WebsiteURL,
		Status:            status,
		Results:           []Result{},
		TotalPublications: fields.TotalPublications,
		CreatedAt:         now,
	}
}

// Clone returns a deep copy so callers never share slices with a store.
func (a *Audit) Clone() *Audit {
	if a == nil {
		return nil
	}
	c := *a
	c.Results = slices.Clone(a.Results)
	if c.Results == nil {
		c.Results = []Result{}
	}
	if a.Strategy != nil {
		s := Strategy{
			Insights:        slices.Clone(a.Strategy.Insights),
			PriorityTargets: slices.Clone(a.Strategy.PriorityTargets),
			Actions:         slices.Clone(a.Strategy.Actions),
		}
		c.Strategy = &s
	}
	c.TopSource = clonePtr(a.TopSource)
	c.ShareableLink = clonePtr(a.ShareableLink)
	c.CompletedAt = clonePtr(a.CompletedAt)
	return &c
}

// AuditPatch is a shallow partial update. Nil fields are left untouched;
// a non-nil empty Results slice clears the results.
type AuditPatch struct {
	Status            *Status
	Results           []Result
	MentionsFound     *int
	CoverageRate      *int
	TotalPublications *int
	TopSource         *string
	Strategy          *Strategy
	ShareableLink     *string
	CompletedAt       *time.Time
}

// Apply merges the patch into a.
func (p AuditPatch) Apply(a *Audit) {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Results != nil {
		a.Results = slices.Clone(p.Results)
	}
	if p.MentionsFound != nil {
		a.MentionsFound = *p.MentionsFound
	}
	if p.CoverageRate != nil {
		a.CoverageRate = *p.CoverageRate
	}
	if p.TotalPublications != nil {
		a.TotalPublications = *p.TotalPublications
	}
	if p.TopSource != nil {
		a.TopSource = clonePtr(p.TopSource)
	}
	if p.Strategy != nil {
		s := *p.Strategy
		a.Strategy = &s
	}
	if p.ShareableLink != nil {
		a.ShareableLink = clonePtr(p.ShareableLink)
	}
	if p.CompletedAt != nil {
		a.CompletedAt = clonePtr(p.CompletedAt)
	}
}

// Check reports whether the patch may be applied to a. Terminal records are
// immutable and status never moves backward.
func (p AuditPatch) Check(a *Audit) error {
	if a.Status.IsTerminal() {
		return fmt.Errorf("audit %s is %s: %w", a.ID, a.Status, sentinel.ErrInvalidState)
	}
	if p.Status != nil {
		if !p.Status.IsValid() {
			return fmt.Errorf("unknown status %q: %w", *p.Status, sentinel.ErrInvalidState)
		}
		if p.Status.rank() < a.Status.rank() {
			return fmt.Errorf("audit %s cannot move from %s to %s: %w", a.ID, a.Status, *p.Status, sentinel.ErrInvalidState)
		}
	}
	return nil
}

// CountMentions returns how many results report a genuine mention.
func CountMentions(results []Result) int {
	n := 0
	for _, r := range results {
		if r.BrandMentioned {
			n++
		}
	}
	return n
}

// CoverageRate returns round(mentions/denominator*100), or 0 for an empty
// denominator. The result is clamped to [0,100].
func CoverageRate(mentions, denominator int) int {
	if denominator <= 0 || mentions <= 0 {
		return 0
	}
	rate := int(math.Round(float64(mentions) / float64(denominator) * 100))
	return min(rate, 100)
}

// Ptr returns a pointer to v. Used to build patches.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
