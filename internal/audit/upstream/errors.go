// Package upstream normalizes failures from the third-party services an
// audit depends on (web search, language model) into one taxonomy.
package upstream

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory is the normalized failure kind of an upstream call.
type ErrorCategory string

const (
	// CategoryAuthentication: the credential was rejected.
	CategoryAuthentication ErrorCategory = "authentication"

	// CategoryRateLimited: the provider throttled the caller.
	CategoryRateLimited ErrorCategory = "rate_limited"

	// CategoryQuotaExceeded: the account has no remaining credits.
	CategoryQuotaExceeded ErrorCategory = "quota_exceeded"

	// CategoryMissingCredentials: no credential was configured.
	CategoryMissingCredentials ErrorCategory = "missing_credentials"

	// CategoryBadData: the provider answered with something unparseable.
	CategoryBadData ErrorCategory = "bad_data"

	// CategoryProviderOutage: transport failure or 5xx.
	CategoryProviderOutage ErrorCategory = "provider_outage"

	// CategoryTimeout: the call did not finish in time.
	CategoryTimeout ErrorCategory = "timeout"

	CategoryInternal ErrorCategory = "internal"
)

// Provider names used in errors, logs and metrics.
const (
	ProviderSerper = "serper"
	ProviderOpenAI = "openai"
)

// Error wraps an upstream failure with its normalized category. Fatal errors
// abort the whole audit; everything else is absorbed per publication.
type Error struct {
	Category   ErrorCategory
	Provider   string
	Message    string
	Underlying error
	Fatal      bool
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Provider, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Provider, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError builds a normalized upstream error. Fatality is derived from the
// category.
func NewError(category ErrorCategory, provider, message string, underlying error) *Error {
	return &Error{
		Category:   category,
		Provider:   provider,
		Message:    message,
		Underlying: underlying,
		Fatal:      category.Fatal(),
	}
}

// Fatal reports whether errors of this category must stop an audit.
func (c ErrorCategory) Fatal() bool {
	switch c {
	case CategoryAuthentication, CategoryRateLimited, CategoryQuotaExceeded, CategoryMissingCredentials:
		return true
	default:
		return false
	}
}

// IsFatal checks whether err carries a fatal upstream category.
func IsFatal(err error) bool {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Fatal
	}
	return false
}

// CategoryOf extracts the category from err. Context errors map to timeout.
func CategoryOf(err error) ErrorCategory {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	return CategoryInternal
}

// ErrMissingCredentials is returned by constructors when no API key is set.
var ErrMissingCredentials = errors.New("api key not configured")
