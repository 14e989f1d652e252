package domain

import (
	"errors"
	"strings"
)

// ErrorCategory is the failure taxonomy used for retry eligibility, backoff
// scaling and the statistics error breakdown.
type ErrorCategory string

const (
	CategoryValidation       ErrorCategory = "validation"
	CategoryAuthentication   ErrorCategory = "authentication"
	CategoryInvalidRecipient ErrorCategory = "invalid_recipient"
	CategoryNetwork          ErrorCategory = "network"
	CategoryRateLimit        ErrorCategory = "rate_limit"
	CategoryTransport        ErrorCategory = "transport"
	CategoryOther            ErrorCategory = "other"
)

// SendError is the tagged error transports return. The tag takes precedence
// over message matching in Classify.
type SendError struct {
	Category  ErrorCategory
	Permanent bool
	Err       error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }

// NewSendError tags err with a category. Validation and invalid-recipient
// failures are always permanent.
func NewSendError(category ErrorCategory, permanent bool, err error) *SendError {
	if category == CategoryValidation || category == CategoryInvalidRecipient {
		permanent = true
	}
	return &SendError{Category: category, Permanent: permanent, Err: err}
}

// Classification is the outcome of Classify.
type Classification struct {
	Category  ErrorCategory
	Retryable bool
}

type keywordGroup struct {
	category ErrorCategory
	keywords []string
}

// Order matters: the more specific groups must precede the generic
// "invalid" match.
var nonRetryableGroups = []keywordGroup{
	{CategoryAuthentication, []string{"invalid credentials", "authentication failed", "unauthorized"}},
	{CategoryInvalidRecipient, []string{"invalid email", "bad email", "email not found"}},
	{CategoryValidation, []string{"validation", "invalid", "malformed"}},
}

var retryableGroups = []keywordGroup{
	{CategoryNetwork, []string{"network", "timeout", "connection"}},
	{CategoryRateLimit, []string{"rate", "limit", "quota"}},
	{CategoryAuthentication, []string{"auth", "credential", "permission"}},
	{CategoryTransport, []string{"smtp", "mail", "delivery"}},
}

// Classify maps an error to its category and retry eligibility. Tagged
// *SendError values win; anything else falls back to case-insensitive
// keyword matching on the message. A nil error classifies as other.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryOther, Retryable: true}
	}

	var se *SendError
	if errors.As(err, &se) {
		cat := se.Category
		if cat == "" {
			cat = CategoryOther
		}
		retryable := !se.Permanent && cat != CategoryValidation && cat != CategoryInvalidRecipient
		return Classification{Category: cat, Retryable: retryable}
	}

	msg := strings.ToLower(err.Error())
	for _, g := range nonRetryableGroups {
		if containsAny(msg, g.keywords) {
			return Classification{Category: g.category, Retryable: false}
		}
	}
	for _, g := range retryableGroups {
		if containsAny(msg, g.keywords) {
			return Classification{Category: g.category, Retryable: true}
		}
	}
	return Classification{Category: CategoryOther, Retryable: true}
}

// CategoryOf is shorthand for Classify(err).Category.
func CategoryOf(err error) ErrorCategory {
	return Classify(err).Category
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
