package dispatch

import (
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
)

// ValidateBatch checks batch input shape. It returns the first problem found.
func ValidateBatch(recipients []domain.Recipient, content domain.Content) error {
	if len(recipients) == 0 {
		return &ValidationError{Field: "recipients", Index: -1, Reason: "at least one recipient is required"}
	}
	if strings.TrimSpace(content.Subject) == "" {
		return &ValidationError{Field: "subject", Index: -1, Reason: "is required"}
	}
	if strings.TrimSpace(content.HTML) == "" && strings.TrimSpace(content.Text) == "" {
		return &ValidationError{Field: "body", Index: -1, Reason: "html or text is required"}
	}
	if strings.TrimSpace(content.FromEmail) == "" {
		return &ValidationError{Field: "from_email", Index: -1, Reason: "is required"}
	}
	if _, err := mail.ParseAddress(content.FromEmail); err != nil {
		return &ValidationError{Field: "from_email", Index: -1, Reason: "invalid address"}
	}
	if content.ReplyTo != "" {
		if _, err := mail.ParseAddress(content.ReplyTo); err != nil {
			return &ValidationError{Field: "reply_to", Index: -1, Reason: "invalid address"}
		}
	}
	for i, r := range recipients {
		email := strings.TrimSpace(r.Email)
		if email == "" {
			return &ValidationError{Field: "email", Index: i, Reason: "is required"}
		}
		if _, err := mail.ParseAddress(email); err != nil {
			return &ValidationError{Field: "email", Index: i, Reason: "invalid address"}
		}
	}
	return nil
}
