package esp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
)

// ClassifyStatus tags an HTTP API failure by status code.
func ClassifyStatus(status int, err error) *domain.SendError {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return domain.NewSendError(domain.CategoryValidation, true, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewSendError(domain.CategoryAuthentication, true, err)
	case status == http.StatusTooManyRequests:
		return domain.NewSendError(domain.CategoryRateLimit, false, err)
	case status >= 500:
		return domain.NewSendError(domain.CategoryTransport, false, err)
	default:
		return domain.NewSendError(domain.CategoryTransport, true, err)
	}
}

// classifyNetError tags dial and I/O failures as retryable network errors.
// Context cancellation is passed through untagged.
func classifyNetError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewSendError(domain.CategoryNetwork, false, fmt.Errorf("network error: %w", err))
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return domain.NewSendError(domain.CategoryNetwork, false, fmt.Errorf("network error: %w", err))
	}
	return err
}
