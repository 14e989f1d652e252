package dispatch

import (
	"context"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
)

// Transport delivers one fully-rendered message. Failures should be
// *domain.SendError values so the retry policy can classify them without
// message matching.
type Transport interface {
	Send(ctx context.Context, msg *domain.OutboundMessage) (messageID string, err error)
}

// EventLogger is the fire-and-forget structured event sink.
type EventLogger interface {
	Record(level, msg string, fields map[string]any)
}

// Renderer personalizes content for one recipient.
type Renderer interface {
	Render(c domain.Content, r domain.Recipient) (domain.Content, error)
}

// feedbackLimiter is implemented by limiters that learn from send outcomes.
type feedbackLimiter interface {
	RecordResult(success bool)
}

// burstLimiter is implemented by limiters with an explicit burst allowance.
type burstLimiter interface {
	WouldBurst(ctx context.Context) (bool, error)
	RecordBurst()
}

type nopEventLogger struct{}

func (nopEventLogger) Record(string, string, map[string]any) {}
