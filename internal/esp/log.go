package esp

import (
	"context"

	"github.com/google/uuid"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/logger"
)

// LogTransport is a dry-run transport: it logs each message and returns a
// fresh id without delivering anything.
type LogTransport struct{}

// NewLogTransport creates a dry-run transport.
func NewLogTransport() *LogTransport { return &LogTransport{} }

func (LogTransport) Send(ctx context.Context, msg *domain.OutboundMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	logger.Info("dry-run send",
		"email", msg.To, "subject", msg.Subject, "batch_id", msg.BatchID,
		"message_id", id, "attachments", len(msg.Attachments))
	return id, nil
}
