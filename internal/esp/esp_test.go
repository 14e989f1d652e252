package esp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
)

func TestNew_SelectsTransport(t *testing.T) {
	tr, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &LogTransport{}, tr)

	tr, err = New(Config{Type: domain.ESPSparkPost, SparkPost: SparkPostConfig{APIKey: "k"}})
	require.NoError(t, err)
	assert.IsType(t, &SparkPostTransport{}, tr)

	tr, err = New(Config{Type: domain.ESPSMTP, SMTP: SMTPConfig{Host: "mail.example.com"}})
	require.NoError(t, err)
	assert.IsType(t, &SMTPTransport{}, tr)
	assert.Equal(t, "mail.example.com:587", tr.(*SMTPTransport).addr)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Config{Type: "pigeon"})
	assert.ErrorContains(t, err, "unknown transport type")

	_, err = New(Config{Type: domain.ESPSparkPost})
	assert.Error(t, err)

	_, err = New(Config{Type: domain.ESPSMTP})
	assert.Error(t, err)
}

func TestPriorityHeader(t *testing.T) {
	assert.Equal(t, "1 (Highest)", priorityHeader(domain.PriorityHigh))
	assert.Equal(t, "5 (Lowest)", priorityHeader(domain.PriorityLow))
	assert.Empty(t, priorityHeader(domain.PriorityNormal))
	assert.Empty(t, priorityHeader(""))
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "a@b.co", formatAddress("", "a@b.co"))
	assert.Equal(t, "Ann <a@b.co>", formatAddress("Ann", "a@b.co"))
}

func testMessage() *domain.OutboundMessage {
	return &domain.OutboundMessage{
		ID:        "msg-1",
		BatchID:   "batch-1",
		To:        "jane@example.com",
		ToName:    "Jane",
		FromName:  "Team",
		FromEmail: "team@example.com",
		Subject:   "Hello Jane",
		HTML:      "<p>Hi</p>",
		Text:      "Hi",
		Priority:  domain.PriorityNormal,
	}
}
