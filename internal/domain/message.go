package domain

import (
	"strings"
	"time"
)

// ESPType identifies the transport used for delivery.
type ESPType string

const (
	ESPSES       ESPType = "ses"
	ESPSparkPost ESPType = "sparkpost"
	ESPSMTP      ESPType = "smtp"
	ESPLog       ESPType = "log"
)

// Priority is the per-send priority hint passed through to the transport.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Recipient is the addressee of a single dispatch.
type Recipient struct {
	Email string         `json:"email" yaml:"email"`
	Name  string         `json:"name,omitempty" yaml:"name,omitempty"`
	Data  map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Content is the message body shared by every recipient of a batch. Subject,
// HTML and Text may contain personalization placeholders that a renderer
// resolves per recipient.
type Content struct {
	Subject   string `json:"subject" yaml:"subject"`
	HTML      string `json:"html,omitempty" yaml:"html,omitempty"`
	Text      string `json:"text,omitempty" yaml:"text,omitempty"`
	FromName  string `json:"from_name,omitempty" yaml:"from_name,omitempty"`
	FromEmail string `json:"from_email" yaml:"from_email"`
	ReplyTo   string `json:"reply_to,omitempty" yaml:"reply_to,omitempty"`
}

// Attachment is a file carried with a message.
type Attachment struct {
	Filename    string `json:"filename" yaml:"filename"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Data        []byte `json:"data" yaml:"data"`
}

// SendOptions are per-send knobs that do not affect content.
type SendOptions struct {
	Priority    Priority          `json:"priority,omitempty" yaml:"priority,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// DispatchRequest is one recipient's unit of work inside a batch.
// Build it with NewDispatchRequest; the request owns copies of every map and
// slice so later mutation by the caller cannot leak in.
type DispatchRequest struct {
	Recipient Recipient
	Content   Content
	Options   SendOptions
}

// NewDispatchRequest builds an immutable request.
func NewDispatchRequest(r Recipient, c Content, o SendOptions) DispatchRequest {
	rc := Recipient{Email: strings.TrimSpace(r.Email), Name: r.Name}
	if r.Data != nil {
		rc.Data = make(map[string]any, len(r.Data))
		for k, v := range r.Data {
			rc.Data[k] = v
		}
	}

	oc := SendOptions{Priority: o.Priority}
	if o.Headers != nil {
		oc.Headers = make(map[string]string, len(o.Headers))
		for k, v := range o.Headers {
			oc.Headers[k] = v
		}
	}
	if len(o.Attachments) > 0 {
		oc.Attachments = make([]Attachment, len(o.Attachments))
		copy(oc.Attachments, o.Attachments)
	}

	return DispatchRequest{Recipient: rc, Content: c, Options: oc}
}

// OutboundMessage is the fully-resolved message handed to a transport.
// By the time a message reaches this struct, all personalization is done.
type OutboundMessage struct {
	ID          string            `json:"id"`
	BatchID     string            `json:"batch_id"`
	To          string            `json:"to"`
	ToName      string            `json:"to_name,omitempty"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Subject     string            `json:"subject"`
	HTML        string            `json:"html,omitempty"`
	Text        string            `json:"text,omitempty"`
	Priority    Priority          `json:"priority,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []Attachment      `json:"-"`
}

// AttemptRecord describes one iteration of the retry loop.
type AttemptRecord struct {
	Attempt  int           `json:"attempt"`
	At       time.Time     `json:"at"`
	Success  bool          `json:"success"`
	Category ErrorCategory `json:"category,omitempty"`
}

// SendResult is the final outcome for one recipient.
type SendResult struct {
	Success    bool          `json:"success"`
	MessageID  string        `json:"message_id,omitempty"`
	Email      string        `json:"email"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
	Category   ErrorCategory `json:"category,omitempty"`
	SentAt     time.Time     `json:"sent_at"`
}
