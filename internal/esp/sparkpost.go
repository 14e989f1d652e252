package esp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/logger"
)

const defaultSparkPostURL = "https://api.sparkpost.com/api/v1"

// SparkPostTransport sends through the SparkPost Transmissions API.
type SparkPostTransport struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewSparkPostTransport creates a SparkPost transport.
func NewSparkPostTransport(cfg SparkPostConfig) (*SparkPostTransport, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("SparkPost API key not configured")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultSparkPostURL
	}
	return &SparkPostTransport{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.timeout()},
	}, nil
}

type spAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type spAttachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

type spContent struct {
	From        spAddress         `json:"from"`
	Subject     string            `json:"subject"`
	HTML        string            `json:"html,omitempty"`
	Text        string            `json:"text,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []spAttachment    `json:"attachments,omitempty"`
}

type spTransmission struct {
	Recipients []struct {
		Address spAddress `json:"address"`
	} `json:"recipients"`
	Content  spContent         `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type spResponse struct {
	Results struct {
		ID string `json:"id"`
	} `json:"results"`
	Errors []struct {
		Message     string `json:"message"`
		Description string `json:"description"`
		Code        string `json:"code"`
	} `json:"errors"`
}

func (t *SparkPostTransport) Send(ctx context.Context, msg *domain.OutboundMessage) (string, error) {
	tr := spTransmission{
		Content: spContent{
			From:    spAddress{Email: msg.FromEmail, Name: msg.FromName},
			Subject: msg.Subject,
			HTML:    msg.HTML,
			Text:    msg.Text,
			ReplyTo: msg.ReplyTo,
		},
		Metadata: map[string]string{"batch_id": msg.BatchID, "message_id": msg.ID},
	}
	tr.Recipients = append(tr.Recipients, struct {
		Address spAddress `json:"address"`
	}{Address: spAddress{Email: msg.To, Name: msg.ToName}})

	if len(msg.Headers) > 0 || priorityHeader(msg.Priority) != "" {
		tr.Content.Headers = make(map[string]string, len(msg.Headers)+1)
		for k, v := range msg.Headers {
			tr.Content.Headers[k] = v
		}
		if p := priorityHeader(msg.Priority); p != "" {
			tr.Content.Headers["X-Priority"] = p
		}
	}
	for _, a := range msg.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		tr.Content.Attachments = append(tr.Content.Attachments, spAttachment{
			Name: a.Filename, Type: ct, Data: base64.StdEncoding.EncodeToString(a.Data),
		})
	}

	payload, err := json.Marshal(tr)
	if err != nil {
		return "", domain.NewSendError(domain.CategoryValidation, true, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/transmissions", bytes.NewReader(payload))
	if err != nil {
		return "", domain.NewSendError(domain.CategoryValidation, true, err)
	}
	req.Header.Set("Authorization", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", classifyNetError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var parsed spResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode >= 400 {
		detail := strings.TrimSpace(string(body))
		if len(parsed.Errors) > 0 {
			detail = parsed.Errors[0].Message
			if parsed.Errors[0].Description != "" {
				detail += ": " + parsed.Errors[0].Description
			}
		}
		logger.Warn("SparkPost send failed", "email", msg.To, "status", resp.StatusCode, "error", detail)
		return "", ClassifyStatus(resp.StatusCode, fmt.Errorf("SparkPost error %d: %s", resp.StatusCode, detail))
	}

	logger.Debug("SparkPost sent", "email", msg.To, "message_id", parsed.Results.ID)
	return parsed.Results.ID, nil
}
