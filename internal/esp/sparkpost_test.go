package esp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
)

func TestSparkPostTransport_Send(t *testing.T) {
	var got spTransmission
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transmissions", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":{"total_accepted_recipients":1,"id":"sp-42"}}`))
	}))
	defer server.Close()

	tr, err := NewSparkPostTransport(SparkPostConfig{APIKey: "test-key", BaseURL: server.URL + "/"})
	require.NoError(t, err)

	msg := testMessage()
	msg.Priority = domain.PriorityLow
	msg.Attachments = []domain.Attachment{{Filename: "a.txt", Data: []byte("data")}}

	id, err := tr.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "sp-42", id)

	require.Len(t, got.Recipients, 1)
	assert.Equal(t, "jane@example.com", got.Recipients[0].Address.Email)
	assert.Equal(t, "Team", got.Content.From.Name)
	assert.Equal(t, "5 (Lowest)", got.Content.Headers["X-Priority"])
	require.Len(t, got.Content.Attachments, 1)
	assert.Equal(t, "application/octet-stream", got.Content.Attachments[0].Type)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("data")), got.Content.Attachments[0].Data)
	assert.Equal(t, "batch-1", got.Metadata["batch_id"])
}

func TestSparkPostTransport_Errors(t *testing.T) {
	tests := []struct {
		status    int
		category  domain.ErrorCategory
		retryable bool
	}{
		{http.StatusTooManyRequests, domain.CategoryRateLimit, true},
		{http.StatusUnauthorized, domain.CategoryAuthentication, false},
		{http.StatusBadRequest, domain.CategoryValidation, false},
		{http.StatusBadGateway, domain.CategoryTransport, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"errors":[{"message":"denied","description":"details here"}]}`))
			}))
			defer server.Close()

			tr, err := NewSparkPostTransport(SparkPostConfig{APIKey: "k", BaseURL: server.URL})
			require.NoError(t, err)

			_, err = tr.Send(context.Background(), testMessage())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "denied: details here")
			c := domain.Classify(err)
			assert.Equal(t, tt.category, c.Category)
			assert.Equal(t, tt.retryable, c.Retryable)
		})
	}
}

func TestSparkPostTransport_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	tr, err := NewSparkPostTransport(SparkPostConfig{APIKey: "k", BaseURL: url})
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Equal(t, domain.CategoryNetwork, domain.CategoryOf(err))
}
