package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/clock"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/httputil"
	"github.com/JAKOBGTAG/multi-email-sender/internal/ratelimit"
	"github.com/JAKOBGTAG/multi-email-sender/internal/retry"
	"github.com/JAKOBGTAG/multi-email-sender/internal/service/dispatch"
)

type transportFunc func(ctx context.Context, msg *domain.OutboundMessage) (string, error)

func (f transportFunc) Send(ctx context.Context, msg *domain.OutboundMessage) (string, error) {
	return f(ctx, msg)
}

// rejectsBad fails permanently for any address starting with "bad".
var rejectsBad = transportFunc(func(_ context.Context, msg *domain.OutboundMessage) (string, error) {
	if strings.HasPrefix(msg.To, "bad") {
		return "", domain.NewSendError(domain.CategoryInvalidRecipient, true, errors.New("mailbox unavailable"))
	}
	return "id-" + msg.To, nil
})

func setupTestServer(t *testing.T, dailyLimit int) (http.Handler, *dispatch.Service) {
	t.Helper()
	cfg := dispatch.DefaultConfig()
	cfg.DailyLimit = dailyLimit
	cfg.Retry = retry.Config{MaxRetries: 2, BaseDelay: 10 * time.Millisecond}
	cfg.RateLimit = ratelimit.Config{Enabled: true, MaxPerMinute: 100, MaxPerHour: 1000, Strategy: ratelimit.StrategyAdaptive}

	results := NewResultBuffer(10)
	svc, err := dispatch.NewService(cfg, rejectsBad, nil,
		dispatch.WithClock(clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local))),
		dispatch.WithResultHandler(results.Add),
	)
	require.NoError(t, err)

	h := NewHandlers(svc, results, nil)
	return NewServer(h, nil).Handler(), svc
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var testContent = domain.Content{Subject: "Hi {{ name }}", Text: "Hello", FromEmail: "team@example.com"}

func TestHealth(t *testing.T) {
	h, _ := setupTestServer(t, 10)

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "not_configured", status.Checks["redis"].Status)
	assert.Equal(t, "up", status.Checks["limiter"].Status)
	assert.Equal(t, "0/10 sent today", status.Checks["quota"].Message)

	rec = doJSON(t, h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_ExhaustedQuotaDegrades(t *testing.T) {
	h, svc := setupTestServer(t, 1)
	_, err := svc.DispatchOne(context.Background(), domain.Recipient{Email: "ann@example.com"}, testContent, domain.SendOptions{})
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "degraded", status.Checks["quota"].Status)

	// Degraded is still ready.
	rec = doJSON(t, h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDispatchBatch(t *testing.T) {
	h, _ := setupTestServer(t, 10)

	rec := doJSON(t, h, http.MethodPost, "/api/dispatch", BatchRequest{
		Recipients: []domain.Recipient{{Email: "ann@example.com"}, {Email: "bad@example.com"}, {Email: "bo@example.com"}},
		Content:    testContent,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "ann@example.com", resp.Results[0].Email)
	assert.True(t, resp.Results[0].Success)
	assert.False(t, resp.Results[1].Success)
	assert.Equal(t, domain.CategoryInvalidRecipient, resp.Results[1].Category)
	assert.Equal(t, 2, resp.Summary.Sent)
	assert.Equal(t, 1, resp.Summary.Failed)
	assert.Equal(t, 2, resp.Summary.Retry.FirstTrySuccesses)

	rec = doJSON(t, h, http.MethodGet, "/api/results?limit=2", nil)
	var listed struct {
		Results []domain.SendResult `json:"results"`
		Total   int64               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Results, 2)
	assert.Equal(t, "bad@example.com", listed.Results[0].Email)
	assert.Equal(t, "bo@example.com", listed.Results[1].Email)
	assert.Equal(t, int64(3), listed.Total)

	rec = doJSON(t, h, http.MethodGet, "/api/stats", nil)
	var st struct {
		Statistics struct {
			TotalSent   int64 `json:"total_sent"`
			TotalFailed int64 `json:"total_failed"`
		} `json:"statistics"`
		Retry retry.Stats `json:"retry"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, int64(2), st.Statistics.TotalSent)
	assert.Equal(t, int64(1), st.Statistics.TotalFailed)
	assert.Equal(t, 3, st.Retry.Total)
}

func TestDispatchBatch_ValidationError(t *testing.T) {
	h, _ := setupTestServer(t, 10)

	rec := doJSON(t, h, http.MethodPost, "/api/dispatch", BatchRequest{
		Recipients: []domain.Recipient{{Email: "ann@example.com"}, {Email: "not-an-address"}},
		Content:    testContent,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_failed", body.Code)
	assert.Contains(t, body.Error, "recipients[1]")
}

func TestDispatchBatch_MalformedJSON(t *testing.T) {
	h, _ := setupTestServer(t, 10)
	req := httptest.NewRequest(http.MethodPost, "/api/dispatch", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDispatch_QuotaExceeded(t *testing.T) {
	h, _ := setupTestServer(t, 1)

	rec := doJSON(t, h, http.MethodPost, "/api/dispatch/one", OneRequest{
		Recipient: domain.Recipient{Email: "ann@example.com"},
		Content:   testContent,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res domain.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "id-ann@example.com", res.MessageID)

	rec = doJSON(t, h, http.MethodPost, "/api/dispatch/one", OneRequest{
		Recipient: domain.Recipient{Email: "bo@example.com"},
		Content:   testContent,
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "daily_quota_exceeded", body.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/quota", nil)
	var q dispatch.QuotaStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, 1, q.Count)
	assert.True(t, q.Exhausted)
}

func TestRateLimitEndpoints(t *testing.T) {
	h, _ := setupTestServer(t, 10)

	doJSON(t, h, http.MethodPost, "/api/dispatch/one", OneRequest{
		Recipient: domain.Recipient{Email: "ann@example.com"},
		Content:   testContent,
	})

	rec := doJSON(t, h, http.MethodGet, "/api/ratelimit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st ratelimit.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.MinuteCount)
	assert.Equal(t, ratelimit.StrategyAdaptive, st.Strategy)
	require.NotNil(t, st.Adaptive)

	rec = doJSON(t, h, http.MethodPost, "/api/ratelimit/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/ratelimit", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 0, st.MinuteCount)
}

func TestRetryPresets(t *testing.T) {
	h, _ := setupTestServer(t, 10)

	rec := doJSON(t, h, http.MethodGet, "/api/retry/presets", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Names  []string     `json:"names"`
		Active retry.Config `json:"active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, retry.PresetNames(), body.Names)
	assert.Equal(t, 2, body.Active.MaxRetries)
}

func TestCORS(t *testing.T) {
	h, _ := setupTestServer(t, 10)
	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
