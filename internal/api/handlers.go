package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/distlock"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/httputil"
	"github.com/JAKOBGTAG/multi-email-sender/internal/ratelimit"
	"github.com/JAKOBGTAG/multi-email-sender/internal/retry"
	"github.com/JAKOBGTAG/multi-email-sender/internal/service/dispatch"
	"github.com/JAKOBGTAG/multi-email-sender/internal/stats"
)

// Dispatcher is the slice of the dispatch service the API uses.
type Dispatcher interface {
	DispatchBatch(ctx context.Context, recipients []domain.Recipient, content domain.Content, opts domain.SendOptions) ([]domain.SendResult, error)
	DispatchOne(ctx context.Context, recipient domain.Recipient, content domain.Content, opts domain.SendOptions) (domain.SendResult, error)
	Statistics() stats.Statistics
	QuotaStatus() dispatch.QuotaStatus
	LimiterStatus(ctx context.Context) (ratelimit.Status, error)
	ResetLimiter(ctx context.Context) error
	RetryConfig() retry.Config
}

// Handlers contains all HTTP handlers
type Handlers struct {
	svc     Dispatcher
	results *ResultBuffer
	health  *HealthChecker
}

// NewHandlers creates the handlers. results should be the buffer registered
// as the service's result handler; health may be nil.
func NewHandlers(svc Dispatcher, results *ResultBuffer, health *HealthChecker) *Handlers {
	if results == nil {
		results = NewResultBuffer(500)
	}
	if health == nil {
		health = NewHealthChecker(nil, nil)
	}
	health.attach(svc)
	return &Handlers{svc: svc, results: results, health: health}
}

// BatchRequest is the body of POST /api/dispatch.
type BatchRequest struct {
	Recipients []domain.Recipient `json:"recipients"`
	Content    domain.Content     `json:"content"`
	Options    domain.SendOptions `json:"options"`
}

// OneRequest is the body of POST /api/dispatch/one.
type OneRequest struct {
	Recipient domain.Recipient   `json:"recipient"`
	Content   domain.Content     `json:"content"`
	Options   domain.SendOptions `json:"options"`
}

// BatchSummary totals one batch response.
type BatchSummary struct {
	Total     int         `json:"total"`
	Sent      int         `json:"sent"`
	Failed    int         `json:"failed"`
	Cancelled bool        `json:"cancelled,omitempty"`
	Retry     retry.Stats `json:"retry"`
}

// BatchResponse is returned by the dispatch endpoints.
type BatchResponse struct {
	Results []domain.SendResult `json:"results"`
	Summary BatchSummary        `json:"summary"`
}

func summarize(results []domain.SendResult) BatchSummary {
	s := BatchSummary{Total: len(results), Retry: retry.ComputeStats(results)}
	for _, r := range results {
		if r.Success {
			s.Sent++
		} else {
			s.Failed++
		}
	}
	return s
}

// GetStats returns the running statistics plus retry statistics over the
// recent results.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Statistics()
	httputil.OK(w, map[string]any{
		"statistics":   st,
		"success_rate": st.SuccessRate(),
		"retry":        retry.ComputeStats(h.results.Recent(0)),
	})
}

// GetQuota returns the daily quota status.
func (h *Handlers) GetQuota(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.svc.QuotaStatus())
}

// GetRateLimit returns the limiter status.
func (h *Handlers) GetRateLimit(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.LimiterStatus(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, st)
}

// ResetRateLimit clears the limiter window and statistics.
func (h *Handlers) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetLimiter(r.Context()); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "reset"})
}

// GetRetryPresets lists the named retry policies and the active one.
func (h *Handlers) GetRetryPresets(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"presets": retry.Presets(),
		"names":   retry.PresetNames(),
		"active":  h.svc.RetryConfig(),
	})
}

// GetResults returns the most recent results, oldest first.
//
//	GET /api/results?limit=N
func (h *Handlers) GetResults(w http.ResponseWriter, r *http.Request) {
	limit := httputil.QueryInt(r, "limit", 50, 1000)
	results := h.results.Recent(limit)
	httputil.OK(w, map[string]any{
		"results": results,
		"count":   len(results),
		"total":   h.results.Total(),
	})
}

// DispatchBatch sends one batch synchronously.
func (h *Handlers) DispatchBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	results, err := h.svc.DispatchBatch(r.Context(), req.Recipients, req.Content, req.Options)
	if err != nil && !isCancellation(err) {
		h.writeDispatchError(w, err)
		return
	}

	resp := BatchResponse{Results: results, Summary: summarize(results)}
	if resp.Results == nil {
		resp.Results = []domain.SendResult{}
	}
	resp.Summary.Cancelled = err != nil
	httputil.OK(w, resp)
}

// DispatchOne sends to a single recipient.
func (h *Handlers) DispatchOne(w http.ResponseWriter, r *http.Request) {
	var req OneRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	res, err := h.svc.DispatchOne(r.Context(), req.Recipient, req.Content, req.Options)
	if err != nil {
		h.writeDispatchError(w, err)
		return
	}
	httputil.OK(w, res)
}

func (h *Handlers) writeDispatchError(w http.ResponseWriter, err error) {
	var ve *dispatch.ValidationError
	switch {
	case errors.As(err, &ve):
		httputil.ErrorWithCode(w, http.StatusBadRequest, "validation_failed", ve.Error(), map[string]any{
			"field": ve.Field, "index": ve.Index, "reason": ve.Reason,
		})
	case errors.Is(err, dispatch.ErrDailyQuotaExceeded):
		httputil.TooManyRequests(w, "daily_quota_exceeded", err.Error(), h.svc.QuotaStatus())
	case errors.Is(err, distlock.ErrLockNotAcquired):
		httputil.ErrorWithCode(w, http.StatusConflict, "batch_in_progress", "another batch holds the dispatch lock", nil)
	case isCancellation(err):
		httputil.ErrorWithCode(w, http.StatusServiceUnavailable, "cancelled", err.Error(), nil)
	default:
		httputil.InternalError(w, err)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
