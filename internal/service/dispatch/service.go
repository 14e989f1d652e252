package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/clock"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/distlock"
	"github.com/JAKOBGTAG/multi-email-sender/internal/ratelimit"
	"github.com/JAKOBGTAG/multi-email-sender/internal/retry"
	"github.com/JAKOBGTAG/multi-email-sender/internal/stats"
)

// Service dispatches batches. Batches on one Service run one at a time;
// statistics and quota reads are safe while a batch is running.
type Service struct {
	cfg       Config
	transport Transport
	limiter   ratelimit.Limiter
	policy    *retry.Policy
	stats     *stats.Aggregator
	clock     clock.Clock
	events    EventLogger
	renderer  Renderer
	lock      distlock.DistLock
	snapshots stats.SnapshotStore
	onResult  func(domain.SendResult)

	batchMu sync.Mutex

	mu    sync.Mutex
	quota DailyQuota
}

// Option customizes a Service.
type Option func(*Service)

// WithClock injects the time source. It also drives the default retry
// policy and statistics.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// WithEventLogger sets the structured event sink.
func WithEventLogger(l EventLogger) Option { return func(s *Service) { s.events = l } }

// WithRenderer enables per-recipient personalization.
func WithRenderer(r Renderer) Option { return func(s *Service) { s.renderer = r } }

// WithPolicy replaces the retry policy built from Config.Retry.
func WithPolicy(p *retry.Policy) Option { return func(s *Service) { s.policy = p } }

// WithLock serializes batches across processes.
func WithLock(l distlock.DistLock) Option { return func(s *Service) { s.lock = l } }

// WithSnapshotStore saves statistics after each batch and enables Restore.
func WithSnapshotStore(st stats.SnapshotStore) Option {
	return func(s *Service) { s.snapshots = st }
}

// WithResultHandler receives every final SendResult as it is produced.
func WithResultHandler(fn func(domain.SendResult)) Option {
	return func(s *Service) { s.onResult = fn }
}

// NewService creates a dispatch service. A nil limiter is built from
// cfg.RateLimit.
func NewService(cfg Config, transport Transport, limiter ratelimit.Limiter, opts ...Option) (*Service, error) {
	if transport == nil {
		return nil, errors.New("dispatch: transport is required")
	}
	s := &Service{
		cfg:       cfg,
		transport: transport,
		limiter:   limiter,
		clock:     clock.New(),
		events:    nopEventLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		l, err := ratelimit.New(cfg.RateLimit, ratelimit.WithClock(s.clock))
		if err != nil {
			return nil, err
		}
		s.limiter = l
	}
	if s.policy == nil {
		s.policy = retry.New(cfg.Retry, retry.WithClock(s.clock))
	}
	s.stats = stats.NewAggregator(s.clock)
	s.quota = DailyQuota{Limit: cfg.DailyLimit}
	return s, nil
}

// DispatchBatch sends content to every recipient in order and returns one
// result per processed recipient, in input order. Only invalid input and an
// exhausted daily quota fail the call before sending. When ctx is cancelled
// the results gathered so far are returned together with ctx.Err().
func (s *Service) DispatchBatch(ctx context.Context, recipients []domain.Recipient, content domain.Content, opts domain.SendOptions) ([]domain.SendResult, error) {
	if err := ValidateBatch(recipients, content); err != nil {
		s.events.Record("warn", "batch rejected", map[string]any{"error": err.Error()})
		return nil, err
	}

	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	if s.lock != nil {
		if err := distlock.AcquireWait(ctx, s.lock, s.clock, 0, s.cfg.LockTimeout); err != nil {
			return nil, fmt.Errorf("acquire batch lock: %w", err)
		}
		defer func() {
			if err := s.lock.Release(context.Background()); err != nil {
				s.events.Record("warn", "batch lock release failed", map[string]any{"error": err.Error()})
			}
		}()
	}

	if err := s.checkQuota(); err != nil {
		q := s.QuotaStatus()
		s.events.Record("error", "daily quota exceeded", map[string]any{"count": q.Count, "limit": q.Limit})
		return nil, err
	}

	batchID := uuid.NewString()
	started := s.clock.Now()
	s.events.Record("info", "batch started", map[string]any{"batch_id": batchID, "recipients": len(recipients)})

	results := make([]domain.SendResult, 0, len(recipients))
	var batchErr error
	for i, r := range recipients {
		if err := ctx.Err(); err != nil {
			batchErr = err
			break
		}

		res, ok, err := s.dispatchOne(ctx, batchID, domain.NewDispatchRequest(r, content, opts))
		if ok {
			results = append(results, res)
		}
		if err != nil {
			batchErr = err
			break
		}

		if i < len(recipients)-1 && s.cfg.DelayBetweenEmails > 0 {
			if err := s.clock.Sleep(ctx, s.cfg.DelayBetweenEmails); err != nil {
				batchErr = err
				break
			}
		}
	}

	rs := retry.ComputeStats(results)
	s.events.Record("info", "batch finished", map[string]any{
		"batch_id":            batchID,
		"processed":           len(results),
		"total_attempts":      rs.TotalAttempts,
		"first_try_successes": rs.FirstTrySuccesses,
		"success_after_retry": rs.SuccessAfterRetry,
		"failures":            rs.ExhaustedFailures,
		"duration":            s.clock.Now().Sub(started),
		"cancelled":           batchErr != nil,
	})
	s.saveSnapshot(ctx)
	return results, batchErr
}

// DispatchOne sends to a single recipient.
func (s *Service) DispatchOne(ctx context.Context, recipient domain.Recipient, content domain.Content, opts domain.SendOptions) (domain.SendResult, error) {
	results, err := s.DispatchBatch(ctx, []domain.Recipient{recipient}, content, opts)
	if len(results) == 0 {
		if err == nil {
			err = errors.New("dispatch: no result produced")
		}
		return domain.SendResult{}, err
	}
	return results[0], err
}

// dispatchOne runs one recipient to a terminal state. ok is false when the
// recipient was abandoned before any attempt; err is non-nil only for
// cancellation of ctx.
func (s *Service) dispatchOne(ctx context.Context, batchID string, req domain.DispatchRequest) (domain.SendResult, bool, error) {
	email := req.Recipient.Email
	s.transition(email, StatePending, map[string]any{"batch_id": batchID})

	s.transition(email, StateRateLimitWait, nil)
	burst := s.wouldBurst(ctx)
	wait, err := s.limiter.WaitIfNeeded(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.transition(email, StateCancelled, map[string]any{"attempts": 0})
			return domain.SendResult{}, false, ctx.Err()
		}
		return s.finish(email, s.clock.Now(), retry.Outcome{}, "",
			domain.NewSendError(domain.CategoryOther, true, fmt.Errorf("rate limiter: %w", err)), false), true, nil
	}
	if burst {
		if bl, ok := s.limiter.(burstLimiter); ok {
			bl.RecordBurst()
		}
	}
	if wait > 0 {
		s.events.Record("info", "rate limited", map[string]any{"email": email, "wait": wait})
	}

	start := s.clock.Now()
	content := req.Content
	if s.renderer != nil {
		content, err = s.renderer.Render(req.Content, req.Recipient)
		if err != nil {
			err = domain.NewSendError(domain.CategoryValidation, true, fmt.Errorf("render content: %w", err))
			return s.finish(email, start, retry.Outcome{Category: domain.CategoryValidation}, "", err, false), true, nil
		}
	}
	msg := buildMessage(batchID, req, content)

	var messageID string
	out, sendErr := s.policy.ExecuteNotify(ctx, func(ctx context.Context, attempt int) error {
		s.transition(email, StateAttempting, map[string]any{"attempt": attempt})
		s.consumeQuota()
		id, err := s.send(ctx, msg)
		if err != nil {
			return err
		}
		messageID = id
		return nil
	}, func(ev retry.Event) {
		s.transition(email, StateRetryWait, map[string]any{
			"attempt": ev.Attempt, "delay": ev.Delay, "category": string(ev.Category), "error": ev.Err.Error(),
		})
	})

	cancelled := sendErr != nil && ctx.Err() != nil
	if cancelled && out.Attempts == 0 {
		s.transition(email, StateCancelled, map[string]any{"attempts": 0})
		return domain.SendResult{}, false, ctx.Err()
	}
	res := s.finish(email, start, out, messageID, sendErr, cancelled)
	if cancelled {
		return res, true, ctx.Err()
	}
	return res, true, nil
}

// send performs one transport attempt under the per-attempt timeout.
func (s *Service) send(ctx context.Context, msg *domain.OutboundMessage) (string, error) {
	if s.cfg.Timeout <= 0 {
		return s.transport.Send(ctx, msg)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	id, err := s.transport.Send(attemptCtx, msg)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		var se *domain.SendError
		if !errors.As(err, &se) {
			err = domain.NewSendError(domain.CategoryNetwork, false, fmt.Errorf("send timeout after %s: %w", s.cfg.Timeout, err))
		}
	}
	return id, err
}

// finish builds the final result, folds it into statistics and notifies
// observers.
func (s *Service) finish(email string, start time.Time, out retry.Outcome, messageID string, sendErr error, cancelled bool) domain.SendResult {
	now := s.clock.Now()
	res := domain.SendResult{
		Success:    sendErr == nil,
		MessageID:  messageID,
		Email:      email,
		Attempts:   out.Attempts,
		Duration:   now.Sub(start),
		DurationMs: now.Sub(start).Milliseconds(),
		SentAt:     now,
	}

	var st State
	switch {
	case sendErr == nil:
		st = StateSuccess
	case cancelled:
		st = StateCancelled
	case out.Exhausted:
		st = StateExhaustedFailure
	default:
		st = StateNonRetryableFailure
	}
	if sendErr != nil {
		res.Error = sendErr.Error()
		res.Category = out.Category
		if res.Category == "" {
			res.Category = domain.CategoryOf(sendErr)
		}
	}

	fields := map[string]any{"attempts": res.Attempts, "duration": res.Duration}
	if res.Success {
		fields["message_id"] = res.MessageID
	} else {
		fields["error"] = res.Error
		fields["category"] = string(res.Category)
	}
	s.transition(email, st, fields)

	if res.Attempts > 0 {
		if fl, ok := s.limiter.(feedbackLimiter); ok {
			fl.RecordResult(res.Success)
		}
	}
	s.stats.Update(res)
	if s.onResult != nil {
		s.onResult(res)
	}
	return res
}

func (s *Service) wouldBurst(ctx context.Context) bool {
	if !s.cfg.SpendBurst {
		return false
	}
	bl, ok := s.limiter.(burstLimiter)
	if !ok {
		return false
	}
	would, err := bl.WouldBurst(ctx)
	return err == nil && would
}

func buildMessage(batchID string, req domain.DispatchRequest, c domain.Content) *domain.OutboundMessage {
	priority := req.Options.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	return &domain.OutboundMessage{
		ID:          uuid.NewString(),
		BatchID:     batchID,
		To:          req.Recipient.Email,
		ToName:      req.Recipient.Name,
		FromName:    c.FromName,
		FromEmail:   c.FromEmail,
		ReplyTo:     c.ReplyTo,
		Subject:     c.Subject,
		HTML:        c.HTML,
		Text:        c.Text,
		Priority:    priority,
		Headers:     req.Options.Headers,
		Attachments: req.Options.Attachments,
	}
}

// Statistics returns a snapshot of the running statistics.
func (s *Service) Statistics() stats.Statistics {
	return s.stats.Snapshot()
}

// LimiterStatus reports the limiter state.
func (s *Service) LimiterStatus(ctx context.Context) (ratelimit.Status, error) {
	return s.limiter.Status(ctx)
}

// ResetLimiter clears the limiter window and statistics.
func (s *Service) ResetLimiter(ctx context.Context) error {
	return s.limiter.Reset(ctx)
}

// RetryConfig returns the effective retry configuration.
func (s *Service) RetryConfig() retry.Config {
	return s.policy.Config()
}

// Restore loads the last statistics snapshot. A missing snapshot is not an
// error.
func (s *Service) Restore(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	snap, err := s.snapshots.Load(ctx)
	if errors.Is(err, stats.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore statistics: %w", err)
	}
	s.stats.Restore(snap)
	s.events.Record("info", "statistics restored", map[string]any{
		"total_sent": snap.TotalSent, "total_failed": snap.TotalFailed,
	})
	return nil
}

func (s *Service) saveSnapshot(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	// Save even when the batch context was cancelled.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.snapshots.Save(saveCtx, s.stats.Snapshot()); err != nil {
		s.events.Record("warn", "statistics snapshot failed", map[string]any{"error": err.Error()})
	}
}
