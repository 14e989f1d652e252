package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/clock"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/logger"
)

// TokenBucket smooths sends with two token buckets, one refilling
// MaxPerMinute tokens per minute and one MaxPerHour per hour. Unlike the
// sliding window it spreads sends evenly instead of releasing a full window
// at once.
type TokenBucket struct {
	cfg   Config
	clock clock.Clock

	mu     sync.Mutex
	minute *rate.Limiter
	hour   *rate.Limiter
	stats  Stats
}

// NewTokenBucket creates a token-bucket limiter. WithStore is ignored.
func NewTokenBucket(cfg Config, opts ...Option) *TokenBucket {
	o := buildOptions(opts)
	tb := &TokenBucket{cfg: cfg, clock: o.clock}
	tb.buildBuckets()
	return tb
}

func (tb *TokenBucket) buildBuckets() {
	tb.minute = newBucket(tb.cfg.MaxPerMinute, MinuteWindow)
	tb.hour = newBucket(tb.cfg.MaxPerHour, HourWindow)
}

func newBucket(capacity int, per time.Duration) *rate.Limiter {
	if capacity <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(per/time.Duration(capacity)), capacity)
}

func (tb *TokenBucket) WaitIfNeeded(ctx context.Context) (time.Duration, error) {
	if !tb.cfg.Enabled {
		return 0, nil
	}

	tb.mu.Lock()
	now := tb.clock.Now()
	var reservations []*rate.Reservation
	var wait time.Duration
	for _, b := range []*rate.Limiter{tb.minute, tb.hour} {
		if b == nil {
			continue
		}
		r := b.ReserveN(now, 1)
		if !r.OK() {
			continue
		}
		reservations = append(reservations, r)
		if d := r.DelayFrom(now); d > wait {
			wait = d
		}
	}
	tb.mu.Unlock()

	if wait > 0 {
		logger.Debug("token bucket wait", "wait", wait)
		if err := tb.clock.Sleep(ctx, wait); err != nil {
			tb.mu.Lock()
			for _, r := range reservations {
				r.CancelAt(tb.clock.Now())
			}
			tb.mu.Unlock()
			return 0, err
		}
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()
	if wait > 0 {
		tb.stats.ThrottledCount++
		tb.stats.TotalWait += wait
		tb.stats.AverageWait = tb.stats.TotalWait / time.Duration(tb.stats.ThrottledCount)
		if wait > tb.stats.MaxWait {
			tb.stats.MaxWait = wait
		}
	}
	tb.stats.TotalEmails++
	return wait, nil
}

func (tb *TokenBucket) CanSendImmediately(_ context.Context) (bool, error) {
	if !tb.cfg.Enabled {
		return true, nil
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := tb.clock.Now()
	for _, b := range []*rate.Limiter{tb.minute, tb.hour} {
		if b != nil && b.TokensAt(now) < 1 {
			return false, nil
		}
	}
	return true, nil
}

func (tb *TokenBucket) Status(ctx context.Context) (Status, error) {
	ok, err := tb.CanSendImmediately(ctx)
	if err != nil {
		return Status{}, err
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := tb.clock.Now()
	st := Status{
		Enabled:      tb.cfg.Enabled,
		Strategy:     StrategyTokenBucket,
		MaxPerMinute: tb.cfg.MaxPerMinute,
		MaxPerHour:   tb.cfg.MaxPerHour,
		CanSendNow:   ok,
		Stats:        tb.stats.withMillis(),
	}
	// Occupancy is reported as tokens consumed from each bucket.
	if tb.minute != nil {
		st.MinuteCount = tb.cfg.MaxPerMinute - int(tb.minute.TokensAt(now))
	}
	if tb.hour != nil {
		st.HourCount = tb.cfg.MaxPerHour - int(tb.hour.TokensAt(now))
	}
	return st, nil
}

// Reset refills both buckets and clears statistics.
func (tb *TokenBucket) Reset(_ context.Context) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.buildBuckets()
	tb.stats = Stats{}
	return nil
}
