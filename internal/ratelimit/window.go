package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/clock"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/logger"
)

// window is the two-window bookkeeping shared by the sliding, adaptive and
// burst limiters. The minute cap is supplied per call so variants can move it.
type window struct {
	mu    sync.Mutex
	cfg   Config
	clock clock.Clock
	store WindowStore
	stats Stats
}

type evaluation struct {
	wait        time.Duration
	minuteCount int
	hourCount   int
	limitedBy   string
}

func newWindow(cfg Config, o options) *window {
	return &window{cfg: cfg, clock: o.clock, store: o.store}
}

// evaluate computes the wait at now. Minute window first; the hour window is
// consulted only when the minute window has room.
func (w *window) evaluate(ctx context.Context, now time.Time, minuteCap int) (evaluation, error) {
	ts, err := w.store.Since(ctx, now.Add(-HourWindow))
	if err != nil {
		return evaluation{}, err
	}

	minuteStart := now.Add(-MinuteWindow)
	var ev evaluation
	ev.hourCount = len(ts)
	firstInMinute := -1
	for i, t := range ts {
		if t.After(minuteStart) {
			if firstInMinute < 0 {
				firstInMinute = i
			}
			ev.minuteCount++
		}
	}

	switch {
	case minuteCap > 0 && ev.minuteCount >= minuteCap:
		ev.wait = ts[firstInMinute].Add(MinuteWindow).Sub(now)
		ev.limitedBy = "minute"
	case w.cfg.MaxPerHour > 0 && ev.hourCount >= w.cfg.MaxPerHour:
		ev.wait = ts[0].Add(HourWindow).Sub(now)
		ev.limitedBy = "hour"
	}
	if ev.wait < 0 {
		ev.wait = 0
	}
	return ev, nil
}

// acquire waits as needed and records the send. The lock is released while
// sleeping.
func (w *window) acquire(ctx context.Context, minuteCap func() int) (time.Duration, error) {
	if !w.cfg.Enabled {
		return 0, nil
	}

	w.mu.Lock()
	ev, err := w.evaluate(ctx, w.clock.Now(), minuteCap())
	w.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if ev.wait > 0 {
		logger.Debug("rate limit wait", "wait", ev.wait, "window", ev.limitedBy,
			"minute_count", ev.minuteCount, "hour_count", ev.hourCount)
		if err := w.clock.Sleep(ctx, ev.wait); err != nil {
			return 0, err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.Now()
	if err := w.store.Record(ctx, now); err != nil {
		return ev.wait, err
	}
	if ev.wait > 0 {
		w.stats.ThrottledCount++
		w.stats.TotalWait += ev.wait
		w.stats.AverageWait = w.stats.TotalWait / time.Duration(w.stats.ThrottledCount)
		if ev.wait > w.stats.MaxWait {
			w.stats.MaxWait = ev.wait
		}
	}
	w.stats.TotalEmails++
	if err := w.store.Prune(ctx, now.Add(-HourWindow)); err != nil {
		return ev.wait, err
	}
	return ev.wait, nil
}

func (w *window) canSend(ctx context.Context, minuteCap int) (bool, error) {
	if !w.cfg.Enabled {
		return true, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ev, err := w.evaluate(ctx, w.clock.Now(), minuteCap)
	if err != nil {
		return false, err
	}
	return ev.wait == 0, nil
}

func (w *window) status(ctx context.Context, strategy Strategy, minuteCap int) (Status, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := Status{
		Enabled:      w.cfg.Enabled,
		Strategy:     strategy,
		MaxPerMinute: minuteCap,
		MaxPerHour:   w.cfg.MaxPerHour,
		CanSendNow:   true,
		Stats:        w.stats.withMillis(),
	}
	ev, err := w.evaluate(ctx, w.clock.Now(), minuteCap)
	if err != nil {
		return Status{}, err
	}
	st.MinuteCount = ev.minuteCount
	st.HourCount = ev.hourCount
	if w.cfg.Enabled {
		st.Wait = ev.wait
		st.WaitMs = ev.wait.Milliseconds()
		st.LimitedBy = ev.limitedBy
		st.CanSendNow = ev.wait == 0
	}
	return st, nil
}

func (w *window) reset(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.store.Clear(ctx); err != nil {
		return err
	}
	w.stats = Stats{}
	return nil
}

func (s Stats) withMillis() Stats {
	s.AverageWaitMs = s.AverageWait.Milliseconds()
	s.MaxWaitMs = s.MaxWait.Milliseconds()
	return s
}

// SlidingWindow enforces fixed per-minute and per-hour caps.
type SlidingWindow struct {
	w *window
}

// NewSlidingWindow creates a plain sliding-window limiter.
func NewSlidingWindow(cfg Config, opts ...Option) *SlidingWindow {
	return &SlidingWindow{w: newWindow(cfg, buildOptions(opts))}
}

func (s *SlidingWindow) minuteCap() int { return s.w.cfg.MaxPerMinute }

func (s *SlidingWindow) WaitIfNeeded(ctx context.Context) (time.Duration, error) {
	return s.w.acquire(ctx, s.minuteCap)
}

func (s *SlidingWindow) CanSendImmediately(ctx context.Context) (bool, error) {
	return s.w.canSend(ctx, s.minuteCap())
}

func (s *SlidingWindow) Status(ctx context.Context) (Status, error) {
	return s.w.status(ctx, StrategySliding, s.minuteCap())
}

func (s *SlidingWindow) Reset(ctx context.Context) error {
	return s.w.reset(ctx)
}
