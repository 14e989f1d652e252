package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/logger"
)

// DefaultBurstCooldown is the wait between burst allowances.
const DefaultBurstCooldown = 15 * time.Minute

// BurstStatus describes the burst allowance of a Burst limiter.
type BurstStatus struct {
	BurstLimit      int       `json:"burst_limit"`
	CooldownMs      int64     `json:"cooldown_ms"`
	LastBurst       time.Time `json:"last_burst,omitempty"`
	CanBurst        bool      `json:"can_burst"`
	NextAvailableAt time.Time `json:"next_available_at,omitempty"`
}

// Burst is a sliding-window limiter that raises the per-minute cap to
// BurstLimit whenever the cooldown since the last recorded burst has passed.
// The allowance is spent only by an explicit RecordBurst; WaitIfNeeded never
// calls it, so a burst is available until a caller claims it.
type Burst struct {
	w *window

	mu         sync.Mutex
	burstLimit int
	cooldown   time.Duration
	lastBurst  time.Time
}

// NewBurst creates a burst limiter. BurstLimit defaults to twice the
// per-minute cap and BurstCooldown to 15 minutes.
func NewBurst(cfg Config, opts ...Option) *Burst {
	b := &Burst{
		w:          newWindow(cfg, buildOptions(opts)),
		burstLimit: cfg.BurstLimit,
		cooldown:   cfg.BurstCooldown,
	}
	if b.burstLimit <= 0 {
		b.burstLimit = 2 * cfg.MaxPerMinute
	}
	if b.cooldown <= 0 {
		b.cooldown = DefaultBurstCooldown
	}
	return b
}

// CanBurst reports whether more than the cooldown has elapsed since the last
// recorded burst. It is true until the first RecordBurst.
func (b *Burst) CanBurst() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canBurstLocked(b.w.clock.Now())
}

func (b *Burst) canBurstLocked(now time.Time) bool {
	if b.lastBurst.IsZero() {
		return true
	}
	return now.Sub(b.lastBurst) > b.cooldown
}

// RecordBurst marks the burst allowance as used now.
func (b *Burst) RecordBurst() {
	b.mu.Lock()
	b.lastBurst = b.w.clock.Now()
	b.mu.Unlock()
	logger.Info("burst allowance used", "cooldown", b.cooldown)
}

// WouldBurst reports whether the next send fits only because of the burst
// allowance: it is blocked at the normal cap but free at the burst cap.
func (b *Burst) WouldBurst(ctx context.Context) (bool, error) {
	if !b.w.cfg.Enabled || !b.CanBurst() {
		return false, nil
	}
	normal, err := b.w.canSend(ctx, b.w.cfg.MaxPerMinute)
	if err != nil || normal {
		return false, err
	}
	return b.w.canSend(ctx, b.burstLimit)
}

func (b *Burst) minuteCap() int {
	if b.CanBurst() {
		return b.burstLimit
	}
	return b.w.cfg.MaxPerMinute
}

func (b *Burst) WaitIfNeeded(ctx context.Context) (time.Duration, error) {
	return b.w.acquire(ctx, b.minuteCap)
}

func (b *Burst) CanSendImmediately(ctx context.Context) (bool, error) {
	return b.w.canSend(ctx, b.minuteCap())
}

func (b *Burst) Status(ctx context.Context) (Status, error) {
	st, err := b.w.status(ctx, StrategyBurst, b.minuteCap())
	if err != nil {
		return Status{}, err
	}

	b.mu.Lock()
	now := b.w.clock.Now()
	bs := &BurstStatus{
		BurstLimit: b.burstLimit,
		CooldownMs: b.cooldown.Milliseconds(),
		LastBurst:  b.lastBurst,
		CanBurst:   b.canBurstLocked(now),
	}
	if !b.lastBurst.IsZero() && !bs.CanBurst {
		bs.NextAvailableAt = b.lastBurst.Add(b.cooldown)
	}
	b.mu.Unlock()

	st.Burst = bs
	return st, nil
}

// Reset clears the window, statistics and the last burst time.
func (b *Burst) Reset(ctx context.Context) error {
	if err := b.w.reset(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	b.lastBurst = time.Time{}
	b.mu.Unlock()
	return nil
}
