// Package ratelimit implements the send-side throughput limiters used by the
// dispatch service: a two-window sliding limiter plus adaptive, burst and
// token-bucket variants sharing the Limiter interface.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/clock"
)

const (
	MinuteWindow = time.Minute
	HourWindow   = time.Hour
)

// Strategy selects a Limiter implementation.
type Strategy string

const (
	StrategySliding     Strategy = "sliding"
	StrategyAdaptive    Strategy = "adaptive"
	StrategyBurst       Strategy = "burst"
	StrategyTokenBucket Strategy = "token_bucket"
)

// Limiter decides how long a caller must wait before the next send.
type Limiter interface {
	// WaitIfNeeded blocks until a send is permitted, records it, and returns
	// the time spent waiting. A disabled limiter returns immediately and
	// records nothing.
	WaitIfNeeded(ctx context.Context) (time.Duration, error)
	// CanSendImmediately reports whether a send would need no wait.
	CanSendImmediately(ctx context.Context) (bool, error)
	Status(ctx context.Context) (Status, error)
	// Reset clears recorded sends and statistics together.
	Reset(ctx context.Context) error
}

// Config holds limiter caps. A cap <= 0 disables that window.
type Config struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	MaxPerMinute  int           `json:"max_per_minute" yaml:"max_per_minute"`
	MaxPerHour    int           `json:"max_per_hour" yaml:"max_per_hour"`
	Strategy      Strategy      `json:"strategy" yaml:"strategy"`
	BurstLimit    int           `json:"burst_limit,omitempty" yaml:"burst_limit,omitempty"`
	BurstCooldown time.Duration `json:"burst_cooldown,omitempty" yaml:"burst_cooldown,omitempty"`
}

// DefaultConfig returns the stock caps: 10/minute, 100/hour.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxPerMinute: 10,
		MaxPerHour:   100,
		Strategy:     StrategySliding,
	}
}

// Stats are the cumulative wait statistics of a limiter.
type Stats struct {
	TotalEmails    int64         `json:"total_emails"`
	ThrottledCount int64         `json:"throttled_count"`
	TotalWait      time.Duration `json:"-"`
	AverageWait    time.Duration `json:"-"`
	MaxWait        time.Duration `json:"-"`
	AverageWaitMs  int64         `json:"average_wait_ms"`
	MaxWaitMs      int64         `json:"max_wait_ms"`
}

// Status is a point-in-time view of a limiter.
type Status struct {
	Enabled      bool          `json:"enabled"`
	Strategy     Strategy      `json:"strategy"`
	MinuteCount  int           `json:"minute_count"`
	HourCount    int           `json:"hour_count"`
	MaxPerMinute int           `json:"max_per_minute"`
	MaxPerHour   int           `json:"max_per_hour"`
	Wait         time.Duration `json:"-"`
	WaitMs       int64         `json:"wait_ms"`
	LimitedBy    string        `json:"limited_by,omitempty"`
	CanSendNow   bool          `json:"can_send_now"`
	Stats        Stats         `json:"stats"`

	Adaptive *AdaptiveStatistics `json:"adaptive,omitempty"`
	Burst    *BurstStatus        `json:"burst,omitempty"`
}

// Option customizes a limiter.
type Option func(*options)

type options struct {
	clock clock.Clock
	store WindowStore
}

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithStore replaces the in-memory timestamp store. Token-bucket limiters
// ignore it.
func WithStore(s WindowStore) Option {
	return func(o *options) { o.store = s }
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.New()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.store == nil {
		o.store = NewMemoryStore()
	}
	return o
}

// New builds the limiter named by cfg.Strategy. An empty strategy means
// sliding.
func New(cfg Config, opts ...Option) (Limiter, error) {
	switch cfg.Strategy {
	case "", StrategySliding:
		return NewSlidingWindow(cfg, opts...), nil
	case StrategyAdaptive:
		return NewAdaptive(cfg, opts...), nil
	case StrategyBurst:
		return NewBurst(cfg, opts...), nil
	case StrategyTokenBucket:
		return NewTokenBucket(cfg, opts...), nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy: %s", cfg.Strategy)
	}
}
