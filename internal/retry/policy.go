// Package retry runs a unit of work with bounded attempts, classifying each
// failure and backing off exponentially with jitter scaled by error category.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/clock"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/logger"
)

const (
	DefaultMultiplier   = 2.0
	DefaultJitterFactor = 0.1
	DefaultMaxDelay     = 30 * time.Second
)

// DefaultCategoryMultipliers scales the backoff delay per failure category.
// Categories absent from the table use 1.0.
func DefaultCategoryMultipliers() map[domain.ErrorCategory]float64 {
	return map[domain.ErrorCategory]float64{
		domain.CategoryNetwork:        1.5,
		domain.CategoryRateLimit:      3.0,
		domain.CategoryAuthentication: 1.2,
		domain.CategoryTransport:      1.3,
	}
}

// Config is a backoff policy. MaxRetries is the total attempt budget,
// including the first attempt.
type Config struct {
	MaxRetries          int                              `json:"max_retries" yaml:"max_retries"`
	BaseDelay           time.Duration                    `json:"-" yaml:"-"`
	MaxDelay            time.Duration                    `json:"-" yaml:"-"`
	Multiplier          float64                          `json:"multiplier" yaml:"multiplier"`
	JitterFactor        float64                          `json:"jitter_factor" yaml:"jitter_factor"`
	CategoryMultipliers map[domain.ErrorCategory]float64 `json:"category_multipliers,omitempty" yaml:"category_multipliers,omitempty"`

	BaseDelayMs int64 `json:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMs  int64 `json:"max_delay_ms" yaml:"max_delay_ms"`
}

// withDefaults fills zero fields. A MaxRetries of zero or less still allows
// one attempt; a negative JitterFactor turns jitter off.
func (c Config) withDefaults() Config {
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.BaseDelay <= 0 && c.BaseDelayMs > 0 {
		c.BaseDelay = time.Duration(c.BaseDelayMs) * time.Millisecond
	}
	if c.MaxDelay <= 0 && c.MaxDelayMs > 0 {
		c.MaxDelay = time.Duration(c.MaxDelayMs) * time.Millisecond
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = DefaultMultiplier
	}
	if c.JitterFactor == 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.CategoryMultipliers == nil {
		c.CategoryMultipliers = DefaultCategoryMultipliers()
	}
	c.BaseDelayMs = c.BaseDelay.Milliseconds()
	c.MaxDelayMs = c.MaxDelay.Milliseconds()
	return c
}

// CategoryFactor returns the delay multiplier for a category.
func (c Config) CategoryFactor(cat domain.ErrorCategory) float64 {
	if f, ok := c.CategoryMultipliers[cat]; ok && f > 0 {
		return f
	}
	return 1.0
}

// PreJitterDelay is base*multiplier^(attempt-1) with no jitter, category
// factor or cap applied.
func (c Config) PreJitterDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1)))
}

// Delay computes the backoff after a failed attempt. u is a uniform sample
// in [0, 1) that drives the jitter.
func (c Config) Delay(attempt int, cat domain.ErrorCategory, u float64) time.Duration {
	d := float64(c.PreJitterDelay(attempt))
	if c.JitterFactor > 0 {
		d += u * c.JitterFactor * d
	}
	d *= c.CategoryFactor(cat)
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// Event describes a scheduled retry.
type Event struct {
	Attempt  int
	Delay    time.Duration
	Err      error
	Category domain.ErrorCategory
}

// Outcome summarizes an Execute call.
type Outcome struct {
	Attempts   int
	Records    []domain.AttemptRecord
	Category   domain.ErrorCategory
	Retryable  bool
	Exhausted  bool
	TotalDelay time.Duration
}

// Operation is one attempt of the retried work. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Policy executes operations under a Config.
type Policy struct {
	cfg      Config
	clock    clock.Clock
	rand     func() float64
	classify func(error) domain.Classification
}

// Option customizes a Policy.
type Option func(*Policy)

// WithClock injects the time source used for backoff sleeps.
func WithClock(c clock.Clock) Option {
	return func(p *Policy) { p.clock = c }
}

// WithRand replaces the jitter source.
func WithRand(fn func() float64) Option {
	return func(p *Policy) { p.rand = fn }
}

// WithClassifier replaces domain.Classify.
func WithClassifier(fn func(error) domain.Classification) Option {
	return func(p *Policy) { p.classify = fn }
}

// New creates a Policy.
func New(cfg Config, opts ...Option) *Policy {
	p := &Policy{
		cfg:      cfg.withDefaults(),
		clock:    clock.New(),
		rand:     rand.Float64,
		classify: domain.Classify,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Policy) Config() Config { return p.cfg }

// Execute runs op until it succeeds, fails with a non-retryable error, or
// the attempt budget is spent. The last error is returned unchanged.
func (p *Policy) Execute(ctx context.Context, op Operation) (Outcome, error) {
	return p.ExecuteNotify(ctx, op, nil)
}

// ExecuteNotify is Execute with a callback invoked before each backoff sleep.
func (p *Policy) ExecuteNotify(ctx context.Context, op Operation, notify func(Event)) (Outcome, error) {
	var out Outcome
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return out, lastErr
			}
			return out, err
		}

		err := op(ctx, attempt)
		out.Attempts = attempt
		rec := domain.AttemptRecord{Attempt: attempt, At: p.clock.Now(), Success: err == nil}
		if err == nil {
			out.Records = append(out.Records, rec)
			out.Category = ""
			out.Retryable = false
			return out, nil
		}

		lastErr = err
		cls := p.classify(err)
		rec.Category = cls.Category
		out.Records = append(out.Records, rec)
		out.Category = cls.Category
		out.Retryable = cls.Retryable

		if !cls.Retryable {
			logger.Debug("non-retryable failure", "attempt", attempt, "category", string(cls.Category), "error", err.Error())
			return out, err
		}
		if ctx.Err() != nil {
			return out, err
		}
		if attempt == p.cfg.MaxRetries {
			break
		}

		delay := p.cfg.Delay(attempt, cls.Category, p.rand())
		logger.Info("retrying after failure",
			"attempt", attempt, "max_attempts", p.cfg.MaxRetries,
			"category", string(cls.Category), "delay", delay, "error", err.Error())
		if notify != nil {
			notify(Event{Attempt: attempt, Delay: delay, Err: err, Category: cls.Category})
		}
		if serr := p.clock.Sleep(ctx, delay); serr != nil {
			return out, err
		}
		out.TotalDelay += delay
	}

	out.Exhausted = true
	logger.Warn("retry budget exhausted", "attempts", out.Attempts, "category", string(out.Category))
	return out, lastErr
}
