package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/logger"
)

const (
	adaptiveAlpha    = 0.1
	adaptiveLowMark  = 0.8
	adaptiveHighMark = 0.95
	adaptiveStep     = 0.1
)

// AdaptiveStatistics describes the feedback state of an Adaptive limiter.
type AdaptiveStatistics struct {
	SuccessRate          float64 `json:"success_rate"`
	CurrentMaxPerMinute  int     `json:"current_max_per_minute"`
	OriginalMaxPerMinute int     `json:"original_max_per_minute"`
	AdaptationActive     bool    `json:"adaptation_active"`
	Samples              int64   `json:"samples"`
}

// Adaptive is a sliding-window limiter whose per-minute cap follows an
// exponential moving average of send success. Below 80% the cap shrinks by
// 10% (never under 1); above 95% it grows by 10% up to twice the configured
// cap.
type Adaptive struct {
	w *window

	mu          sync.Mutex
	successRate float64
	currentMax  int
	originalMax int
	samples     int64
}

// NewAdaptive creates an adaptive limiter starting at a 100% success rate.
func NewAdaptive(cfg Config, opts ...Option) *Adaptive {
	return &Adaptive{
		w:           newWindow(cfg, buildOptions(opts)),
		successRate: 1.0,
		currentMax:  cfg.MaxPerMinute,
		originalMax: cfg.MaxPerMinute,
	}
}

// RecordResult folds one send outcome into the success rate and adjusts the
// per-minute cap.
func (a *Adaptive) RecordResult(success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sample := 0.0
	if success {
		sample = 1.0
	}
	a.successRate = a.successRate*(1-adaptiveAlpha) + sample*adaptiveAlpha
	a.samples++

	prev := a.currentMax
	switch {
	case a.successRate < adaptiveLowMark:
		next := int(math.Floor(float64(a.currentMax) * (1 - adaptiveStep)))
		if next < 1 {
			next = 1
		}
		a.currentMax = next
	case a.successRate > adaptiveHighMark:
		ceiling := 2 * a.originalMax
		next := int(math.Floor(float64(a.currentMax) * (1 + adaptiveStep)))
		if next <= a.currentMax {
			next = a.currentMax + 1
		}
		if next > ceiling {
			next = ceiling
		}
		if next > a.currentMax {
			a.currentMax = next
		}
	}

	if a.currentMax != prev {
		logger.Info("adaptive rate limit adjusted",
			"previous", prev, "current", a.currentMax, "success_rate", a.successRate)
	}
}

// AdaptiveStatistics returns the current feedback state.
func (a *Adaptive) AdaptiveStatistics() AdaptiveStatistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statsLocked()
}

func (a *Adaptive) statsLocked() AdaptiveStatistics {
	return AdaptiveStatistics{
		SuccessRate:          a.successRate,
		CurrentMaxPerMinute:  a.currentMax,
		OriginalMaxPerMinute: a.originalMax,
		AdaptationActive:     a.successRate < adaptiveLowMark || a.successRate > adaptiveHighMark,
		Samples:              a.samples,
	}
}

func (a *Adaptive) minuteCap() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentMax
}

func (a *Adaptive) WaitIfNeeded(ctx context.Context) (time.Duration, error) {
	return a.w.acquire(ctx, a.minuteCap)
}

func (a *Adaptive) CanSendImmediately(ctx context.Context) (bool, error) {
	return a.w.canSend(ctx, a.minuteCap())
}

func (a *Adaptive) Status(ctx context.Context) (Status, error) {
	st, err := a.w.status(ctx, StrategyAdaptive, a.minuteCap())
	if err != nil {
		return Status{}, err
	}
	as := a.AdaptiveStatistics()
	st.Adaptive = &as
	return st, nil
}

// Reset clears the window and statistics. The learned cap and success rate
// are kept.
func (a *Adaptive) Reset(ctx context.Context) error {
	return a.w.reset(ctx)
}
