// Package stats keeps the running dispatch statistics and persists
// snapshots of them.
package stats

import (
	"sync"
	"time"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/clock"
)

// DateLayout keys DailyCount.
const DateLayout = "2006-01-02"

// Statistics is the running aggregate over every completed recipient.
type Statistics struct {
	TotalSent         int64            `json:"total_sent"`
	TotalFailed       int64            `json:"total_failed"`
	TotalAttempts     int64            `json:"total_attempts"`
	AverageDuration   time.Duration    `json:"-"`
	AverageDurationMs float64          `json:"average_duration_ms"`
	DailyCount        map[string]int64 `json:"daily_count"`
	ErrorBreakdown    map[string]int64 `json:"error_breakdown"`
	LastUpdated       time.Time        `json:"last_updated,omitempty"`
}

// Completed is the number of recipients folded in so far.
func (s Statistics) Completed() int64 { return s.TotalSent + s.TotalFailed }

// SuccessRate is TotalSent over completed recipients, or 0.
func (s Statistics) SuccessRate() float64 {
	if s.Completed() == 0 {
		return 0
	}
	return float64(s.TotalSent) / float64(s.Completed())
}

func (s Statistics) clone() Statistics {
	out := s
	out.DailyCount = make(map[string]int64, len(s.DailyCount))
	for k, v := range s.DailyCount {
		out.DailyCount[k] = v
	}
	out.ErrorBreakdown = make(map[string]int64, len(s.ErrorBreakdown))
	for k, v := range s.ErrorBreakdown {
		out.ErrorBreakdown[k] = v
	}
	return out
}

// Aggregator folds send results into Statistics. The mean duration is
// updated incrementally; no per-result history is kept.
type Aggregator struct {
	mu    sync.RWMutex
	clock clock.Clock
	s     Statistics
}

// NewAggregator creates an empty aggregator.
func NewAggregator(c clock.Clock) *Aggregator {
	if c == nil {
		c = clock.New()
	}
	a := &Aggregator{clock: c}
	a.s = Statistics{}.clone()
	return a
}

// Update folds one final result in.
func (a *Aggregator) Update(r domain.SendResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	a.s.TotalAttempts += int64(r.Attempts)
	if r.Success {
		a.s.TotalSent++
	} else {
		a.s.TotalFailed++
		cat := r.Category
		if cat == "" {
			cat = domain.CategoryOther
		}
		a.s.ErrorBreakdown[string(cat)]++
	}

	n := a.s.Completed()
	a.s.AverageDuration += (r.Duration - a.s.AverageDuration) / time.Duration(n)
	a.s.AverageDurationMs = float64(a.s.AverageDuration) / float64(time.Millisecond)
	a.s.DailyCount[now.Format(DateLayout)]++
	a.s.LastUpdated = now
}

// Snapshot returns a deep copy of the current statistics.
func (a *Aggregator) Snapshot() Statistics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.s.clone()
}

// Restore replaces the statistics, typically with a persisted snapshot.
func (a *Aggregator) Restore(s Statistics) {
	if s.AverageDuration == 0 && s.AverageDurationMs > 0 {
		s.AverageDuration = time.Duration(s.AverageDurationMs * float64(time.Millisecond))
	}
	a.mu.Lock()
	a.s = s.clone()
	a.mu.Unlock()
}

// Reset zeroes every counter.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.s = Statistics{}.clone()
	a.mu.Unlock()
}
