package dispatch

import (
	"github.com/JAKOBGTAG/multi-email-sender/internal/stats"
)

// DailyQuota counts transport attempts per local calendar day. Every attempt
// counts, retries included.
type DailyQuota struct {
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
	LastReset string `json:"last_reset"`
}

// QuotaStatus is the externally visible quota view.
type QuotaStatus struct {
	DailyQuota
	Remaining int  `json:"remaining"`
	Exhausted bool `json:"exhausted"`
}

// rolloverLocked resets the counter once per date change. Caller holds s.mu.
func (s *Service) rolloverLocked() {
	today := s.clock.Now().Format(stats.DateLayout)
	if s.quota.LastReset != today {
		if s.quota.LastReset != "" {
			s.events.Record("info", "daily quota reset", map[string]any{
				"previous_date": s.quota.LastReset, "previous_count": s.quota.Count,
			})
		}
		s.quota.Count = 0
		s.quota.LastReset = today
	}
}

// checkQuota runs the lazy rollover and rejects the batch when the limit is
// reached. A limit of zero or less disables the quota.
func (s *Service) checkQuota() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()
	if s.quota.Limit > 0 && s.quota.Count >= s.quota.Limit {
		return ErrDailyQuotaExceeded
	}
	return nil
}

func (s *Service) consumeQuota() {
	s.mu.Lock()
	s.quota.Count++
	s.mu.Unlock()
}

// QuotaStatus returns the current quota counters.
func (s *Service) QuotaStatus() QuotaStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := QuotaStatus{DailyQuota: s.quota}
	if q.Limit > 0 {
		q.Remaining = q.Limit - q.Count
		if q.Remaining < 0 {
			q.Remaining = 0
		}
		q.Exhausted = q.Count >= q.Limit
	}
	return q
}
