package retry

import "github.com/JAKOBGTAG/multi-email-sender/internal/domain"

// Stats summarizes attempt counts over a result set.
type Stats struct {
	Total             int         `json:"total"`
	TotalAttempts     int         `json:"total_attempts"`
	FirstTrySuccesses int         `json:"first_try_successes"`
	SuccessAfterRetry int         `json:"success_after_retry"`
	ExhaustedFailures int         `json:"exhausted_failures"`
	AverageAttempts   float64     `json:"average_attempts"`
	Histogram         map[int]int `json:"histogram"`
}

// ComputeStats builds retry statistics for a batch. Every unsuccessful
// result counts as an exhausted failure, and the histogram values always sum
// to len(results).
func ComputeStats(results []domain.SendResult) Stats {
	s := Stats{Total: len(results), Histogram: make(map[int]int)}
	for _, r := range results {
		s.TotalAttempts += r.Attempts
		s.Histogram[r.Attempts]++
		switch {
		case r.Success && r.Attempts <= 1:
			s.FirstTrySuccesses++
		case r.Success:
			s.SuccessAfterRetry++
		default:
			s.ExhaustedFailures++
		}
	}
	if len(results) > 0 {
		s.AverageAttempts = float64(s.TotalAttempts) / float64(len(results))
	}
	return s
}
