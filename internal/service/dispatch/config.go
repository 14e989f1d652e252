package dispatch

import (
	"time"

	"github.com/JAKOBGTAG/multi-email-sender/internal/ratelimit"
	"github.com/JAKOBGTAG/multi-email-sender/internal/retry"
)

// Config is the dispatch service configuration.
type Config struct {
	DailyLimit         int
	DelayBetweenEmails time.Duration
	// Timeout bounds each transport attempt. Zero disables it.
	Timeout   time.Duration
	Retry     retry.Config
	RateLimit ratelimit.Config
	// SpendBurst makes the service claim the burst allowance whenever a send
	// only fits under the burst cap.
	SpendBurst bool
	// LockTimeout bounds the wait for the distributed batch lock.
	LockTimeout time.Duration
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		DailyLimit:         100,
		DelayBetweenEmails: 2000 * time.Millisecond,
		Timeout:            30000 * time.Millisecond,
		Retry:              retry.Config{MaxRetries: 3, BaseDelay: 1000 * time.Millisecond},
		RateLimit:          ratelimit.DefaultConfig(),
		LockTimeout:        30 * time.Second,
	}
}
