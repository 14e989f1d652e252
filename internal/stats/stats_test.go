package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/clock"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestAggregator_Update(t *testing.T) {
	fc := clock.NewFake(epoch)
	a := NewAggregator(fc)

	a.Update(domain.SendResult{Success: true, Attempts: 1, Duration: 100 * time.Millisecond})
	a.Update(domain.SendResult{Success: false, Attempts: 3, Duration: 400 * time.Millisecond, Category: domain.CategoryNetwork})
	fc.Advance(24 * time.Hour)
	a.Update(domain.SendResult{Success: false, Attempts: 1, Duration: 100 * time.Millisecond})

	s := a.Snapshot()
	assert.Equal(t, int64(1), s.TotalSent)
	assert.Equal(t, int64(2), s.TotalFailed)
	assert.Equal(t, int64(5), s.TotalAttempts)
	assert.Equal(t, 200*time.Millisecond, s.AverageDuration)
	assert.InDelta(t, 200.0, s.AverageDurationMs, 1e-9)
	assert.Equal(t, map[string]int64{"2026-03-02": 2, "2026-03-03": 1}, s.DailyCount)
	assert.Equal(t, map[string]int64{"network": 1, "other": 1}, s.ErrorBreakdown)
	assert.InDelta(t, 1.0/3.0, s.SuccessRate(), 1e-9)
	assert.Equal(t, epoch.Add(24*time.Hour), s.LastUpdated)
}

func TestAggregator_SnapshotIsACopy(t *testing.T) {
	a := NewAggregator(clock.NewFake(epoch))
	a.Update(domain.SendResult{Success: true, Attempts: 1})

	s := a.Snapshot()
	s.DailyCount["2026-03-02"] = 99

	assert.Equal(t, int64(1), a.Snapshot().DailyCount["2026-03-02"])
}

func TestAggregator_RestoreAndReset(t *testing.T) {
	a := NewAggregator(clock.NewFake(epoch))
	a.Restore(Statistics{TotalSent: 4, AverageDurationMs: 250, DailyCount: map[string]int64{"2026-03-01": 4}})

	a.Update(domain.SendResult{Success: true, Attempts: 1, Duration: 750 * time.Millisecond})
	s := a.Snapshot()
	assert.Equal(t, int64(5), s.TotalSent)
	assert.Equal(t, 350*time.Millisecond, s.AverageDuration)
	assert.NotNil(t, s.ErrorBreakdown)

	a.Reset()
	s = a.Snapshot()
	assert.Zero(t, s.Completed())
	assert.Empty(t, s.DailyCount)
	assert.Zero(t, s.SuccessRate())
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(filepath.Join(t.TempDir(), "snap", "stats.json"))

	_, err := fs.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	in := Statistics{
		TotalSent: 3, TotalFailed: 1, TotalAttempts: 6, AverageDurationMs: 12.5,
		DailyCount:     map[string]int64{"2026-03-02": 4},
		ErrorBreakdown: map[string]int64{"rate_limit": 1},
	}
	require.NoError(t, fs.Save(ctx, in))

	out, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, in.TotalSent, out.TotalSent)
	assert.Equal(t, in.DailyCount, out.DailyCount)
	assert.Equal(t, in.ErrorBreakdown, out.ErrorBreakdown)
	assert.Equal(t, 12.5, out.AverageDurationMs)
}
