package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/clock"
)

func newFakeAdaptive(perMinute int) (*Adaptive, *clock.Fake) {
	fc := clock.NewFake(epoch)
	return NewAdaptive(Config{Enabled: true, MaxPerMinute: perMinute, MaxPerHour: 1000}, WithClock(fc)), fc
}

func TestAdaptive_ConvergesDownOnFailures(t *testing.T) {
	a, _ := newFakeAdaptive(10)

	prev := 10
	for i := 0; i < 20; i++ {
		a.RecordResult(false)
		cur := a.AdaptiveStatistics().CurrentMaxPerMinute
		if cur < prev {
			// Each shrink is the floor of 90% of the previous cap.
			assert.Equal(t, max(1, int(float64(prev)*0.9)), cur)
		}
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}

	st := a.AdaptiveStatistics()
	assert.Less(t, st.SuccessRate, 0.8)
	assert.Equal(t, 1, st.CurrentMaxPerMinute)
	assert.Equal(t, 10, st.OriginalMaxPerMinute)
	assert.True(t, st.AdaptationActive)
	assert.Equal(t, int64(20), st.Samples)
}

func TestAdaptive_NeutralBand(t *testing.T) {
	a, _ := newFakeAdaptive(10)

	// 1.0 -> 0.9: inside [0.8, 0.95].
	a.RecordResult(false)
	st := a.AdaptiveStatistics()
	assert.InDelta(t, 0.9, st.SuccessRate, 1e-9)
	assert.Equal(t, 10, st.CurrentMaxPerMinute)
	assert.False(t, st.AdaptationActive)
}

func TestAdaptive_GrowsUpToTwiceOriginal(t *testing.T) {
	a, _ := newFakeAdaptive(10)

	for i := 0; i < 50; i++ {
		a.RecordResult(true)
	}
	st := a.AdaptiveStatistics()
	assert.Equal(t, 20, st.CurrentMaxPerMinute)
	assert.True(t, st.AdaptationActive)
}

func TestAdaptive_SmallCapCanGrow(t *testing.T) {
	a, _ := newFakeAdaptive(1)
	a.RecordResult(true)
	assert.Equal(t, 2, a.AdaptiveStatistics().CurrentMaxPerMinute)
	a.RecordResult(true)
	assert.Equal(t, 2, a.AdaptiveStatistics().CurrentMaxPerMinute)
}

func TestAdaptive_ShrunkCapIsEnforced(t *testing.T) {
	ctx := context.Background()
	a, _ := newFakeAdaptive(10)
	for i := 0; i < 20; i++ {
		a.RecordResult(false)
	}

	wait, err := a.WaitIfNeeded(ctx)
	require.NoError(t, err)
	assert.Zero(t, wait)
	wait, err = a.WaitIfNeeded(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, wait)

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.MaxPerMinute)
	require.NotNil(t, st.Adaptive)
	assert.Equal(t, StrategyAdaptive, st.Strategy)
}
