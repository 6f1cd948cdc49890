package history

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docker-stats-hub/internal/model"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func batchAt(at time.Time, cpu float64) *model.StatsBatch {
	return &model.StatsBatch{
		SentAt: at.Format(time.RFC3339Nano),
		CPUPct: &cpu,
	}
}

func TestRecord_UsesSentAt(t *testing.T) {
	agg := NewAggregator(DefaultWindow, DefaultMaxSamples)

	got := agg.Record("a1", batchAt(base, 42), time.Now())

	require.Len(t, got, 1)
	assert.True(t, got[0].At.Equal(base))
	assert.Equal(t, 42.0, got[0].CPUPct)
}

func TestRecord_FallsBackToReceivedAt(t *testing.T) {
	agg := NewAggregator(DefaultWindow, DefaultMaxSamples)
	received := base.Add(time.Hour)

	b := batchAt(base, 10)
	b.SentAt = "yesterday-ish"
	got := agg.Record("a1", b, received)

	require.Len(t, got, 1)
	assert.True(t, got[0].At.Equal(received))
}

func TestRecord_SkipsMissingOrNonFiniteCPU(t *testing.T) {
	agg := NewAggregator(DefaultWindow, DefaultMaxSamples)
	agg.Record("a1", batchAt(base, 5), base)

	noMetrics := &model.StatsBatch{SentAt: base.Add(time.Second).Format(time.RFC3339)}
	got := agg.Record("a1", noMetrics, base)
	assert.Len(t, got, 1)

	got = agg.Record("a1", batchAt(base.Add(2*time.Second), math.NaN()), base)
	assert.Len(t, got, 1)

	got = agg.Record("a1", batchAt(base.Add(3*time.Second), math.Inf(1)), base)
	assert.Len(t, got, 1)
}

func TestRecord_SkippedSampleStillPrunes(t *testing.T) {
	agg := NewAggregator(DefaultWindow, DefaultMaxSamples)
	agg.Record("a1", batchAt(base, 5), base)

	later := &model.StatsBatch{SentAt: base.Add(31 * time.Minute).Format(time.RFC3339)}
	got := agg.Record("a1", later, base.Add(31*time.Minute))

	assert.Empty(t, got)
}

func TestRecord_ClampsPercentage(t *testing.T) {
	agg := NewAggregator(DefaultWindow, DefaultMaxSamples)

	got := agg.Record("a1", batchAt(base, 250), base)
	assert.Equal(t, 100.0, got[0].CPUPct)

	got = agg.Record("a1", batchAt(base.Add(time.Second), -3), base)
	assert.Equal(t, 0.0, got[1].CPUPct)
}

func TestRecord_LengthCapDropsOldest(t *testing.T) {
	agg := NewAggregator(DefaultWindow, DefaultMaxSamples)

	var got []model.CPUSample
	for i := 0; i < 361; i++ {
		got = agg.Record("a1", batchAt(base.Add(time.Duration(i)*time.Second), float64(i%100)), base)
	}

	require.Len(t, got, 360)
	assert.True(t, got[0].At.Equal(base.Add(time.Second)), "first sample sent should be the one dropped")
	assert.True(t, got[359].At.Equal(base.Add(360*time.Second)))
}

func TestRecord_AgeFilterRunsBeforeLengthCap(t *testing.T) {
	agg := NewAggregator(10*time.Second, 5)

	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		agg.Record("a1", batchAt(at, 1), at)
	}
	got := agg.Record("a1", batchAt(base.Add(14*time.Second), 2), base.Add(14*time.Second))

	// samples at 0..3s are older than 14s-10s; only 4s and 14s survive
	require.Len(t, got, 2)
	assert.True(t, got[0].At.Equal(base.Add(4*time.Second)))
	assert.True(t, got[1].At.Equal(base.Add(14*time.Second)))
}

func TestRecord_InvariantsHoldForLongRuns(t *testing.T) {
	agg := NewAggregator(DefaultWindow, DefaultMaxSamples)

	at := base
	for i := 0; i < 2000; i++ {
		at = at.Add(time.Duration(1+i%7) * time.Second)
		got := agg.Record("a1", batchAt(at, 50), at)

		require.LessOrEqual(t, len(got), DefaultMaxSamples)
		for _, s := range got {
			require.False(t, s.At.Before(at.Add(-DefaultWindow)), "sample at %s older than window at %s", s.At, at)
		}
	}
}

func TestRecord_ReturnsIndependentCopy(t *testing.T) {
	agg := NewAggregator(DefaultWindow, DefaultMaxSamples)

	first := agg.Record("a1", batchAt(base, 1), base)
	first[0].CPUPct = 99

	snap, ok := agg.Snapshot("a1")
	require.True(t, ok)
	assert.Equal(t, 1.0, snap[0].CPUPct)
}

func TestRecord_SeparatesAgents(t *testing.T) {
	agg := NewAggregator(DefaultWindow, DefaultMaxSamples)

	agg.Record("a1", batchAt(base, 1), base)
	agg.Record("a2", batchAt(base, 2), base)
	agg.Record("a2", batchAt(base.Add(time.Second), 3), base)

	a1, _ := agg.Snapshot("a1")
	a2, _ := agg.Snapshot("a2")
	assert.Len(t, a1, 1)
	assert.Len(t, a2, 2)

	_, ok := agg.Snapshot("missing")
	assert.False(t, ok)
}

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func requireAscending(t *testing.T, samples []model.CPUSample) {
	t.Helper()
	for i := 1; i < len(samples); i++ {
		require.False(t, samples[i].At.Before(samples[i-1].At), "sample %d at %s precedes %s", i, samples[i].At, samples[i-1].At)
	}
}

func TestRecord_RegressingSentAtKeepsOrder(t *testing.T) {
	agg := NewAggregator(DefaultWindow, DefaultMaxSamples)

	agg.Record("a1", batchAt(base, 1), base)
	agg.Record("a1", batchAt(base.Add(time.Minute), 2), base.Add(time.Minute))
	got := agg.Record("a1", batchAt(base.Add(-10*time.Minute), 3), base.Add(time.Minute))

	require.Len(t, got, 3)
	requireAscending(t, got)
	assert.Equal(t, []float64{3, 1, 2}, []float64{got[0].CPUPct, got[1].CPUPct, got[2].CPUPct})
}

func TestRecord_FutureSentAtFallsBackToReceivedAt(t *testing.T) {
	agg := NewAggregator(DefaultWindow, DefaultMaxSamples)

	agg.Record("a1", batchAt(base, 1), base)
	got := agg.Record("a1", batchAt(base.Add(24*time.Hour), 2), base)
	require.Len(t, got, 2, "a skewed clock must not wipe the window")
	assert.True(t, got[1].At.Equal(base))

	got = agg.Record("a1", batchAt(base.Add(time.Second), 3), base.Add(time.Second))
	require.Len(t, got, 3)
	requireAscending(t, got)
	assert.True(t, got[2].At.Equal(base.Add(time.Second)))
}

func TestRecord_SentAtJumpingBackUsesReceivedAt(t *testing.T) {
	agg := NewAggregator(DefaultWindow, DefaultMaxSamples)

	agg.Record("a1", batchAt(base, 1), base)
	got := agg.Record("a1", batchAt(base.Add(-2*time.Hour), 2), base.Add(time.Second))

	require.Len(t, got, 2)
	requireAscending(t, got)
	assert.True(t, got[1].At.Equal(base.Add(time.Second)))
}

func TestRecord_MixedOrderInvariants(t *testing.T) {
	agg := NewAggregator(DefaultWindow, DefaultMaxSamples)

	received := base
	for i := 0; i < 1500; i++ {
		received = received.Add(5 * time.Second)
		skew := time.Duration((i*7919)%1200-600) * time.Second
		got := agg.Record("a1", batchAt(received.Add(skew), 10), received)

		require.LessOrEqual(t, len(got), DefaultMaxSamples)
		requireAscending(t, got)
		newest := got[len(got)-1].At
		for _, s := range got {
			require.False(t, s.At.Before(newest.Add(-DefaultWindow)))
		}
	}
}

func TestSnapshot_AgesSilentAgent(t *testing.T) {
	agg := NewAggregator(DefaultWindow, DefaultMaxSamples)
	wall := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	agg.now = clockAt(wall)

	agg.Record("a1", batchAt(base, 1), base)
	agg.Record("a1", batchAt(base.Add(20*time.Minute), 2), base.Add(20*time.Minute))

	snap, ok := agg.Snapshot("a1")
	require.True(t, ok)
	assert.Len(t, snap, 2)

	agg.now = clockAt(wall.Add(15 * time.Minute))
	snap, _ = agg.Snapshot("a1")
	require.Len(t, snap, 1)
	assert.Equal(t, 2.0, snap[0].CPUPct)

	agg.now = clockAt(wall.Add(3 * time.Hour))
	snap, ok = agg.Snapshot("a1")
	assert.True(t, ok)
	assert.Empty(t, snap)
}
