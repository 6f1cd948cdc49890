// Package history keeps a short rolling CPU time series per agent.
package history

import (
	"math"
	"sort"
	"sync"
	"time"

	"docker-stats-hub/internal/model"
)

const (
	DefaultWindow     = 30 * time.Minute
	DefaultMaxSamples = 360
)

type series struct {
	samples []model.CPUSample
	// ref is the newest batch time seen; the age cut is taken from it.
	ref time.Time
	// touched is the wall clock of the last Record, used to age the window on read.
	touched time.Time
}

// Aggregator owns one bounded CPU window per agent id. Record is expected to be
// called from a single goroutine; the lock only serialises it against diagnostic reads.
type Aggregator struct {
	mu         sync.RWMutex
	window     time.Duration
	maxSamples int
	series     map[string]*series
	now        func() time.Time
}

func NewAggregator(window time.Duration, maxSamples int) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Aggregator{
		window:     window,
		maxSamples: maxSamples,
		series:     make(map[string]*series),
		now:        time.Now,
	}
}

// Record inserts the batch's aggregate CPU sample into the agent's window in time
// order, prunes it and returns a copy. The sample time is sent_at when it is a valid
// instant, otherwise receivedAt. A sent_at more than one window ahead of receivedAt
// is not trusted. The age cut is relative to the newest batch time seen so far, so a
// regressing timestamp cannot widen the window. A batch without a usable cpu_pct adds
// nothing but still prunes.
func (a *Aggregator) Record(agentID string, batch *model.StatsBatch, receivedAt time.Time) []model.CPUSample {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.series[agentID]
	if s == nil {
		s = &series{}
		a.series[agentID] = s
	}

	at := a.sampleTime(batch, receivedAt)
	if !s.ref.IsZero() && at.Before(s.ref.Add(-a.window)) && !receivedAt.Before(s.ref.Add(-a.window)) {
		// sent_at jumped back past the window; the receive time still fits.
		at = receivedAt.UTC()
	}
	if at.After(s.ref) {
		s.ref = at
	}
	s.touched = a.now()

	if pct, ok := cpuPct(batch); ok {
		s.samples = insert(s.samples, model.CPUSample{At: at, CPUPct: pct})
	}
	s.samples = a.prune(s.samples, s.ref.Add(-a.window))

	return clone(s.samples)
}

// Snapshot returns a copy of the agent's current window, aged by the wall time
// elapsed since the last Record. An agent that went silent drains to empty.
func (a *Aggregator) Snapshot(agentID string) ([]model.CPUSample, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.series[agentID]
	if !ok {
		return nil, false
	}

	idle := a.now().Sub(s.touched)
	if idle < 0 {
		idle = 0
	}
	cutoff := s.ref.Add(idle - a.window)

	out := make([]model.CPUSample, 0, len(s.samples))
	for _, sample := range s.samples {
		if !sample.At.Before(cutoff) {
			out = append(out, sample)
		}
	}
	return out, true
}

// prune drops samples older than cutoff, then trims from the head down to maxSamples.
// The order matters: the age filter runs first.
func (a *Aggregator) prune(samples []model.CPUSample, cutoff time.Time) []model.CPUSample {
	kept := samples[:0]
	for _, s := range samples {
		if !s.At.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	if extra := len(kept) - a.maxSamples; extra > 0 {
		n := copy(kept, kept[extra:])
		kept = kept[:n]
	}
	return kept
}

func (a *Aggregator) sampleTime(batch *model.StatsBatch, receivedAt time.Time) time.Time {
	if batch != nil && batch.SentAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, batch.SentAt); err == nil && !t.After(receivedAt.Add(a.window)) {
			return t.UTC()
		}
	}
	return receivedAt.UTC()
}

// insert keeps samples ascending by time; equal times keep arrival order.
func insert(samples []model.CPUSample, s model.CPUSample) []model.CPUSample {
	i := sort.Search(len(samples), func(i int) bool { return samples[i].At.After(s.At) })
	samples = append(samples, model.CPUSample{})
	copy(samples[i+1:], samples[i:])
	samples[i] = s
	return samples
}

func cpuPct(batch *model.StatsBatch) (float64, bool) {
	if batch == nil || batch.CPUPct == nil {
		return 0, false
	}
	v := *batch.CPUPct
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return math.Min(math.Max(v, 0), 100), true
}

func clone(samples []model.CPUSample) []model.CPUSample {
	out := make([]model.CPUSample, len(samples))
	copy(out, samples)
	return out
}
