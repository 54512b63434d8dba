// Package stats keeps per-backend attempt counters for the orchestrator.
package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zen-systems/querygate/pkg/backend"
)

// MethodStats holds the raw counters for one backend. Derived values are
// computed on read.
type MethodStats struct {
	Attempts     int64         `json:"attempts"`
	Successes    int64         `json:"successes"`
	Failures     int64         `json:"failures"`
	Empties      int64         `json:"empties"`
	Errors       int64         `json:"errors"`
	Timeouts     int64         `json:"timeouts"`
	TotalLatency time.Duration `json:"total_latency"`
}

// SuccessRate is successes over attempts, zero when nothing was attempted.
func (m MethodStats) SuccessRate() float64 {
	if m.Attempts == 0 {
		return 0
	}
	return float64(m.Successes) / float64(m.Attempts)
}

// AverageLatency is the mean attempt latency, zero when nothing was attempted.
func (m MethodStats) AverageLatency() time.Duration {
	if m.Attempts == 0 {
		return 0
	}
	return m.TotalLatency / time.Duration(m.Attempts)
}

// Summary is the read-side view served by the stats endpoint.
type Summary struct {
	Attempts         int64   `json:"attempts"`
	Successes        int64   `json:"successes"`
	Failures         int64   `json:"failures"`
	Timeouts         int64   `json:"timeouts"`
	SuccessRate      float64 `json:"success_rate"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// Snapshot is a consistent copy of every backend's counters.
type Snapshot map[backend.ID]MethodStats

// IDs returns the snapshot's backends in sorted order.
func (s Snapshot) IDs() []backend.ID {
	ids := make([]backend.ID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TotalAttempts sums attempts across backends.
func (s Snapshot) TotalAttempts() int64 {
	var n int64
	for _, m := range s {
		n += m.Attempts
	}
	return n
}

// Recorder accumulates attempt outcomes. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	methods map[backend.ID]*MethodStats

	attempts metric.Int64Counter
	latency  metric.Float64Histogram
}

// Option configures a Recorder.
type Option func(*Recorder) error

// WithMeter mirrors every record into OpenTelemetry instruments.
func WithMeter(meter metric.Meter) Option {
	return func(r *Recorder) error {
		attempts, err := meter.Int64Counter("querygate.backend.attempts",
			metric.WithDescription("Backend attempts by outcome"))
		if err != nil {
			return err
		}
		latency, err := meter.Float64Histogram("querygate.backend.latency",
			metric.WithDescription("Backend attempt latency"),
			metric.WithUnit("ms"))
		if err != nil {
			return err
		}
		r.attempts = attempts
		r.latency = latency
		return nil
	}
}

// NewRecorder creates a recorder with zeroed counters for every known backend.
func NewRecorder(opts ...Option) (*Recorder, error) {
	r := &Recorder{methods: make(map[backend.ID]*MethodStats, len(backend.All))}
	for _, id := range backend.All {
		r.methods[id] = &MethodStats{}
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Record adds one attempt.
func (r *Recorder) Record(id backend.ID, outcome backend.Outcome, latency time.Duration) {
	if latency < 0 {
		latency = 0
	}

	r.mu.Lock()
	m, ok := r.methods[id]
	if !ok {
		m = &MethodStats{}
		r.methods[id] = m
	}
	m.Attempts++
	m.TotalLatency += latency
	switch outcome {
	case backend.OutcomeSuccess:
		m.Successes++
	case backend.OutcomeEmpty:
		m.Failures++
		m.Empties++
	case backend.OutcomeTimeout:
		m.Failures++
		m.Errors++
		m.Timeouts++
	default:
		m.Failures++
		m.Errors++
	}
	r.mu.Unlock()

	if r.attempts != nil {
		attrs := metric.WithAttributes(
			attribute.String("backend", string(id)),
			attribute.String("outcome", string(outcome)),
		)
		ctx := context.Background()
		r.attempts.Add(ctx, 1, attrs)
		r.latency.Record(ctx, float64(latency)/float64(time.Millisecond), attrs)
	}
}

// Snapshot returns a copy of all counters taken under one lock.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(Snapshot, len(r.methods))
	for id, m := range r.methods {
		out[id] = *m
	}
	return out
}

// Summary derives the read-side view from a snapshot.
func (r *Recorder) Summary() map[backend.ID]Summary {
	snap := r.Snapshot()
	out := make(map[backend.ID]Summary, len(snap))
	for id, m := range snap {
		out[id] = Summary{
			Attempts:         m.Attempts,
			Successes:        m.Successes,
			Failures:         m.Failures,
			Timeouts:         m.Timeouts,
			SuccessRate:      m.SuccessRate(),
			AverageLatencyMs: float64(m.AverageLatency()) / float64(time.Millisecond),
		}
	}
	return out
}

// Reset zeroes every counter.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.methods {
		r.methods[id] = &MethodStats{}
	}
}
