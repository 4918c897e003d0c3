package embedder

import (
	"context"
	"sync/atomic"
	"time"
)

// Metrics accumulates provider call statistics.
type Metrics struct {
	Calls       atomic.Int64
	Failures    atomic.Int64
	Items       atomic.Int64
	DurationsNs atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Calls         int64
	Failures      int64
	Items         int64
	TotalDuration time.Duration
}

// Snapshot reads the counters atomically enough for reporting.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Calls:         m.Calls.Load(),
		Failures:      m.Failures.Load(),
		Items:         m.Items.Load(),
		TotalDuration: time.Duration(m.DurationsNs.Load()),
	}
}

// instrumented wraps any Embedder, recording duration, outcome, and batch
// size before delegating. The wrapper is itself an Embedder, so it
// composes with handles and other decorators.
type instrumented struct {
	inner   Embedder
	metrics *Metrics
}

// WithMetrics wraps a provider with call instrumentation.
func WithMetrics(e Embedder, m *Metrics) Embedder {
	return &instrumented{inner: e, metrics: m}
}

func (i *instrumented) Embed(ctx context.Context, text string) (*Embedding, error) {
	start := time.Now()
	emb, err := i.inner.Embed(ctx, text)
	i.record(start, 1, err)
	return emb, err
}

func (i *instrumented) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	start := time.Now()
	embs, err := i.inner.EmbedBatch(ctx, texts)
	i.record(start, len(texts), err)
	return embs, err
}

func (i *instrumented) record(start time.Time, items int, err error) {
	i.metrics.Calls.Add(1)
	i.metrics.Items.Add(int64(items))
	i.metrics.DurationsNs.Add(int64(time.Since(start)))
	if err != nil {
		i.metrics.Failures.Add(1)
	}
}

func (i *instrumented) Dimensions() int { return i.inner.Dimensions() }
func (i *instrumented) Name() string    { return i.inner.Name() }
func (i *instrumented) Close() error    { return i.inner.Close() }
