package replay

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Check outcome label values.
const (
	CheckStatusNew    = "new"
	CheckStatusReplay = "replay"
	CheckStatusError  = "error"
)

// InstrumentedGuard decorates a Guard with check counts and latency
// observations. The wrapped guard does the real work; the reaper keeps
// operating on the underlying guard directly.
type InstrumentedGuard struct {
	guard    Guard
	backend  string
	checks   *prometheus.CounterVec   // labels: backend, status
	duration *prometheus.HistogramVec // label: backend
}

// NewInstrumentedGuard wraps guard, labelling every check with the backend
// name ("memory", "postgres", "sqlite", "redis").
func NewInstrumentedGuard(guard Guard, backend string, checks *prometheus.CounterVec, duration *prometheus.HistogramVec) *InstrumentedGuard {
	return &InstrumentedGuard{
		guard:    guard,
		backend:  backend,
		checks:   checks,
		duration: duration,
	}
}

// CheckAndRecord implements Guard.
func (g *InstrumentedGuard) CheckAndRecord(ctx context.Context, messageID string) (bool, error) {
	start := time.Now()
	alreadyUsed, err := g.guard.CheckAndRecord(ctx, messageID)
	g.duration.WithLabelValues(g.backend).Observe(time.Since(start).Seconds())

	status := CheckStatusNew
	switch {
	case err != nil:
		status = CheckStatusError
	case alreadyUsed:
		status = CheckStatusReplay
	}
	g.checks.WithLabelValues(g.backend, status).Inc()

	return alreadyUsed, err
}
