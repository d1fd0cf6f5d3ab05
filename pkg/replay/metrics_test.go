package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCheckMetrics() (*prometheus.CounterVec, *prometheus.HistogramVec) {
	checks := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "replay_checks_total"},
		[]string{"backend", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "replay_check_duration_seconds"},
		[]string{"backend"},
	)
	return checks, duration
}

func TestInstrumentedGuardCountsOutcomes(t *testing.T) {
	checks, duration := testCheckMetrics()
	guard := NewInstrumentedGuard(NewMemoryGuard(nil), "memory", checks, duration)

	ctx := context.Background()

	alreadyUsed, err := guard.CheckAndRecord(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, alreadyUsed)

	alreadyUsed, err = guard.CheckAndRecord(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, alreadyUsed)

	assert.Equal(t, 1.0, testutil.ToFloat64(checks.WithLabelValues("memory", CheckStatusNew)))
	assert.Equal(t, 1.0, testutil.ToFloat64(checks.WithLabelValues("memory", CheckStatusReplay)))
	assert.Equal(t, 0.0, testutil.ToFloat64(checks.WithLabelValues("memory", CheckStatusError)))
}

type failingGuard struct{}

func (failingGuard) CheckAndRecord(context.Context, string) (bool, error) {
	return false, errors.New("backend unavailable")
}

func TestInstrumentedGuardCountsErrors(t *testing.T) {
	checks, duration := testCheckMetrics()
	guard := NewInstrumentedGuard(failingGuard{}, "postgres", checks, duration)

	_, err := guard.CheckAndRecord(context.Background(), "msg-1")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(checks.WithLabelValues("postgres", CheckStatusError)))
}

func TestReaperReportsSweptEntries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	guard := NewMemoryGuard(clock)

	ctx := context.Background()
	for _, id := range []string{"msg-1", "msg-2", "msg-3"} {
		_, err := guard.CheckAndRecord(ctx, id)
		require.NoError(t, err)
	}
	clock.Advance(TTL + time.Minute)

	swept := prometheus.NewCounter(prometheus.CounterOpts{Name: "replay_entries_swept_total"})
	reaper := NewReaper(guard, nil, swept)

	reaper.sweep()

	assert.Equal(t, 3.0, testutil.ToFloat64(swept))
	assert.Equal(t, 0, guard.Len())
}
