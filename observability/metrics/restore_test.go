package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRestoreMetrics(t *testing.T) {
	m := Restore()
	require.Same(t, m, Restore())

	m.ObserveRestore(1500*time.Millisecond, 42, 3)
	require.InDelta(t, 1.5, testutil.ToFloat64(m.duration), 1e-9)
	require.Equal(t, float64(42), testutil.ToFloat64(m.restoredHeight))
	require.Equal(t, float64(3), testutil.ToFloat64(m.jobsRecovered))
	require.Equal(t, float64(3), testutil.ToFloat64(m.rootHashLag))

	before := testutil.ToFloat64(m.pendingOutcomes.WithLabelValues("accepted"))
	m.ObservePendingOutcome("accepted")
	require.Equal(t, before+1, testutil.ToFloat64(m.pendingOutcomes.WithLabelValues("accepted")))

	processed := testutil.ToFloat64(m.jobsProcessed)
	m.ObserveRootHashJob(2)
	require.Equal(t, processed+1, testutil.ToFloat64(m.jobsProcessed))
	require.Equal(t, float64(2), testutil.ToFloat64(m.rootHashLag))
}

func TestNilRestoreMetricsIsNoop(t *testing.T) {
	var m *RestoreMetrics
	require.NotPanics(t, func() {
		m.ObserveRestore(time.Second, 1, 1)
		m.ObservePendingOutcome("discarded")
		m.ObserveRootHashJob(0)
	})
}
