package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RestoreMetrics exposes the warm start and the root hash backlog it leaves
// behind. A nil *RestoreMetrics discards every observation.
type RestoreMetrics struct {
	duration        prometheus.Gauge
	restoredHeight  prometheus.Gauge
	jobsRecovered   prometheus.Gauge
	pendingOutcomes *prometheus.CounterVec
	jobsProcessed   prometheus.Counter
	rootHashLag     prometheus.Gauge
}

var (
	restoreOnce     sync.Once
	restoreRegistry *RestoreMetrics
)

// Restore returns the lazily-initialised warm start metrics.
func Restore() *RestoreMetrics {
	restoreOnce.Do(func() {
		restoreRegistry = &RestoreMetrics{
			duration: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rollup",
				Name:      "restore_duration_seconds",
				Help:      "Wall time spent restoring the state keeper init params at startup.",
			}),
			restoredHeight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rollup",
				Name:      "restored_height",
				Help:      "Last fully applied block number recovered from storage.",
			}),
			jobsRecovered: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rollup",
				Name:      "root_hash_jobs_recovered",
				Help:      "Number of sealed blocks awaiting root hash computation found at startup.",
			}),
			pendingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rollup",
				Name:      "pending_block_outcomes_total",
				Help:      "Outcomes of validating the persisted pending block.",
			}, []string{"outcome"}),
			jobsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rollup",
				Name:      "root_hash_jobs_processed_total",
				Help:      "Root hash jobs completed by the root hash calculator.",
			}),
			rootHashLag: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rollup",
				Name:      "root_hash_lag_blocks",
				Help:      "Sealed blocks still waiting for their root hash.",
			}),
		}
		prometheus.MustRegister(
			restoreRegistry.duration,
			restoreRegistry.restoredHeight,
			restoreRegistry.jobsRecovered,
			restoreRegistry.pendingOutcomes,
			restoreRegistry.jobsProcessed,
			restoreRegistry.rootHashLag,
		)
	})
	return restoreRegistry
}

// ObserveRestore records a completed warm start: its duration, the restored
// height and the number of recovered root hash jobs.
func (m *RestoreMetrics) ObserveRestore(elapsed time.Duration, height uint64, jobs int) {
	if m == nil {
		return
	}
	m.duration.Set(elapsed.Seconds())
	m.restoredHeight.Set(float64(height))
	m.jobsRecovered.Set(float64(jobs))
	m.rootHashLag.Set(float64(jobs))
}

// ObservePendingOutcome counts one pending block validation result.
func (m *RestoreMetrics) ObservePendingOutcome(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.pendingOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveRootHashJob records a completed job and the sealed blocks still
// waiting for their root hash.
func (m *RestoreMetrics) ObserveRootHashJob(remaining int) {
	if m == nil {
		return
	}
	m.jobsProcessed.Inc()
	m.rootHashLag.Set(float64(remaining))
}
