// Package metrics declares the Prometheus collectors updated by the
// sync coordinator, served from the daemon's /metrics endpoint when
// one is configured.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "filesync"

var (
	// RunsTotal counts coordinator runs per profile, labeled by
	// outcome: success, conflict, auth_error, error, dry_run.
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Total number of sync coordinator runs, by profile and outcome.",
	}, []string{"profile", "outcome"})

	// OperationsApplied counts executor operations applied per profile.
	OperationsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_applied_total",
		Help:      "Total number of copy/delete/mkdir/merge operations applied, by profile.",
	}, []string{"profile"})

	// ConflictsTotal counts conflicts recorded per profile, by reason.
	ConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conflicts_total",
		Help:      "Total number of conflicts recorded, by profile and reason.",
	}, []string{"profile", "reason"})

	// RunDurationSeconds observes wall-clock time of a coordinator run.
	RunDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Coordinator run duration in seconds, by profile.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"profile"})
)

// Registry bundles the collectors above for registration against a
// prometheus.Registerer (the default one, or a test-local one).
func Registry() []prometheus.Collector {
	return []prometheus.Collector{RunsTotal, OperationsApplied, ConflictsTotal, RunDurationSeconds}
}

// MustRegister registers every collector against reg, panicking on a
// duplicate registration - call once at process startup.
func MustRegister(reg prometheus.Registerer) {
	for _, c := range Registry() {
		reg.MustRegister(c)
	}
}

// RunTimer times one coordinator run and records it against
// RunDurationSeconds on ObserveDuration.
type RunTimer struct {
	profile string
	start   time.Time
}

// StartRun begins timing a run for profile.
func StartRun(profile string) *RunTimer {
	return &RunTimer{profile: profile, start: time.Now()}
}

// ObserveDuration records the elapsed time since StartRun.
func (t *RunTimer) ObserveDuration() {
	RunDurationSeconds.WithLabelValues(t.profile).Observe(time.Since(t.start).Seconds())
}
