package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sweep cycle results.
const (
	CycleRan        = "ran"
	CycleLockHeld   = "lock_held"
	CycleLockFailed = "lock_failed"
)

// SweeperMetrics tracks the timeout sweeper: how often a cycle ran or lost the
// leader lock, and how each job inside it fared.
type SweeperMetrics struct {
	cycles   *prometheus.CounterVec
	jobRuns  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewSweeperMetrics(reg prometheus.Registerer) *SweeperMetrics {
	if reg == nil {
		return &SweeperMetrics{}
	}
	m := &SweeperMetrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_cycles_total",
			Help: "Sweep cycles by result: ran, lock_held or lock_failed.",
		}, []string{"result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_job_runs_total",
			Help: "Sweeper job executions by job and result.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sweeper_job_duration_seconds",
			Help:    "Wall time of one sweeper job execution.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60},
		}, []string{"job"}),
	}
	reg.MustRegister(m.cycles, m.jobRuns, m.duration)
	return m
}

func (m *SweeperMetrics) IncCycle(result string) {
	if m == nil || m.cycles == nil {
		return
	}
	m.cycles.WithLabelValues(normalizeLabel(result)).Inc()
}

// ObserveJob records one job execution; a nil err counts as success.
func (m *SweeperMetrics) ObserveJob(job string, took time.Duration, err error) {
	if m == nil || m.jobRuns == nil {
		return
	}
	job = normalizeLabel(job)
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.duration.WithLabelValues(job).Observe(took.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
