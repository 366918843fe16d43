package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	installer = "installer"

	// Job metrics
	jobsSubmittedTotal = "jobs_submitted_total"
	jobsFinishedTotal  = "jobs_finished_total"
	jobsRunning        = "jobs_running"

	// Step metrics
	stepDurationSeconds = "step_duration_seconds"

	// Poll metrics
	pollsTotal = "polls_total"

	// Labels
	resultLabel = "result"
	statusLabel = "status"
	stepLabel   = "step"
)

/**
* Metrics definition
**/
var jobsSubmittedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: installer,
		Name:      jobsSubmittedTotal,
		Help:      "number of installation submissions partitioned by outcome",
	},
	[]string{resultLabel},
)

var jobsFinishedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: installer,
		Name:      jobsFinishedTotal,
		Help:      "number of installation jobs that reached a terminal status",
	},
	[]string{statusLabel},
)

var jobsRunningMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: installer,
		Name:      jobsRunning,
		Help:      "number of installation jobs currently held by a worker",
	},
)

var stepDurationSecondsMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: installer,
		Name:      stepDurationSeconds,
		Help:      "duration of provisioning steps",
		Buckets:   []float64{0.5, 1, 5, 15, 60, 180, 600},
	},
	[]string{stepLabel, resultLabel},
)

var pollsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: installer,
		Name:      pollsTotal,
		Help:      "number of progress polls partitioned by the returned status",
	},
	[]string{statusLabel},
)

func IncreaseJobsSubmittedMetric(result string) {
	jobsSubmittedTotalMetric.With(prometheus.Labels{resultLabel: result}).Inc()
}

func IncreaseJobsFinishedMetric(status string) {
	jobsFinishedTotalMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func IncreaseJobsRunningMetric() {
	jobsRunningMetric.Inc()
}

func DecreaseJobsRunningMetric() {
	jobsRunningMetric.Dec()
}

func ObserveStepDurationMetric(step string, result string, d time.Duration) {
	stepDurationSecondsMetric.With(prometheus.Labels{stepLabel: step, resultLabel: result}).Observe(d.Seconds())
}

func IncreasePollsMetric(status string) {
	pollsTotalMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsSubmittedTotalMetric)
	prometheus.MustRegister(jobsFinishedTotalMetric)
	prometheus.MustRegister(jobsRunningMetric)
	prometheus.MustRegister(stepDurationSecondsMetric)
	prometheus.MustRegister(pollsTotalMetric)
}
