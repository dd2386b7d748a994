package telemetry

import "github.com/prometheus/client_golang/prometheus"

var JobsDispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lnvpsd",
		Subsystem: "dispatcher",
		Name:      "jobs_dispatched_total",
		Help:      "Total number of jobs handed to a pipeline, by job type and outcome.",
	},
	[]string{"job_type", "outcome"},
)

var JobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "lnvpsd",
		Subsystem: "dispatcher",
		Name:      "job_duration_seconds",
		Help:      "Pipeline run duration in seconds, by job type.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"job_type"},
)

var PipelineCompensationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lnvpsd",
		Subsystem: "provisioner",
		Name:      "compensations_total",
		Help:      "Total number of compensating actions run after a pipeline step failed.",
	},
	[]string{"job_type", "step"},
)

var PaymentsSettledTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lnvpsd",
		Subsystem: "payments",
		Name:      "settled_total",
		Help:      "Total number of invoices settled, by payment method and source.",
	},
	[]string{"method", "source"}, // source: webhook or poll
)

var ExchangeRateRefreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lnvpsd",
		Subsystem: "exchange",
		Name:      "rate_refresh_total",
		Help:      "Total number of exchange rate refresh attempts, by source and outcome.",
	},
	[]string{"source", "outcome"},
)

var HostSelectionFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lnvpsd",
		Subsystem: "capacity",
		Name:      "selection_failures_total",
		Help:      "Total number of host/disk selections that found no candidate.",
	},
	[]string{"kind"}, // "host" or "disk"
)

// All returns every lnvpsd-specific metric for registration against the
// process's Prometheus registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		JobsDispatchedTotal,
		JobDuration,
		PipelineCompensationsTotal,
		PaymentsSettledTotal,
		ExchangeRateRefreshTotal,
		HostSelectionFailuresTotal,
	}
}
