package correlator

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

var (
	callsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shvattr_calls_issued_total",
			Help: "Total number of remote calls issued.",
		},
	)

	completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shvattr_call_completions_total",
			Help: "Total number of remote calls completed, by outcome.",
		},
		[]string{"outcome"},
	)

	staleCompletions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shvattr_stale_completions_total",
			Help: "Responses discarded because their request was superseded or already resolved.",
		},
	)

	outstanding = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shvattr_calls_outstanding",
			Help: "Remote calls waiting for a response, across all correlators.",
		},
	)
)

func init() {
	prometheus.MustRegister(callsIssued, completions, staleCompletions, outstanding)
}
