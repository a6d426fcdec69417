package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Record initialization outcome: created or existed
	LeaseRecordInitialized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_claim_record_initialized_total",
		Help: "Total number of lease record initializations by outcome",
	}, []string{"lease", "result"})

	// Claim lifecycle metrics
	LeaseAcquired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_claim_acquired_total",
		Help: "Total number of times a claimant acquired the lease",
	}, []string{"lease", "claimant"})
	LeaseRenewed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_claim_renewed_total",
		Help: "Total number of successful lease renewals",
	}, []string{"lease", "claimant"})
	LeaseLost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_claim_lost_total",
		Help: "Total number of times a claimant lost the lease",
	}, []string{"lease", "claimant"})
	LeaseIsHolder = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lease_claim_is_holder",
		Help: "1 while this claimant holds the lease, 0 otherwise",
	}, []string{"lease", "claimant"})

	// Store interaction metrics. Phase is the claim phase the call was made in.
	LeaseConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_claim_conflicts_total",
		Help: "Total number of optimistic-concurrency conflicts observed",
	}, []string{"lease", "claimant", "phase"})
	LeaseTransientErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_claim_transient_errors_total",
		Help: "Total number of transient store errors observed",
	}, []string{"lease", "claimant", "phase"})
)

func init() {
	prometheus.MustRegister(LeaseRecordInitialized)
	prometheus.MustRegister(LeaseAcquired)
	prometheus.MustRegister(LeaseRenewed)
	prometheus.MustRegister(LeaseLost)
	prometheus.MustRegister(LeaseIsHolder)
	prometheus.MustRegister(LeaseConflicts)
	prometheus.MustRegister(LeaseTransientErrors)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
