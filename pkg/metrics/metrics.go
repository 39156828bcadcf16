package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Admission metrics
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_admissions_total",
			Help: "Total number of accepted admissions by tenant tier",
		},
		[]string{"tier"},
	)

	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_rejections_total",
			Help: "Total number of rejected admissions by reason",
		},
		[]string{"reason"},
	)

	// Queue metrics
	QueueItemsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paddock_queue_items_total",
			Help: "Total number of queue items by status",
		},
		[]string{"status"},
	)

	InFlightRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paddock_inflight_runs",
			Help: "Number of runs currently being driven",
		},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paddock_dispatch_latency_seconds",
			Help:    "Time from enqueue to claim in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	ItemsTimedOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_queue_timeouts_total",
			Help: "Total number of queue items swept as timed out",
		},
	)

	// Executor metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_runs_total",
			Help: "Total number of finished runs by terminal status",
		},
		[]string{"status"},
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paddock_step_duration_seconds",
			Help:    "Worker step duration in seconds by tier",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_steps_total",
			Help: "Total number of steps by outcome",
		},
		[]string{"outcome"},
	)

	TierDemotionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_tier_demotions_total",
			Help: "Total number of capability tier demotions",
		},
	)

	TokensConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_tokens_consumed_total",
			Help: "Total tokens consumed by tenant tier",
		},
		[]string{"tier"},
	)

	// Policy metrics
	PolicyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_policy_decisions_total",
			Help: "Total number of access decisions by outcome",
		},
		[]string{"outcome"},
	)

	// Provider metrics
	ProviderPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_provider_polls_total",
			Help: "Total number of provider status polls by provider and result",
		},
		[]string{"provider", "result"},
	)

	ProviderJobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paddock_provider_jobs_total",
			Help: "Total number of provider jobs by status",
		},
		[]string{"status"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paddock_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(AdmissionsTotal)
	prometheus.MustRegister(RejectionsTotal)
	prometheus.MustRegister(QueueItemsTotal)
	prometheus.MustRegister(InFlightRuns)
	prometheus.MustRegister(DispatchLatency)
	prometheus.MustRegister(ItemsTimedOut)
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(StepsTotal)
	prometheus.MustRegister(TierDemotionsTotal)
	prometheus.MustRegister(TokensConsumed)
	prometheus.MustRegister(PolicyDecisions)
	prometheus.MustRegister(ProviderPollsTotal)
	prometheus.MustRegister(ProviderJobsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
