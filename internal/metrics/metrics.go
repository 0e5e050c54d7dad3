package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgw_requests_total",
			Help: "Total number of generation requests",
		},
		[]string{"model", "region", "transport", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vertexgw_request_duration_seconds",
			Help:    "Generation request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model", "region", "transport"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgw_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"model", "type"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgw_cost_usd_total",
			Help: "Estimated cost in USD",
		},
		[]string{"model"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgw_retries_total",
			Help: "Total number of retry attempts",
		},
		[]string{"breaker_key", "error_kind"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vertexgw_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker_key"},
	)

	CredentialRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgw_credential_refreshes_total",
			Help: "Credential refresh attempts by source kind",
		},
		[]string{"source", "status"},
	)

	TransportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgw_transport_errors_total",
			Help: "Classified transport failures",
		},
		[]string{"transport", "error_kind"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vertexgw_active_streams",
			Help: "Number of open streaming calls",
		},
	)
)

func RecordRequest(model, region, transport, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(model, region, transport, status).Inc()
	RequestDuration.WithLabelValues(model, region, transport).Observe(durationSec)
}

func RecordTokens(model string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
}

func RecordCost(model string, costUSD float64) {
	CostTotal.WithLabelValues(model).Add(costUSD)
}

func RecordRetry(breakerKey, errorKind string) {
	RetriesTotal.WithLabelValues(breakerKey, errorKind).Inc()
}

func SetCircuitBreakerState(breakerKey string, state int) {
	CircuitBreakerState.WithLabelValues(breakerKey).Set(float64(state))
}

func RecordCredentialRefresh(source, status string) {
	CredentialRefreshes.WithLabelValues(source, status).Inc()
}

func RecordTransportError(transport, errorKind string) {
	TransportErrors.WithLabelValues(transport, errorKind).Inc()
}
