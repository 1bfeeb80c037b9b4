package metrics

import "github.com/prometheus/client_golang/prometheus"

// Model gateway Prometheus metrics.
var (
	ModelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askdex",
			Name:      "model_requests_total",
			Help:      "Total number of model provider calls",
		},
		[]string{"provider", "model", "modality", "status"},
	)

	ModelRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "askdex",
			Name:      "model_request_duration_seconds",
			Help:      "Model provider call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "model", "modality"},
	)

	ModelTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askdex",
			Name:      "model_tokens_total",
			Help:      "Total tokens consumed per model",
		},
		[]string{"provider", "model", "type"}, // prompt / completion / embedding
	)

	ModelFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askdex",
			Name:      "model_fallbacks_total",
			Help:      "Requests served by a fallback model",
		},
		[]string{"from", "to"},
	)

	ModelHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "askdex",
			Name:      "model_healthy",
			Help:      "1 if the model descriptor is healthy, 0 otherwise",
		},
		[]string{"model"},
	)

	BudgetTokensRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "askdex",
			Name:      "budget_tokens_remaining",
			Help:      "Remaining token budget",
		},
		[]string{"provider", "period"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askdex",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

var modelMetricsRegistered bool

// RegisterModelMetrics registers gateway metrics. Must be called once from main.
func RegisterModelMetrics() {
	if modelMetricsRegistered {
		return
	}
	prometheus.MustRegister(ModelRequestsTotal)
	prometheus.MustRegister(ModelRequestDuration)
	prometheus.MustRegister(ModelTokensTotal)
	prometheus.MustRegister(ModelFallbacksTotal)
	prometheus.MustRegister(ModelHealthy)
	prometheus.MustRegister(BudgetTokensRemaining)
	prometheus.MustRegister(EmbeddingCacheTotal)
	modelMetricsRegistered = true
}
