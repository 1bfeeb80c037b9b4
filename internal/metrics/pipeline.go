package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingestion and answer pipeline metrics.
var (
	IngestJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askdex",
			Name:      "ingest_jobs_total",
			Help:      "Finished ingestion jobs by resulting status",
		},
		[]string{"status"},
	)

	IngestQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "askdex",
			Name:      "ingest_queue_depth",
			Help:      "Jobs waiting in the ingestion queue",
		},
	)

	ChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askdex",
			Name:      "chunks_total",
			Help:      "Chunks written by embedding outcome",
		},
		[]string{"result"}, // embedded / pending
	)

	RetrievalFilteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "askdex",
			Name:      "retrieval_filtered_total",
			Help:      "Retrieved chunks dropped below the score threshold",
		},
	)

	CitationsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "askdex",
			Name:      "citations_dropped_total",
			Help:      "Citation markers removed because they did not resolve",
		},
	)

	ContextTruncationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "askdex",
			Name:      "context_truncations_total",
			Help:      "Context payloads cut to fit the token budget",
		},
	)

	AnswerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askdex",
			Name:      "answer_requests_total",
			Help:      "Ask and chat requests by outcome",
		},
		[]string{"mode", "status"},
	)

	AnswerStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "askdex",
			Name:      "answer_stage_duration_seconds",
			Help:      "Duration of each answer pipeline stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers ingestion and answer metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(IngestJobsTotal)
	prometheus.MustRegister(IngestQueueDepth)
	prometheus.MustRegister(ChunksTotal)
	prometheus.MustRegister(RetrievalFilteredTotal)
	prometheus.MustRegister(CitationsDroppedTotal)
	prometheus.MustRegister(ContextTruncationsTotal)
	prometheus.MustRegister(AnswerRequestsTotal)
	prometheus.MustRegister(AnswerStageDuration)
	pipelineMetricsRegistered = true
}
