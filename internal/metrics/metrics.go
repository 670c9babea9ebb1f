package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdraft_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supportdraft_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Channel.io metrics
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdraft_channelio_webhooks_received_total",
			Help: "Total number of Channel.io webhooks received",
		},
		[]string{"status"},
	)

	InquiriesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdraft_inquiries_processed_total",
			Help: "Total number of inquiries run through the pipeline",
		},
		[]string{"status"},
	)

	InquiryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supportdraft_inquiry_duration_seconds",
			Help:    "Duration of inquiry processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Pipeline steps that fell back to a placeholder instead of failing
	PipelineDegradations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdraft_pipeline_degradations_total",
			Help: "Total number of pipeline steps that degraded to a fallback",
		},
		[]string{"step"},
	)

	// Search metrics
	SearchQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdraft_search_queries_total",
			Help: "Total number of hybrid search queries",
		},
		[]string{"status"},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supportdraft_search_duration_seconds",
			Help:    "Duration of hybrid search in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SearchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supportdraft_search_results",
			Help:    "Number of chunks returned per search",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	// Thread registry metrics
	ThreadLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdraft_thread_lookups_total",
			Help: "Total number of thread registry lookups",
		},
		[]string{"result"},
	)

	ThreadBinds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdraft_thread_binds_total",
			Help: "Total number of thread registry binds",
		},
		[]string{"kind", "status"},
	)

	// Slack metrics
	SlackMessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdraft_slack_messages_posted_total",
			Help: "Total number of Slack messages posted",
		},
		[]string{"kind", "status"},
	)

	FeedbackRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdraft_feedback_recorded_total",
			Help: "Total number of operator feedback actions recorded",
		},
		[]string{"feedback_type", "status"},
	)

	// Logiless metrics
	OrderLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdraft_logiless_order_lookups_total",
			Help: "Total number of Logiless order lookups",
		},
		[]string{"status"},
	)

	// OpenAI metrics
	OpenAIAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdraft_openai_api_calls_total",
			Help: "Total number of OpenAI API calls",
		},
		[]string{"operation", "status"},
	)

	OpenAIAPICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supportdraft_openai_api_call_duration_seconds",
			Help:    "Duration of OpenAI API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	EmbeddingGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdraft_embedding_backfill_total",
			Help: "Total number of chunk embeddings generated by the backfill job",
		},
		[]string{"status"},
	)

	EmbeddingGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supportdraft_embedding_backfill_duration_seconds",
			Help:    "Duration of embedding backfill batches in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Queue metrics
	QueueMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdraft_queue_messages_total",
			Help: "Total number of inquiry queue messages",
		},
		[]string{"direction", "status"},
	)

	// Database metrics
	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdraft_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supportdraft_database_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Application metrics
	ChunksWithoutEmbeddings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supportdraft_chunks_without_embeddings",
			Help: "Number of FAQ chunks without embeddings",
		},
	)

	TotalChunks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supportdraft_total_chunks",
			Help: "Total number of FAQ chunks in the store",
		},
	)
)
