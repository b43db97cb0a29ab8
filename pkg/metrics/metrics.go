package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Transcription metrics
	TranscriptionRequestsTotal *prometheus.CounterVec
	TranscriptionDuration      *prometheus.HistogramVec

	// Pipeline metrics
	PipelineStageDuration *prometheus.HistogramVec
	PipelineStageFailures *prometheus.CounterVec
	SyncConversionsTotal  prometheus.Counter
	GenerationFallbacks   prometheus.Counter

	// Job metrics
	JobsCreatedTotal    prometheus.Counter
	JobTransitionsTotal *prometheus.CounterVec
	ActiveJobs          prometheus.Gauge

	// Messaging metrics
	TurnsPublishedTotal  *prometheus.CounterVec
	AMQPConnectionStatus prometheus.Gauge

	// Protection metrics
	RateLimitedRequestsTotal prometheus.Counter
	UpstreamBreakerState     prometheus.Gauge
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		TranscriptionRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxpipe_transcription_requests_total",
				Help: "Total number of transcription requests by provider and outcome",
			},
			[]string{"provider", "outcome"},
		)

		TranscriptionDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voxpipe_transcription_duration_seconds",
				Help:    "Latency of transcription calls",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
			},
			[]string{"provider"},
		)

		PipelineStageDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voxpipe_pipeline_stage_duration_seconds",
				Help:    "Latency of each pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"stage"},
		)

		PipelineStageFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxpipe_pipeline_stage_failures_total",
				Help: "Total number of non-fatal stage failures by stage",
			},
			[]string{"stage"},
		)

		SyncConversionsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voxpipe_sync_to_async_conversions_total",
				Help: "Total number of synchronous requests converted to background jobs",
			},
		)

		GenerationFallbacks = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voxpipe_generation_fallbacks_total",
				Help: "Total number of canned responses served after generation failure",
			},
		)

		JobsCreatedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voxpipe_jobs_created_total",
				Help: "Total number of processing jobs created",
			},
		)

		JobTransitionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxpipe_job_transitions_total",
				Help: "Total number of job status transitions by target status",
			},
			[]string{"status"},
		)

		ActiveJobs = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voxpipe_active_jobs",
				Help: "Number of jobs currently pending or running",
			},
		)

		TurnsPublishedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxpipe_turns_published_total",
				Help: "Total number of conversation turns published to the persistence sink",
			},
			[]string{"outcome"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voxpipe_amqp_connection_status",
				Help: "AMQP connection status (1 connected, 0 disconnected)",
			},
		)

		RateLimitedRequestsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voxpipe_rate_limited_requests_total",
				Help: "Total number of HTTP requests rejected by the rate limiter",
			},
		)

		UpstreamBreakerState = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voxpipe_upstream_breaker_open",
				Help: "Language model circuit breaker state (1 open, 0 closed or half-open)",
			},
		)

		registry.MustRegister(
			TranscriptionRequestsTotal,
			TranscriptionDuration,
			PipelineStageDuration,
			PipelineStageFailures,
			SyncConversionsTotal,
			GenerationFallbacks,
			JobsCreatedTotal,
			JobTransitionsTotal,
			ActiveJobs,
			TurnsPublishedTotal,
			AMQPConnectionStatus,
			RateLimitedRequestsTotal,
			UpstreamBreakerState,
		)

		logger.Info("Prometheus metrics registered")
	})
}

// GetRegistry returns the Prometheus registry, or nil if Init was never called
func GetRegistry() *prometheus.Registry {
	return registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	if registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          registry,
	})
}

// ObserveTranscription starts a transcription timer and returns a function to
// record the duration with the final outcome.
func ObserveTranscription(provider string) func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		if TranscriptionDuration == nil {
			return
		}
		TranscriptionDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
		TranscriptionRequestsTotal.WithLabelValues(provider, outcome).Inc()
	}
}

// ObserveStage starts a stage timer and returns a function to record the duration.
func ObserveStage(stage string) func() {
	start := time.Now()
	return func() {
		if PipelineStageDuration == nil {
			return
		}
		PipelineStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// RecordStageFailure increments the non-fatal failure counter for a stage
func RecordStageFailure(stage string) {
	if PipelineStageFailures != nil {
		PipelineStageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordJobCreated increments job creation counters
func RecordJobCreated() {
	if JobsCreatedTotal != nil {
		JobsCreatedTotal.Inc()
		ActiveJobs.Inc()
	}
}

// RecordJobTransition records a job status transition
func RecordJobTransition(status string, terminal bool) {
	if JobTransitionsTotal == nil {
		return
	}
	JobTransitionsTotal.WithLabelValues(status).Inc()
	if terminal {
		ActiveJobs.Dec()
	}
}

// RecordSyncConversion increments the deadline conversion counter
func RecordSyncConversion() {
	if SyncConversionsTotal != nil {
		SyncConversionsTotal.Inc()
	}
}

// RecordGenerationFallback increments the canned response counter
func RecordGenerationFallback() {
	if GenerationFallbacks != nil {
		GenerationFallbacks.Inc()
	}
}

// RecordTurnPublished records a persistence sink publish attempt
func RecordTurnPublished(outcome string) {
	if TurnsPublishedTotal != nil {
		TurnsPublishedTotal.WithLabelValues(outcome).Inc()
	}
}

// RecordRateLimited increments the rejected request counter
func RecordRateLimited() {
	if RateLimitedRequestsTotal != nil {
		RateLimitedRequestsTotal.Inc()
	}
}

// SetUpstreamBreakerOpen updates the language model breaker gauge
func SetUpstreamBreakerOpen(open bool) {
	if UpstreamBreakerState == nil {
		return
	}
	if open {
		UpstreamBreakerState.Set(1)
	} else {
		UpstreamBreakerState.Set(0)
	}
}

// SetAMQPConnected updates the AMQP connection gauge
func SetAMQPConnected(connected bool) {
	if AMQPConnectionStatus == nil {
		return
	}
	if connected {
		AMQPConnectionStatus.Set(1)
	} else {
		AMQPConnectionStatus.Set(0)
	}
}
