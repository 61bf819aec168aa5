package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds all Prometheus metrics for the analysis daemon.
type PrometheusMetrics struct {
	// Detection counters
	DetectionsTotal *prometheus.CounterVec

	// Upstream fetch tracking
	ExplorerFetchLatency *prometheus.HistogramVec
	ChatAPILatency       *prometheus.HistogramVec
	DecompileJobsTotal   *prometheus.CounterVec

	// Chat counters
	ChatMessagesTotal *prometheus.CounterVec
	SessionsRestored  prometheus.Counter
	SessionsCreated   prometheus.Counter

	// Cache gauges
	ContractCacheSize prometheus.Gauge
	SessionCacheSize  prometheus.Gauge
	CacheEvictions    *prometheus.CounterVec

	// Error tracking
	ErrorsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		DetectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whisperd_detections_total",
				Help: "Contract detections by chain and outcome",
			},
			[]string{"chain", "outcome"},
		),

		ExplorerFetchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "whisperd_explorer_fetch_seconds",
				Help:    "Block explorer API call latency by action",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"action", "status"},
		),

		ChatAPILatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "whisperd_chat_api_seconds",
				Help:    "Chat API call latency by endpoint",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"endpoint", "status"},
		),

		DecompileJobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whisperd_decompile_jobs_total",
				Help: "Decompilation jobs by outcome",
			},
			[]string{"outcome"},
		),

		ChatMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whisperd_chat_messages_total",
				Help: "Relayed chat messages by outcome",
			},
			[]string{"outcome"},
		),

		SessionsRestored: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "whisperd_sessions_restored_total",
				Help: "Chat sessions restored from a prior binding",
			},
		),

		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "whisperd_sessions_created_total",
				Help: "Fresh chat sessions created",
			},
		),

		ContractCacheSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "whisperd_contract_cache_entries",
				Help: "Entries currently held in the contract cache",
			},
		),

		SessionCacheSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "whisperd_session_cache_entries",
				Help: "Entries currently held in the session cache",
			},
		),

		CacheEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whisperd_cache_evictions_total",
				Help: "Cache entries evicted by cache name",
			},
			[]string{"cache"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whisperd_errors_total",
				Help: "Errors by component",
			},
			[]string{"component"},
		),
	}
}

// RecordDetection records a processed contract detection.
func (m *PrometheusMetrics) RecordDetection(chain, outcome string) {
	m.DetectionsTotal.WithLabelValues(chain, outcome).Inc()
}

// RecordExplorerFetch records an explorer API call.
func (m *PrometheusMetrics) RecordExplorerFetch(action string, success bool, latencySeconds float64) {
	m.ExplorerFetchLatency.WithLabelValues(action, statusLabel(success)).Observe(latencySeconds)
}

// RecordChatAPICall records a chat API call.
func (m *PrometheusMetrics) RecordChatAPICall(endpoint string, success bool, latencySeconds float64) {
	m.ChatAPILatency.WithLabelValues(endpoint, statusLabel(success)).Observe(latencySeconds)
}

// RecordDecompileJob records a decompilation job outcome.
func (m *PrometheusMetrics) RecordDecompileJob(outcome string) {
	m.DecompileJobsTotal.WithLabelValues(outcome).Inc()
}

// RecordChatMessage records a relayed chat message.
func (m *PrometheusMetrics) RecordChatMessage(outcome string) {
	m.ChatMessagesTotal.WithLabelValues(outcome).Inc()
}

// RecordError records an error for a component.
func (m *PrometheusMetrics) RecordError(component string) {
	m.ErrorsTotal.WithLabelValues(component).Inc()
}

// SetCacheSizes updates the cache size gauges.
func (m *PrometheusMetrics) SetCacheSizes(contracts, sessions int) {
	m.ContractCacheSize.Set(float64(contracts))
	m.SessionCacheSize.Set(float64(sessions))
}

// RecordEviction records evicted entries for a named cache.
func (m *PrometheusMetrics) RecordEviction(cache string, count int) {
	if count > 0 {
		m.CacheEvictions.WithLabelValues(cache).Add(float64(count))
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
