// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicepilot"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionDuration prometheus.Histogram
	SessionState    *prometheus.GaugeVec

	// Capture metrics
	ChunksCaptured prometheus.Counter
	ChunksSent     prometheus.Counter
	ChunksDropped  *prometheus.CounterVec
	VoiceActive    prometheus.Gauge
	CaptureErrors  prometheus.Counter

	// Transport metrics
	ConnectsTotal     prometheus.Counter
	ReconnectAttempts prometheus.Counter
	ReconnectSuccess  prometheus.Counter
	AbnormalCloses    prometheus.Counter
	KeepAlivesSent    prometheus.Counter
	ProtocolErrors    prometheus.Counter

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter

	// Playback metrics
	AnnouncementsSpoken  prometheus.Counter
	DuplicatesSuppressed prometheus.Counter
	PlaybackErrors       prometheus.Counter
	WatchdogTimeouts     prometheus.Counter
	QueueDepth           prometheus.Gauge

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// Default is the global metrics instance.
var Default = New()

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of listening sessions started",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of listening sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		SessionState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current controller state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),

		ChunksCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_captured_total",
			Help:      "Total audio chunks emitted by the capture channel",
		}),
		ChunksSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Total audio chunks transmitted to the backend",
		}),
		ChunksDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Total audio chunks dropped before transmission",
		}, []string{"reason"}),
		VoiceActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_active",
			Help:      "Whether the VAD currently classifies the input as speech",
		}),
		CaptureErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Total fatal capture device errors",
		}),

		ConnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_connects_total",
			Help:      "Total successful backend connections",
		}),
		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_reconnect_attempts_total",
			Help:      "Total reconnection attempts after abnormal closes",
		}),
		ReconnectSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_reconnect_success_total",
			Help:      "Total successful reconnections",
		}),
		AbnormalCloses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_abnormal_closes_total",
			Help:      "Total abnormal backend connection closes",
		}),
		KeepAlivesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_keepalives_sent_total",
			Help:      "Total keep-alive markers sent while idle",
		}),
		ProtocolErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_protocol_errors_total",
			Help:      "Total malformed inbound events (logged and ignored)",
		}),

		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total interim transcripts received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total final transcripts received",
		}),

		AnnouncementsSpoken: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_spoken_total",
			Help:      "Total announcements played to completion",
		}),
		DuplicatesSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_duplicates_suppressed_total",
			Help:      "Total announcements dropped by the dedup window",
		}),
		PlaybackErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_errors_total",
			Help:      "Total synthesis failures",
		}),
		WatchdogTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_watchdog_timeouts_total",
			Help:      "Total playback acquisitions force-released by the watchdog",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Announcements currently waiting for playback focus",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a new listening session.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionDuration.Observe(durationSeconds)
}

// RecordState marks the given state active and all others inactive.
func (m *Metrics) RecordState(active string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == active {
			v = 1.0
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}

// RecordChunkDropped records a chunk dropped before transmission.
func (m *Metrics) RecordChunkDropped(reason string) {
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

// RecordVoiceActive records the current VAD classification.
func (m *Metrics) RecordVoiceActive(active bool) {
	if active {
		m.VoiceActive.Set(1)
	} else {
		m.VoiceActive.Set(0)
	}
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
