package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the translation hub
type Metrics struct {
	// Connection metrics
	ActiveConnections prometheus.Gauge
	ConnectionsOpened prometheus.Counter
	UpgradesRejected  *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	ProtocolErrors    *prometheus.CounterVec
	DeliveryFailures  prometheus.Counter

	// Room metrics
	ActiveRooms        prometheus.Gauge
	ActiveParticipants prometheus.Gauge
	RoomsSwept         *prometheus.CounterVec

	// Segmentation metrics
	UtterancesEmitted  *prometheus.CounterVec
	UtteranceDuration  prometheus.Histogram
	SpeechProbability  prometheus.Histogram

	// Pipeline metrics
	PipelineDuration     prometheus.Histogram
	PipelineFailures     *prometheus.CounterVec
	TranslationFallbacks *prometheus.CounterVec
	TranscriptionRetries prometheus.Counter

	// Synthesis metrics
	TTSRequests *prometheus.CounterVec
	TTSDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them on reg. A nil reg uses
// the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Connection metrics
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babblefish_active_connections",
			Help: "Current number of open client WebSocket connections",
		}),
		ConnectionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "babblefish_connections_opened_total",
			Help: "Total number of client WebSocket connections accepted",
		}),
		UpgradesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babblefish_upgrades_rejected_total",
			Help: "Total number of WebSocket upgrades rejected",
		}, []string{"reason"}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babblefish_messages_received_total",
			Help: "Total number of client messages received by type",
		}, []string{"type"}),
		ProtocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babblefish_protocol_errors_total",
			Help: "Total number of error events sent to clients by code",
		}, []string{"code"}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "babblefish_delivery_failures_total",
			Help: "Total number of broadcast deliveries that failed",
		}),

		// Room metrics
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babblefish_active_rooms",
			Help: "Current number of rooms",
		}),
		ActiveParticipants: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babblefish_active_participants",
			Help: "Current number of participants across all rooms",
		}),
		RoomsSwept: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babblefish_rooms_swept_total",
			Help: "Total number of rooms removed by the background sweep",
		}, []string{"reason"}),

		// Segmentation metrics
		UtterancesEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babblefish_utterances_emitted_total",
			Help: "Total number of utterances emitted by the segmenter",
		}, []string{"trigger"}),
		UtteranceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "babblefish_utterance_duration_seconds",
			Help:    "Duration of emitted utterances",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),
		SpeechProbability: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "babblefish_speech_probability",
			Help:    "Speech probability reported for audio chunks",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),

		// Pipeline metrics
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "babblefish_pipeline_duration_seconds",
			Help:    "Duration of transcription plus translation per utterance",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}),
		PipelineFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babblefish_pipeline_failures_total",
			Help: "Total number of utterances that could not be processed",
		}, []string{"code"}),
		TranslationFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babblefish_translation_fallbacks_total",
			Help: "Total number of target languages delivered as pass-through text",
		}, []string{"target"}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "babblefish_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// Synthesis metrics
		TTSRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babblefish_tts_requests_total",
			Help: "Total number of synthesis attempts by backend and outcome",
		}, []string{"backend", "outcome"}),
		TTSDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "babblefish_tts_duration_seconds",
			Help:    "Time spent on synthesis per translation",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms to ~6s
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babblefish_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "babblefish_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babblefish_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// ConnectionOpened records an accepted client connection
func (m *Metrics) ConnectionOpened() {
	m.ConnectionsOpened.Inc()
	m.ActiveConnections.Inc()
}

// ConnectionClosed records a closed client connection
func (m *Metrics) ConnectionClosed() {
	m.ActiveConnections.Dec()
}

// RecordUpgradeRejected increments the rejected upgrades counter
func (m *Metrics) RecordUpgradeRejected(reason string) {
	m.UpgradesRejected.WithLabelValues(reason).Inc()
}

// RecordMessage increments the received messages counter
func (m *Metrics) RecordMessage(messageType string) {
	m.MessagesReceived.WithLabelValues(messageType).Inc()
}

// RecordProtocolError increments the error events counter
func (m *Metrics) RecordProtocolError(code string) {
	m.ProtocolErrors.WithLabelValues(code).Inc()
}

// RecordDeliveryFailures adds failed broadcast deliveries
func (m *Metrics) RecordDeliveryFailures(count int) {
	if count > 0 {
		m.DeliveryFailures.Add(float64(count))
	}
}

// SetRoomGauges sets the current room and participant counts
func (m *Metrics) SetRoomGauges(rooms, participants int) {
	m.ActiveRooms.Set(float64(rooms))
	m.ActiveParticipants.Set(float64(participants))
}

// RecordSweep records rooms removed by the background sweep
func (m *Metrics) RecordSweep(reason string, removed int) {
	if removed > 0 {
		m.RoomsSwept.WithLabelValues(reason).Add(float64(removed))
	}
}

// RecordUtterance records an emitted utterance
func (m *Metrics) RecordUtterance(forced bool, durationSeconds float64) {
	trigger := "silence"
	if forced {
		trigger = "forced"
	}
	m.UtterancesEmitted.WithLabelValues(trigger).Inc()
	m.UtteranceDuration.Observe(durationSeconds)
}

// RecordSpeechProbability records the scorer output for one chunk
func (m *Metrics) RecordSpeechProbability(prob float32) {
	m.SpeechProbability.Observe(float64(prob))
}

// RecordPipeline records a completed pipeline run
func (m *Metrics) RecordPipeline(durationSeconds float64) {
	m.PipelineDuration.Observe(durationSeconds)
}

// RecordPipelineFailure records an utterance that failed processing
func (m *Metrics) RecordPipelineFailure(code string) {
	m.PipelineFailures.WithLabelValues(code).Inc()
}

// RecordTranslationFallback records a pass-through translation
func (m *Metrics) RecordTranslationFallback(target string) {
	m.TranslationFallbacks.WithLabelValues(target).Inc()
}

// RecordTranscriptionRetries adds transcription retries
func (m *Metrics) RecordTranscriptionRetries(count int) {
	if count > 0 {
		m.TranscriptionRetries.Add(float64(count))
	}
}

// RecordTTS records one synthesis attempt
func (m *Metrics) RecordTTS(backend, outcome string) {
	m.TTSRequests.WithLabelValues(backend, outcome).Inc()
}

// RecordTTSDuration records time spent on synthesis for one translation
func (m *Metrics) RecordTTSDuration(durationSeconds float64) {
	m.TTSDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
