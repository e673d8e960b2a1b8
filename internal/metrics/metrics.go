package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Stream ingestion counters
	MessagesReceived  atomic.Uint64
	EventsAccepted    atomic.Uint64
	MessagesIgnored   atomic.Uint64
	MessagesMalformed atomic.Uint64
	AlertEvents       atomic.Uint64
	Clears            atomic.Uint64

	// Connection lifecycle
	StreamConnects    atomic.Uint64
	StreamDisconnects atomic.Uint64
	StreamErrors      atomic.Uint64
	StreamState       atomic.Uint64 // 0 = disconnected, 1 = connecting, 2 = connected
	DisplayedCount    atomic.Uint64

	// Inference backend calls
	ClassifyRequests  atomic.Uint64
	ClassifyErrors    atomic.Uint64
	ClassifyLatencyMs atomic.Uint64 // Last classify round trip in ms
	PowerRequests     atomic.Uint64
	PowerErrors       atomic.Uint64

	// Fan-out
	SSEClients          atomic.Int64
	WebRTCActiveClients atomic.Uint64
	WebRTCTotalClients  atomic.Uint64
	WebRTCMessagesSent  atomic.Uint64
	WebRTCErrors        atomic.Uint64

	// Recording state
	RecordingActive atomic.Uint64 // 0 = inactive, 1 = active
	RecordingBytes  atomic.Uint64
	RecordingEvents atomic.Uint64
	RecorderErrors  atomic.Uint64

	HistoryItems atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

type gauge struct {
	name string
	help string
	get  func() float64
}

func u64(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	gauges := []gauge{
		// Ingestion
		{"bottle_monitor_messages_received_total", "Total websocket messages received", u64(&m.MessagesReceived)},
		{"bottle_monitor_events_total", "Total inspection events accepted", u64(&m.EventsAccepted)},
		{"bottle_monitor_messages_ignored_total", "Total messages with an unknown type", u64(&m.MessagesIgnored)},
		{"bottle_monitor_messages_malformed_total", "Total messages that failed to decode", u64(&m.MessagesMalformed)},
		{"bottle_monitor_alert_events_total", "Total inspection events with an alerting sub-check", u64(&m.AlertEvents)},
		{"bottle_monitor_clears_total", "Total log clears", u64(&m.Clears)},

		// Stream
		{"bottle_monitor_stream_connects_total", "Total successful stream connections", u64(&m.StreamConnects)},
		{"bottle_monitor_stream_disconnects_total", "Total stream disconnections", u64(&m.StreamDisconnects)},
		{"bottle_monitor_stream_errors_total", "Total stream dial or read errors", u64(&m.StreamErrors)},
		{"bottle_monitor_stream_state", "Stream state (0=disconnected, 1=connecting, 2=connected)", u64(&m.StreamState)},
		{"bottle_monitor_bottles_processed", "Bottles processed since the last clear", u64(&m.DisplayedCount)},

		// Backend
		{"bottle_monitor_classify_requests_total", "Total single-shot classify requests", u64(&m.ClassifyRequests)},
		{"bottle_monitor_classify_errors_total", "Total failed classify requests", u64(&m.ClassifyErrors)},
		{"bottle_monitor_classify_latency_ms", "Last classify round trip in milliseconds", u64(&m.ClassifyLatencyMs)},
		{"bottle_monitor_power_requests_total", "Total power control requests", u64(&m.PowerRequests)},
		{"bottle_monitor_power_errors_total", "Total failed power control requests", u64(&m.PowerErrors)},

		// Clients
		{"bottle_monitor_sse_clients", "Number of connected SSE clients", func() float64 { return float64(m.SSEClients.Load()) }},
		{"bottle_monitor_webrtc_active_clients", "Number of active WebRTC data-channel clients", u64(&m.WebRTCActiveClients)},
		{"bottle_monitor_webrtc_total_clients", "Total WebRTC clients connected", u64(&m.WebRTCTotalClients)},
		{"bottle_monitor_webrtc_messages_sent_total", "Total messages sent over WebRTC data channels", u64(&m.WebRTCMessagesSent)},
		{"bottle_monitor_webrtc_errors_total", "Total WebRTC errors", u64(&m.WebRTCErrors)},

		// Recording
		{"bottle_monitor_recording_active", "Recording active (0=inactive, 1=active)", u64(&m.RecordingActive)},
		{"bottle_monitor_recording_bytes", "Total bytes written to recording", u64(&m.RecordingBytes)},
		{"bottle_monitor_recording_events", "Total events written to recording", u64(&m.RecordingEvents)},
		{"bottle_monitor_recorder_errors_total", "Total recorder write errors", u64(&m.RecorderErrors)},

		{"bottle_monitor_history_items", "Number of persisted analysis history items", u64(&m.HistoryItems)},
	}

	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.get,
		))
	}
}

// UpdateClassifyLatency records the duration of the last classify call
func (m *Metrics) UpdateClassifyLatency(d time.Duration) {
	m.ClassifyLatencyMs.Store(uint64(d.Milliseconds()))
}

// SetRecording flips the recording gauge
func (m *Metrics) SetRecording(active bool) {
	if active {
		m.RecordingActive.Store(1)
		return
	}
	m.RecordingActive.Store(0)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
