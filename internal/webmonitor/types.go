package webmonitor

import (
	"github.com/dj-oyu/bottle-monitor/internal/inference"
	"github.com/dj-oyu/bottle-monitor/internal/monitor"
	"github.com/dj-oyu/bottle-monitor/internal/recorder"
)

// StatusPayload is the body of /api/status and each /api/status/stream event.
type StatusPayload struct {
	Monitor       monitor.Status               `json:"monitor"`
	System        inference.PowerState         `json:"system"`
	Recording     recorder.Status              `json:"recording"`
	SSEClients    int                          `json:"sse_clients"`
	WebRTCClients int                          `json:"webrtc_clients"`
	WebRTCStats   map[string]map[string]uint64 `json:"webrtc_stats,omitempty"`
	Timestamp     float64                      `json:"timestamp"`
}

// HistoryPayload is the body of GET /api/history.
type HistoryPayload struct {
	Items    []inference.Result `json:"items"`
	MaxItems int                `json:"max_items"`
}

// ErrorPayload is the body of every error response.
type ErrorPayload struct {
	Error string `json:"error"`
}
