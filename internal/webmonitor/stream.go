package webmonitor

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/bottle-monitor/internal/logger"
)

// wantsProtobuf reports whether the client negotiated protobuf payloads.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

// streamEventsFromChannel streams pre-serialized events to an SSE client until
// the channel closes, the request context ends or a write fails. initial, when
// not nil, is sent before anything from the channel.
func streamEventsFromChannel(w http.ResponseWriter, r *http.Request, eventCh <-chan *SerializedEvent, initial *SerializedEvent, keepalive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	useProtobuf := wantsProtobuf(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(event *SerializedEvent) bool {
		data := event.JSONData
		if useProtobuf {
			data = event.ProtobufData
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			logger.Debug("SSE", "Client disconnected during event write: %v", err)
			return false
		}
		flusher.Flush()
		return true
	}

	if initial != nil && !send(initial) {
		return
	}

	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, ok := <-eventCh:
			if !ok {
				// Channel closed, client should disconnect
				return
			}
			if !send(event) {
				return
			}

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
