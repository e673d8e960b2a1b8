// Package webmonitor serves the bottle inspection dashboard: the monitoring
// core's state as JSON and SSE, the single-shot classify flow with its
// history, power control, event recording and WebRTC data-channel fan-out.
package webmonitor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dj-oyu/bottle-monitor/internal/config"
	"github.com/dj-oyu/bottle-monitor/internal/history"
	"github.com/dj-oyu/bottle-monitor/internal/inference"
	"github.com/dj-oyu/bottle-monitor/internal/logger"
	"github.com/dj-oyu/bottle-monitor/internal/metrics"
	"github.com/dj-oyu/bottle-monitor/internal/monitor"
	"github.com/dj-oyu/bottle-monitor/internal/preview"
	"github.com/dj-oyu/bottle-monitor/internal/recorder"
	"github.com/dj-oyu/bottle-monitor/internal/webrtc"
)

// Deps are the collaborators of a Server. Monitor is required; History may be
// nil, which disables the history endpoints. Other nil fields are built from
// the config.
type Deps struct {
	Monitor   *monitor.Monitor
	Inference *inference.Client
	System    *inference.SystemControl
	History   *history.Store
	Recorder  *recorder.Recorder
	WebRTC    *webrtc.Server
	Metrics   *metrics.Metrics
}

// Server serves the web monitor endpoints.
type Server struct {
	cfg       config.Config
	monitor   *monitor.Monitor
	inference *inference.Client
	system    *inference.SystemControl
	history   *history.Store
	recorder  *recorder.Recorder
	webrtc    *webrtc.Server
	metrics   *metrics.Metrics

	updates          *UpdateBroadcaster
	status           *StatusBroadcaster
	stopRecorderFeed func()
	log              logger.Module
}

// NewServer returns a configured monitor server and starts its broadcasters.
func NewServer(cfg config.Config, deps Deps) *Server {
	def := config.DefaultConfig()
	if cfg.Server.StatusInterval <= 0 {
		cfg.Server.StatusInterval = def.Server.StatusInterval
	}
	if cfg.Server.KeepaliveInterval <= 0 {
		cfg.Server.KeepaliveInterval = def.Server.KeepaliveInterval
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		cfg.Server.MaxUploadBytes = def.Server.MaxUploadBytes
	}
	if cfg.History.PreviewPx <= 0 {
		cfg.History.PreviewPx = def.History.PreviewPx
	}

	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Inference == nil {
		deps.Inference = inference.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, deps.Metrics)
	}
	if deps.System == nil {
		deps.System = inference.NewSystemControl(deps.Inference)
	}
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewRecorder(cfg.Recording.OutputPath, deps.Metrics)
	}
	if deps.WebRTC == nil {
		deps.WebRTC = webrtc.NewServer(cfg.WebRTC.STUNServers, cfg.WebRTC.MaxClients, deps.Metrics)
	}

	s := &Server{
		cfg:       cfg,
		monitor:   deps.Monitor,
		inference: deps.Inference,
		system:    deps.System,
		history:   deps.History,
		recorder:  deps.Recorder,
		webrtc:    deps.WebRTC,
		metrics:   deps.Metrics,
		log:       logger.For("WebMonitor"),
	}
	if s.history != nil {
		s.metrics.HistoryItems.Store(uint64(s.history.Len()))
	}

	s.updates = NewUpdateBroadcaster(s.monitor)
	s.updates.AddSink(func(event *SerializedEvent) {
		s.webrtc.Broadcast(event.JSONData)
	})
	s.stopRecorderFeed = s.monitor.Subscribe(s.recorder.Listener())

	s.status = NewStatusBroadcaster(func() any { return s.statusPayload() }, cfg.Server.StatusInterval)
	s.status.Start()

	return s
}

// Close stops the broadcasters, the recorder and the WebRTC clients. The
// monitor and history store belong to the caller.
func (s *Server) Close() error {
	s.status.Stop()
	s.updates.Stop()
	s.stopRecorderFeed()

	var errs []error
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("recorder: %w", err))
	}
	if err := s.webrtc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("webrtc: %w", err))
	}
	return errors.Join(errs...)
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	assetHandler := newAssetHandler(s.cfg.Server.BuildAssetsDir, s.cfg.Server.AssetsDir)

	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/assets/", http.StripPrefix("/assets/", assetHandler))
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)

	mux.HandleFunc("/api/monitor/status", s.handleMonitorStatus)
	mux.HandleFunc("/api/monitor/stream", s.handleMonitorStream)
	mux.HandleFunc("/api/monitor/connect", s.handleMonitorConnect)
	mux.HandleFunc("/api/monitor/disconnect", s.handleMonitorDisconnect)
	mux.HandleFunc("/api/monitor/clear", s.handleMonitorClear)

	mux.HandleFunc("/api/system/status", s.handleSystemStatus)
	mux.HandleFunc("/api/system/on", s.handleSystemPower)
	mux.HandleFunc("/api/system/off", s.handleSystemPower)
	mux.HandleFunc("/api/system/toggle", s.handleSystemPower)

	mux.HandleFunc("/api/analyze/", s.handleAnalyze)
	mux.HandleFunc("/api/history", s.handleHistory)

	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)

	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"stream": s.monitor.State(),
	})
}

func (s *Server) statusPayload() StatusPayload {
	return StatusPayload{
		Monitor:       s.monitor.Status(s.cfg.Server.SnapshotLimit),
		System:        s.system.State(),
		Recording:     s.recorder.Status(),
		SSEClients:    int(s.metrics.SSEClients.Load()),
		WebRTCClients: s.webrtc.GetClientCount(),
		WebRTCStats:   s.webrtc.GetClientStats(),
		Timestamp:     float64(time.Now().Unix()),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)
	s.metrics.SSEClients.Add(1)
	defer s.metrics.SSEClients.Add(-1)

	initial, err := s.status.Current()
	if err != nil {
		s.log.Error("Status snapshot: %v", err)
	}
	streamEventsFromChannel(w, r, eventCh, initial, s.cfg.Server.KeepaliveInterval)
}

// snapshotLimit reads ?limit=, falling back to the configured default.
func (s *Server) snapshotLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return s.cfg.Server.SnapshotLimit
}

func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitor.Status(s.snapshotLimit(r)))
}

func (s *Server) handleMonitorStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.updates.Subscribe()
	defer s.updates.Unsubscribe(id)
	s.metrics.SSEClients.Add(1)
	defer s.metrics.SSEClients.Add(-1)

	streamEventsFromChannel(w, r, eventCh, nil, s.cfg.Server.KeepaliveInterval)
}

func (s *Server) handleMonitorConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.monitor.Connect(); err != nil {
		writeJSONWithStatus(w, ErrorPayload{Error: err.Error()}, http.StatusConflict)
		return
	}
	writeJSON(w, s.monitor.Status(s.snapshotLimit(r)))
}

func (s *Server) handleMonitorDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.monitor.Disconnect()
	writeJSON(w, s.monitor.Status(s.snapshotLimit(r)))
}

func (s *Server) handleMonitorClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.monitor.Clear()
	writeJSON(w, s.monitor.Status(s.snapshotLimit(r)))
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.system.State())
}

// handleSystemPower always answers 200 with the resulting state; a failed
// backend call shows up as an unchanged state.
func (s *Server) handleSystemPower(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var state inference.PowerState
	switch r.URL.Path {
	case "/api/system/on":
		state = s.system.TurnOn(r.Context())
	case "/api/system/off":
		state = s.system.TurnOff(r.Context())
	default:
		state = s.system.Toggle(r.Context())
	}
	writeJSON(w, state)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	model, err := inference.ParseModel(strings.TrimPrefix(r.URL.Path, "/api/analyze/"))
	if err != nil {
		writeJSONWithStatus(w, ErrorPayload{Error: err.Error()}, http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONWithStatus(w, ErrorPayload{Error: "missing image file: " + err.Error()}, http.StatusBadRequest)
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		writeJSONWithStatus(w, ErrorPayload{Error: "read image: " + err.Error()}, http.StatusBadRequest)
		return
	}

	result, err := s.inference.Classify(r.Context(), model, header.Filename, bytes.NewReader(image))
	if err != nil {
		status := http.StatusBadGateway
		var apiErr *inference.APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			status = apiErr.Status
		}
		writeJSONWithStatus(w, ErrorPayload{Error: err.Error()}, status)
		return
	}

	if url, err := preview.DataURL(image, s.cfg.History.PreviewPx); err == nil {
		result.ImagePreview = url
	} else {
		s.log.Debug("No preview for %s: %v", header.Filename, err)
	}

	if s.history != nil {
		if items, err := s.history.Add(result); err != nil {
			s.log.Warn("History append failed: %v", err)
		} else {
			s.metrics.HistoryItems.Store(uint64(len(items)))
		}
	}

	writeJSON(w, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSONWithStatus(w, ErrorPayload{Error: "history disabled"}, http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		items, err := s.history.List()
		if err != nil {
			writeJSONWithStatus(w, ErrorPayload{Error: err.Error()}, http.StatusServiceUnavailable)
			return
		}
		if items == nil {
			items = []inference.Result{}
		}
		writeJSON(w, HistoryPayload{Items: items, MaxItems: s.cfg.History.MaxItems})

	case http.MethodDelete:
		if err := s.history.Clear(); err != nil {
			writeJSONWithStatus(w, ErrorPayload{Error: err.Error()}, http.StatusInternalServerError)
			return
		}
		s.metrics.HistoryItems.Store(0)
		writeJSON(w, map[string]any{"status": "cleared"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename, err := s.recorder.Start(r.URL.Query().Get("filename"))
	if err != nil {
		writeJSONWithStatus(w, ErrorPayload{Error: err.Error()}, http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       filename,
		"started_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename, err := s.recorder.Stop()
	if err != nil {
		writeJSONWithStatus(w, ErrorPayload{Error: err.Error()}, http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       filename,
		"stats":      s.recorder.Status(),
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.recorder.Status())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONWithStatus(w, ErrorPayload{Error: "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.webrtc.HandleOffer(body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, webrtc.ErrMaxClients) {
			status = http.StatusServiceUnavailable
		}
		s.log.Warn("WebRTC offer rejected: %v", err)
		writeJSONWithStatus(w, ErrorPayload{Error: err.Error()}, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
