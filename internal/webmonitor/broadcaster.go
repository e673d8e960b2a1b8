package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/bottle-monitor/internal/logger"
	"github.com/dj-oyu/bottle-monitor/internal/monitor"
)

const clientBuffer = 16

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // google.protobuf.Struct, base64 encoded for SSE
}

// serializeEvent renders v as JSON and as a protobuf Struct with the same fields.
func serializeEvent(v any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("protobuf struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// hub is the client registry shared by both broadcasters.
type hub struct {
	name    string
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
}

// Subscribe adds a new client and returns a channel for receiving events.
func (h *hub) Subscribe() (int, <-chan *SerializedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan *SerializedEvent, clientBuffer)
	h.clients[id] = ch

	logger.Debug(h.name, "Client #%d subscribed (total clients: %d)", id, len(h.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (h *hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
		logger.Debug(h.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(h.clients))
	}
}

// ClientCount returns the number of subscribed clients.
func (h *hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) broadcast(event *SerializedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
}

// UpdateBroadcaster fans monitor updates out to SSE clients and extra sinks.
type UpdateBroadcaster struct {
	hub

	sinkMu sync.RWMutex
	sinks  []func(*SerializedEvent)

	unsubscribe func()
	stopOnce    sync.Once
}

// NewUpdateBroadcaster subscribes to m. Stop releases the subscription.
func NewUpdateBroadcaster(m *monitor.Monitor) *UpdateBroadcaster {
	ub := &UpdateBroadcaster{
		hub: hub{name: "UpdateBroadcaster", clients: make(map[int]chan *SerializedEvent)},
	}
	ub.unsubscribe = m.Subscribe(ub.publish)
	return ub
}

// AddSink registers fn to receive every serialized update. fn must not block.
func (ub *UpdateBroadcaster) AddSink(fn func(*SerializedEvent)) {
	ub.sinkMu.Lock()
	defer ub.sinkMu.Unlock()
	ub.sinks = append(ub.sinks, fn)
}

// Stop detaches from the monitor and closes every client channel.
func (ub *UpdateBroadcaster) Stop() {
	ub.stopOnce.Do(func() {
		ub.unsubscribe()
		ub.closeAll()
	})
}

func (ub *UpdateBroadcaster) publish(u monitor.Update) {
	event, err := serializeEvent(u)
	if err != nil {
		logger.Error("UpdateBroadcaster", "Serialize %s update: %v", u.Kind, err)
		return
	}
	ub.broadcast(event)

	ub.sinkMu.RLock()
	defer ub.sinkMu.RUnlock()
	for _, sink := range ub.sinks {
		sink(event)
	}
}

// StatusBroadcaster periodically snapshots the service status for SSE clients.
type StatusBroadcaster struct {
	hub

	snapshot func() any
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewStatusBroadcaster creates a broadcaster calling snapshot every interval.
func NewStatusBroadcaster(snapshot func() any, interval time.Duration) *StatusBroadcaster {
	return &StatusBroadcaster{
		hub:      hub{name: "StatusBroadcaster", clients: make(map[int]chan *SerializedEvent)},
		snapshot: snapshot,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the status event loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the broadcaster and closes every client channel.
func (sb *StatusBroadcaster) Stop() {
	sb.stopOnce.Do(func() {
		close(sb.stop)
		sb.closeAll()
	})
}

// Current serializes a fresh snapshot.
func (sb *StatusBroadcaster) Current() (*SerializedEvent, error) {
	return serializeEvent(sb.snapshot())
}

func (sb *StatusBroadcaster) run() {
	logger.Info("StatusBroadcaster", "Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
			if sb.ClientCount() == 0 {
				continue
			}
			event, err := sb.Current()
			if err != nil {
				logger.Error("StatusBroadcaster", "Serialize status: %v", err)
				continue
			}
			sb.broadcast(event)
		}
	}
}
