// Package monitor composes the stream manager, the decoder and the aggregator
// into the live monitoring core consumed by the HTTP dashboard and the TUI.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/dj-oyu/bottle-monitor/internal/aggregator"
	"github.com/dj-oyu/bottle-monitor/internal/inspection"
	"github.com/dj-oyu/bottle-monitor/internal/logger"
	"github.com/dj-oyu/bottle-monitor/internal/metrics"
	"github.com/dj-oyu/bottle-monitor/internal/stream"
)

// ErrUnmounted is returned by Mount and Connect once the monitor has been unmounted.
var ErrUnmounted = errors.New("monitor unmounted")

// Kind identifies the cause of an Update.
type Kind string

const (
	KindEvent Kind = "event"
	KindClear Kind = "clear"
	KindState Kind = "state"
)

// Update is pushed to listeners after every state change of the core.
type Update struct {
	Kind           Kind              `json:"kind"`
	Event          *inspection.Event `json:"event,omitempty"`
	State          stream.State      `json:"state"`
	Trigger        stream.Trigger    `json:"trigger,omitempty"`
	Error          string            `json:"error,omitempty"`
	DisplayedCount int               `json:"bottles_processed"`
	Total          int               `json:"total"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Listener receives updates in order. It runs under the dispatch lock and
// must not block or call back into the Monitor.
type Listener func(Update)

// Status is the snapshot served to dashboards.
type Status struct {
	State     stream.State `json:"state"`
	URL       string       `json:"url"`
	LastError string       `json:"last_error,omitempty"`
	Reconnect bool         `json:"reconnect"`
	aggregator.Snapshot
}

// Options configures a Monitor.
type Options struct {
	URL               string
	HandshakeTimeout  time.Duration
	Reconnect         bool
	ReconnectInterval time.Duration
	Dialer            *websocket.Dialer
	Metrics           *metrics.Metrics
}

// Monitor owns one aggregator and one stream connection for its lifetime.
type Monitor struct {
	opts    Options
	agg     *aggregator.Aggregator
	mgr     *stream.Manager
	metrics *metrics.Metrics
	log     logger.Module

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	lastErr   string
	unmounted bool

	dispatchMu sync.Mutex

	// connMu orders Connect, Disconnect and the reconnect loop's dial.
	connMu        sync.Mutex
	wantConnected atomic.Bool
	loopStarted   bool

	retry   chan struct{}
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Monitor. Nothing is dialed until Mount or Connect.
func New(opts Options) *Monitor {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 3 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		opts:      opts,
		agg:       aggregator.New(),
		metrics:   opts.Metrics,
		log:       logger.For("Monitor"),
		listeners: make(map[int]Listener),
		retry:     make(chan struct{}, 1),
		limiter:   rate.NewLimiter(rate.Every(opts.ReconnectInterval), 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	streamOpts := []stream.Option{
		stream.OnMessage(m.handleMessage),
		stream.OnStateChange(m.handleState),
	}
	// The dialer goes first so the handshake timeout applies to it.
	if opts.Dialer != nil {
		streamOpts = append(streamOpts, stream.WithDialer(opts.Dialer))
	}
	streamOpts = append(streamOpts, stream.WithHandshakeTimeout(opts.HandshakeTimeout))
	m.mgr = stream.New(opts.URL, streamOpts...)
	return m
}

// Mount opens the live stream. Calling it twice is harmless.
func (m *Monitor) Mount() error {
	m.mu.Lock()
	unmounted := m.unmounted
	m.mu.Unlock()
	if unmounted {
		return ErrUnmounted
	}

	m.log.Info("Mounted (stream=%s, reconnect=%v)", m.opts.URL, m.opts.Reconnect)
	return m.Connect()
}

// Unmount closes the stream and stops the reconnect loop. Once it returns no
// further event reaches the aggregator or any listener.
func (m *Monitor) Unmount() {
	m.mu.Lock()
	if m.unmounted {
		m.mu.Unlock()
		return
	}
	m.unmounted = true
	m.mu.Unlock()

	m.cancel()
	m.mgr.Close()
	m.wg.Wait()
	m.log.Info("Unmounted")
}

// Connect opens the stream if it is not already open or opening. With
// reconnect enabled the stream is reopened after drops until Disconnect.
func (m *Monitor) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if err := m.startReconnectLoop(); err != nil {
		return err
	}
	m.wantConnected.Store(true)
	if err := m.mgr.Connect(); err != nil {
		if errors.Is(err, stream.ErrClosed) {
			return ErrUnmounted
		}
		return err
	}
	return nil
}

// Disconnect closes the stream and cancels any pending reconnect. The
// monitor stays mounted.
func (m *Monitor) Disconnect() {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.wantConnected.Store(false)
	select {
	case <-m.retry:
	default:
	}
	m.mgr.Disconnect()
}

// startReconnectLoop launches the reconnect loop on first use. Caller holds connMu.
func (m *Monitor) startReconnectLoop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unmounted {
		return ErrUnmounted
	}
	if !m.opts.Reconnect || m.loopStarted {
		return nil
	}
	m.loopStarted = true
	m.wg.Add(1)
	go m.reconnectLoop()
	return nil
}

// Clear empties the log and rebases the processed counter.
func (m *Monitor) Clear() {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.agg.Clear()
	m.metrics.Clears.Add(1)
	m.metrics.DisplayedCount.Store(0)
	m.log.Info("Log cleared (offset=%d)", m.agg.Offset())

	m.publish(Update{Kind: KindClear, State: m.mgr.State()})
}

// State returns the connection state.
func (m *Monitor) State() stream.State {
	return m.mgr.State()
}

// URL returns the stream endpoint.
func (m *Monitor) URL() string {
	return m.mgr.URL()
}

// Snapshot copies the aggregator state; see aggregator.Snapshot for limit.
func (m *Monitor) Snapshot(limit int) aggregator.Snapshot {
	return m.agg.Snapshot(limit)
}

// Status combines the connection state with an aggregator snapshot.
func (m *Monitor) Status(limit int) Status {
	m.mu.Lock()
	lastErr := m.lastErr
	m.mu.Unlock()

	return Status{
		State:     m.mgr.State(),
		URL:       m.mgr.URL(),
		LastError: lastErr,
		Reconnect: m.opts.Reconnect,
		Snapshot:  m.agg.Snapshot(limit),
	}
}

// Subscribe registers l and returns a function removing it.
func (m *Monitor) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

func (m *Monitor) handleMessage(payload []byte) {
	m.metrics.MessagesReceived.Add(1)

	event, err := inspection.Decode(payload)
	switch {
	case errors.Is(err, inspection.ErrIgnored):
		m.metrics.MessagesIgnored.Add(1)
		m.log.Debug("Ignoring message: %v", err)
		return
	case err != nil:
		m.metrics.MessagesMalformed.Add(1)
		m.log.Warn("Dropping message: %v", err)
		return
	}

	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.agg.OnEvent(event)
	displayed := m.agg.DisplayedCount()

	m.metrics.EventsAccepted.Add(1)
	m.metrics.DisplayedCount.Store(uint64(displayed))
	if event.HasAlert {
		m.metrics.AlertEvents.Add(1)
		m.log.Warn("Alert on bottle %s (tap=%s, level=%s)", event.UnitID, event.Tap.Label, event.Level.Label)
	} else {
		m.log.Debug("Event %s bottle=%s status=%s processed=%d", event.ID, event.UnitID, event.Status, event.ProcessedCount)
	}

	m.publish(Update{Kind: KindEvent, Event: &event, State: stream.StateConnected})
}

func (m *Monitor) handleState(t stream.Transition) {
	m.metrics.StreamState.Store(uint64(t.To))
	switch {
	case t.To == stream.StateConnected:
		m.metrics.StreamConnects.Add(1)
	case t.To == stream.StateDisconnected && t.From == stream.StateConnected:
		m.metrics.StreamDisconnects.Add(1)
	}
	if t.Trigger == stream.TriggerError {
		m.metrics.StreamErrors.Add(1)
	}

	errText := ""
	if t.Err != nil {
		errText = t.Err.Error()
	}
	m.mu.Lock()
	if t.To == stream.StateConnected {
		m.lastErr = ""
	} else if errText != "" {
		m.lastErr = errText
	}
	m.mu.Unlock()

	m.dispatchMu.Lock()
	m.publish(Update{Kind: KindState, State: t.To, Trigger: t.Trigger, Error: errText})
	m.dispatchMu.Unlock()

	if t.To == stream.StateDisconnected && (t.Trigger == stream.TriggerClose || t.Trigger == stream.TriggerError) {
		m.scheduleReconnect()
	}
}

// publish fans u out to every listener. Caller holds dispatchMu.
func (m *Monitor) publish(u Update) {
	snap := m.agg.Snapshot(1)
	u.DisplayedCount = snap.DisplayedCount
	u.Total = snap.Total
	u.Timestamp = time.Now()

	m.mu.Lock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(u)
	}
}

func (m *Monitor) scheduleReconnect() {
	if !m.opts.Reconnect || !m.wantConnected.Load() {
		return
	}
	select {
	case m.retry <- struct{}{}:
	default:
	}
}

func (m *Monitor) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.retry:
		}

		if err := m.limiter.Wait(m.ctx); err != nil {
			return
		}
		if !m.redial() {
			return
		}
	}
}

// redial reopens the stream unless a Disconnect landed while the loop was
// waiting. It reports false once the stream is closed for good.
func (m *Monitor) redial() bool {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if !m.wantConnected.Load() {
		m.log.Debug("Reconnect cancelled by disconnect")
		return true
	}
	m.log.Info("Reconnecting to %s", m.opts.URL)
	if err := m.mgr.Connect(); err != nil {
		m.log.Debug("Reconnect skipped: %v", err)
		return !errors.Is(err, stream.ErrClosed)
	}
	return true
}
