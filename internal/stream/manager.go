// Package stream owns the single live websocket connection to the inspection
// producer and reports its lifecycle as an explicit state machine:
//
//	disconnected --connect--> connecting --open--> connected
//	connecting --error/manual--> disconnected
//	connected --close/error/manual--> disconnected
//
// Every connection attempt is a session. Messages and transitions are
// dispatched one at a time under a single delivery lock and only while their
// session is current, so once Disconnect or Close returns no handler runs for
// the old connection. Handlers must not call back into the Manager
// synchronously.
package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dj-oyu/bottle-monitor/internal/logger"
)

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("stream manager closed")

const closeWriteTimeout = time.Second

// MessageHandler receives raw inbound payloads in arrival order.
type MessageHandler func(payload []byte)

// StateHandler receives every state transition of the current session.
type StateHandler func(Transition)

// Option customises a Manager.
type Option func(*Manager)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithHandshakeTimeout bounds the opening handshake.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			d := *m.dialer
			d.HandshakeTimeout = timeout
			m.dialer = &d
		}
	}
}

// OnMessage installs the inbound message handler.
func OnMessage(h MessageHandler) Option {
	return func(m *Manager) { m.onMessage = h }
}

// OnStateChange installs the transition handler.
func OnStateChange(h StateHandler) Option {
	return func(m *Manager) { m.onState = h }
}

// Manager owns at most one websocket connection at a time.
type Manager struct {
	url       string
	dialer    *websocket.Dialer
	onMessage MessageHandler
	onState   StateHandler
	log       logger.Module

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	session    uint64
	cancelDial context.CancelFunc
	closed     bool

	deliverMu sync.Mutex
	wg        sync.WaitGroup
}

// New returns a disconnected Manager for the given ws:// or wss:// URL.
func New(url string, opts ...Option) *Manager {
	m := &Manager{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		log: logger.For("Stream"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// URL returns the configured endpoint.
func (m *Manager) URL() string {
	return m.url
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts a connection attempt and returns without waiting for it.
// It is a no-op while a connection is open or being opened.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.session++
	session := m.session
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	m.state = StateConnecting
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, session)
	return nil
}

// Disconnect closes the current connection or aborts a pending attempt.
// The state is disconnected when Disconnect returns. Idempotent.
func (m *Manager) Disconnect() {
	m.teardown(false)
}

// Close disconnects, refuses further Connect calls and waits for the
// connection goroutine to exit.
func (m *Manager) Close() {
	m.teardown(true)
	m.wg.Wait()
}

func (m *Manager) teardown(final bool) {
	m.mu.Lock()
	if final {
		m.closed = true
	}
	from := m.state
	conn := m.conn
	cancel := m.cancelDial
	if from == StateDisconnected && conn == nil {
		m.mu.Unlock()
		return
	}
	m.session++
	m.state = StateDisconnected
	m.conn = nil
	m.cancelDial = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		_ = conn.Close()
	}
	m.log.Info("Disconnected from %s", m.url)

	// Wait out an in-flight delivery; anything later sees a stale session.
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	if m.onState != nil {
		m.onState(Transition{From: from, To: StateDisconnected, Trigger: TriggerManual})
	}
}

func (m *Manager) run(ctx context.Context, session uint64) {
	defer m.wg.Done()

	m.notify(session, Transition{From: StateDisconnected, To: StateConnecting, Trigger: TriggerConnect})
	m.log.Info("Connecting to %s", m.url)

	conn, resp, err := m.dialer.DialContext(ctx, m.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if from, ok := m.settle(session, nil); ok {
			m.log.Warn("Connect to %s failed: %v", m.url, err)
			m.notify(session, Transition{From: from, To: StateDisconnected, Trigger: TriggerError, Err: err})
		}
		return
	}

	m.mu.Lock()
	if session != m.session {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.state = StateConnected
	m.mu.Unlock()

	m.log.Info("Connected to %s", m.url)
	m.notify(session, Transition{From: StateConnecting, To: StateConnected, Trigger: TriggerOpen})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			trigger := TriggerError
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				trigger = TriggerClose
			}
			if from, ok := m.settle(session, conn); ok {
				m.log.Warn("Connection to %s lost (%s): %v", m.url, trigger, err)
				m.notify(session, Transition{From: from, To: StateDisconnected, Trigger: trigger, Err: err})
			}
			return
		}
		m.deliver(session, payload)
	}
}

// settle moves a still-current session to disconnected. It reports false when
// the session has been superseded by teardown or a newer Connect.
func (m *Manager) settle(session uint64, conn *websocket.Conn) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session != m.session {
		return m.state, false
	}
	from := m.state
	m.state = StateDisconnected
	if m.conn == conn {
		m.conn = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	return from, true
}

func (m *Manager) current(session uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return session == m.session
}

func (m *Manager) deliver(session uint64, payload []byte) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	if !m.current(session) {
		return
	}
	if m.onMessage != nil {
		m.onMessage(payload)
	}
}

func (m *Manager) notify(session uint64, t Transition) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	if !m.current(session) {
		return
	}
	if m.onState != nil {
		m.onState(t)
	}
}
