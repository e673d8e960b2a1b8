package monitor

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dj-oyu/bottle-monitor/internal/metrics"
	"github.com/dj-oyu/bottle-monitor/internal/stream"
)

// feed is an in-process producer. Payloads written to send are forwarded to
// the currently connected client.
type feed struct {
	srv      *httptest.Server
	send     chan []byte
	accepted atomic.Int32
	// closeFirst makes the server close the first connection right after the handshake.
	closeFirst bool
}

func newFeed(t *testing.T, closeFirst bool) *feed {
	t.Helper()
	f := &feed{send: make(chan []byte, 64), closeFirst: closeFirst}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := f.accepted.Add(1)
		if f.closeFirst && n == 1 {
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for {
			select {
			case <-done:
				return
			case p := <-f.send:
				if err := conn.WriteMessage(websocket.TextMessage, p); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *feed) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
}

func result(id string, processed int, tap, level, status string) []byte {
	return []byte(fmt.Sprintf(`{"type":"analysis_result","data":{
		"id":%q,"bottle_id":"B-%s","timestamp":"2024-05-01T10:00:00Z",
		"tap":{"label":%q,"confidence":0.9,"image":""},
		"level":{"label":%q,"confidence":0.8,"image":""},
		"status":%q,"bottles_processed":%d,"has_alert":false}}`,
		id, id, tap, level, status, processed))
}

type collector struct {
	mu      sync.Mutex
	updates []Update
}

func (c *collector) listen(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *collector) count(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, u := range c.updates {
		if u.Kind == kind {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mount(t *testing.T, opts Options) (*Monitor, *collector) {
	t.Helper()
	m := New(opts)
	c := &collector{}
	m.Subscribe(c.listen)
	if err := m.Mount(); err != nil {
		t.Fatalf("mount: %v", err)
	}
	t.Cleanup(m.Unmount)
	waitFor(t, "connected", func() bool { return m.State() == stream.StateConnected })
	return m, c
}

func TestLiveEventsAreAggregated(t *testing.T) {
	f := newFeed(t, false)
	reg := metrics.New()
	m, c := mount(t, Options{URL: f.url(), Metrics: reg})

	f.send <- result("1", 1, "ok", "ok", "PASS")
	f.send <- result("2", 2, "tap_missing", "ok", "FAIL")
	f.send <- result("3", 3, "ok", "LOW", "FAIL")
	waitFor(t, "three events", func() bool { return m.Snapshot(0).Total == 3 })

	snap := m.Snapshot(0)
	if snap.DisplayedCount != 3 {
		t.Fatalf("displayed = %d, want 3", snap.DisplayedCount)
	}
	if snap.Events[0].ID != "3" || snap.Events[2].ID != "1" {
		t.Fatalf("log not newest-first: %+v", snap.Events)
	}
	if snap.AlertCount != 2 || snap.PassCount != 1 || snap.FailCount != 2 {
		t.Fatalf("tallies = %+v", snap)
	}
	if snap.Events[2].HasAlert {
		t.Fatalf("wire has_alert must not be trusted")
	}
	if got := c.count(KindEvent); got != 3 {
		t.Fatalf("event updates = %d, want 3", got)
	}
	if reg.EventsAccepted.Load() != 3 || reg.AlertEvents.Load() != 2 {
		t.Fatalf("metrics: events=%d alerts=%d", reg.EventsAccepted.Load(), reg.AlertEvents.Load())
	}
}

func TestIgnoredAndMalformedLeaveStateUnchanged(t *testing.T) {
	f := newFeed(t, false)
	reg := metrics.New()
	m, c := mount(t, Options{URL: f.url(), Metrics: reg})

	f.send <- result("1", 4, "ok", "ok", "PASS")
	waitFor(t, "first event", func() bool { return m.Snapshot(0).Total == 1 })

	f.send <- []byte(`{"type":"heartbeat","data":{}}`)
	f.send <- []byte(`not json`)
	f.send <- []byte(`{"type":"analysis_result","data":{"id":"x"}}`)
	waitFor(t, "drops counted", func() bool {
		return reg.MessagesIgnored.Load() == 1 && reg.MessagesMalformed.Load() == 2
	})

	snap := m.Snapshot(0)
	if snap.Total != 1 || snap.DisplayedCount != 4 {
		t.Fatalf("state changed by bad payloads: %+v", snap)
	}
	if m.State() != stream.StateConnected {
		t.Fatalf("connection dropped after bad payloads: %s", m.State())
	}
	if got := c.count(KindEvent); got != 1 {
		t.Fatalf("event updates = %d, want 1", got)
	}

	// The connection still carries valid events afterwards.
	f.send <- result("2", 5, "ok", "ok", "PASS")
	waitFor(t, "second event", func() bool { return m.Snapshot(0).Total == 2 })
}

func TestClearRebasesCounter(t *testing.T) {
	f := newFeed(t, false)
	m, c := mount(t, Options{URL: f.url()})

	for i := 1; i <= 5; i++ {
		f.send <- result(fmt.Sprint(i), i, "ok", "ok", "PASS")
	}
	waitFor(t, "five events", func() bool { return m.Snapshot(0).Total == 5 })

	m.Clear()
	snap := m.Snapshot(0)
	if snap.Total != 0 || snap.DisplayedCount != 0 || snap.Offset != 5 {
		t.Fatalf("after clear: %+v", snap)
	}
	if c.count(KindClear) != 1 {
		t.Fatalf("clear update not published")
	}

	for i := 6; i <= 8; i++ {
		f.send <- result(fmt.Sprint(i), i, "ok", "ok", "PASS")
	}
	waitFor(t, "three more events", func() bool { return m.Snapshot(0).Total == 3 })
	if got := m.Snapshot(0).DisplayedCount; got != 3 {
		t.Fatalf("displayed after clear = %d, want 3", got)
	}
}

func TestUnmountStopsMutation(t *testing.T) {
	f := newFeed(t, false)
	m := New(Options{URL: f.url()})
	var updates atomic.Int64
	m.Subscribe(func(Update) { updates.Add(1) })
	if err := m.Mount(); err != nil {
		t.Fatalf("mount: %v", err)
	}
	waitFor(t, "connected", func() bool { return m.State() == stream.StateConnected })

	stop := make(chan struct{})
	go func() {
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			case f.send <- result(fmt.Sprint(i), i, "ok", "ok", "PASS"):
			}
		}
	}()
	defer close(stop)
	waitFor(t, "events flowing", func() bool { return m.Snapshot(0).Total > 10 })

	m.Unmount()
	total := m.Snapshot(0).Total
	seen := updates.Load()
	time.Sleep(100 * time.Millisecond)

	if got := m.Snapshot(0).Total; got != total {
		t.Fatalf("aggregator mutated after unmount: %d -> %d", total, got)
	}
	if got := updates.Load(); got != seen {
		t.Fatalf("listeners called after unmount: %d -> %d", seen, got)
	}
	if err := m.Mount(); err != ErrUnmounted {
		t.Fatalf("Mount after Unmount = %v", err)
	}
}

func TestReconnectIsOptIn(t *testing.T) {
	t.Run("off by default", func(t *testing.T) {
		f := newFeed(t, true)
		m := New(Options{URL: f.url()})
		if err := m.Mount(); err != nil {
			t.Fatalf("mount: %v", err)
		}
		defer m.Unmount()

		waitFor(t, "first accept", func() bool { return f.accepted.Load() == 1 })
		waitFor(t, "disconnected", func() bool {
			st := m.Status(0)
			return st.State == stream.StateDisconnected && st.LastError != ""
		})
		time.Sleep(100 * time.Millisecond)
		if got := f.accepted.Load(); got != 1 {
			t.Fatalf("reconnected without opt-in: %d connections", got)
		}
	})

	t.Run("enabled", func(t *testing.T) {
		f := newFeed(t, true)
		m := New(Options{URL: f.url(), Reconnect: true, ReconnectInterval: 10 * time.Millisecond})
		if err := m.Mount(); err != nil {
			t.Fatalf("mount: %v", err)
		}
		defer m.Unmount()

		waitFor(t, "reconnect", func() bool {
			return f.accepted.Load() == 2 && m.State() == stream.StateConnected
		})
		if m.Status(0).LastError != "" {
			t.Fatalf("last error should clear on reconnect")
		}
	})
}

func TestManualDisconnectDoesNotReconnect(t *testing.T) {
	f := newFeed(t, false)
	m, c := mount(t, Options{URL: f.url(), Reconnect: true, ReconnectInterval: 10 * time.Millisecond})

	m.Disconnect()
	if m.State() != stream.StateDisconnected {
		t.Fatalf("state = %s", m.State())
	}
	time.Sleep(100 * time.Millisecond)
	if got := f.accepted.Load(); got != 1 {
		t.Fatalf("manual disconnect triggered reconnect: %d connections", got)
	}
	if c.count(KindState) < 3 {
		t.Fatalf("expected connecting, connected and disconnected updates")
	}

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "connected again", func() bool { return m.State() == stream.StateConnected })
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	f := newFeed(t, true)
	m := New(Options{URL: f.url(), Reconnect: true, ReconnectInterval: 300 * time.Millisecond})
	// Spend the burst token so the retry after the drop has to wait.
	m.limiter.Allow()
	if err := m.Mount(); err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer m.Unmount()

	waitFor(t, "drop", func() bool {
		st := m.Status(0)
		return f.accepted.Load() == 1 && st.State == stream.StateDisconnected && st.LastError != ""
	})
	m.Disconnect()

	time.Sleep(700 * time.Millisecond)
	if got := f.accepted.Load(); got != 1 {
		t.Fatalf("reconnected after manual disconnect: %d connections", got)
	}
	if m.State() != stream.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", m.State())
	}

	// A later Connect re-arms reconnects.
	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "connected again", func() bool {
		return f.accepted.Load() == 2 && m.State() == stream.StateConnected
	})
}

func TestReconnectWithoutMount(t *testing.T) {
	f := newFeed(t, true)
	m := New(Options{URL: f.url(), Reconnect: true, ReconnectInterval: 10 * time.Millisecond})
	defer m.Unmount()

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "reconnect", func() bool {
		return f.accepted.Load() == 2 && m.State() == stream.StateConnected
	})
}

func TestDialerKeepsHandshakeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	m := New(Options{
		URL:              "ws" + strings.TrimPrefix(srv.URL, "http"),
		Dialer:           &websocket.Dialer{HandshakeTimeout: time.Minute},
		HandshakeTimeout: 100 * time.Millisecond,
	})
	defer m.Unmount()

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "handshake timeout", func() bool {
		st := m.Status(0)
		return st.State == stream.StateDisconnected && st.LastError != ""
	})
}
