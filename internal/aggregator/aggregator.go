// Package aggregator keeps the local inspection log and the "bottles processed
// since last clear" counter on top of the producer's global, monotonic counter.
//
// The producer has no reset API, so Clear absorbs the currently displayed count
// into a local offset. An event already in flight when Clear runs carries a
// processed count from before the clear; the next displayed value may then be
// off by the number of such events. The count is clamped at zero and is not
// reconciled further.
package aggregator

import (
	"sync"

	"github.com/dj-oyu/bottle-monitor/internal/inspection"
)

// Aggregator is safe for concurrent use. State transitions are serialized by
// its mutex; readers receive copies.
type Aggregator struct {
	mu        sync.RWMutex
	events    []inspection.Event // arrival order, oldest first
	offset    int
	displayed int
	pass      int
	fail      int
	alerts    int
}

// New returns an empty aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// Snapshot is a read-only copy of the aggregator state.
type Snapshot struct {
	Events         []inspection.Event `json:"events"` // newest first
	Total          int                `json:"total"`
	DisplayedCount int                `json:"bottles_processed"`
	Offset         int                `json:"offset"`
	PassCount      int                `json:"pass_count"`
	FailCount      int                `json:"fail_count"`
	AlertCount     int                `json:"alert_count"`
}

// OnEvent records e and recomputes the displayed count from its processed counter.
func (a *Aggregator) OnEvent(e inspection.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = append(a.events, e)
	a.displayed = max(0, e.ProcessedCount-a.offset)

	switch e.Status {
	case inspection.StatusPass:
		a.pass++
	case inspection.StatusFail:
		a.fail++
	}
	if e.HasAlert {
		a.alerts++
	}
}

// Clear empties the log and moves the displayed count into the offset.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = nil
	a.offset += a.displayed
	a.displayed = 0
	a.pass, a.fail, a.alerts = 0, 0, 0
}

// Len returns the number of events recorded since the last clear.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.events)
}

// DisplayedCount returns the processed count relative to the last clear.
func (a *Aggregator) DisplayedCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.displayed
}

// Offset returns the accumulated clear offset.
func (a *Aggregator) Offset() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.offset
}

// Snapshot copies the current state. At most limit events are returned,
// newest first; limit <= 0 returns the whole log.
func (a *Aggregator) Snapshot(limit int) Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := len(a.events)
	if limit > 0 && limit < n {
		n = limit
	}
	events := make([]inspection.Event, n)
	for i := range n {
		events[i] = a.events[len(a.events)-1-i]
	}

	return Snapshot{
		Events:         events,
		Total:          len(a.events),
		DisplayedCount: a.displayed,
		Offset:         a.offset,
		PassCount:      a.pass,
		FailCount:      a.fail,
		AlertCount:     a.alerts,
	}
}
