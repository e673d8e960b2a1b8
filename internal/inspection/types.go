// Package inspection turns raw stream payloads into typed bottle inspection events
// and derives the alert flag from the sub-check labels.
package inspection

import "time"

// Status is the overall verdict of an inspection.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// Valid reports whether s is one of the known verdicts.
func (s Status) Valid() bool {
	return s == StatusPass || s == StatusFail
}

// SubCheck holds the result of one partial evaluation (tap or level).
type SubCheck struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Image      string  `json:"image"`
}

// Alerting reports whether the sub-check label belongs to the alert vocabulary.
func (c SubCheck) Alerting() bool {
	return IsAlerting(c.Label)
}

// Event is one completed inspection of a physical bottle.
//
// HasAlert is always computed locally by Decode; it is never taken from the wire.
type Event struct {
	ID             string   `json:"id"`
	UnitID         string   `json:"bottle_id"`
	Timestamp      string   `json:"timestamp"`
	Tap            SubCheck `json:"tap"`
	Level          SubCheck `json:"level"`
	Status         Status   `json:"status"`
	ProcessedCount int      `json:"bottles_processed"`
	HasAlert       bool     `json:"has_alert"`
}

// Time parses the producer timestamp. The zero time is returned when the
// timestamp is not ISO-8601.
func (e Event) Time() time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, e.Timestamp); err == nil {
			return t
		}
	}
	return time.Time{}
}
