package inspection

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dj-oyu/bottle-monitor/pkg/types"
)

var (
	// ErrMalformed is returned for payloads that cannot be turned into an Event.
	ErrMalformed = errors.New("malformed inspection message")
	// ErrIgnored is returned for well-formed envelopes of a type this decoder does not handle.
	ErrIgnored = errors.New("message type ignored")
)

// Decode parses a raw stream payload into an Event.
//
// Envelopes with a type other than analysis_result yield ErrIgnored. Anything
// that fails to parse, or lacks a sub-check or a valid status, yields an error
// wrapping ErrMalformed.
func Decode(payload []byte) (Event, error) {
	var env types.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type != types.MessageTypeAnalysisResult {
		return Event{}, fmt.Errorf("%w: %q", ErrIgnored, env.Type)
	}
	if len(env.Data) == 0 {
		return Event{}, fmt.Errorf("%w: missing data", ErrMalformed)
	}

	var data types.AnalysisResult
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return Event{}, fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	return fromWire(data)
}

func fromWire(data types.AnalysisResult) (Event, error) {
	if data.Tap == nil || data.Level == nil {
		return Event{}, fmt.Errorf("%w: missing sub-check", ErrMalformed)
	}
	status := Status(data.Status)
	if !status.Valid() {
		return Event{}, fmt.Errorf("%w: unknown status %q", ErrMalformed, data.Status)
	}

	tap := SubCheck(*data.Tap)
	level := SubCheck(*data.Level)
	return Event{
		ID:             data.ID,
		UnitID:         data.BottleID,
		Timestamp:      data.Timestamp,
		Tap:            tap,
		Level:          level,
		Status:         status,
		ProcessedCount: data.BottlesProcessed,
		HasAlert:       HasAlert(tap, level),
	}, nil
}

// Encode renders e in the wire envelope shape. The local alert flag is not
// part of the wire contract and is omitted.
func Encode(e Event) ([]byte, error) {
	tap := types.SubCheck(e.Tap)
	level := types.SubCheck(e.Level)
	data, err := json.Marshal(types.AnalysisResult{
		ID:               e.ID,
		BottleID:         e.UnitID,
		Timestamp:        e.Timestamp,
		Tap:              &tap,
		Level:            &level,
		Status:           string(e.Status),
		BottlesProcessed: e.ProcessedCount,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(types.Envelope{Type: types.MessageTypeAnalysisResult, Data: data})
}
