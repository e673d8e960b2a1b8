package stream

import "fmt"

// State is the connection state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

var stateNames = map[State]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown stream state %q", text)
}

// Trigger names the cause of a state transition.
type Trigger string

const (
	TriggerConnect Trigger = "connect" // Connect called
	TriggerOpen    Trigger = "open"    // handshake completed
	TriggerClose   Trigger = "close"   // peer closed the connection
	TriggerError   Trigger = "error"   // dial or read failure
	TriggerManual  Trigger = "manual"  // Disconnect or Close called
)

// Transition describes one state change.
type Transition struct {
	From    State
	To      State
	Trigger Trigger
	Err     error
}
