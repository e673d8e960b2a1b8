package inference

import (
	"context"
	"sync"
)

// PowerState is the last known power state of the inspection line.
type PowerState struct {
	On      bool `json:"is_on"`
	Loading bool `json:"loading"`
}

// SystemControl tracks the line power state. Failed requests leave the state
// unchanged and are only logged; callers get no error.
type SystemControl struct {
	client *Client

	opMu    sync.Mutex // one request at a time
	mu      sync.RWMutex
	on      bool
	loading bool
}

// NewSystemControl starts in the off state.
func NewSystemControl(c *Client) *SystemControl {
	return &SystemControl{client: c}
}

// State returns the current power state.
func (s *SystemControl) State() PowerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return PowerState{On: s.on, Loading: s.loading}
}

// TurnOn requests power on.
func (s *SystemControl) TurnOn(ctx context.Context) PowerState {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.set(ctx, true)
}

// TurnOff requests power off.
func (s *SystemControl) TurnOff(ctx context.Context) PowerState {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.set(ctx, false)
}

// Toggle requests the opposite of the current state.
func (s *SystemControl) Toggle(ctx context.Context) PowerState {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.set(ctx, !s.State().On)
}

func (s *SystemControl) set(ctx context.Context, on bool) PowerState {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	err := s.client.SetPower(ctx, on)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.client.log.Warn("Power %s failed: %v", onOff(on), err)
	} else {
		s.on = on
		s.client.log.Info("System powered %s", onOff(on))
	}
	return PowerState{On: s.on, Loading: s.loading}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
