package config

import "sync"

// ModeSwitch holds the process-wide offline toggle. It is the only piece of
// configuration that may change after startup; Set is its single writer.
type ModeSwitch struct {
	mu      sync.RWMutex
	offline bool
}

// NewModeSwitch returns a switch initialised to offline.
func NewModeSwitch(offline bool) *ModeSwitch {
	return &ModeSwitch{offline: offline}
}

// Offline reports whether content must be sourced without the network.
func (m *ModeSwitch) Offline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.offline
}

// Set changes the mode and returns the previous value.
func (m *ModeSwitch) Set(offline bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.offline
	m.offline = offline
	return prev
}

// Mode returns "offline" or "online".
func (m *ModeSwitch) Mode() string {
	if m.Offline() {
		return "offline"
	}
	return "online"
}
