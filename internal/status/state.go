package status

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/bus"
)

// State represents the push channel connection state.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Live         State = "LIVE"
	Reconnecting State = "RECONNECTING"
	// Degraded means the push channel is down and only polling keeps the
	// store fresh. It is a normal operating state.
	Degraded State = "DEGRADED"
	Closed   State = "CLOSED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:         {Connecting, Closed},
	Connecting:   {Live, Degraded, Closed},
	Live:         {Reconnecting, Degraded, Closed},
	Reconnecting: {Connecting, Closed},
	Degraded:     {Connecting, Closed},
	Closed:       {},
}

// ErrInvalidTransition is returned for a transition the table forbids.
var ErrInvalidTransition = errors.New("invalid state transition")

// Machine tracks the push channel state and publishes every change as
// bus.TransportStatus.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
	now     func() time.Time
}

// NewMachine returns a machine in Idle. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	m := &Machine{current: Idle, bus: b, now: time.Now}
	m.since = m.now()
	return m
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transition moves to the given state. A forbidden move leaves the state
// unchanged and returns ErrInvalidTransition.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	at := m.now()
	m.current, m.since = to, at
	m.mu.Unlock()

	m.bus.Emit(bus.TransportStatus, StatusChange{From: from, To: to, At: at})
	return nil
}

// StatusChange is the payload of bus.TransportStatus.
type StatusChange struct {
	From State
	To   State
	At   time.Time
}
