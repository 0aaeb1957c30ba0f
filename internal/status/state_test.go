package status

import (
	"errors"
	"testing"
	"time"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Connecting},
		{Idle, Closed},
		{Connecting, Live},
		{Connecting, Degraded},
		{Live, Reconnecting},
		{Live, Degraded},
		{Live, Closed},
		{Reconnecting, Connecting},
		{Degraded, Connecting},
		{Degraded, Closed},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	err := m.Transition(Live)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Transition(IDLE -> LIVE) error = %v, want ErrInvalidTransition", err)
	}
	if m.Current() != Idle {
		t.Errorf("state = %s, want IDLE", m.Current())
	}
}

func TestSinceMovesOnTransition(t *testing.T) {
	m := NewMachine(nil)
	start := m.Since()
	m.now = func() time.Time { return start.Add(time.Minute) }
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if got := m.Since(); !got.Equal(start.Add(time.Minute)) {
		t.Errorf("Since() = %v, want %v", got, start.Add(time.Minute))
	}
}

// TestClosedIsTerminal verifies that nothing leaves CLOSED, so a closed push
// channel can never be revived by a late reconnect attempt.
func TestClosedIsTerminal(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Closed)
	for _, to := range []State{Idle, Connecting, Live, Reconnecting, Degraded} {
		if err := m.Transition(to); err == nil {
			t.Errorf("Transition(CLOSED -> %s) should fail", to)
		}
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("transport.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.TransportStatus {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.TransportStatus)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Idle || change.To != Connecting {
		t.Errorf("change = %v -> %v, want IDLE -> CONNECTING", change.From, change.To)
	}
	if change.At.IsZero() {
		t.Error("change.At should be set")
	}
}

// TestDropReconnectCycle walks the push channel through a drop, a failed
// reconnect and a successful one:
// LIVE → RECONNECTING → CONNECTING → DEGRADED → CONNECTING → LIVE
func TestDropReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Live)

	steps := []State{Reconnecting, Connecting, Degraded, Connecting, Live}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Live {
		t.Errorf("final state = %s, want LIVE", m.Current())
	}
}

// TestReconnectingMustDialFirst verifies RECONNECTING cannot jump straight to
// LIVE without passing through CONNECTING.
func TestReconnectingMustDialFirst(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Reconnecting)
	if err := m.Transition(Live); err == nil {
		t.Fatal("Transition(RECONNECTING -> LIVE) should fail")
	}
	if m.Current() != Reconnecting {
		t.Errorf("state = %s, want RECONNECTING", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:         {},
		Connecting:   {Connecting},
		Live:         {Connecting, Live},
		Reconnecting: {Connecting, Live, Reconnecting},
		Degraded:     {Connecting, Degraded},
		Closed:       {Closed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
