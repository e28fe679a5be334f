package status

import (
	"testing"

	"github.com/matheus3301/sockchat/internal/bus"
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
		{Connecting, Connected},
		{Connecting, Disconnected},
		{Connecting, Exhausted},
		{Connecting, Closing},
		{Connected, Closing},
		{Connected, Disconnected},
		{Connected, Exhausted},
		{Closing, Disconnected},
		{Closing, Exhausted},
		{Disconnected, Connecting},
		{Exhausted, Connecting},
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
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Connected},
		{Connected, Connecting},
		{Exhausted, Connected},
		{Disconnected, Exhausted},
		{Closing, Connected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want %s (unchanged)", m.Current(), tt.from)
			}
		})
	}
}

func TestTransitionEmitsRetainedEvent(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	// Subscribing after the transition still sees it.
	ch, unsub := b.Subscribe("socket.", 10)
	defer unsub()

	evt := <-ch
	if evt.Kind != bus.KindSocketState {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindSocketState)
	}
	change, ok := evt.Payload.(Change)
	if !ok {
		t.Fatalf("payload type = %T, want Change", evt.Payload)
	}
	if change.From != Idle || change.To != Connecting {
		t.Errorf("change = %v -> %v, want IDLE -> CONNECTING", change.From, change.To)
	}
}

// TestReconnectCycle walks a dropped connection back to CONNECTED:
// CONNECTED → DISCONNECTED → CONNECTING → CONNECTED
func TestReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	for _, s := range []State{Disconnected, Connecting, Connected} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// TestExhaustedOnlyLeftByConnecting verifies EXHAUSTED is terminal except
// for a new connect attempt.
func TestExhaustedOnlyLeftByConnecting(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Exhausted)

	for _, s := range []State{Idle, Connected, Closing, Disconnected} {
		if err := m.Transition(s); err == nil {
			t.Errorf("EXHAUSTED -> %s should fail", s)
		}
	}
	if err := m.Transition(Connecting); err != nil {
		t.Errorf("EXHAUSTED -> CONNECTING: %v", err)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:         {},
		Connecting:   {Connecting},
		Connected:    {Connecting, Connected},
		Closing:      {Connecting, Connected, Closing},
		Disconnected: {Connecting, Disconnected},
		Exhausted:    {Connecting, Exhausted},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
