package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/sockchat/internal/bus"
)

// State represents a transport connection state.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Closing      State = "CLOSING"
	Disconnected State = "DISCONNECTED"
	// Exhausted is the terminal disconnected substate reached when automatic
	// reconnection gave up. Only a manual connect leaves it.
	Exhausted State = "EXHAUSTED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:         {Connecting},
	Connecting:   {Connected, Closing, Disconnected, Exhausted},
	Connected:    {Closing, Disconnected, Exhausted},
	Closing:      {Disconnected, Exhausted},
	Disconnected: {Connecting},
	Exhausted:    {Connecting},
}

// Machine tracks and enforces transport state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.PublishRetained(bus.Event{
			Kind:      bus.KindSocketState,
			Timestamp: time.Now(),
			Payload:   Change{From: from, To: to},
		})
	}
	return nil
}

// Change is the payload for state change events.
type Change struct {
	From State
	To   State
}
