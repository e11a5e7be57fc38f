package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Ryfis/geo-mini/internal/bus"
)

// State represents the lifecycle state of a change-feed connection.
type State string

const (
	Closed     State = "CLOSED"
	Connecting State = "CONNECTING"
	Connected  State = "CONNECTED"
	TimedOut   State = "TIMED_OUT"
	Error      State = "ERROR"
)

// validTransitions defines allowed state transitions. Error and TimedOut are
// terminal until a caller explicitly re-opens the feed; the machine itself
// never retries.
var validTransitions = map[State][]State{
	Closed:     {Connecting},
	Connecting: {Connected, TimedOut, Error, Closed},
	Connected:  {TimedOut, Error, Closed},
	TimedOut:   {Connecting, Closed},
	Error:      {Connecting, Closed},
}

// Machine tracks and enforces connection state transitions for one feed
// channel, publishing every transition on the bus.
type Machine struct {
	mu      sync.RWMutex
	channel string
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine for the named channel, starting Closed.
func NewMachine(channel string, b *bus.Bus) *Machine {
	return &Machine{
		channel: channel,
		current: Closed,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if the
// transition is invalid.
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
		m.bus.Publish(bus.Event{
			Kind:      bus.KindFeedStatus,
			Timestamp: time.Now(),
			Payload: bus.StatusChange{
				Channel: m.channel,
				From:    string(from),
				To:      string(to),
			},
		})
	}
	return nil
}
