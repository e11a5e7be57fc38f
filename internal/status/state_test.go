package status

import (
	"testing"

	"github.com/Ryfis/geo-mini/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine("global", nil)
	if m.Current() != Closed {
		t.Errorf("initial state = %s, want CLOSED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Closed, Connecting},
		{Connecting, Connected},
		{Connecting, TimedOut},
		{Connecting, Error},
		{Connected, Error},
		{Connected, Closed},
		{TimedOut, Connecting},
		{Error, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine("global", nil)
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
	m := NewMachine("global", nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(CLOSED -> CONNECTED) should fail; must go through CONNECTING")
	}
}

// TestNoAutomaticRecovery verifies that Error and TimedOut are terminal until
// a caller drives a new Connecting transition — the machine never moves on
// its own, matching the no-auto-reconnect contract of the feed.
func TestNoAutomaticRecovery(t *testing.T) {
	m := NewMachine("global", nil)
	walkTo(t, m, Error)

	if m.Current() != Error {
		t.Fatalf("state = %s, want ERROR", m.Current())
	}
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(ERROR -> CONNECTED) should fail")
	}
	if err := m.Transition(Connecting); err != nil {
		t.Errorf("ERROR -> CONNECTING (caller-driven re-open): %v", err)
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("feed.", 10)
	defer unsub()

	m := NewMachine("messages:watch", b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindFeedStatus {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindFeedStatus)
	}
	change, ok := evt.Payload.(bus.StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want bus.StatusChange", evt.Payload)
	}
	if change.Channel != "messages:watch" || change.From != string(Closed) || change.To != string(Connecting) {
		t.Errorf("change = %+v, want messages:watch CLOSED -> CONNECTING", change)
	}
}

// TestConnectLifecycle simulates a full connect, drop, and caller-driven
// re-open: CLOSED → CONNECTING → CONNECTED → TIMED_OUT → CONNECTING → CONNECTED.
func TestConnectLifecycle(t *testing.T) {
	m := NewMachine("global", nil)

	steps := []State{Connecting, Connected, TimedOut, Connecting, Connected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Connected {
		t.Errorf("final state = %s, want CONNECTED", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Closed:     {},
		Connecting: {Connecting},
		Connected:  {Connecting, Connected},
		TimedOut:   {Connecting, TimedOut},
		Error:      {Connecting, Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
