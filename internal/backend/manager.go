package backend

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ryfis/geo-mini/internal/bus"
	"github.com/Ryfis/geo-mini/internal/status"
)

// Dialer opens one change-feed channel. Satisfied by *Feed; faked in tests.
type Dialer interface {
	Dial(ctx context.Context, channelKey string, tables []string, onEvent func(ChangeEvent), onState func(status.State)) (io.Closer, error)
}

// Manager owns the live change-feed channels. Opening an already-open
// channel key reuses the existing subscription instead of creating a second
// network connection; channels are reference-counted and torn down when the
// last handle closes. The manager never reconnects a failed channel —
// recovery is the caller's decision.
type Manager struct {
	mu       sync.Mutex
	dialer   Dialer
	bus      *bus.Bus
	logger   *zap.Logger
	channels map[string]*feedChannel
}

type feedChannel struct {
	key     string
	refs    int
	conn    io.Closer
	machine *status.Machine
}

// NewManager creates a subscription manager over the given dialer.
func NewManager(dialer Dialer, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		dialer:   dialer,
		bus:      b,
		logger:   logger,
		channels: make(map[string]*feedChannel),
	}
}

// Handle is one logical interest in a channel. Close is idempotent; the
// underlying subscription is released when every handle has closed.
type Handle struct {
	m    *Manager
	key  string
	once sync.Once
}

// Close releases this handle's interest in the channel.
func (h *Handle) Close() {
	h.once.Do(func() { h.m.release(h.key) })
}

// Open joins the channel identified by key, subscribing to change events on
// the given tables, and publishes every event and state transition on the
// bus. Idempotent per key: a live channel is reused and the table filters of
// the first open win.
func (m *Manager) Open(ctx context.Context, key string, tables []string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.channels[key]; ok {
		ch.refs++
		return &Handle{m: m, key: key}, nil
	}

	machine := status.NewMachine(key, m.bus)
	if err := machine.Transition(status.Connecting); err != nil {
		return nil, err
	}

	onEvent := func(evt ChangeEvent) {
		m.bus.Publish(bus.Event{Kind: bus.KindFeedEvent, Timestamp: time.Now(), Payload: evt})
	}
	onState := func(s status.State) {
		if err := machine.Transition(s); err != nil {
			m.logger.Debug("feed state transition rejected", zap.String("channel", key), zap.Error(err))
		}
	}

	conn, err := m.dialer.Dial(ctx, key, tables, onEvent, onState)
	if err != nil {
		if errors.Is(err, ErrJoinTimeout) {
			_ = machine.Transition(status.TimedOut)
		} else {
			_ = machine.Transition(status.Error)
		}
		return nil, err
	}
	if err := machine.Transition(status.Connected); err != nil {
		// The transport already reported a terminal state during the join.
		_ = conn.Close()
		return nil, err
	}

	m.channels[key] = &feedChannel{key: key, refs: 1, conn: conn, machine: machine}
	m.logger.Info("feed channel opened", zap.String("channel", key), zap.Strings("tables", tables))
	return &Handle{m: m, key: key}, nil
}

// State reports the connection state of a channel, or Closed if unknown.
func (m *Manager) State(key string) status.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[key]; ok {
		return ch.machine.Current()
	}
	return status.Closed
}

// States reports the connection state of every live channel.
func (m *Manager) States() map[string]status.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]status.State, len(m.channels))
	for key, ch := range m.channels {
		out[key] = ch.machine.Current()
	}
	return out
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[key]
	if !ok {
		return
	}
	ch.refs--
	if ch.refs > 0 {
		return
	}
	delete(m.channels, key)
	_ = ch.conn.Close()
	// The transport may have already reported a terminal state.
	if err := ch.machine.Transition(status.Closed); err == nil {
		m.logger.Info("feed channel closed", zap.String("channel", key))
	}
}

// CloseAll force-releases every channel regardless of refcounts. Used during
// daemon shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	channels := make([]*feedChannel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.channels = make(map[string]*feedChannel)
	m.mu.Unlock()

	for _, ch := range channels {
		_ = ch.conn.Close()
		_ = ch.machine.Transition(status.Closed)
	}
}
