package sync

import (
	"context"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ryfis/geo-mini/internal/backend"
	"github.com/Ryfis/geo-mini/internal/bus"
)

// Counter names published in counter.updated events.
const (
	CounterUnreadMessages  = "unread_messages"
	CounterPendingRequests = "pending_requests"
)

// CountSource answers exact aggregate counts against server-side state.
type CountSource interface {
	CountUnreadMessages(ctx context.Context) (int, error)
	CountPendingRequests(ctx context.Context) (int, error)
}

// BackendCounts implements CountSource with head-only count queries.
type BackendCounts struct {
	Client *backend.Client
	UserID string
}

func (b *BackendCounts) CountUnreadMessages(ctx context.Context) (int, error) {
	q := backend.NewQuery().Eq("receiver_id", b.UserID).Eq("read", "false")
	return b.Client.Count(ctx, backend.TablePrivateMessages, q)
}

func (b *BackendCounts) CountPendingRequests(ctx context.Context) (int, error) {
	q := backend.NewQuery().Eq("friend_id", b.UserID).Eq("status", "pending")
	return b.Client.Count(ctx, backend.TableFriendships, q)
}

// Recounter keeps derived counters exact by recomputing them wholesale.
// Counters are never adjusted incrementally from individual events: any
// change on a watched table triggers a full recount, so missed or
// out-of-order deliveries cannot make the displayed number drift.
type Recounter struct {
	src    CountSource
	bus    *bus.Bus
	logger *zap.Logger

	mu     gosync.Mutex
	values map[string]int
}

// NewRecounter creates a recounter publishing on b.
func NewRecounter(src CountSource, b *bus.Bus, logger *zap.Logger) *Recounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recounter{
		src:    src,
		bus:    b,
		logger: logger,
		values: make(map[string]int),
	}
}

// RecountUnread recomputes the unread private-message count and publishes it.
func (r *Recounter) RecountUnread(ctx context.Context) error {
	n, err := r.src.CountUnreadMessages(ctx)
	if err != nil {
		return err
	}
	r.publish(CounterUnreadMessages, n)
	return nil
}

// RecountPending recomputes the pending friend-request count and publishes it.
func (r *Recounter) RecountPending(ctx context.Context) error {
	n, err := r.src.CountPendingRequests(ctx)
	if err != nil {
		return err
	}
	r.publish(CounterPendingRequests, n)
	return nil
}

// Value returns the last published value for a counter name.
func (r *Recounter) Value(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[name]
}

func (r *Recounter) publish(name string, value int) {
	r.mu.Lock()
	r.values[name] = value
	r.mu.Unlock()

	r.bus.Publish(bus.Event{
		Kind:      bus.KindCounterUpdated,
		Timestamp: time.Now(),
		Payload:   bus.CounterUpdate{Name: name, Value: value},
	})
}
