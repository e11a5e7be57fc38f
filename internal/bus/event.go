package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Well-known event kinds. Producers publish under these namespaces and
// consumers subscribe by prefix; the bus itself does not interpret kinds.
const (
	// feed.* — normalized change-feed traffic from the backend.
	KindFeedEvent  = "feed.event"
	KindFeedStatus = "feed.status_changed"

	// chat.* — reconciled chat state, published by the sync engine.
	KindMessageUpserted = "chat.message_upserted"
	KindMessageDeleted  = "chat.message_deleted"
	KindScrollToLatest  = "chat.scroll_to_latest"
	KindNewMessageBadge = "chat.new_message_badge"

	// map.* — reconciled marker state.
	KindMarkerUpserted = "map.marker_upserted"
	KindMarkerDeleted  = "map.marker_deleted"

	// counter.* — recomputed derived counters.
	KindCounterUpdated = "counter.updated"
)

// StatusChange is the payload for feed.status_changed events.
type StatusChange struct {
	Channel string
	From    string
	To      string
}

// CounterUpdate is the payload for counter.updated events.
type CounterUpdate struct {
	Name  string
	Value int
}
