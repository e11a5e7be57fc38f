package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("feed.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindFeedStatus, Timestamp: time.Now(), Payload: StatusChange{Channel: "global", To: "CONNECTED"}})

	select {
	case evt := <-ch:
		if evt.Kind != KindFeedStatus {
			t.Errorf("got kind %q, want %q", evt.Kind, KindFeedStatus)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("counter.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageUpserted})
	b.Publish(Event{Kind: KindCounterUpdated, Payload: CounterUpdate{Name: "pending_requests", Value: 2}})

	select {
	case evt := <-ch:
		if evt.Kind != KindCounterUpdated {
			t.Errorf("got kind %q, want %q", evt.Kind, KindCounterUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the chat event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	unsub()

	b.Publish(Event{Kind: KindMessageUpserted})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("map.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: KindMarkerUpserted})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: KindMarkerDeleted})

	evt := <-ch
	if evt.Kind != KindMarkerUpserted {
		t.Errorf("got %q, want %q", evt.Kind, KindMarkerUpserted)
	}
}
