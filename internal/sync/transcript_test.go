package sync

import (
	"testing"
	"time"

	"github.com/Ryfis/geo-mini/internal/backend"
	"github.com/Ryfis/geo-mini/internal/store"
)

func msg(id string, createdAt int64, content string) *store.ChatMessage {
	return &store.ChatMessage{
		ID:         id,
		ParentType: store.ParentMessage,
		ParentID:   "p1",
		Content:    content,
		CreatedAt:  time.UnixMilli(createdAt),
	}
}

func insertEv(m *store.ChatMessage) backend.ChangeEvent {
	return backend.ChangeEvent{Kind: backend.KindInsert, EntityType: backend.TableChatMessages, EntityID: m.ID, Payload: m}
}

func updateEv(m *store.ChatMessage) backend.ChangeEvent {
	return backend.ChangeEvent{Kind: backend.KindUpdate, EntityType: backend.TableChatMessages, EntityID: m.ID, Payload: m}
}

func deleteEv(m *store.ChatMessage) backend.ChangeEvent {
	return backend.ChangeEvent{Kind: backend.KindDelete, EntityType: backend.TableChatMessages, EntityID: m.ID, Payload: m}
}

func TestInsertIdempotent(t *testing.T) {
	tr := NewTranscript(store.ParentMessage, "p1")

	tr.Fold(insertEv(msg("m1", 1000, "first")))
	tr.Fold(insertEv(msg("m1", 1000, "duplicate")))

	entries := tr.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Content != "first" {
		t.Errorf("content = %q, want the first-folded value", entries[0].Content)
	}
}

func TestInsertOrdersByCreationTime(t *testing.T) {
	tr := NewTranscript(store.ParentMessage, "p1")

	// Deliveries arrive out of creation order.
	tr.Fold(insertEv(msg("m3", 3000, "three")))
	tr.Fold(insertEv(msg("m1", 1000, "one")))
	tr.Fold(insertEv(msg("m2", 2000, "two")))

	entries := tr.Entries()
	want := []string{"m1", "m2", "m3"}
	for i, id := range want {
		if entries[i].ID != id {
			t.Fatalf("entry %d = %s, want %s", i, entries[i].ID, id)
		}
	}
}

func TestUpdateWithoutInsertIsNoOp(t *testing.T) {
	tr := NewTranscript(store.ParentMessage, "p1")
	tr.Fold(insertEv(msg("m1", 1000, "one")))

	tr.Fold(updateEv(msg("ghost", 500, "never inserted")))

	if tr.Len() != 1 {
		t.Fatalf("got %d entries, want 1 (no synthetic insert on update)", tr.Len())
	}
	if tr.Contains("ghost") {
		t.Error("update for an absent id was inserted")
	}
}

func TestUpdateReplacesInPlace(t *testing.T) {
	tr := NewTranscript(store.ParentMessage, "p1")
	tr.Fold(insertEv(msg("m1", 1000, "before")))
	tr.Fold(updateEv(msg("m1", 1000, "after")))

	entries := tr.Entries()
	if len(entries) != 1 || entries[0].Content != "after" {
		t.Fatalf("entries = %+v, want single m1 with content=after", entries)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	tr := NewTranscript(store.ParentMessage, "p1")
	tr.Fold(insertEv(msg("m1", 1000, "one")))
	tr.Fold(insertEv(msg("m2", 2000, "two")))

	tr.Fold(deleteEv(msg("m1", 1000, "")))
	tr.Fold(deleteEv(msg("m1", 1000, "")))
	tr.Fold(deleteEv(msg("absent", 0, "")))

	entries := tr.Entries()
	if len(entries) != 1 || entries[0].ID != "m2" {
		t.Fatalf("entries = %+v, want only m2", entries)
	}
}

func TestScopeIsolation(t *testing.T) {
	tr := NewTranscript(store.ParentGroup, "g9")

	other := msg("m1", 1000, "wrong chat")
	other.ParentType = store.ParentMessage
	other.ParentID = "p1"

	if eff := tr.Fold(insertEv(other)); eff != EffectNone {
		t.Fatalf("effect = %v, want none for out-of-scope event", eff)
	}
	if tr.Len() != 0 {
		t.Fatal("out-of-scope event mutated the transcript")
	}

	sameIDOtherScope := msg("m2", 2000, "also wrong")
	sameIDOtherScope.ParentID = "g9" // right id, wrong type
	sameIDOtherScope.ParentType = store.ParentMessage
	tr.Fold(insertEv(sameIDOtherScope))
	if tr.Len() != 0 {
		t.Fatal("matching parent_id with wrong parent_type mutated the transcript")
	}
}

func TestStickyBottomAutoscroll(t *testing.T) {
	tr := NewTranscript(store.ParentMessage, "p1")

	if eff := tr.Fold(insertEv(msg("m1", 1000, "one"))); eff != EffectScrollToLatest {
		t.Fatalf("effect = %v, want scroll-to-latest while at bottom", eff)
	}

	tr.SetAtBottom(false)
	if eff := tr.Fold(insertEv(msg("m2", 2000, "two"))); eff != EffectNewMessageBadge {
		t.Fatalf("effect = %v, want new-message badge while scrolled up", eff)
	}

	// A suppressed duplicate produces no effect at all.
	if eff := tr.Fold(insertEv(msg("m2", 2000, "two"))); eff != EffectNone {
		t.Fatalf("effect = %v, want none for a suppressed duplicate", eff)
	}
}

func TestReplaceSortsBulkLoad(t *testing.T) {
	tr := NewTranscript(store.ParentMessage, "p1")
	tr.Replace([]store.ChatMessage{
		*msg("m2", 2000, "two"),
		*msg("m1", 1000, "one"),
	})

	entries := tr.Entries()
	if entries[0].ID != "m1" || entries[1].ID != "m2" {
		t.Fatalf("entries = %+v, want creation order", entries)
	}
}

func TestAdjustCommentCount(t *testing.T) {
	tr := NewTranscript(store.ParentMessage, "p1")
	tr.Fold(insertEv(msg("m1", 1000, "one")))

	if !tr.AdjustCommentCount("m1", 1) {
		t.Fatal("adjust reported message absent")
	}
	tr.AdjustCommentCount("m1", -1)
	tr.AdjustCommentCount("m1", -1) // clamps at zero

	if got := tr.Entries()[0].CommentCount; got != 0 {
		t.Fatalf("comment count = %d, want 0", got)
	}
	if tr.AdjustCommentCount("absent", 1) {
		t.Fatal("adjust reported an absent message present")
	}
}
