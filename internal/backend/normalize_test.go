package backend

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Ryfis/geo-mini/internal/store"
)

func TestNormalizeInsertChatMessage(t *testing.T) {
	raw := changeRecord{
		Type:   "INSERT",
		Table:  "chat_messages",
		Schema: "public",
		Record: json.RawMessage(`{
			"id": "m1",
			"parent_type": "message",
			"parent_id": "p1",
			"content": "hi",
			"created_at": "2024-05-01T10:00:00Z",
			"created_by": "u1"
		}`),
	}

	now := time.Now()
	evt, err := Normalize(raw, now)
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != KindInsert || evt.EntityType != "chat_messages" || evt.EntityID != "m1" {
		t.Errorf("event = %+v, want INSERT chat_messages m1", evt)
	}
	if !evt.ObservedAt.Equal(now) {
		t.Errorf("observedAt = %v, want %v", evt.ObservedAt, now)
	}
	msg, ok := evt.Payload.(*store.ChatMessage)
	if !ok {
		t.Fatalf("payload type = %T, want *store.ChatMessage", evt.Payload)
	}
	if msg.Content != "hi" || msg.ParentType != store.ParentMessage || msg.ParentID != "p1" {
		t.Errorf("payload = %+v", msg)
	}
}

func TestNormalizeDeleteUsesOldRecord(t *testing.T) {
	raw := changeRecord{
		Type:      "DELETE",
		Table:     "chat_messages",
		OldRecord: json.RawMessage(`{"id": "m9", "parent_type": "group", "parent_id": "g1"}`),
	}

	evt, err := Normalize(raw, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != KindDelete || evt.EntityID != "m9" {
		t.Errorf("event = %+v, want DELETE m9", evt)
	}
}

func TestNormalizePostTables(t *testing.T) {
	for table, wantType := range map[string]store.ParentType{
		"messages": store.ParentMessage,
		"groups":   store.ParentGroup,
	} {
		raw := changeRecord{
			Type:   "UPDATE",
			Table:  table,
			Record: json.RawMessage(`{"id": "p1", "title": "Spot", "latitude": 37.7, "longitude": -122.4}`),
		}
		evt, err := Normalize(raw, time.Now())
		if err != nil {
			t.Fatalf("%s: %v", table, err)
		}
		post, ok := evt.Payload.(*store.Post)
		if !ok {
			t.Fatalf("%s: payload type = %T, want *store.Post", table, evt.Payload)
		}
		if post.Type != wantType {
			t.Errorf("%s: post type = %q, want %q", table, post.Type, wantType)
		}
	}
}

func TestNormalizeFriendship(t *testing.T) {
	raw := changeRecord{
		Type:   "INSERT",
		Table:  "friendships",
		Record: json.RawMessage(`{"id": "f1", "user_id": "u1", "friend_id": "u2", "status": "pending"}`),
	}
	evt, err := Normalize(raw, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	f, ok := evt.Payload.(*store.Friendship)
	if !ok || f.Status != "pending" {
		t.Errorf("payload = %+v (%T)", evt.Payload, evt.Payload)
	}
}

func TestNormalizeRejectsUnknownTable(t *testing.T) {
	raw := changeRecord{
		Type:   "INSERT",
		Table:  "audit_log",
		Record: json.RawMessage(`{"id": "x"}`),
	}
	_, err := Normalize(raw, time.Now())
	if !errors.Is(err, ErrUnknownTable) {
		t.Errorf("err = %v, want ErrUnknownTable", err)
	}
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  changeRecord
	}{
		{"bad event type", changeRecord{Type: "TRUNCATE", Table: "chat_messages", Record: json.RawMessage(`{"id":"m"}`)}},
		{"missing record", changeRecord{Type: "INSERT", Table: "chat_messages"}},
		{"undecodable record", changeRecord{Type: "INSERT", Table: "chat_messages", Record: json.RawMessage(`{"id": 42`)}},
		{"row without id", changeRecord{Type: "INSERT", Table: "chat_messages", Record: json.RawMessage(`{"content":"hi"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Normalize(tt.raw, time.Now()); !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("err = %v, want ErrMalformedRecord", err)
			}
		})
	}
}
