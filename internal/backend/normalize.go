package backend

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ryfis/geo-mini/internal/store"
)

// Logical tables the normalizer accepts. Anything else is rejected at this
// boundary rather than trusted downstream.
const (
	TableMessages           = "messages"
	TableGroups             = "groups"
	TableChatMessages       = "chat_messages"
	TablePostComments       = "post_comments"
	TableFriendships        = "friendships"
	TablePrivateMessages    = "private_messages"
	TableProfiles           = "profiles"
	TableSavedLocations     = "saved_locations"
	TableMessageAttachments = "message_attachments"
	TablePostAttachments    = "post_attachments"
)

// changeRecord is the provider's raw change payload: event type, table, the
// new row, and (for updates/deletes) the previous row.
type changeRecord struct {
	Type      string          `json:"type"`
	Table     string          `json:"table"`
	Schema    string          `json:"schema"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
}

// Normalize converts a raw change payload into a typed ChangeEvent. Pure:
// no side effects, no network. Unknown tables and undecodable records are
// rejected with a typed error so the caller can log and drop the frame.
func Normalize(raw changeRecord, observedAt time.Time) (ChangeEvent, error) {
	var kind Kind
	switch raw.Type {
	case "INSERT":
		kind = KindInsert
	case "UPDATE":
		kind = KindUpdate
	case "DELETE":
		kind = KindDelete
	default:
		return ChangeEvent{}, fmt.Errorf("%w: event type %q", ErrMalformedRecord, raw.Type)
	}

	// Deletes carry only the previous row.
	record := raw.Record
	if kind == KindDelete {
		record = raw.OldRecord
	}
	if len(record) == 0 {
		return ChangeEvent{}, fmt.Errorf("%w: %s on %s without record", ErrMalformedRecord, raw.Type, raw.Table)
	}

	payload, id, err := decodeRow(raw.Table, record)
	if err != nil {
		return ChangeEvent{}, err
	}
	if id == "" {
		return ChangeEvent{}, fmt.Errorf("%w: %s row without id", ErrMalformedRecord, raw.Table)
	}

	return ChangeEvent{
		Kind:       kind,
		EntityType: raw.Table,
		EntityID:   id,
		Payload:    payload,
		ObservedAt: observedAt,
	}, nil
}

func decodeRow(table string, record json.RawMessage) (any, string, error) {
	switch table {
	case TableMessages, TableGroups:
		var p store.Post
		if err := json.Unmarshal(record, &p); err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrMalformedRecord, table, err)
		}
		p.Type = store.ParentMessage
		if table == TableGroups {
			p.Type = store.ParentGroup
		}
		return &p, p.ID, nil
	case TableChatMessages:
		var m store.ChatMessage
		if err := json.Unmarshal(record, &m); err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrMalformedRecord, table, err)
		}
		return &m, m.ID, nil
	case TablePostComments:
		var c store.PostComment
		if err := json.Unmarshal(record, &c); err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrMalformedRecord, table, err)
		}
		return &c, c.ID, nil
	case TableFriendships:
		var f store.Friendship
		if err := json.Unmarshal(record, &f); err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrMalformedRecord, table, err)
		}
		return &f, f.ID, nil
	case TablePrivateMessages:
		var pm store.PrivateMessage
		if err := json.Unmarshal(record, &pm); err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrMalformedRecord, table, err)
		}
		return &pm, pm.ID, nil
	case TableProfiles:
		var p store.Profile
		if err := json.Unmarshal(record, &p); err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrMalformedRecord, table, err)
		}
		return &p, p.ID, nil
	case TableSavedLocations:
		var l store.SavedLocation
		if err := json.Unmarshal(record, &l); err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrMalformedRecord, table, err)
		}
		return &l, l.ID, nil
	case TableMessageAttachments:
		var a store.MessageAttachment
		if err := json.Unmarshal(record, &a); err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrMalformedRecord, table, err)
		}
		return &a, a.ID, nil
	case TablePostAttachments:
		var a store.PostAttachment
		if err := json.Unmarshal(record, &a); err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrMalformedRecord, table, err)
		}
		return &a, a.ID, nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
}
