// Package backend contains the clients for the managed backend: row CRUD
// over logical tables, the realtime change feed, token auth, and object
// storage. It owns the normalized ChangeEvent that the sync engine consumes.
package backend

import (
	"errors"
	"time"
)

// Kind is the type of change a feed event describes.
type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

// ChangeEvent is one normalized change-feed notification. Payload holds a
// typed row pointer (e.g. *store.ChatMessage) decoded from the raw record;
// for deletes it is decoded from the old record.
type ChangeEvent struct {
	Kind       Kind
	EntityType string
	EntityID   string
	Payload    any
	ObservedAt time.Time
}

// Errors returned by the normalizer. Callers log and drop the frame; a bad
// payload must never take down the feed.
var (
	ErrUnknownTable    = errors.New("change event for unknown table")
	ErrMalformedRecord = errors.New("malformed change record")
)
