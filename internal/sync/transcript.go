// Package sync folds normalized change events into visible application
// state: chat transcripts, the map marker set, and derived counters. It
// subscribes to "feed." events on the bus and mirrors reconciled rows into
// the local store.
package sync

import (
	"sort"
	gosync "sync"

	"github.com/Ryfis/geo-mini/internal/backend"
	"github.com/Ryfis/geo-mini/internal/store"
)

// Effect is the viewer-facing consequence of folding an event into the
// currently open transcript.
type Effect int

const (
	EffectNone Effect = iota
	// EffectScrollToLatest: the viewer was at the bottom, follow the new message.
	EffectScrollToLatest
	// EffectNewMessageBadge: the viewer scrolled up, show an affordance instead.
	EffectNewMessageBadge
)

// Scope identifies one transcript: the (parentType, parentId) pair of the
// post its messages hang off.
type Scope struct {
	ParentType store.ParentType
	ParentID   string
}

func (s Scope) String() string {
	return string(s.ParentType) + "/" + s.ParentID
}

// Transcript is the ordered message list for one scope. Entries are kept
// sorted by creation time so out-of-order feed delivery cannot scramble the
// conversation. At most one entry exists per message id.
type Transcript struct {
	mu       gosync.Mutex
	scope    Scope
	entries  []store.ChatMessage
	atBottom bool
}

// NewTranscript creates an empty transcript for the given scope. A freshly
// opened view starts at the bottom.
func NewTranscript(parentType store.ParentType, parentID string) *Transcript {
	return &Transcript{
		scope:    Scope{ParentType: parentType, ParentID: parentID},
		atBottom: true,
	}
}

// Scope returns the transcript's scope.
func (t *Transcript) Scope() Scope {
	return t.scope
}

// SetAtBottom records whether the viewer is pinned to the latest message.
func (t *Transcript) SetAtBottom(atBottom bool) {
	t.mu.Lock()
	t.atBottom = atBottom
	t.mu.Unlock()
}

// Replace swaps in a bulk-loaded message list, re-sorted by creation time.
func (t *Transcript) Replace(msgs []store.ChatMessage) {
	sorted := make([]store.ChatMessage, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	t.mu.Lock()
	t.entries = sorted
	t.mu.Unlock()
}

// Fold applies one change event to the transcript. Events scoped to a
// different (parentType, parentId) are discarded without touching state.
// Inserts are idempotent: a duplicate id keeps the first-folded value.
func (t *Transcript) Fold(ev backend.ChangeEvent) Effect {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case backend.KindInsert:
		msg, ok := ev.Payload.(*store.ChatMessage)
		if !ok || !t.inScope(msg) {
			return EffectNone
		}
		if t.indexOf(msg.ID) >= 0 {
			return EffectNone
		}
		t.insertSorted(*msg)
		if t.atBottom {
			return EffectScrollToLatest
		}
		return EffectNewMessageBadge

	case backend.KindUpdate:
		msg, ok := ev.Payload.(*store.ChatMessage)
		if !ok || !t.inScope(msg) {
			return EffectNone
		}
		// Replace in place only. No synthetic insert for an unseen id.
		if i := t.indexOf(msg.ID); i >= 0 {
			t.entries[i] = *msg
		}
		return EffectNone

	case backend.KindDelete:
		// Delete old records may carry only the primary key, so match by
		// id alone. Ids are globally unique, no cross-scope risk.
		if i := t.indexOf(ev.EntityID); i >= 0 {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
		}
		return EffectNone
	}
	return EffectNone
}

// Entries returns a copy of the transcript in creation order.
func (t *Transcript) Entries() []store.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]store.ChatMessage, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// AdjustCommentCount shifts the comment counter on one message. It reports
// whether the message was present; the count never goes below zero.
func (t *Transcript) AdjustCommentCount(messageID string, delta int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexOf(messageID)
	if i < 0 {
		return false
	}
	t.entries[i].CommentCount += delta
	if t.entries[i].CommentCount < 0 {
		t.entries[i].CommentCount = 0
	}
	return true
}

// Contains reports whether a message id is present.
func (t *Transcript) Contains(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.indexOf(id) >= 0
}

func (t *Transcript) inScope(msg *store.ChatMessage) bool {
	return msg.ParentType == t.scope.ParentType && msg.ParentID == t.scope.ParentID
}

func (t *Transcript) indexOf(id string) int {
	for i := range t.entries {
		if t.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Transcript) insertSorted(msg store.ChatMessage) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].CreatedAt.After(msg.CreatedAt)
	})
	t.entries = append(t.entries, store.ChatMessage{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = msg
}
