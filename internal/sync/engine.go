package sync

import (
	"context"
	gosync "sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Ryfis/geo-mini/internal/backend"
	"github.com/Ryfis/geo-mini/internal/bus"
	"github.com/Ryfis/geo-mini/internal/cache"
	"github.com/Ryfis/geo-mini/internal/store"
)

const recountTimeout = 10 * time.Second

// Engine routes normalized change events to the structures that care about
// them: open transcripts, the marker set, the entity cache, derived
// counters, and the local mirror. It subscribes to "feed." events on the
// bus and republishes reconciled chat.*, map.* and counter.* events.
type Engine struct {
	db        *store.DB
	bus       *bus.Bus
	cache     *cache.Cache
	recounter *Recounter
	logger    *zap.Logger
	cancel    context.CancelFunc

	mu          gosync.Mutex
	transcripts map[Scope]*Transcript
	markers     *MarkerSet
}

// NewEngine creates the sync engine.
func NewEngine(db *store.DB, b *bus.Bus, c *cache.Cache, r *Recounter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:          db,
		bus:         b,
		cache:       c,
		recounter:   r,
		logger:      logger,
		transcripts: make(map[Scope]*Transcript),
		markers:     NewMarkerSet(),
	}
}

// Start subscribes to inbound feed events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("feed.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// OpenTranscript registers (or returns the already open) transcript for a
// scope so feed events start folding into it. Opening a scope means the
// viewer is looking at it, so its unread counter resets.
func (e *Engine) OpenTranscript(parentType store.ParentType, parentID string) *Transcript {
	e.mu.Lock()
	scope := Scope{ParentType: parentType, ParentID: parentID}
	t, ok := e.transcripts[scope]
	if !ok {
		t = NewTranscript(parentType, parentID)
		e.transcripts[scope] = t
	}
	e.mu.Unlock()

	if err := e.db.SetChatUnread(parentType, parentID, 0); err != nil {
		e.logger.Warn("clear chat unread", zap.Error(err), zap.String("parent_id", parentID))
	}
	return t
}

// CloseTranscript unregisters a scope; later events for it fold nowhere.
func (e *Engine) CloseTranscript(parentType store.ParentType, parentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.transcripts, Scope{ParentType: parentType, ParentID: parentID})
}

// Transcript returns the open transcript for a scope, or nil.
func (e *Engine) Transcript(parentType store.ParentType, parentID string) *Transcript {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcripts[Scope{ParentType: parentType, ParentID: parentID}]
}

// Markers returns the shared marker set.
func (e *Engine) Markers() *MarkerSet {
	return e.markers
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	ev, ok := evt.Payload.(backend.ChangeEvent)
	if !ok {
		return
	}

	switch ev.EntityType {
	case backend.TableChatMessages:
		e.handleChatMessage(ev)
	case backend.TablePostComments:
		e.handlePostComment(ev)
	case backend.TableMessages, backend.TableGroups:
		e.handlePost(ev)
	case backend.TableProfiles:
		e.handleProfile(ev)
	case backend.TableFriendships:
		e.recount(ctx, ev, e.recounter.RecountPending)
	case backend.TablePrivateMessages:
		e.recount(ctx, ev, e.recounter.RecountUnread)
	case backend.TableSavedLocations:
		e.handleSavedLocation(ev)
	case backend.TableMessageAttachments, backend.TablePostAttachments:
		e.cache.Put(ev.EntityType, ev.EntityID, ev.Payload)
	}
}

func (e *Engine) handleChatMessage(ev backend.ChangeEvent) {
	msg, ok := ev.Payload.(*store.ChatMessage)
	if !ok {
		return
	}

	pt, pid := msg.ParentType, msg.ParentID
	// Delete images may carry only the primary key; recover the scope from
	// whichever open transcript holds the message.
	if ev.Kind == backend.KindDelete && (pt == "" || pid == "") {
		if sc, found := e.scopeContaining(ev.EntityID); found {
			pt, pid = sc.ParentType, sc.ParentID
		}
	}

	// Fold into the open transcript for this scope, if any.
	t := e.Transcript(pt, pid)
	if t != nil {
		switch t.Fold(ev) {
		case EffectScrollToLatest:
			e.publish(bus.KindScrollToLatest, t.Scope().String())
		case EffectNewMessageBadge:
			e.publish(bus.KindNewMessageBadge, t.Scope().String())
		}
	}

	switch ev.Kind {
	case backend.KindInsert, backend.KindUpdate:
		e.cache.Put(ev.EntityType, msg.ID, msg)
		if err := e.db.UpsertMessage(msg); err != nil {
			e.logger.Error("mirror message", zap.Error(err), zap.String("msg_id", msg.ID))
			return
		}
		if ev.Kind == backend.KindInsert {
			if err := e.db.UpsertChat(&store.Chat{
				ParentType:      pt,
				ParentID:        pid,
				LastMessageText: truncate(msg.Content, 100),
				LastMessageAt:   msg.CreatedAt.UnixMilli(),
			}); err != nil {
				e.logger.Error("update chat preview", zap.Error(err), zap.String("parent_id", pid))
			}
			// Scopes the viewer has open are read as they arrive; only
			// closed scopes accumulate unread.
			if t == nil {
				if err := e.db.IncrementChatUnread(pt, pid); err != nil {
					e.logger.Error("bump chat unread", zap.Error(err), zap.String("parent_id", pid))
				}
			}
		}
		e.publish(bus.KindMessageUpserted, map[string]string{
			"parent_type": string(pt),
			"parent_id":   pid,
			"msg_id":      msg.ID,
		})

	case backend.KindDelete:
		e.cache.Invalidate(ev.EntityType, ev.EntityID)
		if err := e.db.DeleteMessage(ev.EntityID); err != nil {
			e.logger.Error("delete mirrored message", zap.Error(err), zap.String("msg_id", ev.EntityID))
			return
		}
		payload := map[string]string{"msg_id": ev.EntityID}
		if pt != "" && pid != "" {
			payload["parent_type"] = string(pt)
			payload["parent_id"] = pid
		}
		e.publish(bus.KindMessageDeleted, payload)
	}
}

// scopeContaining finds the open transcript holding a message id.
func (e *Engine) scopeContaining(msgID string) (Scope, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for sc, t := range e.transcripts {
		if t.Contains(msgID) {
			return sc, true
		}
	}
	return Scope{}, false
}

func (e *Engine) handlePostComment(ev backend.ChangeEvent) {
	comment, ok := ev.Payload.(*store.PostComment)
	if !ok {
		return
	}
	e.cache.Put(ev.EntityType, ev.EntityID, comment)

	t := e.Transcript(comment.ParentType, comment.ParentID)
	if t == nil {
		return
	}
	switch ev.Kind {
	case backend.KindInsert:
		t.AdjustCommentCount(comment.MessageID, 1)
	case backend.KindDelete:
		t.AdjustCommentCount(comment.MessageID, -1)
	}
}

func (e *Engine) handlePost(ev backend.ChangeEvent) {
	post, ok := ev.Payload.(*store.Post)
	if !ok {
		return
	}
	changed := e.markers.Fold(ev)

	switch ev.Kind {
	case backend.KindInsert, backend.KindUpdate:
		e.cache.Put(ev.EntityType, post.ID, post)
		if changed {
			e.publish(bus.KindMarkerUpserted, map[string]string{
				"post_type": string(post.Type),
				"post_id":   post.ID,
			})
		}
	case backend.KindDelete:
		e.cache.Invalidate(ev.EntityType, ev.EntityID)
		if changed {
			e.publish(bus.KindMarkerDeleted, map[string]string{
				"post_type": string(post.Type),
				"post_id":   ev.EntityID,
			})
		}
	}
}

func (e *Engine) handleProfile(ev backend.ChangeEvent) {
	profile, ok := ev.Payload.(*store.Profile)
	if !ok {
		return
	}
	switch ev.Kind {
	case backend.KindInsert, backend.KindUpdate:
		e.cache.Put(ev.EntityType, profile.ID, profile)
		if err := e.db.UpsertProfile(profile); err != nil {
			e.logger.Error("mirror profile", zap.Error(err), zap.String("user_id", profile.ID))
		}
	case backend.KindDelete:
		e.cache.Invalidate(ev.EntityType, ev.EntityID)
	}
}

func (e *Engine) handleSavedLocation(ev backend.ChangeEvent) {
	loc, ok := ev.Payload.(*store.SavedLocation)
	if !ok {
		return
	}
	switch ev.Kind {
	case backend.KindInsert, backend.KindUpdate:
		if err := e.db.UpsertSavedLocation(loc); err != nil {
			e.logger.Error("mirror saved location", zap.Error(err), zap.String("id", loc.ID))
		}
	case backend.KindDelete:
		if err := e.db.DeleteSavedLocation(ev.EntityID); err != nil {
			e.logger.Error("delete mirrored saved location", zap.Error(err), zap.String("id", ev.EntityID))
		}
	}
}

// recount runs a full counter recomputation for any event on a watched
// table. The event payload is deliberately ignored; only server-side state
// decides the displayed number.
func (e *Engine) recount(ctx context.Context, ev backend.ChangeEvent, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, recountTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		e.logger.Warn("counter recount failed",
			zap.Error(err),
			zap.String("table", ev.EntityType))
	}
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
