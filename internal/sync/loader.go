package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ryfis/geo-mini/internal/backend"
	"github.com/Ryfis/geo-mini/internal/cache"
	"github.com/Ryfis/geo-mini/internal/store"
)

// ErrViewChanged means the viewer navigated away while a bulk load was in
// flight. The stale result was discarded without touching state.
var ErrViewChanged = errors.New("view changed during load")

// TranscriptView is the result of a transcript bulk load.
type TranscriptView struct {
	Transcript  *Transcript
	Post        store.Post
	Profiles    map[string]store.Profile
	Attachments map[string][]store.MessageAttachment
}

// Loader performs the bulk fetches that seed a view: transcript + parent
// post + author profiles + attachments, and the map marker set. Loads for
// a transcript apply only if that transcript is still the active view when
// the responses land; switching views does not cancel in-flight fetches,
// it just makes their results dead on arrival.
type Loader struct {
	client   *backend.Client
	db       *store.DB
	engine   *Engine
	profiles *cache.Loader
	logger   *zap.Logger

	mu     gosync.Mutex
	active Scope
	gen    uint64
}

// NewLoader creates a loader sharing the engine's entity cache.
func NewLoader(client *backend.Client, db *store.DB, c *cache.Cache, engine *Engine, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		client:   client,
		db:       db,
		engine:   engine,
		profiles: cache.NewLoader(c),
		logger:   logger,
	}
}

// activate marks scope as the active view and returns a generation token.
// A load applies its result only while its token is still current.
func (l *Loader) activate(scope Scope) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	l.active = scope
	return l.gen
}

func (l *Loader) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen == gen
}

// LoadTranscript fetches everything one chat view needs and installs it in
// the engine and the local mirror. Independent fetches run concurrently and
// the first hard failure wins.
func (l *Loader) LoadTranscript(ctx context.Context, parentType store.ParentType, parentID string) (*TranscriptView, error) {
	scope := Scope{ParentType: parentType, ParentID: parentID}
	gen := l.activate(scope)

	postTable := backend.TableMessages
	if parentType == store.ParentGroup {
		postTable = backend.TableGroups
	}

	var (
		msgs  []store.ChatMessage
		posts []store.Post
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q := backend.NewQuery().
			Eq("parent_type", string(parentType)).
			Eq("parent_id", parentID).
			Order("created_at", false)
		return l.client.Select(gctx, backend.TableChatMessages, q, &msgs)
	})
	g.Go(func() error {
		q := backend.NewQuery().Eq("id", parentID).Limit(1)
		return l.client.Select(gctx, postTable, q, &posts)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, &backend.APIError{Status: 404, Body: "post not found"}
	}
	post := posts[0]
	post.Type = parentType

	// Second wave depends on the message list.
	var (
		attachments []store.MessageAttachment
		profileMap  map[string]store.Profile
	)
	authorIDs := collectAuthors(msgs, post.CreatedBy)
	msgIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		msgIDs = append(msgIDs, m.ID)
	}

	g, gctx = errgroup.WithContext(ctx)
	if len(msgIDs) > 0 {
		g.Go(func() error {
			q := backend.NewQuery().In("message_id", msgIDs)
			return l.client.Select(gctx, backend.TableMessageAttachments, q, &attachments)
		})
	}
	g.Go(func() error {
		var err error
		profileMap, err = l.loadProfiles(gctx, authorIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// View-identity guard: a response for a view the user already left is
	// silently discarded, never applied to the wrong transcript.
	if !l.current(gen) {
		l.logger.Debug("discarding stale transcript load",
			zap.String("scope", scope.String()))
		return nil, ErrViewChanged
	}

	t := l.engine.OpenTranscript(parentType, parentID)
	t.Replace(msgs)
	if err := l.db.ReplaceTranscript(parentType, parentID, t.Entries()); err != nil {
		l.logger.Error("mirror transcript", zap.Error(err), zap.String("scope", scope.String()))
	}
	if err := l.db.UpsertChat(&store.Chat{
		ParentType: parentType,
		ParentID:   parentID,
		Title:      post.Title,
	}); err != nil {
		l.logger.Error("mirror chat preview", zap.Error(err), zap.String("scope", scope.String()))
	}

	byMessage := make(map[string][]store.MessageAttachment, len(attachments))
	for _, a := range attachments {
		byMessage[a.MessageID] = append(byMessage[a.MessageID], a)
	}

	return &TranscriptView{
		Transcript:  t,
		Post:        post,
		Profiles:    profileMap,
		Attachments: byMessage,
	}, nil
}

// LoadMarkers fetches message and group posts concurrently and replaces the
// engine's marker set. A non-nil bounds restricts the fetch to posts inside
// the box, for map pans into regions the daemon has not loaded yet.
func (l *Loader) LoadMarkers(ctx context.Context, b *Bounds) ([]store.Post, error) {
	markerQuery := func() backend.Query {
		q := backend.NewQuery()
		if b != nil {
			q = q.Gte("latitude", b.MinLat).Lte("latitude", b.MaxLat).
				Gte("longitude", b.MinLng).Lte("longitude", b.MaxLng)
		}
		return q
	}

	var messagePosts, groupPosts []store.Post
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.client.Select(gctx, backend.TableMessages, markerQuery(), &messagePosts)
	})
	g.Go(func() error {
		return l.client.Select(gctx, backend.TableGroups, markerQuery(), &groupPosts)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make([]store.Post, 0, len(messagePosts)+len(groupPosts))
	for _, p := range messagePosts {
		p.Type = store.ParentMessage
		all = append(all, p)
	}
	for _, p := range groupPosts {
		p.Type = store.ParentGroup
		all = append(all, p)
	}
	l.engine.Markers().Replace(all)
	return all, nil
}

// PrivateConversation returns the two-way message history between the
// signed-in user and a peer, oldest first. Both directions come back in one
// query via a sender/receiver disjunction.
func (l *Loader) PrivateConversation(ctx context.Context, selfID, peerID string) ([]store.PrivateMessage, error) {
	q := backend.NewQuery().
		Or(fmt.Sprintf("(and(sender_id.eq.%s,receiver_id.eq.%s),and(sender_id.eq.%s,receiver_id.eq.%s))",
			selfID, peerID, peerID, selfID)).
		Order("created_at", false)
	var msgs []store.PrivateMessage
	if err := l.client.Select(ctx, backend.TablePrivateMessages, q, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Friendships lists rows where the signed-in user is on either side,
// newest first, optionally filtered by status (pending, accepted, rejected).
func (l *Loader) Friendships(ctx context.Context, selfID, status string) ([]store.Friendship, error) {
	q := backend.NewQuery().
		Or(fmt.Sprintf("(user_id.eq.%s,friend_id.eq.%s)", selfID, selfID)).
		Order("created_at", true)
	if status != "" {
		q = q.Eq("status", status)
	}
	var rows []store.Friendship
	if err := l.client.Select(ctx, backend.TableFriendships, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// SearchProfiles finds users whose username contains term.
func (l *Loader) SearchProfiles(ctx context.Context, term string) ([]store.Profile, error) {
	q := backend.NewQuery().
		Like("username", "%"+term+"%").
		Order("username", false).
		Limit(20)
	var rows []store.Profile
	if err := l.client.Select(ctx, backend.TableProfiles, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Profile returns one profile, served from the shared entity cache when
// possible. A second lookup for the same id never refetches.
func (l *Loader) Profile(ctx context.Context, id string) (*store.Profile, error) {
	v, err := l.profiles.Get(ctx, backend.TableProfiles, id, func(ctx context.Context) (any, error) {
		var rows []store.Profile
		q := backend.NewQuery().Eq("id", id).Limit(1)
		if err := l.client.Select(ctx, backend.TableProfiles, q, &rows); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, &backend.APIError{Status: 404, Body: "profile not found"}
		}
		if err := l.db.UpsertProfile(&rows[0]); err != nil {
			l.logger.Warn("mirror profile", zap.Error(err), zap.String("user_id", id))
		}
		return &rows[0], nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Profile), nil
}

// loadProfiles resolves a set of author ids, fetching only the ones the
// cache does not already hold.
func (l *Loader) loadProfiles(ctx context.Context, ids []string) (map[string]store.Profile, error) {
	out := make(map[string]store.Profile, len(ids))
	var missing []string
	for _, id := range ids {
		if p := l.cachedProfile(id); p != nil {
			out[id] = *p
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	var rows []store.Profile
	q := backend.NewQuery().In("id", missing)
	if err := l.client.Select(ctx, backend.TableProfiles, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		if err := l.db.BulkUpsertProfiles(rows); err != nil {
			l.logger.Warn("mirror profiles", zap.Error(err), zap.Int("count", len(rows)))
		}
	}
	for i := range rows {
		out[rows[i].ID] = rows[i]
		l.profiles.Cache().Put(backend.TableProfiles, rows[i].ID, &rows[i])
	}
	return out, nil
}

func (l *Loader) cachedProfile(id string) *store.Profile {
	v, ok := l.profiles.Cache().Get(backend.TableProfiles, id)
	if !ok {
		return nil
	}
	p, _ := v.(*store.Profile)
	return p
}

func collectAuthors(msgs []store.ChatMessage, extra string) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(extra)
	for _, m := range msgs {
		add(m.CreatedBy)
	}
	return ids
}
