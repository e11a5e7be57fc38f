// Package writer performs user-initiated mutations against the backend.
// Writes are echo-driven: a successful write mutates no local state, the
// new row becomes visible when its change-feed echo reaches the sync
// engine. A failed write surfaces the error and leaves everything as it
// was.
package writer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ryfis/geo-mini/internal/backend"
	"github.com/Ryfis/geo-mini/internal/store"
)

// Writer issues remote writes on behalf of one signed-in user.
type Writer struct {
	client   *backend.Client
	logger   *zap.Logger
	userID   string
	username string
}

// New creates a writer bound to the given user identity.
func New(client *backend.Client, userID, username string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{client: client, logger: logger, userID: userID, username: username}
}

// SendChatMessage writes one message into a post transcript. On success the
// parent post's denormalized last-message fields are updated by a second,
// best-effort write whose failure is logged and swallowed.
func (w *Writer) SendChatMessage(ctx context.Context, parentType store.ParentType, parentID, content, photoURL string) (*store.ChatMessage, error) {
	row := map[string]any{
		"parent_type": string(parentType),
		"parent_id":   parentID,
		"content":     content,
		"created_by":  w.userID,
	}
	if photoURL != "" {
		row["photo_url"] = photoURL
	}

	var created store.ChatMessage
	if err := w.client.Insert(ctx, backend.TableChatMessages, row, &created); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	w.updateLastMessage(ctx, parentType, parentID, &created)
	return &created, nil
}

// updateLastMessage is the secondary denormalization write. Staleness on
// failure is accepted; it is never retried or rolled back.
func (w *Writer) updateLastMessage(ctx context.Context, parentType store.ParentType, parentID string, msg *store.ChatMessage) {
	table := backend.TableMessages
	if parentType == store.ParentGroup {
		table = backend.TableGroups
	}
	patch := map[string]any{
		"last_message_text":       msg.Content,
		"last_message_created_at": msg.CreatedAt.Format(time.RFC3339Nano),
		"last_message_user_id":    w.userID,
		"last_message_username":   w.username,
	}
	q := backend.NewQuery().Eq("id", parentID)
	if err := w.client.Update(ctx, table, q, patch); err != nil {
		w.logger.Warn("last-message denorm update failed",
			zap.Error(err),
			zap.String("parent_id", parentID))
	}
}

// AddComment writes a comment under one chat message.
func (w *Writer) AddComment(ctx context.Context, parentType store.ParentType, parentID, messageID, content string) (*store.PostComment, error) {
	row := map[string]any{
		"message_id":  messageID,
		"parent_type": string(parentType),
		"parent_id":   parentID,
		"content":     content,
		"created_by":  w.userID,
	}
	var created store.PostComment
	if err := w.client.Insert(ctx, backend.TablePostComments, row, &created); err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	return &created, nil
}

// SendPrivateMessage writes a direct message to another user.
func (w *Writer) SendPrivateMessage(ctx context.Context, receiverID, message, photoURL string) (*store.PrivateMessage, error) {
	row := map[string]any{
		"sender_id":   w.userID,
		"receiver_id": receiverID,
		"message":     message,
		"read":        false,
	}
	if photoURL != "" {
		row["photo_url"] = photoURL
	}
	var created store.PrivateMessage
	if err := w.client.Insert(ctx, backend.TablePrivateMessages, row, &created); err != nil {
		return nil, fmt.Errorf("send private message: %w", err)
	}
	return &created, nil
}

// MarkConversationRead flags every unread message from senderID as read.
func (w *Writer) MarkConversationRead(ctx context.Context, senderID string) error {
	q := backend.NewQuery().
		Eq("sender_id", senderID).
		Eq("receiver_id", w.userID).
		Eq("read", "false")
	if err := w.client.Update(ctx, backend.TablePrivateMessages, q, map[string]any{"read": true}); err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	return nil
}

// CreatePost writes a new map post into the messages or groups table
// depending on post.Type.
func (w *Writer) CreatePost(ctx context.Context, post *store.Post) (*store.Post, error) {
	table := backend.TableMessages
	if post.Type == store.ParentGroup {
		table = backend.TableGroups
	}
	row := map[string]any{
		"title":       post.Title,
		"description": post.Description,
		"latitude":    post.Latitude,
		"longitude":   post.Longitude,
		"category":    post.Category,
		"created_by":  w.userID,
	}
	if post.Type == store.ParentGroup {
		row["allow_anyone_to_post"] = post.AllowAnyoneToPost
		row["allow_comments"] = post.AllowComments
	}
	var created store.Post
	if err := w.client.Insert(ctx, table, row, &created); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	created.Type = post.Type
	return &created, nil
}

// SendFriendRequest writes a pending friendship row.
func (w *Writer) SendFriendRequest(ctx context.Context, friendID string) (*store.Friendship, error) {
	row := map[string]any{
		"user_id":   w.userID,
		"friend_id": friendID,
		"status":    "pending",
	}
	var created store.Friendship
	if err := w.client.Insert(ctx, backend.TableFriendships, row, &created); err != nil {
		return nil, fmt.Errorf("send friend request: %w", err)
	}
	return &created, nil
}

// RespondFriendRequest resolves a pending request addressed to this user.
func (w *Writer) RespondFriendRequest(ctx context.Context, requestID string, accept bool) error {
	status := "rejected"
	if accept {
		status = "accepted"
	}
	q := backend.NewQuery().Eq("id", requestID).Eq("friend_id", w.userID)
	if err := w.client.Update(ctx, backend.TableFriendships, q, map[string]any{"status": status}); err != nil {
		return fmt.Errorf("respond friend request: %w", err)
	}
	return nil
}

// SaveLocation writes a named saved location for this user.
func (w *Writer) SaveLocation(ctx context.Context, name string, lat, lng float64) (*store.SavedLocation, error) {
	row := map[string]any{
		"user_id":   w.userID,
		"name":      name,
		"latitude":  lat,
		"longitude": lng,
	}
	var created store.SavedLocation
	if err := w.client.Insert(ctx, backend.TableSavedLocations, row, &created); err != nil {
		return nil, fmt.Errorf("save location: %w", err)
	}
	return &created, nil
}

// DeleteLocation removes one of this user's saved locations.
func (w *Writer) DeleteLocation(ctx context.Context, id string) error {
	q := backend.NewQuery().Eq("id", id).Eq("user_id", w.userID)
	if err := w.client.Delete(ctx, backend.TableSavedLocations, q); err != nil {
		return fmt.Errorf("delete location: %w", err)
	}
	return nil
}

// AttachToMessage records an uploaded file against a chat message.
func (w *Writer) AttachToMessage(ctx context.Context, messageID, fileURL, thumbURL, fileType string, fileSize int64) (*store.MessageAttachment, error) {
	row := map[string]any{
		"message_id":    messageID,
		"file_url":      fileURL,
		"thumbnail_url": thumbURL,
		"file_type":     fileType,
		"file_size":     fileSize,
	}
	var created store.MessageAttachment
	if err := w.client.Insert(ctx, backend.TableMessageAttachments, row, &created); err != nil {
		return nil, fmt.Errorf("attach to message: %w", err)
	}
	return &created, nil
}
