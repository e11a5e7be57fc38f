package store

import (
	"database/sql"
	"time"
)

// UpsertChat inserts or updates a conversation preview row. The last-message
// fields only move forward in time, so replaying an old event cannot regress
// a newer preview. The unread counter is owned by IncrementChatUnread and
// SetChatUnread; a preview update never touches it on an existing row.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (parent_type, parent_id, title, last_message_text, last_message_at, last_message_username, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(parent_type, parent_id) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE chats.title END,
			last_message_text = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_text ELSE chats.last_message_text END,
			last_message_username = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_username ELSE chats.last_message_username END,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		c.ParentType, c.ParentID, c.Title, c.LastMessageText, c.LastMessageAt, c.LastMessageUsername, c.UnreadCount, now)
	return err
}

// ListChats returns conversation previews sorted by last message time descending.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT parent_type, parent_id, title, last_message_text, last_message_at, last_message_username, unread_count
		FROM chats
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ParentType, &c.ParentID, &c.Title, &c.LastMessageText, &c.LastMessageAt, &c.LastMessageUsername, &c.UnreadCount); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single conversation preview, or nil if absent.
func (db *DB) GetChat(parentType ParentType, parentID string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT parent_type, parent_id, title, last_message_text, last_message_at, last_message_username, unread_count
		FROM chats
		WHERE parent_type = ? AND parent_id = ?`, parentType, parentID).
		Scan(&c.ParentType, &c.ParentID, &c.Title, &c.LastMessageText, &c.LastMessageAt, &c.LastMessageUsername, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// IncrementChatUnread bumps the unread counter for a conversation by one.
// Incrementing an absent conversation is a no-op.
func (db *DB) IncrementChatUnread(parentType ParentType, parentID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE chats SET unread_count = unread_count + 1, updated_at = ? WHERE parent_type = ? AND parent_id = ?`,
		now, parentType, parentID)
	return err
}

// SetChatUnread overwrites the unread counter for a conversation.
func (db *DB) SetChatUnread(parentType ParentType, parentID string, count int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE chats SET unread_count = ?, updated_at = ? WHERE parent_type = ? AND parent_id = ?`,
		count, now, parentType, parentID)
	return err
}
