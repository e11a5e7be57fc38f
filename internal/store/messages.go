package store

import (
	"fmt"
	"time"
)

// UpsertMessage inserts or updates a mirrored chat message (idempotent on id).
func (db *DB) UpsertMessage(m *ChatMessage) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chat_messages (id, parent_type, parent_id, content, photo_url, created_by, comment_count, created_at, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			photo_url = excluded.photo_url,
			comment_count = excluded.comment_count`,
		m.ID, m.ParentType, m.ParentID, m.Content, m.PhotoURL, m.CreatedBy, m.CommentCount, m.CreatedAt.UnixMilli(), now)
	return err
}

// DeleteMessage removes a mirrored message. Deleting an absent id is a no-op.
func (db *DB) DeleteMessage(id string) error {
	_, err := db.Exec(`DELETE FROM chat_messages WHERE id = ?`, id)
	return err
}

// ListMessages returns mirrored messages for one transcript scope in
// creation-time ascending order.
func (db *DB) ListMessages(parentType ParentType, parentID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT id, parent_type, parent_id, content, photo_url, created_by, comment_count, created_at
		FROM chat_messages
		WHERE parent_type = ? AND parent_id = ?
		ORDER BY created_at ASC
		LIMIT ?`, parentType, parentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ParentType, &m.ParentID, &m.Content, &m.PhotoURL, &m.CreatedBy, &m.CommentCount, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ReplaceTranscript swaps the mirrored rows for one scope with the result of
// a bulk load, in a single transaction. The bulk load is authoritative for
// the scope, so anything the mirror held that the server no longer has is
// dropped.
func (db *DB) ReplaceTranscript(parentType ParentType, parentID string, msgs []ChatMessage) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM chat_messages WHERE parent_type = ? AND parent_id = ?`, parentType, parentID); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO chat_messages (id, parent_type, parent_id, content, photo_url, created_by, comment_count, created_at, inserted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				content = excluded.content,
				photo_url = excluded.photo_url,
				comment_count = excluded.comment_count`,
			m.ID, m.ParentType, m.ParentID, m.Content, m.PhotoURL, m.CreatedBy, m.CommentCount, m.CreatedAt.UnixMilli(), now); err != nil {
			return fmt.Errorf("insert message %q: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// MessageCount returns the total number of mirrored messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chat_messages`).Scan(&count)
	return count, err
}
