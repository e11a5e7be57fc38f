package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertProfile inserts or updates a mirrored profile. Empty fields never
// overwrite populated ones, so a partial row from a change event cannot wipe
// out data from an earlier full fetch.
func (db *DB) UpsertProfile(p *Profile) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO profiles (id, username, avatar_url, avatar_thumbnail_url, bio, allow_messages, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = CASE WHEN excluded.username != '' THEN excluded.username ELSE profiles.username END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE profiles.avatar_url END,
			avatar_thumbnail_url = CASE WHEN excluded.avatar_thumbnail_url != '' THEN excluded.avatar_thumbnail_url ELSE profiles.avatar_thumbnail_url END,
			bio = CASE WHEN excluded.bio != '' THEN excluded.bio ELSE profiles.bio END,
			allow_messages = excluded.allow_messages,
			updated_at = excluded.updated_at`,
		p.ID, p.Username, p.AvatarURL, p.AvatarThumbnailURL, p.Bio, p.AllowMessages, now)
	return err
}

// BulkUpsertProfiles inserts or updates multiple profiles in one transaction.
func (db *DB) BulkUpsertProfiles(profiles []Profile) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, p := range profiles {
		if _, err := tx.Exec(`
			INSERT INTO profiles (id, username, avatar_url, avatar_thumbnail_url, bio, allow_messages, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				username = CASE WHEN excluded.username != '' THEN excluded.username ELSE profiles.username END,
				avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE profiles.avatar_url END,
				avatar_thumbnail_url = CASE WHEN excluded.avatar_thumbnail_url != '' THEN excluded.avatar_thumbnail_url ELSE profiles.avatar_thumbnail_url END,
				bio = CASE WHEN excluded.bio != '' THEN excluded.bio ELSE profiles.bio END,
				allow_messages = excluded.allow_messages,
				updated_at = excluded.updated_at`,
			p.ID, p.Username, p.AvatarURL, p.AvatarThumbnailURL, p.Bio, p.AllowMessages, now); err != nil {
			return fmt.Errorf("upsert profile %q: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// GetProfile returns a mirrored profile by id, or nil if absent.
func (db *DB) GetProfile(id string) (*Profile, error) {
	var p Profile
	err := db.QueryRow(`
		SELECT id, username, avatar_url, avatar_thumbnail_url, bio, allow_messages
		FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Username, &p.AvatarURL, &p.AvatarThumbnailURL, &p.Bio, &p.AllowMessages)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
