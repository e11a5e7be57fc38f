package store

import (
	"database/sql"
	"time"
)

// PutSavedView stores a map view (coordinate + zoom) under a key, stamping it
// with the current time for freshness checks.
func (db *DB) PutSavedView(v *SavedView) error {
	if v.SavedAt == 0 {
		v.SavedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO saved_views (key, latitude, longitude, zoom, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			zoom = excluded.zoom,
			saved_at = excluded.saved_at`,
		v.Key, v.Latitude, v.Longitude, v.Zoom, v.SavedAt)
	return err
}

// GetSavedView returns the view stored under key if it is younger than
// maxAge, nil otherwise. A stale row is treated the same as a missing one.
func (db *DB) GetSavedView(key string, maxAge time.Duration) (*SavedView, error) {
	var v SavedView
	err := db.QueryRow(`SELECT key, latitude, longitude, zoom, saved_at FROM saved_views WHERE key = ?`, key).
		Scan(&v.Key, &v.Latitude, &v.Longitude, &v.Zoom, &v.SavedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if maxAge > 0 && time.Since(time.UnixMilli(v.SavedAt)) > maxAge {
		return nil, nil
	}
	return &v, nil
}

// UpsertSavedLocation mirrors a saved_locations row.
func (db *DB) UpsertSavedLocation(l *SavedLocation) error {
	_, err := db.Exec(`
		INSERT INTO saved_locations (id, user_id, name, latitude, longitude, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			updated_at = excluded.updated_at`,
		l.ID, l.UserID, l.Name, l.Latitude, l.Longitude, l.CreatedAt.UnixMilli(), l.UpdatedAt.UnixMilli())
	return err
}

// DeleteSavedLocation removes a mirrored saved location. Idempotent.
func (db *DB) DeleteSavedLocation(id string) error {
	_, err := db.Exec(`DELETE FROM saved_locations WHERE id = ?`, id)
	return err
}

// ListSavedLocations returns a user's saved locations, newest first.
func (db *DB) ListSavedLocations(userID string) ([]SavedLocation, error) {
	rows, err := db.Query(`
		SELECT id, user_id, name, latitude, longitude, created_at, updated_at
		FROM saved_locations
		WHERE user_id = ?
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var locs []SavedLocation
	for rows.Next() {
		var l SavedLocation
		var createdAt, updatedAt int64
		if err := rows.Scan(&l.ID, &l.UserID, &l.Name, &l.Latitude, &l.Longitude, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		l.CreatedAt = time.UnixMilli(createdAt)
		l.UpdatedAt = time.UnixMilli(updatedAt)
		locs = append(locs, l)
	}
	return locs, rows.Err()
}
