package store

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/crateseek/crateseek/internal/domain"
)

// SyncCatalogArtists upserts the library mirror in one transaction.
func (db *DB) SyncCatalogArtists(ctx context.Context, artists []*domain.CatalogArtist) error {
	if len(artists) == 0 {
		return nil
	}

	return db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		for _, a := range artists {
			lower := strings.ToLower(strings.TrimSpace(a.Name))
			_, err := tx.Exec(`INSERT INTO catalog_artists (name, name_lower, external_id, last_synced_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(name_lower) DO UPDATE SET
					name = excluded.name,
					external_id = CASE WHEN excluded.external_id != '' THEN excluded.external_id ELSE catalog_artists.external_id END,
					last_synced_at = excluded.last_synced_at`,
				a.Name, lower, a.ExternalID, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ListCatalogArtists returns the full library mirror.
func (db *DB) ListCatalogArtists() ([]*domain.CatalogArtist, error) {
	var artists []*domain.CatalogArtist
	err := db.Select(&artists,
		`SELECT id, name, name_lower, external_id, last_synced_at FROM catalog_artists ORDER BY name_lower ASC`)
	return artists, err
}

// IsInCatalog reports whether the artist exists in the library mirror.
func (db *DB) IsInCatalog(name string) (bool, error) {
	var count int
	err := db.Get(&count, `SELECT COUNT(*) FROM catalog_artists WHERE name_lower = ?`,
		strings.ToLower(strings.TrimSpace(name)))
	return count > 0, err
}

// MarkArtistDiscovered records that the similarity job has considered
// this artist. Duplicates are no-ops.
func (db *DB) MarkArtistDiscovered(ctx context.Context, name string) error {
	return db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`INSERT OR IGNORE INTO discovered_artists (name_lower, discovered_at) VALUES (?, ?)`,
			strings.ToLower(strings.TrimSpace(name)), time.Now().UTC())
		return err
	})
}

// IsArtistDiscovered reports whether the artist was already considered.
func (db *DB) IsArtistDiscovered(name string) (bool, error) {
	var count int
	err := db.Get(&count, `SELECT COUNT(*) FROM discovered_artists WHERE name_lower = ?`,
		strings.ToLower(strings.TrimSpace(name)))
	return count > 0, err
}

// MarkRecordingProcessed records an emitted canonical id; duplicates are
// no-ops. The bool reports whether the id was new.
func (db *DB) MarkRecordingProcessed(ctx context.Context, mbid string) (bool, error) {
	added := false
	err := db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.Exec(`INSERT OR IGNORE INTO processed_recordings (mbid, processed_at) VALUES (?, ?)`,
			mbid, time.Now().UTC())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		added = n > 0
		return nil
	})
	return added, err
}

// IsRecordingProcessed reports whether the canonical id was already
// emitted by a discovery source.
func (db *DB) IsRecordingProcessed(mbid string) (bool, error) {
	var count int
	err := db.Get(&count, `SELECT COUNT(*) FROM processed_recordings WHERE mbid = ?`, mbid)
	return count > 0, err
}
