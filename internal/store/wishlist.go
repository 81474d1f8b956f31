package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/crateseek/crateseek/internal/domain"
)

// wishlistSelect includes the derived download_status: the state of the
// most recent task for the item, empty when none exists.
const wishlistSelect = `SELECT w.id, w.artist, w.album, w.type, w.year, w.mbid, w.source, w.cover_url,
	w.added_at, w.processed_at,
	COALESCE((SELECT t.status FROM download_tasks t WHERE t.wishlist_item_id = w.id
		ORDER BY t.queued_at DESC, t.rowid DESC LIMIT 1), '') AS download_status
	FROM wishlist_items w`

// WishlistListOptions filters and paginates wishlist listings.
type WishlistListOptions struct {
	Type     domain.MediaType
	Acquired *bool
	Search   string
	Limit    int
	Offset   int
}

// UpsertWishlistItem adds an acquisition intent or merges metadata into
// the existing row with the same (artist_lower, title_lower, type). The
// returned bool reports whether a new row was created.
func (db *DB) UpsertWishlistItem(ctx context.Context, item *domain.WishlistItem) (bool, error) {
	added := false
	err := db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		var err error
		added, _, err = upsertWishlistItemTx(tx, item)
		return err
	})
	return added, err
}

// upsertWishlistItemTx performs the upsert inside an existing write
// transaction. On merge the most informative non-empty metadata wins:
// incoming values fill gaps but never blank out existing ones.
func upsertWishlistItemTx(tx *sqlx.Tx, item *domain.WishlistItem) (bool, string, error) {
	var existingID string
	err := tx.Get(&existingID,
		`SELECT id FROM wishlist_items WHERE artist_lower = ? AND title_lower = ? AND type = ?`,
		item.ArtistLower(), item.TitleLower(), item.Type)

	if err == sql.ErrNoRows {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		if item.AddedAt.IsZero() {
			item.AddedAt = time.Now().UTC()
		}
		_, err = tx.Exec(`INSERT INTO wishlist_items
			(id, artist, album, artist_lower, title_lower, type, year, mbid, source, cover_url, added_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.Artist, item.Album, item.ArtistLower(), item.TitleLower(), item.Type,
			item.Year, item.MBID, item.Source, item.CoverURL, item.AddedAt)
		if err != nil {
			return false, "", err
		}
		return true, item.ID, nil
	}
	if err != nil {
		return false, "", err
	}

	_, err = tx.Exec(`UPDATE wishlist_items SET
		year = CASE WHEN ? > 0 THEN ? ELSE year END,
		mbid = CASE WHEN ? != '' THEN ? ELSE mbid END,
		source = CASE WHEN ? != '' THEN ? ELSE source END,
		cover_url = CASE WHEN ? != '' THEN ? ELSE cover_url END
		WHERE id = ?`,
		item.Year, item.Year, item.MBID, item.MBID, item.Source, item.Source,
		item.CoverURL, item.CoverURL, existingID)
	if err != nil {
		return false, "", err
	}
	item.ID = existingID
	return false, existingID, nil
}

// GetWishlistItem returns nil, nil when no row matches.
func (db *DB) GetWishlistItem(id string) (*domain.WishlistItem, error) {
	item := &domain.WishlistItem{}
	err := db.Get(item, wishlistSelect+` WHERE w.id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListWishlistItems returns one page of items plus the total count.
func (db *DB) ListWishlistItems(opts WishlistListOptions) ([]*domain.WishlistItem, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}

	if opts.Type != "" {
		where += " AND w.type = ?"
		args = append(args, opts.Type)
	}
	if opts.Acquired != nil {
		if *opts.Acquired {
			where += " AND w.processed_at IS NOT NULL"
		} else {
			where += " AND w.processed_at IS NULL"
		}
	}
	if opts.Search != "" {
		where += " AND (w.artist LIKE ? OR w.album LIKE ?)"
		pattern := "%" + opts.Search + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	if err := db.Get(&total, "SELECT COUNT(*) FROM wishlist_items w"+where, args...); err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var items []*domain.WishlistItem
	query := wishlistSelect + where + " ORDER BY w.added_at DESC, w.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)
	if err := db.Select(&items, query, args...); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// AllWishlistItems returns every item, oldest first, for export.
func (db *DB) AllWishlistItems() ([]*domain.WishlistItem, error) {
	var items []*domain.WishlistItem
	err := db.Select(&items, wishlistSelect+" ORDER BY w.added_at ASC, w.id ASC")
	return items, err
}

// UpdateWishlistItem rewrites the editable columns of an existing row.
func (db *DB) UpdateWishlistItem(ctx context.Context, item *domain.WishlistItem) error {
	return db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.Exec(`UPDATE wishlist_items SET
			artist = ?, album = ?, artist_lower = ?, title_lower = ?, type = ?,
			year = ?, mbid = ?, cover_url = ?
			WHERE id = ?`,
			item.Artist, item.Album, item.ArtistLower(), item.TitleLower(), item.Type,
			item.Year, item.MBID, item.CoverURL, item.ID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// DeleteWishlistItems removes items and, via the FK cascade, their
// download tasks. Returns the number of items removed.
func (db *DB) DeleteWishlistItems(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	affected := 0
	err := db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		query, args, err := sqlx.In(`DELETE FROM wishlist_items WHERE id IN (?)`, ids)
		if err != nil {
			return err
		}
		res, err := tx.Exec(query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		affected = int(n)
		return nil
	})
	return affected, err
}

// SetWishlistProcessed marks a successful acquisition.
func (db *DB) SetWishlistProcessed(ctx context.Context, id string, at time.Time) error {
	return db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`UPDATE wishlist_items SET processed_at = ? WHERE id = ?`, at, id)
		return err
	})
}

// ClearWishlistProcessed reopens an item for acquisition (requeue).
func (db *DB) ClearWishlistProcessed(ctx context.Context, id string) error {
	return db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`UPDATE wishlist_items SET processed_at = NULL WHERE id = ?`, id)
		return err
	})
}

// ListWishlistToDownload returns unacquired items with no task standing
// in the way: live tasks block duplicates, failed tasks block automatic
// respawn (manual retry revives those), completed tasks never block.
func (db *DB) ListWishlistToDownload() ([]*domain.WishlistItem, error) {
	var items []*domain.WishlistItem
	err := db.Select(&items, wishlistSelect+`
		WHERE w.processed_at IS NULL
		AND NOT EXISTS (SELECT 1 FROM download_tasks t
			WHERE t.wishlist_item_id = w.id AND t.status != 'completed')
		ORDER BY w.added_at ASC`)
	return items, err
}
