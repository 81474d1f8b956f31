package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/crateseek/crateseek/internal/domain"
)

// queueSelect lists every column plus the derived in_library flag, which
// is true when the item's artist exists in the synced catalog mirror.
const queueSelect = `SELECT q.id, q.mbid, q.artist, q.album, q.title, q.type, q.status, q.score,
	q.source, q.similar_to, q.source_track, q.cover_url, q.year, q.added_at, q.processed_at,
	EXISTS(SELECT 1 FROM catalog_artists ca WHERE ca.name_lower = LOWER(q.artist)) AS in_library
	FROM queue_items q`

var queueSortColumns = map[string]string{
	"added_at": "q.added_at",
	"score":    "q.score",
	"artist":   "q.artist",
	"year":     "q.year",
}

// IsQueueSortKey reports whether key is an accepted queue sort column.
func IsQueueSortKey(key string) bool {
	_, ok := queueSortColumns[key]
	return ok
}

// QueueListOptions filters and paginates queue listings.
type QueueListOptions struct {
	Status        domain.QueueStatus
	Source        domain.Source
	Sort          string
	Order         string
	Limit         int
	Offset        int
	HideInLibrary bool
}

// CreateQueueItem inserts a new queue item. A duplicate mbid is a no-op;
// the returned bool reports whether a row was actually added.
func (db *DB) CreateQueueItem(ctx context.Context, item *domain.QueueItem) (bool, error) {
	added := false
	err := db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExec(`INSERT OR IGNORE INTO queue_items
			(mbid, artist, album, title, type, status, score, source, similar_to, source_track, cover_url, year, added_at)
			VALUES (:mbid, :artist, :album, :title, :type, :status, :score, :source, :similar_to, :source_track, :cover_url, :year, :added_at)`, item)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			added = true
			if id, err := res.LastInsertId(); err == nil {
				item.ID = id
			}
		}
		return nil
	})
	return added, err
}

// GetQueueItemByMBID returns nil, nil when no row matches.
func (db *DB) GetQueueItemByMBID(mbid string) (*domain.QueueItem, error) {
	item := &domain.QueueItem{}
	err := db.Get(item, queueSelect+` WHERE q.mbid = ?`, mbid)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// QueueItemStatus reports the status of the item with the given mbid and
// whether such an item exists at all.
func (db *DB) QueueItemStatus(mbid string) (domain.QueueStatus, bool, error) {
	var status domain.QueueStatus
	err := db.Get(&status, `SELECT status FROM queue_items WHERE mbid = ?`, mbid)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return status, true, nil
}

// ListQueueItems returns one page of items plus the total matching count.
func (db *DB) ListQueueItems(opts QueueListOptions) ([]*domain.QueueItem, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}

	if opts.Status != "" {
		where += " AND q.status = ?"
		args = append(args, opts.Status)
	}
	if opts.Source != "" {
		where += " AND q.source = ?"
		args = append(args, opts.Source)
	}
	if opts.HideInLibrary {
		where += " AND NOT EXISTS(SELECT 1 FROM catalog_artists ca WHERE ca.name_lower = LOWER(q.artist))"
	}

	var total int
	if err := db.Get(&total, "SELECT COUNT(*) FROM queue_items q"+where, args...); err != nil {
		return nil, 0, err
	}

	sortCol, ok := queueSortColumns[opts.Sort]
	if !ok {
		sortCol = "q.added_at"
	}
	order := "DESC"
	if opts.Order == "asc" {
		order = "ASC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := queueSelect + where + fmt.Sprintf(" ORDER BY %s %s, q.id %s LIMIT ? OFFSET ?", sortCol, order, order)
	args = append(args, limit, opts.Offset)

	var items []*domain.QueueItem
	if err := db.Select(&items, query, args...); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ApproveQueueItems flips pending items in the set to approved and
// upserts the matching wishlist rows inside the same write transaction.
// It returns the items actually approved.
func (db *DB) ApproveQueueItems(ctx context.Context, mbids []string) ([]*domain.QueueItem, error) {
	if len(mbids) == 0 {
		return nil, nil
	}

	var approved []*domain.QueueItem
	err := db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		query, args, err := sqlx.In(queueSelect+` WHERE q.mbid IN (?) AND q.status = 'pending'`, mbids)
		if err != nil {
			return err
		}
		if err := tx.Select(&approved, query, args...); err != nil {
			return err
		}
		if len(approved) == 0 {
			return nil
		}

		now := time.Now().UTC()
		update, uargs, err := sqlx.In(
			`UPDATE queue_items SET status = 'approved', processed_at = ? WHERE mbid IN (?) AND status = 'pending'`,
			now, mbids)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(update, uargs...); err != nil {
			return err
		}

		for _, item := range approved {
			item.Status = domain.QueueStatusApproved
			item.ProcessedAt = &now
			if _, _, err := upsertWishlistItemTx(tx, wishlistFromQueueItem(item)); err != nil {
				return fmt.Errorf("failed to upsert wishlist item for %s: %w", item.MBID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// PendingQueueMBIDs snapshots the ids of every pending item. Approve-all
// operates on this snapshot, not on items added while it runs.
func (db *DB) PendingQueueMBIDs() ([]string, error) {
	var mbids []string
	err := db.Select(&mbids, `SELECT mbid FROM queue_items WHERE status = 'pending' ORDER BY id`)
	return mbids, err
}

// RejectQueueItems flips pending items in the set to rejected and returns
// the mbids actually affected. Non-pending items are left untouched.
func (db *DB) RejectQueueItems(ctx context.Context, mbids []string) ([]string, error) {
	if len(mbids) == 0 {
		return nil, nil
	}

	var rejected []string
	err := db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		query, args, err := sqlx.In(
			`SELECT mbid FROM queue_items WHERE mbid IN (?) AND status = 'pending'`, mbids)
		if err != nil {
			return err
		}
		if err := tx.Select(&rejected, query, args...); err != nil {
			return err
		}
		if len(rejected) == 0 {
			return nil
		}

		update, uargs, err := sqlx.In(
			`UPDATE queue_items SET status = 'rejected', processed_at = ? WHERE mbid IN (?) AND status = 'pending'`,
			time.Now().UTC(), rejected)
		if err != nil {
			return err
		}
		_, err = tx.Exec(update, uargs...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// GetQueueStats counts items per status; in_library counts pending items
// whose artist is already in the catalog mirror.
func (db *DB) GetQueueStats() (*domain.QueueStats, error) {
	query := `SELECT
		COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
		COALESCE(SUM(CASE WHEN status = 'approved' THEN 1 ELSE 0 END), 0) AS approved,
		COALESCE(SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END), 0) AS rejected,
		COALESCE(SUM(CASE WHEN status = 'pending'
			AND EXISTS(SELECT 1 FROM catalog_artists ca WHERE ca.name_lower = LOWER(artist))
			THEN 1 ELSE 0 END), 0) AS in_library
	FROM queue_items`

	stats := &domain.QueueStats{}
	err := db.Get(stats, query)
	return stats, err
}

// wishlistFromQueueItem maps an approved queue item to its acquisition
// intent. For tracks the title column carries the track name.
func wishlistFromQueueItem(q *domain.QueueItem) *domain.WishlistItem {
	title := q.Album
	if q.Type == domain.MediaTypeTrack {
		title = q.Title
	}
	return &domain.WishlistItem{
		Artist:   q.Artist,
		Album:    title,
		Type:     q.Type,
		Year:     q.Year,
		MBID:     q.MBID,
		Source:   string(q.Source),
		CoverURL: q.CoverURL,
		AddedAt:  time.Now().UTC(),
	}
}
