package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/crateseek/crateseek/internal/domain"
)

const taskSelect = `SELECT id, wishlist_item_id, wishlist_key, status, search_query, search_results,
	selection_expires_at, skipped_usernames, peer_username, peer_directory, file_count,
	expected_track_count, quality_tier, quality_format, quality_bit_rate, quality_bit_depth,
	quality_sample_rate, download_path, error_message, retry_count, queued_at, updated_at,
	started_at, completed_at, organized_at
	FROM download_tasks`

// liveStatuses are the states occupying a wishlist key.
const liveStatuses = `'pending', 'searching', 'pending_selection', 'deferred', 'queued', 'downloading'`

// CreateDownloadTask inserts a task unless a live one already exists for
// the same wishlist key; the bool reports whether a row was created.
func (db *DB) CreateDownloadTask(ctx context.Context, task *domain.DownloadTask) (bool, error) {
	created := false
	err := db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		var err error
		created, err = createDownloadTaskTx(tx, task)
		return err
	})
	return created, err
}

func createDownloadTaskTx(tx *sqlx.Tx, task *domain.DownloadTask) (bool, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if task.QueuedAt.IsZero() {
		task.QueuedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = domain.TaskStatusPending
	}

	res, err := tx.NamedExec(`INSERT OR IGNORE INTO download_tasks
		(id, wishlist_item_id, wishlist_key, status, search_query, search_results,
		selection_expires_at, skipped_usernames, peer_username, peer_directory, file_count,
		expected_track_count, quality_tier, quality_format, quality_bit_rate, quality_bit_depth,
		quality_sample_rate, download_path, error_message, retry_count, queued_at, updated_at,
		started_at, completed_at, organized_at)
		VALUES (:id, :wishlist_item_id, :wishlist_key, :status, :search_query, :search_results,
		:selection_expires_at, :skipped_usernames, :peer_username, :peer_directory, :file_count,
		:expected_track_count, :quality_tier, :quality_format, :quality_bit_rate, :quality_bit_depth,
		:quality_sample_rate, :download_path, :error_message, :retry_count, :queued_at, :updated_at,
		:started_at, :completed_at, :organized_at)`, task)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetDownloadTask returns nil, nil when no row matches.
func (db *DB) GetDownloadTask(id string) (*domain.DownloadTask, error) {
	task := &domain.DownloadTask{}
	err := db.Get(task, taskSelect+` WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateDownloadTask rewrites every mutable column and bumps updated_at.
func (db *DB) UpdateDownloadTask(ctx context.Context, task *domain.DownloadTask) error {
	task.UpdatedAt = time.Now().UTC()
	return db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExec(`UPDATE download_tasks SET
			status = :status, search_query = :search_query, search_results = :search_results,
			selection_expires_at = :selection_expires_at, skipped_usernames = :skipped_usernames,
			peer_username = :peer_username, peer_directory = :peer_directory,
			file_count = :file_count, expected_track_count = :expected_track_count,
			quality_tier = :quality_tier, quality_format = :quality_format,
			quality_bit_rate = :quality_bit_rate, quality_bit_depth = :quality_bit_depth,
			quality_sample_rate = :quality_sample_rate, download_path = :download_path,
			error_message = :error_message, retry_count = :retry_count,
			updated_at = :updated_at, started_at = :started_at, completed_at = :completed_at,
			organized_at = :organized_at
			WHERE id = :id`, task)
		return err
	})
}

// ListActiveDownloadTasks returns every live task, oldest first.
func (db *DB) ListActiveDownloadTasks() ([]*domain.DownloadTask, error) {
	var tasks []*domain.DownloadTask
	err := db.Select(&tasks, taskSelect+` WHERE status IN (`+liveStatuses+`) ORDER BY queued_at ASC, id ASC`)
	return tasks, err
}

// ListDownloadTasksByStatus pages tasks in the given states, newest
// update first.
func (db *DB) ListDownloadTasksByStatus(statuses []domain.TaskStatus, limit, offset int) ([]*domain.DownloadTask, int, error) {
	if len(statuses) == 0 {
		return nil, 0, nil
	}

	countQuery, countArgs, err := sqlx.In(`SELECT COUNT(*) FROM download_tasks WHERE status IN (?)`, statuses)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := db.Get(&total, countQuery, countArgs...); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	query, args, err := sqlx.In(taskSelect+` WHERE status IN (?) ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`,
		statuses, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	var tasks []*domain.DownloadTask
	if err := db.Select(&tasks, query, args...); err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// ListUnorganizedTasks returns completed tasks whose files have not been
// handed to the library organizer yet.
func (db *DB) ListUnorganizedTasks() ([]*domain.DownloadTask, error) {
	var tasks []*domain.DownloadTask
	err := db.Select(&tasks, taskSelect+` WHERE status = 'completed' AND organized_at IS NULL ORDER BY completed_at ASC`)
	return tasks, err
}

// DeleteDownloadTasks removes tasks by id and returns the count removed.
func (db *DB) DeleteDownloadTasks(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	affected := 0
	err := db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		query, args, err := sqlx.In(`DELETE FROM download_tasks WHERE id IN (?)`, ids)
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

// ResetStuckDownloadTasks rewinds tasks that were mid-flight when the
// process died. Pending selections and deferrals survive restarts.
func (db *DB) ResetStuckDownloadTasks(ctx context.Context) error {
	return db.WithWrite(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`UPDATE download_tasks SET status = 'pending', updated_at = ?
			WHERE status IN ('searching', 'queued', 'downloading')`, time.Now().UTC())
		return err
	})
}

// GetDownloadStats counts tasks by bucket. Bandwidth is filled in by the
// engine from live transfer telemetry.
func (db *DB) GetDownloadStats() (*domain.DownloadStats, error) {
	query := `SELECT
		COALESCE(SUM(CASE WHEN status IN ('searching', 'pending_selection', 'downloading') THEN 1 ELSE 0 END), 0) AS active,
		COALESCE(SUM(CASE WHEN status IN ('pending', 'queued', 'deferred') THEN 1 ELSE 0 END), 0) AS queued,
		COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS completed,
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed
	FROM download_tasks`

	row := struct {
		Active    int `db:"active"`
		Queued    int `db:"queued"`
		Completed int `db:"completed"`
		Failed    int `db:"failed"`
	}{}
	if err := db.Get(&row, query); err != nil {
		return nil, err
	}
	return &domain.DownloadStats{
		Active:    row.Active,
		Queued:    row.Queued,
		Completed: row.Completed,
		Failed:    row.Failed,
	}, nil
}
