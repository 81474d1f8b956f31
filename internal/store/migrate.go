package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// columnAdd is one idempotent, forward-only schema change. Entries are
// append-only; columns are never dropped or renamed.
type columnAdd struct {
	table  string
	column string
	ddl    string
}

var migrations = []columnAdd{
	// Queue items gained cover art and the originating track reference
	// after the first release.
	{"queue_items", "cover_url", "ALTER TABLE queue_items ADD COLUMN cover_url TEXT DEFAULT ''"},
	{"queue_items", "source_track", "ALTER TABLE queue_items ADD COLUMN source_track TEXT DEFAULT ''"},

	{"wishlist_items", "cover_url", "ALTER TABLE wishlist_items ADD COLUMN cover_url TEXT DEFAULT ''"},
	{"wishlist_items", "source", "ALTER TABLE wishlist_items ADD COLUMN source TEXT DEFAULT ''"},

	// Interactive selection and post-download organization arrived later.
	{"download_tasks", "skipped_usernames", "ALTER TABLE download_tasks ADD COLUMN skipped_usernames TEXT"},
	{"download_tasks", "selection_expires_at", "ALTER TABLE download_tasks ADD COLUMN selection_expires_at DATETIME"},
	{"download_tasks", "expected_track_count", "ALTER TABLE download_tasks ADD COLUMN expected_track_count INTEGER DEFAULT 0"},
	{"download_tasks", "quality_bit_depth", "ALTER TABLE download_tasks ADD COLUMN quality_bit_depth INTEGER DEFAULT 0"},
	{"download_tasks", "quality_sample_rate", "ALTER TABLE download_tasks ADD COLUMN quality_sample_rate INTEGER DEFAULT 0"},
	{"download_tasks", "organized_at", "ALTER TABLE download_tasks ADD COLUMN organized_at DATETIME"},
}

// migrate applies pending column additions. Tables that do not exist yet
// are skipped; the schema sync creates them with every column in place.
func migrate(db *sqlx.DB) error {
	for _, m := range migrations {
		exists, err := tableExists(db, m.table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", m.table, err)
		}
		if !exists {
			continue
		}

		has, err := columnExists(db, m.table, m.column)
		if err != nil {
			return fmt.Errorf("failed to check column %s.%s: %w", m.table, m.column, err)
		}
		if has {
			continue
		}

		if _, err := db.Exec(m.ddl); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

func tableExists(db *sqlx.DB, table string) (bool, error) {
	var count int
	err := db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table)
	return count > 0, err
}

func columnExists(db *sqlx.DB, table, column string) (bool, error) {
	var count int
	err := db.Get(&count, "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column)
	return count > 0, err
}
