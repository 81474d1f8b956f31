package store

const Schema = `
CREATE TABLE IF NOT EXISTS queue_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mbid TEXT UNIQUE NOT NULL,
	artist TEXT NOT NULL,
	album TEXT DEFAULT '',
	title TEXT DEFAULT '',
	type TEXT NOT NULL DEFAULT 'album',
	status TEXT NOT NULL DEFAULT 'pending',
	score REAL,
	source TEXT NOT NULL,
	similar_to TEXT,  -- JSON array
	source_track TEXT DEFAULT '',
	cover_url TEXT DEFAULT '',
	year INTEGER DEFAULT 0,
	added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	processed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_queue_items_status ON queue_items(status);
CREATE INDEX IF NOT EXISTS idx_queue_items_source ON queue_items(source);
CREATE INDEX IF NOT EXISTS idx_queue_items_added_at ON queue_items(added_at);

CREATE TABLE IF NOT EXISTS processed_recordings (
	mbid TEXT PRIMARY KEY,
	processed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS catalog_artists (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	name_lower TEXT UNIQUE NOT NULL,
	external_id TEXT DEFAULT '',
	last_synced_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS discovered_artists (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name_lower TEXT UNIQUE NOT NULL,
	discovered_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS wishlist_items (
	id TEXT PRIMARY KEY,
	artist TEXT NOT NULL,
	album TEXT NOT NULL,
	artist_lower TEXT NOT NULL,
	title_lower TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT 'album',
	year INTEGER DEFAULT 0,
	mbid TEXT DEFAULT '',
	source TEXT DEFAULT '',
	cover_url TEXT DEFAULT '',
	added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	processed_at DATETIME
);

-- One wishlist row per acquisition intent
CREATE UNIQUE INDEX IF NOT EXISTS idx_wishlist_identity ON wishlist_items(artist_lower, title_lower, type);

CREATE TABLE IF NOT EXISTS download_tasks (
	id TEXT PRIMARY KEY,
	wishlist_item_id TEXT NOT NULL,
	wishlist_key TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	search_query TEXT DEFAULT '',
	search_results BLOB,
	selection_expires_at DATETIME,
	skipped_usernames TEXT,  -- JSON array
	peer_username TEXT DEFAULT '',
	peer_directory TEXT DEFAULT '',
	file_count INTEGER DEFAULT 0,
	expected_track_count INTEGER DEFAULT 0,
	quality_tier TEXT DEFAULT '',
	quality_format TEXT DEFAULT '',
	quality_bit_rate INTEGER DEFAULT 0,
	quality_bit_depth INTEGER DEFAULT 0,
	quality_sample_rate INTEGER DEFAULT 0,
	download_path TEXT DEFAULT '',
	error_message TEXT DEFAULT '',
	retry_count INTEGER DEFAULT 0,
	queued_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	started_at DATETIME,
	completed_at DATETIME,
	organized_at DATETIME,
	FOREIGN KEY (wishlist_item_id) REFERENCES wishlist_items(id) ON DELETE CASCADE
);

-- Prevent duplicate live tasks for the same wishlist key
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_active_key ON download_tasks(wishlist_key)
WHERE status IN ('pending', 'searching', 'pending_selection', 'deferred', 'queued', 'downloading');

CREATE INDEX IF NOT EXISTS idx_tasks_status ON download_tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_wishlist_item ON download_tasks(wishlist_item_id);

CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	data BLOB,
	expires_at DATETIME
);
`
