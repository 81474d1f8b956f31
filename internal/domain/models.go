// Package domain holds the persisted entities and shared value types.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// MediaType distinguishes album-level from track-level intents.
type MediaType string

const (
	MediaTypeAlbum MediaType = "album"
	MediaTypeTrack MediaType = "track"
)

// Source identifies which discovery path produced a queue item.
type Source string

const (
	SourceRecommender Source = "recommender"
	SourceCatalog     Source = "catalog"
)

// QueueStatus is the curation state of a recommendation.
type QueueStatus string

const (
	QueueStatusPending  QueueStatus = "pending"
	QueueStatusApproved QueueStatus = "approved"
	QueueStatusRejected QueueStatus = "rejected"
)

// TaskStatus is the acquisition state of a download task.
type TaskStatus string

const (
	TaskStatusPending          TaskStatus = "pending"
	TaskStatusSearching        TaskStatus = "searching"
	TaskStatusPendingSelection TaskStatus = "pending_selection"
	TaskStatusDeferred         TaskStatus = "deferred"
	TaskStatusQueued           TaskStatus = "queued"
	TaskStatusDownloading      TaskStatus = "downloading"
	TaskStatusCompleted        TaskStatus = "completed"
	TaskStatusFailed           TaskStatus = "failed"
)

// IsTerminal reports whether the task has finished, successfully or not.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsActive reports whether the task still occupies its wishlist key.
func (s TaskStatus) IsActive() bool {
	return !s.IsTerminal()
}

// QualityTier classifies the audio quality of a candidate source.
type QualityTier string

const (
	QualityLossless QualityTier = "lossless"
	QualityHigh     QualityTier = "high"
	QualityStandard QualityTier = "standard"
	QualityLow      QualityTier = "low"
	QualityUnknown  QualityTier = "unknown"
)

// QueueItem is a candidate recommendation awaiting curation.
type QueueItem struct {
	ID          int64       `json:"id" db:"id"`
	MBID        string      `json:"mbid" db:"mbid"`
	Artist      string      `json:"artist" db:"artist"`
	Album       string      `json:"album,omitempty" db:"album"`
	Title       string      `json:"title,omitempty" db:"title"`
	Type        MediaType   `json:"type" db:"type"`
	Status      QueueStatus `json:"status" db:"status"`
	Score       *float64    `json:"score,omitempty" db:"score"`
	Source      Source      `json:"source" db:"source"`
	SimilarTo   StringSlice `json:"similar_to,omitempty" db:"similar_to"`
	SourceTrack string      `json:"source_track,omitempty" db:"source_track"`
	CoverURL    string      `json:"cover_url,omitempty" db:"cover_url"`
	Year        int         `json:"year,omitempty" db:"year"`
	AddedAt     time.Time   `json:"added_at" db:"added_at"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty" db:"processed_at"`
	InLibrary   bool        `json:"in_library" db:"in_library"`
}

// QueueStats summarizes the queue by status.
type QueueStats struct {
	Pending   int `json:"pending" db:"pending"`
	Approved  int `json:"approved" db:"approved"`
	Rejected  int `json:"rejected" db:"rejected"`
	InLibrary int `json:"in_library" db:"in_library"`
}

// ProcessedRecording marks a canonical id already emitted by a discovery
// source so it is never proposed twice.
type ProcessedRecording struct {
	MBID        string    `json:"mbid" db:"mbid"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}

// CatalogArtist mirrors one artist from the user's library.
type CatalogArtist struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	NameLower    string    `json:"name_lower" db:"name_lower"`
	ExternalID   string    `json:"external_id,omitempty" db:"external_id"`
	LastSyncedAt time.Time `json:"last_synced_at" db:"last_synced_at"`
}

// DiscoveredArtist records an artist the similarity job has already
// considered, preventing re-discovery.
type DiscoveredArtist struct {
	ID           int64     `json:"id" db:"id"`
	NameLower    string    `json:"name_lower" db:"name_lower"`
	DiscoveredAt time.Time `json:"discovered_at" db:"discovered_at"`
}

// WishlistItem is an approved acquisition intent. Album doubles as the
// track title for track-typed items.
type WishlistItem struct {
	ID          string     `json:"id" db:"id"`
	Artist      string     `json:"artist" db:"artist"`
	Album       string     `json:"album" db:"album"`
	Type        MediaType  `json:"type" db:"type"`
	Year        int        `json:"year,omitempty" db:"year"`
	MBID        string     `json:"mbid,omitempty" db:"mbid"`
	Source      string     `json:"source,omitempty" db:"source"`
	CoverURL    string     `json:"cover_url,omitempty" db:"cover_url"`
	AddedAt     time.Time  `json:"added_at" db:"added_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`

	// DownloadStatus is derived by joining with the task table; it is
	// never written.
	DownloadStatus string `json:"download_status,omitempty" db:"download_status"`
}

// Key returns the denormalized "<artist> - <title>" used to dedupe
// download tasks.
func (w *WishlistItem) Key() string {
	return fmt.Sprintf("%s - %s", w.Artist, w.Album)
}

// ArtistLower and TitleLower feed the upsert key.
func (w *WishlistItem) ArtistLower() string { return strings.ToLower(strings.TrimSpace(w.Artist)) }
func (w *WishlistItem) TitleLower() string  { return strings.ToLower(strings.TrimSpace(w.Album)) }

// DownloadTask tracks the acquisition of one wishlist item.
type DownloadTask struct {
	ID                 string      `json:"id" db:"id"`
	WishlistItemID     string      `json:"wishlist_item_id" db:"wishlist_item_id"`
	WishlistKey        string      `json:"wishlist_key" db:"wishlist_key"`
	Status             TaskStatus  `json:"status" db:"status"`
	SearchQuery        string      `json:"search_query,omitempty" db:"search_query"`
	SearchResults      []byte      `json:"-" db:"search_results"`
	SelectionExpiresAt *time.Time  `json:"selection_expires_at,omitempty" db:"selection_expires_at"`
	SkippedUsernames   StringSlice `json:"skipped_usernames,omitempty" db:"skipped_usernames"`
	PeerUsername       string      `json:"peer_username,omitempty" db:"peer_username"`
	PeerDirectory      string      `json:"peer_directory,omitempty" db:"peer_directory"`
	FileCount          int         `json:"file_count,omitempty" db:"file_count"`
	ExpectedTrackCount int         `json:"expected_track_count,omitempty" db:"expected_track_count"`
	QualityTier        QualityTier `json:"quality_tier,omitempty" db:"quality_tier"`
	QualityFormat      string      `json:"quality_format,omitempty" db:"quality_format"`
	QualityBitRate     int         `json:"quality_bit_rate,omitempty" db:"quality_bit_rate"`
	QualityBitDepth    int         `json:"quality_bit_depth,omitempty" db:"quality_bit_depth"`
	QualitySampleRate  int         `json:"quality_sample_rate,omitempty" db:"quality_sample_rate"`
	DownloadPath       string      `json:"download_path,omitempty" db:"download_path"`
	ErrorMessage       string      `json:"error_message,omitempty" db:"error_message"`
	RetryCount         int         `json:"retry_count" db:"retry_count"`
	QueuedAt           time.Time   `json:"queued_at" db:"queued_at"`
	UpdatedAt          time.Time   `json:"updated_at" db:"updated_at"`
	StartedAt          *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
	OrganizedAt        *time.Time  `json:"organized_at,omitempty" db:"organized_at"`
}

// TaskProgress aggregates live transfer telemetry for one task.
type TaskProgress struct {
	TaskID             string  `json:"task_id"`
	WishlistKey        string  `json:"wishlist_key"`
	FilesCompleted     int     `json:"files_completed"`
	FilesTotal         int     `json:"files_total"`
	BytesTransferred   int64   `json:"bytes_transferred"`
	BytesTotal         int64   `json:"bytes_total"`
	AverageSpeed       float64 `json:"average_speed"`
	EstimatedRemaining float64 `json:"estimated_time_remaining"`
}

// Percent returns overall completion in [0,100].
func (p *TaskProgress) Percent() float64 {
	if p.BytesTotal <= 0 {
		return 0
	}
	return float64(p.BytesTransferred) / float64(p.BytesTotal) * 100
}

// DownloadStats summarizes tasks by state plus aggregate bandwidth.
type DownloadStats struct {
	Active         int     `json:"active"`
	Queued         int     `json:"queued"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	TotalBandwidth float64 `json:"totalBandwidth"`
}
