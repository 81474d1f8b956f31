// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort         = "8585"
	DefaultDataDir      = "./data"
	DefaultDBFile       = "crateseek.db"
	DefaultMode         = "album"
	DefaultFetchCount   = 20
	DefaultSlskdURL     = "http://localhost:5030"
	DefaultDownloadsDir = "./downloads"
	DefaultHTTPTimeout  = 30 * time.Second
	DefaultRetryCount   = 3
	DefaultRetryBase    = 1 * time.Second
	DefaultCacheTTL     = 7 * 24 * time.Hour
	WriteTokenTimeout   = 5 * time.Second
	ShutdownGracePeriod = 10 * time.Second
)

// External service pacing. MusicBrainz and ListenBrainz both document a
// one-request-per-second ceiling for unauthenticated clients; the cover
// art archive tolerates a little more.
const (
	MusicBrainzInterval  = 1050 * time.Millisecond
	ListenBrainzInterval = 1 * time.Second
	LastFMInterval       = 1 * time.Second
	CoverArtInterval     = 500 * time.Millisecond
)

// Peer search (slskd)
const (
	SearchPollInterval   = 1 * time.Second
	SearchMaxWait        = 20 * time.Second
	SearchTimeout        = 15 * time.Second
	TransferPollInterval = 2 * time.Second
)

// Download engine defaults
const (
	DefaultMinFileSizeMB      = 1
	DefaultMaxFileSizeMB      = 1024
	DefaultCompletenessWeight = 200
	DefaultMinCompleteness    = 0.0
	DefaultFileCountCap       = 100
	DefaultSelectionTTL       = 24 * time.Hour
	DefaultRetryDelay         = 5 * time.Minute
	DefaultMaxRetries         = 3
	DefaultMaxConcurrent      = 2
	DefaultQueuedTimeout      = 10 * time.Minute
	DefaultOrganizeTimeout    = 5 * time.Minute
)

// Discovery job defaults
const (
	DefaultMaxArtistsPerRun = 10
	DefaultAlbumsPerArtist  = 3
	DefaultSimilarLimit     = 20
	DefaultMinSimilarity    = 0.3
)

// Default cron schedules
const (
	DefaultRecommenderCron = "0 */6 * * *"
	DefaultSimilarityCron  = "0 3 * * *"
	DefaultDriverCron      = "*/2 * * * *"
)

// Scheduler job names
const (
	JobRecommenderFetch  = "recommender_fetch"
	JobCatalogSimilarity = "catalog_similarity"
	JobDownloadDriver    = "download_driver"
)

// Pagination
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// File Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)
