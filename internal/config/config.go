// Package config loads the YAML configuration document, applies
// environment overrides for secrets, and validates the result.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crateseek/crateseek/internal/constants"
)

// Config is the full application configuration document.
type Config struct {
	Debug       bool    `yaml:"debug" json:"debug"`
	Mode        string  `yaml:"mode" json:"mode"` // album or track
	FetchCount  int     `yaml:"fetch_count" json:"fetch_count"`
	MinScore    float64 `yaml:"min_score" json:"min_score"`
	AutoApprove bool    `yaml:"auto_approve" json:"auto_approve"`

	Port      string `yaml:"port" json:"port"`
	DataDir   string `yaml:"data_dir" json:"data_dir"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	ListenBrainz     ListenBrainzConfig     `yaml:"listenbrainz" json:"listenbrainz"`
	Slskd            SlskdConfig            `yaml:"slskd" json:"slskd"`
	Downloads        DownloadsConfig        `yaml:"downloads" json:"downloads"`
	CatalogDiscovery CatalogDiscoveryConfig `yaml:"catalog_discovery" json:"catalog_discovery"`
	LibraryDuplicate LibraryDuplicateConfig `yaml:"library_duplicate" json:"library_duplicate"`
	LibraryOrganize  LibraryOrganizeConfig  `yaml:"library_organize" json:"library_organize"`
	Preview          PreviewConfig          `yaml:"preview" json:"preview"`
	UI               UIConfig               `yaml:"ui" json:"ui"`
}

// ListenBrainzConfig feeds the recommendation fetch job.
type ListenBrainzConfig struct {
	URL   string `yaml:"url" json:"url"`
	User  string `yaml:"user" json:"user"`
	Token string `yaml:"token" json:"token"`
	Cron  string `yaml:"cron" json:"cron"`
}

// SlskdConfig connects the peer-search daemon.
type SlskdConfig struct {
	URL          string `yaml:"url" json:"url"`
	APIKey       string `yaml:"api_key" json:"api_key"`
	DownloadsDir string `yaml:"downloads_dir" json:"downloads_dir"`
}

// DownloadsConfig tunes the acquisition engine: search filtering,
// scoring, selection, and retries.
type DownloadsConfig struct {
	Cron                  string   `yaml:"cron" json:"cron"`
	MaxConcurrent         int      `yaml:"max_concurrent" json:"max_concurrent"`
	SelectionMode         string   `yaml:"selection_mode" json:"selection_mode"` // auto or manual
	SelectionTimeoutHours int      `yaml:"selection_timeout_hours" json:"selection_timeout_hours"`
	MaxRetries            int      `yaml:"max_retries" json:"max_retries"`
	RetryDelayMS          int      `yaml:"retry_delay_ms" json:"retry_delay_ms"`
	SimplifyOnRetry       bool     `yaml:"simplify_on_retry" json:"simplify_on_retry"`
	ExcludeTerms          []string `yaml:"exclude_terms" json:"exclude_terms"`
	ResponseLimit         int      `yaml:"response_limit" json:"response_limit"`
	PreferredFormats      []string `yaml:"preferred_formats" json:"preferred_formats"`
	MinBitRate            int      `yaml:"min_bit_rate" json:"min_bit_rate"`
	RejectLossless        bool     `yaml:"reject_lossless" json:"reject_lossless"`
	RejectLowQuality      bool     `yaml:"reject_low_quality" json:"reject_low_quality"`
	MinFileSizeMB         int      `yaml:"min_file_size_mb" json:"min_file_size_mb"`
	MaxFileSizeMB         int      `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	PreferAlbumFolder     bool     `yaml:"prefer_album_folder" json:"prefer_album_folder"`
	RequireComplete       bool     `yaml:"require_complete" json:"require_complete"`
	MinCompleteness       float64  `yaml:"min_completeness" json:"min_completeness"`
	CompletenessWeight    float64  `yaml:"completeness_weight" json:"completeness_weight"`
	FileCountCap          int      `yaml:"file_count_cap" json:"file_count_cap"`
	PenalizeExcess        bool     `yaml:"penalize_excess" json:"penalize_excess"`
}

// RetryDelay returns the failed-task back-off as a duration.
func (d DownloadsConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelayMS) * time.Millisecond
}

// SelectionTTL returns how long a manual selection stays open.
func (d DownloadsConfig) SelectionTTL() time.Duration {
	return time.Duration(d.SelectionTimeoutHours) * time.Hour
}

// CatalogDiscoveryConfig feeds the similar-artist mining job.
type CatalogDiscoveryConfig struct {
	Enabled          bool    `yaml:"enabled" json:"enabled"`
	Cron             string  `yaml:"cron" json:"cron"`
	LastFMAPIKey     string  `yaml:"lastfm_api_key" json:"lastfm_api_key"`
	MaxArtistsPerRun int     `yaml:"max_artists_per_run" json:"max_artists_per_run"`
	AlbumsPerArtist  int     `yaml:"albums_per_artist" json:"albums_per_artist"`
	MinSimilarity    float64 `yaml:"min_similarity" json:"min_similarity"`
	SimilarLimit     int     `yaml:"similar_limit" json:"similar_limit"`
}

// LibraryDuplicateConfig connects the music server whose catalog marks
// queue items the user already owns.
type LibraryDuplicateConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// LibraryOrganizeConfig is the opaque post-download hook. An empty
// command disables it.
type LibraryOrganizeConfig struct {
	Command        string   `yaml:"command" json:"command"`
	Args           []string `yaml:"args" json:"args"`
	TimeoutMinutes int      `yaml:"timeout_minutes" json:"timeout_minutes"`
}

// Timeout returns the hook's execution budget.
func (o LibraryOrganizeConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutMinutes) * time.Minute
}

// PreviewConfig toggles audio preview lookups.
type PreviewConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	URL     string `yaml:"url" json:"url"`
}

// UIConfig holds optional basic-auth credentials for the HTTP surface.
type UIConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Load reads the YAML document at path. An empty path falls back to
// the CRATESEEK_CONFIG environment variable, and no path at all means
// defaults only. Secrets may always be supplied via environment
// variables so they can stay out of the file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("CRATESEEK_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Mode:       constants.DefaultMode,
		FetchCount: constants.DefaultFetchCount,
		Port:       constants.DefaultPort,
		DataDir:    constants.DefaultDataDir,
		LogLevel:   "info",
		LogFormat:  "text",
		ListenBrainz: ListenBrainzConfig{
			Cron: constants.DefaultRecommenderCron,
		},
		Slskd: SlskdConfig{
			URL:          constants.DefaultSlskdURL,
			DownloadsDir: constants.DefaultDownloadsDir,
		},
		Downloads: DownloadsConfig{
			Cron:                  constants.DefaultDriverCron,
			MaxConcurrent:         constants.DefaultMaxConcurrent,
			SelectionMode:         "auto",
			SelectionTimeoutHours: int(constants.DefaultSelectionTTL / time.Hour),
			MaxRetries:            constants.DefaultMaxRetries,
			RetryDelayMS:          int(constants.DefaultRetryDelay / time.Millisecond),
			MinFileSizeMB:         constants.DefaultMinFileSizeMB,
			MaxFileSizeMB:         constants.DefaultMaxFileSizeMB,
			PreferAlbumFolder:     true,
			CompletenessWeight:    constants.DefaultCompletenessWeight,
			FileCountCap:          constants.DefaultFileCountCap,
			PenalizeExcess:        true,
			PreferredFormats:      []string{"flac", "mp3"},
		},
		CatalogDiscovery: CatalogDiscoveryConfig{
			Cron:             constants.DefaultSimilarityCron,
			MaxArtistsPerRun: constants.DefaultMaxArtistsPerRun,
			AlbumsPerArtist:  constants.DefaultAlbumsPerArtist,
			MinSimilarity:    constants.DefaultMinSimilarity,
			SimilarLimit:     constants.DefaultSimilarLimit,
		},
		LibraryDuplicate: LibraryDuplicateConfig{
			Enabled: true,
		},
		LibraryOrganize: LibraryOrganizeConfig{
			TimeoutMinutes: int(constants.DefaultOrganizeTimeout / time.Minute),
		},
		Preview: PreviewConfig{
			Enabled: true,
		},
	}
}

// applyEnv lets environment variables override the secrets.
func applyEnv(c *Config) {
	c.ListenBrainz.Token = getEnv("CRATESEEK_LISTENBRAINZ_TOKEN", c.ListenBrainz.Token)
	c.Slskd.APIKey = getEnv("CRATESEEK_SLSKD_API_KEY", c.Slskd.APIKey)
	c.CatalogDiscovery.LastFMAPIKey = getEnv("CRATESEEK_LASTFM_API_KEY", c.CatalogDiscovery.LastFMAPIKey)
	c.LibraryDuplicate.Password = getEnv("CRATESEEK_LIBRARY_PASSWORD", c.LibraryDuplicate.Password)
	c.UI.Password = getEnv("CRATESEEK_UI_PASSWORD", c.UI.Password)
}

// DBPath is the SQLite file location under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, constants.DefaultDBFile)
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errors []string

	if c.Port == "" {
		errors = append(errors, "port cannot be empty")
	} else {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			errors = append(errors, fmt.Sprintf("port must be a valid number, got: %s", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("port must be between 1 and 65535, got: %d", port))
		}
	}

	if c.DataDir == "" {
		errors = append(errors, "data_dir cannot be empty")
	}

	if c.Mode != "album" && c.Mode != "track" {
		errors = append(errors, fmt.Sprintf("mode must be album or track, got: %s", c.Mode))
	}
	if c.FetchCount < 1 {
		errors = append(errors, fmt.Sprintf("fetch_count must be at least 1, got: %d", c.FetchCount))
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		errors = append(errors, fmt.Sprintf("min_score must be between 0 and 1, got: %g", c.MinScore))
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errors = append(errors, fmt.Sprintf("log_level must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		errors = append(errors, fmt.Sprintf("log_format must be one of: text, json, got: %s", c.LogFormat))
	}

	if c.ListenBrainz.URL != "" {
		if _, err := url.Parse(c.ListenBrainz.URL); err != nil {
			errors = append(errors, fmt.Sprintf("listenbrainz.url is not a valid URL: %s", c.ListenBrainz.URL))
		}
	}
	if c.ListenBrainz.Token != "" && c.ListenBrainz.User == "" {
		errors = append(errors, "listenbrainz.user is required when a token is set")
	}

	if c.Slskd.URL == "" {
		errors = append(errors, "slskd.url cannot be empty")
	} else if _, err := url.Parse(c.Slskd.URL); err != nil {
		errors = append(errors, fmt.Sprintf("slskd.url is not a valid URL: %s", c.Slskd.URL))
	}
	if c.Slskd.DownloadsDir == "" {
		errors = append(errors, "slskd.downloads_dir cannot be empty")
	}

	d := c.Downloads
	if d.SelectionMode != "auto" && d.SelectionMode != "manual" {
		errors = append(errors, fmt.Sprintf("downloads.selection_mode must be auto or manual, got: %s", d.SelectionMode))
	}
	if d.MaxConcurrent < 1 {
		errors = append(errors, fmt.Sprintf("downloads.max_concurrent must be at least 1, got: %d", d.MaxConcurrent))
	}
	if d.MaxRetries < 0 {
		errors = append(errors, fmt.Sprintf("downloads.max_retries cannot be negative, got: %d", d.MaxRetries))
	}
	if d.RetryDelayMS < 0 {
		errors = append(errors, fmt.Sprintf("downloads.retry_delay_ms cannot be negative, got: %d", d.RetryDelayMS))
	}
	if d.SelectionTimeoutHours < 1 {
		errors = append(errors, fmt.Sprintf("downloads.selection_timeout_hours must be at least 1, got: %d", d.SelectionTimeoutHours))
	}
	if d.MinFileSizeMB < 0 || d.MaxFileSizeMB < 0 {
		errors = append(errors, "downloads file size bounds cannot be negative")
	} else if d.MaxFileSizeMB > 0 && d.MinFileSizeMB > d.MaxFileSizeMB {
		errors = append(errors, fmt.Sprintf("downloads.min_file_size_mb (%d) exceeds max_file_size_mb (%d)", d.MinFileSizeMB, d.MaxFileSizeMB))
	}
	if d.MinCompleteness < 0 || d.MinCompleteness > 1 {
		errors = append(errors, fmt.Sprintf("downloads.min_completeness must be between 0 and 1, got: %g", d.MinCompleteness))
	}

	cd := c.CatalogDiscovery
	if cd.Enabled {
		if cd.LastFMAPIKey == "" {
			errors = append(errors, "catalog_discovery.lastfm_api_key is required when catalog_discovery is enabled")
		}
		if c.LibraryDuplicate.URL == "" {
			errors = append(errors, "library_duplicate.url is required when catalog_discovery is enabled")
		}
	}
	if cd.MinSimilarity < 0 || cd.MinSimilarity > 1 {
		errors = append(errors, fmt.Sprintf("catalog_discovery.min_similarity must be between 0 and 1, got: %g", cd.MinSimilarity))
	}
	if cd.MaxArtistsPerRun < 1 {
		errors = append(errors, fmt.Sprintf("catalog_discovery.max_artists_per_run must be at least 1, got: %d", cd.MaxArtistsPerRun))
	}
	if cd.AlbumsPerArtist < 1 {
		errors = append(errors, fmt.Sprintf("catalog_discovery.albums_per_artist must be at least 1, got: %d", cd.AlbumsPerArtist))
	}

	if c.LibraryDuplicate.URL != "" {
		if _, err := url.Parse(c.LibraryDuplicate.URL); err != nil {
			errors = append(errors, fmt.Sprintf("library_duplicate.url is not a valid URL: %s", c.LibraryDuplicate.URL))
		}
		if c.LibraryDuplicate.Username == "" {
			errors = append(errors, "library_duplicate.username is required when a url is set")
		}
	}

	if len(c.LibraryOrganize.Args) > 0 && c.LibraryOrganize.Command == "" {
		errors = append(errors, "library_organize.args given without library_organize.command")
	}
	if c.LibraryOrganize.TimeoutMinutes < 1 {
		errors = append(errors, fmt.Sprintf("library_organize.timeout_minutes must be at least 1, got: %d", c.LibraryOrganize.TimeoutMinutes))
	}

	if (c.UI.Username == "") != (c.UI.Password == "") {
		errors = append(errors, "ui.username and ui.password must be set together")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// Redacted returns a copy safe for logs and the config endpoint.
func (c *Config) Redacted() *Config {
	out := *c
	out.ListenBrainz.Token = redact(c.ListenBrainz.Token)
	out.Slskd.APIKey = redact(c.Slskd.APIKey)
	out.CatalogDiscovery.LastFMAPIKey = redact(c.CatalogDiscovery.LastFMAPIKey)
	out.LibraryDuplicate.Password = redact(c.LibraryDuplicate.Password)
	out.UI.Password = redact(c.UI.Password)
	return &out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
