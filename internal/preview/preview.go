// Package preview looks up 30-second audio preview URLs so the queue
// UI can play a sample before approving an item. Lookups are
// best-effort; every failure degrades to an empty URL.
package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/crateseek/crateseek/internal/logger"
)

const (
	DefaultBaseURL = "https://api.deezer.com"
	requestTimeout = 10 * time.Second
)

type Client struct {
	httpClient *http.Client
	log        *logger.Logger
	baseURL    string
}

func NewClient(baseURL string, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log.WithComponent("preview"),
		baseURL:    baseURL,
	}
}

// TrackPreviewURL returns a preview URL for a track, or "" when none
// could be found.
func (c *Client) TrackPreviewURL(ctx context.Context, artist, title string) string {
	return c.lookup(ctx, fmt.Sprintf(`artist:"%s" track:"%s"`, artist, title))
}

// AlbumPreviewURL returns a preview URL for any track of an album, or
// "" when none could be found.
func (c *Client) AlbumPreviewURL(ctx context.Context, artist, album string) string {
	return c.lookup(ctx, fmt.Sprintf(`artist:"%s" album:"%s"`, artist, album))
}

func (c *Client) lookup(ctx context.Context, query string) string {
	previewURL, err := c.search(ctx, query)
	if err != nil {
		c.log.Debug("Preview lookup failed", "query", query, "error", err)
		return ""
	}
	return previewURL
}

func (c *Client) search(ctx context.Context, query string) (string, error) {
	reqURL := fmt.Sprintf("%s/search?q=%s&limit=1", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Data) == 0 {
		return "", nil
	}
	return payload.Data[0].Preview, nil
}

// API response types.

type searchResponse struct {
	Data []struct {
		Preview string `json:"preview"`
	} `json:"data"`
}
