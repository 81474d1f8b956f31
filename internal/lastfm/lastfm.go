// Package lastfm looks up artists similar to a given artist. Lookups
// are advisory: failures are logged and answered with an empty list so
// discovery never stalls on the similarity service.
package lastfm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/crateseek/crateseek/internal/constants"
	"github.com/crateseek/crateseek/internal/httpclient"
	"github.com/crateseek/crateseek/internal/logger"
)

const DefaultBaseURL = "https://ws.audioscrobbler.com/2.0/"

// SimilarArtist is one similarity answer. Match is the service's
// confidence in [0,1].
type SimilarArtist struct {
	Name  string  `json:"name"`
	Match float64 `json:"match"`
	MBID  string  `json:"mbid,omitempty"`
}

type Client struct {
	httpClient *httpclient.Client
	log        *logger.Logger
	baseURL    string
	apiKey     string
}

func NewClient(baseURL, apiKey string, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpclient.NewClient(nil, constants.LastFMInterval),
		log:        log.WithComponent("lastfm"),
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// SimilarArtists returns up to limit artists similar to name, ordered
// by descending match. Any failure, including a missing API key, yields
// an empty list.
func (c *Client) SimilarArtists(ctx context.Context, name string, limit int) []SimilarArtist {
	if c.apiKey == "" {
		c.log.Debug("Skipping similar artist lookup, no API key configured", "artist", name)
		return nil
	}

	artists, err := c.fetchSimilar(ctx, name, limit)
	if err != nil {
		c.log.Warn("Similar artist lookup failed", "artist", name, "error", err)
		return nil
	}
	return artists
}

func (c *Client) fetchSimilar(ctx context.Context, name string, limit int) ([]SimilarArtist, error) {
	if limit <= 0 {
		limit = constants.DefaultSimilarLimit
	}

	params := url.Values{}
	params.Set("method", "artist.getsimilar")
	params.Set("artist", name)
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")
	params.Set("autocorrect", "1")
	params.Set("limit", strconv.Itoa(limit))

	sep := "?"
	if strings.Contains(c.baseURL, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+sep+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var payload similarArtistsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	// The service reports its own errors inside a 200 body.
	if payload.Error != 0 {
		return nil, fmt.Errorf("service error %d: %s", payload.Error, payload.Message)
	}

	artists := make([]SimilarArtist, 0, len(payload.SimilarArtists.Artist))
	for _, a := range payload.SimilarArtists.Artist {
		if a.Name == "" {
			continue
		}
		artists = append(artists, SimilarArtist{
			Name:  a.Name,
			Match: parseMatch(a.Match),
			MBID:  a.MBID,
		})
	}
	return artists, nil
}

// parseMatch reads the match field, which the API serializes as a
// string, and clamps it into [0,1].
func parseMatch(s string) float64 {
	m, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if m < 0 {
		return 0
	}
	if m > 1 {
		return 1
	}
	return m
}

// API response types.

type similarArtistsResponse struct {
	SimilarArtists struct {
		Artist []struct {
			Name  string `json:"name"`
			Match string `json:"match"`
			MBID  string `json:"mbid"`
		} `json:"artist"`
	} `json:"similarartists"`
	Error   int    `json:"error"`
	Message string `json:"message"`
}
