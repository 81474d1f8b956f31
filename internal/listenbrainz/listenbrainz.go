// Package listenbrainz fetches collaborative-filtering recording
// recommendations for a user.
package listenbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/crateseek/crateseek/internal/constants"
)

const (
	DefaultBaseURL = "https://api.listenbrainz.org"
	requestTimeout = 15 * time.Second
	burstLimit     = 1
)

// Recommendation is one recommended recording with its model score.
type Recommendation struct {
	RecordingMBID string  `json:"recording_mbid"`
	Score         float64 `json:"score"`
}

type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	token      string
}

// NewClient returns a client for the given API root. The token is
// attached to every request; an empty token sends anonymous requests.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Every(constants.ListenBrainzInterval), burstLimit),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
	}
}

// FetchRecommendations returns up to count recommended recordings for
// user. A 204 means the service has not built recommendations for this
// user yet; that is an empty answer, not an error.
func (c *Client) FetchRecommendations(ctx context.Context, user string, count int) ([]Recommendation, error) {
	if user == "" {
		return nil, fmt.Errorf("listenbrainz: user is required")
	}
	if count <= 0 {
		count = constants.DefaultFetchCount
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/1/cf/recommendation/user/%s/recording?count=%d",
		c.baseURL, url.PathEscape(user), count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("listenbrainz: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listenbrainz: fetch recommendations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("listenbrainz: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var payload recommendationResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("listenbrainz: decode response: %w", err)
	}

	recs := make([]Recommendation, 0, len(payload.Payload.MBIDs))
	for _, m := range payload.Payload.MBIDs {
		if m.RecordingMBID == "" {
			continue
		}
		recs = append(recs, Recommendation{RecordingMBID: m.RecordingMBID, Score: m.Score})
	}
	return recs, nil
}

// API response types.

type recommendationResponse struct {
	Payload struct {
		Count int `json:"count"`
		MBIDs []struct {
			RecordingMBID string  `json:"recording_mbid"`
			Score         float64 `json:"score"`
		} `json:"mbids"`
	} `json:"payload"`
}
