// Package slskd drives a slskd daemon over its REST API: starting
// peer searches, collecting responses, enqueueing downloads, and
// reading transfer telemetry.
package slskd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const requestTimeout = 30 * time.Second

// Search is a running or finished peer search.
type Search struct {
	ID            string `json:"id"`
	SearchText    string `json:"searchText"`
	State         string `json:"state"`
	IsComplete    bool   `json:"isComplete"`
	ResponseCount int    `json:"responseCount"`
	FileCount     int    `json:"fileCount"`
}

// SearchFile is one file offered by a peer, with whatever audio
// metadata the peer reported. Zero values mean "not reported".
type SearchFile struct {
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	BitRate    int    `json:"bitRate"`
	BitDepth   int    `json:"bitDepth"`
	SampleRate int    `json:"sampleRate"`
	Length     int    `json:"length"`
}

// SearchResponse is one peer's answer to a search. A peer that does
// not report hasFreeUploadSlot is treated as having none.
type SearchResponse struct {
	Username          string       `json:"username"`
	Files             []SearchFile `json:"files"`
	HasFreeUploadSlot bool         `json:"hasFreeUploadSlot"`
	UploadSpeed       int          `json:"uploadSpeed"`
	QueueLength       int          `json:"queueLength"`
}

// EnqueueFile names one remote file to download.
type EnqueueFile struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// TransferFile is the live state of one queued or moving file.
type TransferFile struct {
	ID               string  `json:"id"`
	Filename         string  `json:"filename"`
	Size             int64   `json:"size"`
	BytesTransferred int64   `json:"bytesTransferred"`
	PercentComplete  float64 `json:"percentComplete"`
	AverageSpeed     float64 `json:"averageSpeed"`
	State            string  `json:"state"`
}

// TransferDirectory groups a user's transfers by remote directory.
type TransferDirectory struct {
	Directory string         `json:"directory"`
	FileCount int            `json:"fileCount"`
	Files     []TransferFile `json:"files"`
}

// UserTransfers holds all downloads from a single peer.
type UserTransfers struct {
	Username    string              `json:"username"`
	Directories []TransferDirectory `json:"directories"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient returns a client for the daemon at baseURL (scheme+host,
// without the /api/v0 suffix).
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimSuffix(baseURL, "/") + "/api/v0",
		apiKey:     apiKey,
	}
}

// StartSearch begins a network search. timeout is forwarded to the
// daemon as the peer-facing search timeout; responseLimit caps how
// many responses the daemon collects.
func (c *Client) StartSearch(ctx context.Context, query string, timeout time.Duration, responseLimit int) (*Search, error) {
	payload := map[string]interface{}{
		"searchText":      query,
		"timeout":         int(timeout.Milliseconds()),
		"filterResponses": false,
	}
	if responseLimit > 0 {
		payload["responseLimit"] = responseLimit
	}

	body, err := c.do(ctx, http.MethodPost, "/searches", payload)
	if err != nil {
		return nil, fmt.Errorf("slskd: start search: %w", err)
	}

	var search Search
	if err := json.Unmarshal(body, &search); err != nil {
		return nil, fmt.Errorf("slskd: decode search: %w", err)
	}
	if search.ID == "" {
		return nil, fmt.Errorf("slskd: search created without an id")
	}
	return &search, nil
}

// State fetches the current state of a search.
func (c *Client) State(ctx context.Context, searchID string) (*Search, error) {
	body, err := c.do(ctx, http.MethodGet, "/searches/"+url.PathEscape(searchID), nil)
	if err != nil {
		return nil, fmt.Errorf("slskd: search state: %w", err)
	}
	var search Search
	if err := json.Unmarshal(body, &search); err != nil {
		return nil, fmt.Errorf("slskd: decode search state: %w", err)
	}
	return &search, nil
}

// Responses returns the peer responses collected so far for a search.
func (c *Client) Responses(ctx context.Context, searchID string) ([]SearchResponse, error) {
	body, err := c.do(ctx, http.MethodGet, "/searches/"+url.PathEscape(searchID)+"/responses", nil)
	if err != nil {
		return nil, fmt.Errorf("slskd: search responses: %w", err)
	}
	var responses []SearchResponse
	if err := json.Unmarshal(body, &responses); err != nil {
		return nil, fmt.Errorf("slskd: decode search responses: %w", err)
	}
	return responses, nil
}

// Delete removes a finished search from the daemon.
func (c *Client) Delete(ctx context.Context, searchID string) error {
	if _, err := c.do(ctx, http.MethodDelete, "/searches/"+url.PathEscape(searchID), nil); err != nil {
		return fmt.Errorf("slskd: delete search: %w", err)
	}
	return nil
}

// Enqueue asks the daemon to download files from a peer.
func (c *Client) Enqueue(ctx context.Context, username string, files []EnqueueFile) error {
	if len(files) == 0 {
		return fmt.Errorf("slskd: no files to enqueue")
	}
	if _, err := c.do(ctx, http.MethodPost, "/transfers/downloads/"+url.PathEscape(username), files); err != nil {
		return fmt.Errorf("slskd: enqueue %d files from %s: %w", len(files), username, err)
	}
	return nil
}

// Transfers returns the full download telemetry grouped by peer and
// remote directory.
func (c *Client) Transfers(ctx context.Context) ([]UserTransfers, error) {
	body, err := c.do(ctx, http.MethodGet, "/transfers/downloads", nil)
	if err != nil {
		return nil, fmt.Errorf("slskd: list transfers: %w", err)
	}
	var transfers []UserTransfers
	if err := json.Unmarshal(body, &transfers); err != nil {
		return nil, fmt.Errorf("slskd: decode transfers: %w", err)
	}
	return transfers, nil
}

// CancelDownload cancels one transfer; remove also drops it from the
// daemon's list.
func (c *Client) CancelDownload(ctx context.Context, username, transferID string, remove bool) error {
	path := "/transfers/downloads/" + url.PathEscape(username) + "/" + url.PathEscape(transferID)
	if remove {
		path += "?remove=true"
	}
	if _, err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("slskd: cancel download %s from %s: %w", transferID, username, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	}
	return body, nil
}

// HasFlag reports whether a comma-separated state string carries the
// given flag. slskd states are flag lists like "Completed, Succeeded";
// matching is case-insensitive per token.
func HasFlag(state, flag string) bool {
	for _, token := range strings.Split(state, ",") {
		if strings.EqualFold(strings.TrimSpace(token), flag) {
			return true
		}
	}
	return false
}
