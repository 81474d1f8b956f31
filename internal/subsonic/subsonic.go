// Package subsonic mirrors the artist index of a Subsonic-compatible
// music server so discovery can tell which artists are already in the
// library.
package subsonic

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	apiVersion     = "1.16.1"
	clientName     = "crateseek"
	requestTimeout = 30 * time.Second
)

// Artist is one library artist with the server's id for it.
type Artist struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
}

func NewClient(baseURL, username, password string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		username:   username,
		password:   password,
	}
}

// ListArtists returns every artist in the library keyed by lowercased
// name. The map value keeps the server's original casing and id.
func (c *Client) ListArtists(ctx context.Context) (map[string]Artist, error) {
	body, err := c.get(ctx, "getArtists", nil)
	if err != nil {
		return nil, err
	}

	var payload subsonicResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("subsonic: decode getArtists: %w", err)
	}
	if err := payload.Response.err(); err != nil {
		return nil, err
	}

	artists := make(map[string]Artist)
	for _, index := range payload.Response.Artists.Index {
		for _, a := range index.Artist {
			name := strings.TrimSpace(a.Name)
			if name == "" {
				continue
			}
			artists[strings.ToLower(name)] = Artist{Name: name, ID: a.ID}
		}
	}
	return artists, nil
}

// get performs an authenticated REST call. Each request carries a fresh
// salt and the derived one-shot token, never the password itself.
func (c *Client) get(ctx context.Context, endpoint string, extra url.Values) ([]byte, error) {
	salt, err := newSalt()
	if err != nil {
		return nil, fmt.Errorf("subsonic: generate salt: %w", err)
	}

	params := url.Values{}
	for k, vs := range extra {
		params[k] = vs
	}
	params.Set("u", c.username)
	params.Set("t", saltedToken(c.password, salt))
	params.Set("s", salt)
	params.Set("v", apiVersion)
	params.Set("c", clientName)
	params.Set("f", "json")

	reqURL := fmt.Sprintf("%s/rest/%s?%s", c.baseURL, endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("subsonic: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subsonic: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("subsonic: read %s response: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("subsonic: %s returned status %d: %s", endpoint, resp.StatusCode, snippet)
	}
	return body, nil
}

func newSalt() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func saltedToken(password, salt string) string {
	sum := md5.Sum([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

// API response types.

type subsonicResponse struct {
	Response restResponse `json:"subsonic-response"`
}

type restResponse struct {
	Status string `json:"status"`
	Error  struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Artists struct {
		Index []artistIndex `json:"index"`
	} `json:"artists"`
}

func (r *restResponse) err() error {
	if r.Status == "ok" {
		return nil
	}
	return fmt.Errorf("subsonic: request failed: %s (code %d)", r.Error.Message, r.Error.Code)
}

type artistIndex struct {
	Name   string `json:"name"`
	Artist []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"artist"`
}
