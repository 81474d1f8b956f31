// Package musicbrainz resolves canonical recording ids to artists,
// titles, and albums, and searches release-groups for an artist.
package musicbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crateseek/crateseek/internal/constants"
)

const (
	DefaultBaseURL   = "https://musicbrainz.org/ws/2"
	DefaultUserAgent = "crateseek/1.0 (https://github.com/crateseek/crateseek)"
	requestTimeout   = 10 * time.Second

	// The API documents one request per second for anonymous clients;
	// a small margin keeps bursts of retries compliant.
	minRequestInterval = constants.MusicBrainzInterval
)

// Recording is the minimal answer for a resolved canonical id.
type Recording struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
}

// RecordingAlbum resolves a recording up to its containing album.
type RecordingAlbum struct {
	Artist     string `json:"artist"`
	AlbumTitle string `json:"album_title"`
	AlbumID    string `json:"album_id"`
	TrackTitle string `json:"track_title"`
	Year       int    `json:"year,omitempty"`
}

// ReleaseGroup is one entry from a release-group search.
type ReleaseGroup struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Type             string `json:"type"`
	FirstReleaseDate string `json:"first_release_date,omitempty"`
}

// Year parses the leading year out of the first release date.
func (g *ReleaseGroup) Year() int {
	if len(g.FirstReleaseDate) < 4 {
		return 0
	}
	y, err := strconv.Atoi(g.FirstReleaseDate[:4])
	if err != nil {
		return 0
	}
	return y
}

type Client struct {
	httpClient  *http.Client
	lastRequest time.Time
	baseURL     string
	userAgent   string
	mu          sync.Mutex
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// ResolveRecording returns the artist and title for a canonical id, or
// nil when the id is unknown.
func (c *Client) ResolveRecording(ctx context.Context, mbid string) (*Recording, error) {
	rec, err := c.fetchRecording(ctx, mbid)
	if err != nil || rec == nil {
		return nil, err
	}

	out := &Recording{Title: rec.Title}
	if len(rec.ArtistCredit) > 0 {
		out.Artist = rec.ArtistCredit[0].Artist.Name
	}
	return out, nil
}

// ResolveRecordingToAlbum resolves a recording to its containing album.
// When the recording appears on several releases, the one whose
// release-group primary type is "Album" wins; otherwise the first.
func (c *Client) ResolveRecordingToAlbum(ctx context.Context, mbid string) (*RecordingAlbum, error) {
	rec, err := c.fetchRecording(ctx, mbid)
	if err != nil || rec == nil {
		return nil, err
	}

	out := &RecordingAlbum{TrackTitle: rec.Title}
	if len(rec.ArtistCredit) > 0 {
		out.Artist = rec.ArtistCredit[0].Artist.Name
	}

	rel := selectAlbumRelease(rec.Releases)
	if rel == nil {
		return out, nil
	}

	out.AlbumTitle = rel.Title
	out.AlbumID = rel.ReleaseGroup.ID
	if out.AlbumID == "" {
		out.AlbumID = rel.ID
	}
	out.Year = yearOf(rel.Date)
	if out.Year == 0 {
		out.Year = yearOf(rel.ReleaseGroup.FirstReleaseDate)
	}
	return out, nil
}

// SearchReleaseGroups searches an artist's release-groups of the given
// primary type (album or single for tracks), newest limit entries.
func (c *Client) SearchReleaseGroups(ctx context.Context, artist, typ string, limit int) ([]ReleaseGroup, error) {
	if artist == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = constants.DefaultAlbumsPerArtist
	}

	query := fmt.Sprintf(`artist:"%s"`, escapeLucene(artist))
	if typ != "" {
		query += fmt.Sprintf(` AND primarytype:%s`, typ)
	}
	u := fmt.Sprintf("%s/release-group?query=%s&fmt=json&limit=%d", c.baseURL, url.QueryEscape(query), limit)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("musicbrainz returned status %d", resp.StatusCode)
	}

	var result releaseGroupSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	groups := make([]ReleaseGroup, 0, len(result.ReleaseGroups))
	for _, rg := range result.ReleaseGroups {
		groups = append(groups, ReleaseGroup{
			ID:               rg.ID,
			Title:            rg.Title,
			Type:             rg.PrimaryType,
			FirstReleaseDate: rg.FirstReleaseDate,
		})
	}
	return groups, nil
}

func (c *Client) fetchRecording(ctx context.Context, mbid string) (*recording, error) {
	if mbid == "" {
		return nil, nil
	}

	u := fmt.Sprintf("%s/recording/%s?inc=artists+releases+release-groups&fmt=json", c.baseURL, url.PathEscape(mbid))

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("musicbrainz returned status %d", resp.StatusCode)
	}

	var rec recording
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &rec, nil
}

func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < constants.DefaultRetryCount; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if elapsed := time.Since(c.lastRequest); elapsed < minRequestInterval {
			time.Sleep(minRequestInterval - elapsed)
		}
		c.lastRequest = time.Now()

		resp, err := c.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * constants.DefaultRetryBase)
	}
	return nil, lastErr
}

// selectAlbumRelease prefers a release whose release-group primary type
// is "Album"; otherwise the first release.
func selectAlbumRelease(releases []release) *release {
	if len(releases) == 0 {
		return nil
	}
	for i := range releases {
		if strings.EqualFold(releases[i].ReleaseGroup.PrimaryType, "Album") {
			return &releases[i]
		}
	}
	return &releases[0]
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}

// escapeLucene quotes the characters the search syntax treats specially.
func escapeLucene(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		`+`, `\+`,
		`-`, `\-`,
		`!`, `\!`,
		`(`, `\(`,
		`)`, `\)`,
		`:`, `\:`,
		`^`, `\^`,
		`[`, `\[`,
		`]`, `\]`,
		`{`, `\{`,
		`}`, `\}`,
		`~`, `\~`,
		`*`, `\*`,
		`?`, `\?`,
		`|`, `\|`,
		`&`, `\&`,
		`/`, `\/`,
	)
	return replacer.Replace(s)
}

type releaseGroupSearchResponse struct {
	ReleaseGroups []releaseGroupResult `json:"release-groups"`
}

type releaseGroupResult struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	PrimaryType      string `json:"primary-type"`
	FirstReleaseDate string `json:"first-release-date"`
}

type recording struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Releases     []release      `json:"releases"`
	ArtistCredit []artistCredit `json:"artist-credit"`
	Length       int            `json:"length"`
}

type release struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Status       string       `json:"status"`
	Date         string       `json:"date"`
	Country      string       `json:"country"`
	ReleaseGroup releaseGroup `json:"release-group"`
}

type releaseGroup struct {
	ID               string `json:"id"`
	PrimaryType      string `json:"primary-type"`
	FirstReleaseDate string `json:"first-release-date"`
}

type artistCredit struct {
	Name       string `json:"name"`
	Artist     artist `json:"artist"`
	JoinPhrase string `json:"joinphrase"`
}

type artist struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SortName string `json:"sort-name"`
}
