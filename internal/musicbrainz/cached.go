package musicbrainz

import (
	"context"
	"encoding/json"
	"time"
)

// ClientInterface is what the discovery jobs consume; the cached
// decorator and the raw client both satisfy it.
type ClientInterface interface {
	ResolveRecording(ctx context.Context, mbid string) (*Recording, error)
	ResolveRecordingToAlbum(ctx context.Context, mbid string) (*RecordingAlbum, error)
	SearchReleaseGroups(ctx context.Context, artist, typ string, limit int) ([]ReleaseGroup, error)
}

var _ ClientInterface = (*Client)(nil)
var _ ClientInterface = (*CachedClient)(nil)

type Cache interface {
	GetCache(key string) ([]byte, error)
	SetCache(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// CachedClient memoizes resolutions in the store-backed cache. Negative
// answers are cached too so unknown ids cost one request per TTL.
type CachedClient struct {
	client *Client
	cache  Cache
	ttl    time.Duration
}

func NewCachedClient(client *Client, cache Cache, ttl time.Duration) *CachedClient {
	return &CachedClient{
		client: client,
		cache:  cache,
		ttl:    ttl,
	}
}

type cachedRecording struct {
	Recording *Recording `json:"recording"`
	NotFound  bool       `json:"not_found"`
}

func (c *CachedClient) ResolveRecording(ctx context.Context, mbid string) (*Recording, error) {
	cacheKey := "mb:recording:" + mbid

	data, err := c.cache.GetCache(cacheKey)
	if err != nil {
		return nil, err
	}
	if data != nil {
		var cached cachedRecording
		if unmarshalErr := json.Unmarshal(data, &cached); unmarshalErr == nil {
			return cached.Recording, nil
		}
	}

	rec, err := c.client.ResolveRecording(ctx, mbid)
	if err != nil {
		return nil, err
	}

	cached := cachedRecording{Recording: rec}
	if rec == nil {
		cached.NotFound = true
	}
	if data, marshalErr := json.Marshal(cached); marshalErr == nil {
		_ = c.cache.SetCache(ctx, cacheKey, data, c.ttl)
	}

	return rec, nil
}

type cachedAlbum struct {
	Album    *RecordingAlbum `json:"album"`
	NotFound bool            `json:"not_found"`
}

func (c *CachedClient) ResolveRecordingToAlbum(ctx context.Context, mbid string) (*RecordingAlbum, error) {
	cacheKey := "mb:album:" + mbid

	data, err := c.cache.GetCache(cacheKey)
	if err != nil {
		return nil, err
	}
	if data != nil {
		var cached cachedAlbum
		if unmarshalErr := json.Unmarshal(data, &cached); unmarshalErr == nil {
			return cached.Album, nil
		}
	}

	album, err := c.client.ResolveRecordingToAlbum(ctx, mbid)
	if err != nil {
		return nil, err
	}

	cached := cachedAlbum{Album: album}
	if album == nil {
		cached.NotFound = true
	}
	if data, marshalErr := json.Marshal(cached); marshalErr == nil {
		_ = c.cache.SetCache(ctx, cacheKey, data, c.ttl)
	}

	return album, nil
}

// SearchReleaseGroups is not cached: searches change as artists release
// new material and the similarity job already paces these calls.
func (c *CachedClient) SearchReleaseGroups(ctx context.Context, artist, typ string, limit int) ([]ReleaseGroup, error) {
	return c.client.SearchReleaseGroups(ctx, artist, typ, limit)
}
