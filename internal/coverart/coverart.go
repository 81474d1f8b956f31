// Package coverart builds Cover Art Archive URLs. The archive serves
// release-group front images at fixed thumbnail sizes, so URL
// construction is deterministic and needs no I/O.
package coverart

import (
	"fmt"
	"strings"
)

const DefaultBaseURL = "https://coverartarchive.org"

// Allowed thumbnail sizes.
const (
	SizeSmall  = 250
	SizeMedium = 500
	SizeLarge  = 1200
)

type Client struct {
	baseURL string
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/")}
}

// URL returns the front-cover thumbnail URL for a release-group.
// Unsupported sizes snap to the nearest allowed one; an empty id yields
// an empty URL.
func (c *Client) URL(releaseGroupID string, size int) string {
	if releaseGroupID == "" {
		return ""
	}
	return fmt.Sprintf("%s/release-group/%s/front-%d", c.baseURL, releaseGroupID, normalizeSize(size))
}

func normalizeSize(size int) int {
	switch {
	case size <= 0:
		return SizeSmall
	case size <= SizeSmall:
		return SizeSmall
	case size <= SizeMedium:
		return SizeMedium
	default:
		return SizeLarge
	}
}
