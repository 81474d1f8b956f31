package httpapp

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/form/v4"

	"github.com/crateseek/crateseek/internal/apperr"
	"github.com/crateseek/crateseek/internal/constants"
)

// queryDecoder maps URL query parameters onto request structs by their
// form tags.
var queryDecoder = form.NewDecoder()

func decodeQuery(r *http.Request, dst interface{}) error {
	if err := queryDecoder.Decode(dst, r.URL.Query()); err != nil {
		return apperr.Validation("invalid query parameters: %v", err)
	}
	return nil
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// clampPage applies the default and maximum page size.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = constants.DefaultPageLimit
	}
	if limit > constants.MaxPageLimit {
		limit = constants.MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// QueueListRequest holds the query parameters of GET /api/queue.
type QueueListRequest struct {
	Source        string `form:"source"`
	Sort          string `form:"sort"`
	Order         string `form:"order"`
	Limit         int    `form:"limit"`
	Offset        int    `form:"offset"`
	HideInLibrary bool   `form:"hide_in_library"`
}

// PageRequest holds the shared pagination query parameters.
type PageRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// WishlistListRequest holds the query parameters of GET /api/wishlist.
type WishlistListRequest struct {
	Type     string `form:"type"`
	Acquired *bool  `form:"acquired"`
	Search   string `form:"search"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

// IDsRequest names the entities of a bulk operation. All widens an
// approval to the whole pending set.
type IDsRequest struct {
	IDs []string `json:"ids"`
	All bool     `json:"all,omitempty"`
}

// SelectRequest picks one candidate of a pending selection. A non-empty
// directory narrows the download to that folder of the peer's share.
type SelectRequest struct {
	Username  string `json:"username"`
	Directory string `json:"directory,omitempty"`
}

// SkipRequest removes one peer from a pending selection.
type SkipRequest struct {
	Username string `json:"username"`
}

// RetrySearchRequest optionally overrides the generated search query.
type RetrySearchRequest struct {
	Query string `json:"query,omitempty"`
}

// ListResponse is the paginated envelope shared by the listing
// endpoints.
type ListResponse struct {
	Items  interface{} `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}
