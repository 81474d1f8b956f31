// Package wishlist manages acquisition intents: approved queue items
// and manual additions land here, the download engine works the open
// ones off, and requeue reopens an item for another attempt.
package wishlist

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/crateseek/crateseek/internal/apperr"
	"github.com/crateseek/crateseek/internal/domain"
	"github.com/crateseek/crateseek/internal/logger"
	"github.com/crateseek/crateseek/internal/store"
)

// TaskCreator re-creates the pending acquisition task for a requeued
// item. Implemented by the download engine.
type TaskCreator interface {
	EnsurePendingTask(ctx context.Context, item *domain.WishlistItem) (bool, error)
}

// Patch carries the editable fields of an update; nil means unchanged.
type Patch struct {
	Artist   *string `json:"artist"`
	Album    *string `json:"album"`
	Type     *string `json:"type"`
	Year     *int    `json:"year"`
	MBID     *string `json:"mbid"`
	CoverURL *string `json:"cover_url"`
}

// ImportResult reports the outcome for one imported row.
type ImportResult struct {
	Artist  string `json:"artist"`
	Album   string `json:"album"`
	Added   bool   `json:"added"`
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

type Service struct {
	db    *store.DB
	tasks TaskCreator
	log   *logger.Logger
}

func NewService(db *store.DB, tasks TaskCreator, log *logger.Logger) *Service {
	return &Service{
		db:    db,
		tasks: tasks,
		log:   log.WithComponent("wishlist"),
	}
}

// List returns one page of items plus the total count.
func (s *Service) List(opts store.WishlistListOptions) ([]*domain.WishlistItem, int, error) {
	items, total, err := s.db.ListWishlistItems(opts)
	if err != nil {
		return nil, 0, s.storeErr(err)
	}
	return items, total, nil
}

// Get returns the item or a not-found error.
func (s *Service) Get(id string) (*domain.WishlistItem, error) {
	item, err := s.db.GetWishlistItem(id)
	if err != nil {
		return nil, s.storeErr(err)
	}
	if item == nil {
		return nil, apperr.NotFound("wishlist item %s not found", id)
	}
	return item, nil
}

// Add upserts an intent. An existing (artist, title, type) identity is
// merged, not duplicated; the returned bool reports a new row.
func (s *Service) Add(ctx context.Context, item *domain.WishlistItem) (bool, error) {
	if err := validateItem(item); err != nil {
		return false, err
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}
	added, err := s.db.UpsertWishlistItem(ctx, item)
	if err != nil {
		return false, s.storeErr(err)
	}
	return added, nil
}

// Update applies a partial edit and returns the updated item.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*domain.WishlistItem, error) {
	item, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if patch.Artist != nil {
		item.Artist = strings.TrimSpace(*patch.Artist)
	}
	if patch.Album != nil {
		item.Album = strings.TrimSpace(*patch.Album)
	}
	if patch.Type != nil {
		item.Type = domain.MediaType(*patch.Type)
	}
	if patch.Year != nil {
		item.Year = *patch.Year
	}
	if patch.MBID != nil {
		item.MBID = *patch.MBID
	}
	if patch.CoverURL != nil {
		item.CoverURL = *patch.CoverURL
	}
	if err := validateItem(item); err != nil {
		return nil, err
	}

	if err := s.db.UpdateWishlistItem(ctx, item); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("wishlist item %s not found", id)
		}
		if store.IsConstraint(err) {
			return nil, apperr.Conflict("another wishlist item already has this artist, title, and type")
		}
		return nil, s.storeErr(err)
	}
	return s.Get(id)
}

// Delete removes one item and its tasks.
func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.db.DeleteWishlistItems(ctx, []string{id})
	if err != nil {
		return s.storeErr(err)
	}
	if n == 0 {
		return apperr.NotFound("wishlist item %s not found", id)
	}
	return nil
}

// BulkDelete removes items and returns how many existed.
func (s *Service) BulkDelete(ctx context.Context, ids []string) (int, error) {
	n, err := s.db.DeleteWishlistItems(ctx, ids)
	if err != nil {
		return 0, s.storeErr(err)
	}
	return n, nil
}

// Requeue reopens an item for acquisition and immediately creates its
// pending task so the next driver cycle picks it up.
func (s *Service) Requeue(ctx context.Context, id string) error {
	item, err := s.Get(id)
	if err != nil {
		return err
	}

	if err := s.db.ClearWishlistProcessed(ctx, id); err != nil {
		return s.storeErr(err)
	}
	item.ProcessedAt = nil

	if s.tasks != nil {
		if _, err := s.tasks.EnsurePendingTask(ctx, item); err != nil {
			return s.storeErr(err)
		}
	}
	return nil
}

// BulkRequeue requeues items and returns how many were reopened.
// Unknown ids are skipped.
func (s *Service) BulkRequeue(ctx context.Context, ids []string) (int, error) {
	count := 0
	for _, id := range ids {
		err := s.Requeue(ctx, id)
		if apperr.Is(err, apperr.KindNotFound) {
			continue
		}
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Export returns every item for a JSON dump, oldest first.
func (s *Service) Export() ([]*domain.WishlistItem, error) {
	items, err := s.db.AllWishlistItems()
	if err != nil {
		return nil, s.storeErr(err)
	}
	return items, nil
}

// Import upserts a batch of items, reporting the outcome per row.
// Invalid rows are reported, not fatal; store contention aborts.
func (s *Service) Import(ctx context.Context, items []*domain.WishlistItem) ([]ImportResult, error) {
	results := make([]ImportResult, 0, len(items))
	for _, item := range items {
		result := ImportResult{Artist: item.Artist, Album: item.Album}

		if err := validateItem(item); err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		if item.AddedAt.IsZero() {
			item.AddedAt = time.Now().UTC()
		}

		added, err := s.db.UpsertWishlistItem(ctx, item)
		if err != nil {
			if store.IsBusy(err) {
				return results, s.storeErr(err)
			}
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		result.Added = added
		result.Skipped = !added
		results = append(results, result)
	}
	return results, nil
}

func validateItem(item *domain.WishlistItem) error {
	if strings.TrimSpace(item.Artist) == "" {
		return apperr.Validation("artist is required")
	}
	if strings.TrimSpace(item.Album) == "" {
		return apperr.Validation("album is required")
	}
	if item.Type == "" {
		item.Type = domain.MediaTypeAlbum
	}
	if item.Type != domain.MediaTypeAlbum && item.Type != domain.MediaTypeTrack {
		return apperr.Validation("type must be album or track")
	}
	return nil
}

func (s *Service) storeErr(err error) error {
	if store.IsBusy(err) {
		return apperr.Busy("wishlist store is busy, try again", err)
	}
	return err
}
