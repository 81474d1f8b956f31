// Package queue manages the human review queue: candidates arrive
// pending, a reviewer approves or rejects them, and approvals become
// wishlist entries in the same write transaction.
package queue

import (
	"context"
	"strings"
	"time"

	"github.com/crateseek/crateseek/internal/apperr"
	"github.com/crateseek/crateseek/internal/domain"
	"github.com/crateseek/crateseek/internal/events"
	"github.com/crateseek/crateseek/internal/logger"
	"github.com/crateseek/crateseek/internal/store"
)

// ItemStatusChange is the payload of queue:item:updated events.
type ItemStatusChange struct {
	MBID   string `json:"mbid"`
	Status string `json:"status"`
}

type Service struct {
	db  *store.DB
	bus *events.Bus
	log *logger.Logger
}

func NewService(db *store.DB, bus *events.Bus, log *logger.Logger) *Service {
	return &Service{
		db:  db,
		bus: bus,
		log: log.WithComponent("queue"),
	}
}

// GetPending returns one page of pending items plus the total count.
func (s *Service) GetPending(opts store.QueueListOptions) ([]*domain.QueueItem, int, error) {
	if opts.Sort != "" && !store.IsQueueSortKey(opts.Sort) {
		return nil, 0, apperr.Validation("unknown sort key %q", opts.Sort)
	}
	if opts.Order != "" && opts.Order != "asc" && opts.Order != "desc" {
		return nil, 0, apperr.Validation("order must be asc or desc")
	}
	opts.Status = domain.QueueStatusPending
	items, total, err := s.db.ListQueueItems(opts)
	if err != nil {
		return nil, 0, s.storeErr(err)
	}
	return items, total, nil
}

// Get returns the item with the given mbid or a not-found error.
func (s *Service) Get(mbid string) (*domain.QueueItem, error) {
	item, err := s.db.GetQueueItemByMBID(mbid)
	if err != nil {
		return nil, s.storeErr(err)
	}
	if item == nil {
		return nil, apperr.NotFound("queue item %s not found", mbid)
	}
	return item, nil
}

// AddPending inserts a candidate. A duplicate mbid is a silent no-op;
// the returned bool reports whether a row was added.
func (s *Service) AddPending(ctx context.Context, item *domain.QueueItem) (bool, error) {
	if strings.TrimSpace(item.MBID) == "" {
		return false, apperr.Validation("mbid is required")
	}
	if strings.TrimSpace(item.Artist) == "" {
		return false, apperr.Validation("artist is required")
	}
	if item.Type != domain.MediaTypeAlbum && item.Type != domain.MediaTypeTrack {
		return false, apperr.Validation("type must be album or track")
	}

	item.Status = domain.QueueStatusPending
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}

	added, err := s.db.CreateQueueItem(ctx, item)
	if err != nil {
		return false, s.storeErr(err)
	}
	if added {
		s.bus.Publish(events.ChannelQueue, events.QueueItemAdded, item)
		s.publishStats()
	}
	return added, nil
}

// Approve flips the pending items in the set to approved and creates
// their wishlist entries atomically. Returns how many were approved.
func (s *Service) Approve(ctx context.Context, mbids []string) (int, error) {
	approved, err := s.db.ApproveQueueItems(ctx, mbids)
	if err != nil {
		return 0, s.storeErr(err)
	}
	for _, item := range approved {
		s.bus.Publish(events.ChannelQueue, events.QueueItemUpdated, ItemStatusChange{
			MBID:   item.MBID,
			Status: string(domain.QueueStatusApproved),
		})
	}
	if len(approved) > 0 {
		s.publishStats()
	}
	return len(approved), nil
}

// ApproveAll approves a snapshot of the currently pending items. Items
// added while the approval runs stay pending.
func (s *Service) ApproveAll(ctx context.Context) (int, error) {
	mbids, err := s.db.PendingQueueMBIDs()
	if err != nil {
		return 0, s.storeErr(err)
	}
	if len(mbids) == 0 {
		return 0, nil
	}
	return s.Approve(ctx, mbids)
}

// Reject flips the pending items in the set to rejected. Rejection
// never touches the wishlist.
func (s *Service) Reject(ctx context.Context, mbids []string) (int, error) {
	rejected, err := s.db.RejectQueueItems(ctx, mbids)
	if err != nil {
		return 0, s.storeErr(err)
	}
	for _, mbid := range rejected {
		s.bus.Publish(events.ChannelQueue, events.QueueItemUpdated, ItemStatusChange{
			MBID:   mbid,
			Status: string(domain.QueueStatusRejected),
		})
	}
	if len(rejected) > 0 {
		s.publishStats()
	}
	return len(rejected), nil
}

// IsPending reports whether the mbid sits in the queue unreviewed.
func (s *Service) IsPending(mbid string) (bool, error) {
	status, exists, err := s.db.QueueItemStatus(mbid)
	if err != nil {
		return false, s.storeErr(err)
	}
	return exists && status == domain.QueueStatusPending, nil
}

// IsRejected reports whether the mbid was reviewed and turned down.
func (s *Service) IsRejected(mbid string) (bool, error) {
	status, exists, err := s.db.QueueItemStatus(mbid)
	if err != nil {
		return false, s.storeErr(err)
	}
	return exists && status == domain.QueueStatusRejected, nil
}

// Seen reports whether the mbid exists in the queue in any status.
func (s *Service) Seen(mbid string) (bool, error) {
	_, exists, err := s.db.QueueItemStatus(mbid)
	if err != nil {
		return false, s.storeErr(err)
	}
	return exists, nil
}

func (s *Service) Stats() (*domain.QueueStats, error) {
	stats, err := s.db.GetQueueStats()
	if err != nil {
		return nil, s.storeErr(err)
	}
	return stats, nil
}

func (s *Service) publishStats() {
	stats, err := s.db.GetQueueStats()
	if err != nil {
		s.log.Warn("Failed to load queue stats for event", "error", err)
		return
	}
	s.bus.Publish(events.ChannelQueue, events.QueueStatsUpdated, stats)
}

func (s *Service) storeErr(err error) error {
	if store.IsBusy(err) {
		return apperr.Busy("queue store is busy, try again", err)
	}
	return err
}
