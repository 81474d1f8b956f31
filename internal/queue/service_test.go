package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/crateseek/crateseek/internal/apperr"
	"github.com/crateseek/crateseek/internal/domain"
	"github.com/crateseek/crateseek/internal/events"
	"github.com/crateseek/crateseek/internal/logger"
	"github.com/crateseek/crateseek/internal/store"
)

func setupTestService(t *testing.T) (*Service, *events.Bus, func()) {
	tmpFile := "test.db"
	db, err := store.NewSQLiteDB(tmpFile)
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	cleanup := func() {
		if cErr := db.Close(); cErr != nil {
			t.Logf("db.Close error: %v", cErr)
		}
		if rErr := os.Remove(tmpFile); rErr != nil {
			t.Logf("os.Remove error: %v", rErr)
		}
	}
	bus := events.NewBus(logger.Default())
	return NewService(db, bus, logger.Default()), bus, cleanup
}

func candidate(mbid, artist, album string) *domain.QueueItem {
	return &domain.QueueItem{
		MBID:   mbid,
		Artist: artist,
		Album:  album,
		Type:   domain.MediaTypeAlbum,
		Source: domain.SourceRecommender,
	}
}

func nextEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
		return events.Event{}
	}
}

func TestService_ApproveCreatesWishlistAndEmits(t *testing.T) {
	svc, bus, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := svc.AddPending(ctx, candidate("a1", "A", "X")); err != nil {
		t.Fatalf("AddPending failed: %v", err)
	}

	// Subscribe after the add so only approval events arrive.
	ch, unsubscribe := bus.Subscribe(events.ChannelQueue)
	defer unsubscribe()

	count, err := svc.Approve(ctx, []string{"a1"})
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 approved, got %d", count)
	}

	ev := nextEvent(t, ch)
	if ev.Name != events.QueueItemUpdated {
		t.Fatalf("Expected %s, got %s", events.QueueItemUpdated, ev.Name)
	}
	change, ok := ev.Payload.(ItemStatusChange)
	if !ok {
		t.Fatalf("Unexpected payload type %T", ev.Payload)
	}
	if change.MBID != "a1" || change.Status != "approved" {
		t.Errorf("Unexpected payload: %+v", change)
	}

	ev = nextEvent(t, ch)
	if ev.Name != events.QueueStatsUpdated {
		t.Errorf("Expected %s, got %s", events.QueueStatsUpdated, ev.Name)
	}

	stats, err := svc.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pending != 0 || stats.Approved != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestService_ApproveAllUsesSnapshot(t *testing.T) {
	svc, _, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	for _, mbid := range []string{"m1", "m2", "m3"} {
		if _, err := svc.AddPending(ctx, candidate(mbid, "Artist "+mbid, "Album "+mbid)); err != nil {
			t.Fatalf("AddPending failed: %v", err)
		}
	}

	count, err := svc.ApproveAll(ctx)
	if err != nil {
		t.Fatalf("ApproveAll failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 approved, got %d", count)
	}

	// Nothing pending left, second pass is a no-op.
	count, err = svc.ApproveAll(ctx)
	if err != nil {
		t.Fatalf("ApproveAll failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 approved on second pass, got %d", count)
	}
}

func TestService_RejectKeepsItemKnown(t *testing.T) {
	svc, bus, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := svc.AddPending(ctx, candidate("b2", "B", "Y")); err != nil {
		t.Fatalf("AddPending failed: %v", err)
	}

	ch, unsubscribe := bus.Subscribe(events.ChannelQueue)
	defer unsubscribe()

	count, err := svc.Reject(ctx, []string{"b2"})
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 rejected, got %d", count)
	}

	ev := nextEvent(t, ch)
	change, ok := ev.Payload.(ItemStatusChange)
	if !ok || change.MBID != "b2" || change.Status != "rejected" {
		t.Errorf("Unexpected event payload: %+v", ev.Payload)
	}

	rejected, err := svc.IsRejected("b2")
	if err != nil {
		t.Fatalf("IsRejected failed: %v", err)
	}
	if !rejected {
		t.Error("Expected b2 to be rejected")
	}

	// The same mbid arriving again is deduplicated, not resurrected.
	added, err := svc.AddPending(ctx, candidate("b2", "B", "Y"))
	if err != nil {
		t.Fatalf("AddPending failed: %v", err)
	}
	if added {
		t.Error("Expected duplicate mbid to be a no-op")
	}
	if pending, _ := svc.IsPending("b2"); pending {
		t.Error("Expected b2 to stay rejected")
	}
}

func TestService_AddPendingValidates(t *testing.T) {
	svc, _, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	tests := []struct {
		name string
		item *domain.QueueItem
	}{
		{"missing mbid", &domain.QueueItem{Artist: "A", Album: "X", Type: domain.MediaTypeAlbum}},
		{"missing artist", &domain.QueueItem{MBID: "m", Album: "X", Type: domain.MediaTypeAlbum}},
		{"bad type", &domain.QueueItem{MBID: "m", Artist: "A", Album: "X", Type: "vinyl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddPending(ctx, tt.item)
			if !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestService_GetPendingValidatesSort(t *testing.T) {
	svc, _, cleanup := setupTestService(t)
	defer cleanup()

	if _, _, err := svc.GetPending(store.QueueListOptions{Sort: "mood"}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Expected validation error for unknown sort, got %v", err)
	}
	if _, _, err := svc.GetPending(store.QueueListOptions{Order: "sideways"}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Expected validation error for bad order, got %v", err)
	}
	if _, _, err := svc.GetPending(store.QueueListOptions{Sort: "score", Order: "asc"}); err != nil {
		t.Errorf("Expected valid options to pass, got %v", err)
	}
}

func TestService_GetPendingOnlyPending(t *testing.T) {
	svc, _, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := svc.AddPending(ctx, candidate("p1", "A", "X")); err != nil {
		t.Fatalf("AddPending failed: %v", err)
	}
	if _, err := svc.AddPending(ctx, candidate("p2", "B", "Y")); err != nil {
		t.Fatalf("AddPending failed: %v", err)
	}
	if _, err := svc.Approve(ctx, []string{"p1"}); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	items, total, err := svc.GetPending(store.QueueListOptions{})
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].MBID != "p2" {
		t.Errorf("Expected only p2 pending, got total=%d items=%v", total, items)
	}
}
