package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/crateseek/crateseek/internal/domain"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	tmpFile := "test.db"
	db, err := NewSQLiteDB(tmpFile)
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
	return db, cleanup
}

func pendingItem(mbid, artist, album string) *domain.QueueItem {
	return &domain.QueueItem{
		MBID:    mbid,
		Artist:  artist,
		Album:   album,
		Type:    domain.MediaTypeAlbum,
		Status:  domain.QueueStatusPending,
		Source:  domain.SourceRecommender,
		AddedAt: time.Now().UTC(),
	}
}

func TestDB_QueueItems(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	added, err := db.CreateQueueItem(ctx, pendingItem("a1", "A", "X"))
	if err != nil {
		t.Fatalf("CreateQueueItem failed: %v", err)
	}
	if !added {
		t.Error("Expected first insert to add a row")
	}

	// Duplicate mbid is a no-op
	added, err = db.CreateQueueItem(ctx, pendingItem("a1", "Other", "Other"))
	if err != nil {
		t.Fatalf("CreateQueueItem duplicate failed: %v", err)
	}
	if added {
		t.Error("Expected duplicate insert to be a no-op")
	}

	fetched, err := db.GetQueueItemByMBID("a1")
	if err != nil {
		t.Fatalf("GetQueueItemByMBID failed: %v", err)
	}
	if fetched == nil || fetched.Artist != "A" {
		t.Errorf("Expected original artist 'A', got %+v", fetched)
	}
	if fetched.ProcessedAt != nil {
		t.Error("Expected processed_at to be unset while pending")
	}

	missing, err := db.GetQueueItemByMBID("nope")
	if err != nil {
		t.Fatalf("GetQueueItemByMBID failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for unknown mbid")
	}

	status, exists, err := db.QueueItemStatus("a1")
	if err != nil {
		t.Fatalf("QueueItemStatus failed: %v", err)
	}
	if !exists || status != domain.QueueStatusPending {
		t.Errorf("Expected pending status, got %s exists=%v", status, exists)
	}
}

func TestDB_ApproveQueueItems(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := db.CreateQueueItem(ctx, pendingItem("a1", "A", "X")); err != nil {
		t.Fatalf("CreateQueueItem failed: %v", err)
	}

	approved, err := db.ApproveQueueItems(ctx, []string{"a1"})
	if err != nil {
		t.Fatalf("ApproveQueueItems failed: %v", err)
	}
	if len(approved) != 1 {
		t.Fatalf("Expected 1 approved item, got %d", len(approved))
	}

	item, _ := db.GetQueueItemByMBID("a1")
	if item.Status != domain.QueueStatusApproved {
		t.Errorf("Expected status approved, got %s", item.Status)
	}
	if item.ProcessedAt == nil {
		t.Error("Expected processed_at to be set after approval")
	}

	// The wishlist row appears atomically with the approval
	items, total, err := db.ListWishlistItems(WishlistListOptions{})
	if err != nil {
		t.Fatalf("ListWishlistItems failed: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("Expected 1 wishlist item, got %d", total)
	}
	if items[0].Artist != "A" || items[0].Album != "X" || items[0].Type != domain.MediaTypeAlbum {
		t.Errorf("Unexpected wishlist item: %+v", items[0])
	}

	// Approving again is a no-op
	approved, err = db.ApproveQueueItems(ctx, []string{"a1"})
	if err != nil {
		t.Fatalf("ApproveQueueItems failed: %v", err)
	}
	if len(approved) != 0 {
		t.Errorf("Expected 0 newly approved, got %d", len(approved))
	}

	// Rejecting an approved item does not change its status
	rejected, err := db.RejectQueueItems(ctx, []string{"a1"})
	if err != nil {
		t.Fatalf("RejectQueueItems failed: %v", err)
	}
	if len(rejected) != 0 {
		t.Errorf("Expected 0 affected, got %d", len(rejected))
	}
	item, _ = db.GetQueueItemByMBID("a1")
	if item.Status != domain.QueueStatusApproved {
		t.Errorf("Expected status to remain approved, got %s", item.Status)
	}
}

func TestDB_RejectQueueItems(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := db.CreateQueueItem(ctx, pendingItem("b2", "B", "Y")); err != nil {
		t.Fatalf("CreateQueueItem failed: %v", err)
	}

	rejected, err := db.RejectQueueItems(ctx, []string{"b2"})
	if err != nil {
		t.Fatalf("RejectQueueItems failed: %v", err)
	}
	if len(rejected) != 1 || rejected[0] != "b2" {
		t.Errorf("Expected [b2] affected, got %v", rejected)
	}

	status, _, err := db.QueueItemStatus("b2")
	if err != nil {
		t.Fatalf("QueueItemStatus failed: %v", err)
	}
	if status != domain.QueueStatusRejected {
		t.Errorf("Expected rejected, got %s", status)
	}

	// No wishlist row for rejections
	_, total, err := db.ListWishlistItems(WishlistListOptions{})
	if err != nil {
		t.Fatalf("ListWishlistItems failed: %v", err)
	}
	if total != 0 {
		t.Errorf("Expected empty wishlist, got %d items", total)
	}
}

func TestDB_ListQueueItems(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	items := []*domain.QueueItem{
		{MBID: "m1", Artist: "Zeta", Album: "One", Type: domain.MediaTypeAlbum, Status: domain.QueueStatusPending, Source: domain.SourceRecommender, Year: 2001, AddedAt: base},
		{MBID: "m2", Artist: "Alpha", Album: "Two", Type: domain.MediaTypeAlbum, Status: domain.QueueStatusPending, Source: domain.SourceCatalog, Year: 1999, AddedAt: base.Add(time.Minute)},
		{MBID: "m3", Artist: "Mid", Album: "Three", Type: domain.MediaTypeAlbum, Status: domain.QueueStatusPending, Source: domain.SourceRecommender, Year: 2020, AddedAt: base.Add(2 * time.Minute)},
	}
	for _, it := range items {
		if _, err := db.CreateQueueItem(ctx, it); err != nil {
			t.Fatalf("CreateQueueItem failed: %v", err)
		}
	}

	// Default order: newest first
	list, total, err := db.ListQueueItems(QueueListOptions{Status: domain.QueueStatusPending})
	if err != nil {
		t.Fatalf("ListQueueItems failed: %v", err)
	}
	if total != 3 || len(list) != 3 {
		t.Fatalf("Expected 3 items, got total=%d len=%d", total, len(list))
	}
	if list[0].MBID != "m3" {
		t.Errorf("Expected newest first, got %s", list[0].MBID)
	}

	// Source filter
	list, total, err = db.ListQueueItems(QueueListOptions{Source: domain.SourceCatalog})
	if err != nil {
		t.Fatalf("ListQueueItems failed: %v", err)
	}
	if total != 1 || list[0].MBID != "m2" {
		t.Errorf("Expected only m2 for catalog source, got total=%d", total)
	}

	// Sort by artist ascending
	list, _, err = db.ListQueueItems(QueueListOptions{Sort: "artist", Order: "asc"})
	if err != nil {
		t.Fatalf("ListQueueItems failed: %v", err)
	}
	if list[0].Artist != "Alpha" {
		t.Errorf("Expected Alpha first, got %s", list[0].Artist)
	}

	// Pagination
	list, total, err = db.ListQueueItems(QueueListOptions{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListQueueItems failed: %v", err)
	}
	if total != 3 || len(list) != 1 {
		t.Errorf("Expected total 3 with 1 item on page 2, got total=%d len=%d", total, len(list))
	}

	// hide_in_library drops items whose artist is mirrored
	if err := db.SyncCatalogArtists(ctx, []*domain.CatalogArtist{{Name: "Zeta"}}); err != nil {
		t.Fatalf("SyncCatalogArtists failed: %v", err)
	}
	list, total, err = db.ListQueueItems(QueueListOptions{HideInLibrary: true})
	if err != nil {
		t.Fatalf("ListQueueItems failed: %v", err)
	}
	if total != 2 {
		t.Errorf("Expected 2 items with library hidden, got %d", total)
	}
	for _, it := range list {
		if it.Artist == "Zeta" {
			t.Error("Expected Zeta to be hidden")
		}
	}

	stats, err := db.GetQueueStats()
	if err != nil {
		t.Fatalf("GetQueueStats failed: %v", err)
	}
	if stats.Pending != 3 || stats.InLibrary != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestDB_WishlistUpsert(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first := &domain.WishlistItem{Artist: "A", Album: "X", Type: domain.MediaTypeAlbum}
	added, err := db.UpsertWishlistItem(ctx, first)
	if err != nil {
		t.Fatalf("UpsertWishlistItem failed: %v", err)
	}
	if !added {
		t.Error("Expected first upsert to add")
	}
	if first.ID == "" {
		t.Error("Expected generated id")
	}

	// Same identity with richer metadata merges instead of duplicating
	second := &domain.WishlistItem{Artist: "a", Album: "x", Type: domain.MediaTypeAlbum, Year: 1998, MBID: "a1", CoverURL: "http://cover"}
	added, err = db.UpsertWishlistItem(ctx, second)
	if err != nil {
		t.Fatalf("UpsertWishlistItem failed: %v", err)
	}
	if added {
		t.Error("Expected merge, not a new row")
	}
	if second.ID != first.ID {
		t.Errorf("Expected merge into %s, got %s", first.ID, second.ID)
	}

	merged, err := db.GetWishlistItem(first.ID)
	if err != nil {
		t.Fatalf("GetWishlistItem failed: %v", err)
	}
	if merged.Year != 1998 || merged.MBID != "a1" || merged.CoverURL != "http://cover" {
		t.Errorf("Expected merged metadata, got %+v", merged)
	}
	if merged.Artist != "A" {
		t.Errorf("Expected original casing preserved, got %s", merged.Artist)
	}

	// Empty incoming fields never blank existing metadata
	third := &domain.WishlistItem{Artist: "A", Album: "X", Type: domain.MediaTypeAlbum}
	if _, err := db.UpsertWishlistItem(ctx, third); err != nil {
		t.Fatalf("UpsertWishlistItem failed: %v", err)
	}
	merged, _ = db.GetWishlistItem(first.ID)
	if merged.Year != 1998 || merged.MBID != "a1" {
		t.Errorf("Expected metadata to survive, got %+v", merged)
	}
}

func TestDB_WishlistToDownload(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	item := &domain.WishlistItem{Artist: "A", Album: "X", Type: domain.MediaTypeAlbum}
	if _, err := db.UpsertWishlistItem(ctx, item); err != nil {
		t.Fatalf("UpsertWishlistItem failed: %v", err)
	}

	due, err := db.ListWishlistToDownload()
	if err != nil {
		t.Fatalf("ListWishlistToDownload failed: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("Expected 1 item due, got %d", len(due))
	}

	// A live task blocks re-creation
	task := &domain.DownloadTask{WishlistItemID: item.ID, WishlistKey: item.Key()}
	created, err := db.CreateDownloadTask(ctx, task)
	if err != nil {
		t.Fatalf("CreateDownloadTask failed: %v", err)
	}
	if !created {
		t.Fatal("Expected task to be created")
	}
	due, _ = db.ListWishlistToDownload()
	if len(due) != 0 {
		t.Errorf("Expected 0 due with live task, got %d", len(due))
	}

	// A second live task for the same key is rejected by the index
	dup := &domain.DownloadTask{WishlistItemID: item.ID, WishlistKey: item.Key()}
	created, err = db.CreateDownloadTask(ctx, dup)
	if err != nil {
		t.Fatalf("CreateDownloadTask failed: %v", err)
	}
	if created {
		t.Error("Expected duplicate live task to be a no-op")
	}

	// A completed task stops blocking once processed_at is cleared
	task.Status = domain.TaskStatusCompleted
	now := time.Now().UTC()
	task.CompletedAt = &now
	if err := db.UpdateDownloadTask(ctx, task); err != nil {
		t.Fatalf("UpdateDownloadTask failed: %v", err)
	}
	if err := db.SetWishlistProcessed(ctx, item.ID, now); err != nil {
		t.Fatalf("SetWishlistProcessed failed: %v", err)
	}
	due, _ = db.ListWishlistToDownload()
	if len(due) != 0 {
		t.Errorf("Expected 0 due after acquisition, got %d", len(due))
	}

	if err := db.ClearWishlistProcessed(ctx, item.ID); err != nil {
		t.Fatalf("ClearWishlistProcessed failed: %v", err)
	}
	due, _ = db.ListWishlistToDownload()
	if len(due) != 1 {
		t.Errorf("Expected requeued item to be due, got %d", len(due))
	}
}

func TestDB_DownloadTasks(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	item := &domain.WishlistItem{Artist: "A", Album: "X", Type: domain.MediaTypeAlbum}
	if _, err := db.UpsertWishlistItem(ctx, item); err != nil {
		t.Fatalf("UpsertWishlistItem failed: %v", err)
	}

	task := &domain.DownloadTask{WishlistItemID: item.ID, WishlistKey: item.Key()}
	if _, err := db.CreateDownloadTask(ctx, task); err != nil {
		t.Fatalf("CreateDownloadTask failed: %v", err)
	}
	if task.Status != domain.TaskStatusPending {
		t.Errorf("Expected pending default, got %s", task.Status)
	}

	task.Status = domain.TaskStatusSearching
	task.SearchQuery = "A - X"
	task.SkippedUsernames = domain.StringSlice{"peer1"}
	if err := db.UpdateDownloadTask(ctx, task); err != nil {
		t.Fatalf("UpdateDownloadTask failed: %v", err)
	}

	fetched, err := db.GetDownloadTask(task.ID)
	if err != nil {
		t.Fatalf("GetDownloadTask failed: %v", err)
	}
	if fetched.Status != domain.TaskStatusSearching {
		t.Errorf("Expected searching, got %s", fetched.Status)
	}
	if fetched.SearchQuery != "A - X" {
		t.Errorf("Expected search query to persist, got %q", fetched.SearchQuery)
	}
	if len(fetched.SkippedUsernames) != 1 || fetched.SkippedUsernames[0] != "peer1" {
		t.Errorf("Expected skipped usernames to round-trip, got %v", fetched.SkippedUsernames)
	}

	active, err := db.ListActiveDownloadTasks()
	if err != nil {
		t.Fatalf("ListActiveDownloadTasks failed: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("Expected 1 active task, got %d", len(active))
	}

	// Derived wishlist download status follows the task
	wi, err := db.GetWishlistItem(item.ID)
	if err != nil {
		t.Fatalf("GetWishlistItem failed: %v", err)
	}
	if wi.DownloadStatus != string(domain.TaskStatusSearching) {
		t.Errorf("Expected derived status searching, got %q", wi.DownloadStatus)
	}

	stats, err := db.GetDownloadStats()
	if err != nil {
		t.Fatalf("GetDownloadStats failed: %v", err)
	}
	if stats.Active != 1 {
		t.Errorf("Expected 1 active in stats, got %d", stats.Active)
	}

	// Deleting the wishlist item cascades to its tasks
	if _, err := db.DeleteWishlistItems(ctx, []string{item.ID}); err != nil {
		t.Fatalf("DeleteWishlistItems failed: %v", err)
	}
	gone, err := db.GetDownloadTask(task.ID)
	if err != nil {
		t.Fatalf("GetDownloadTask failed: %v", err)
	}
	if gone != nil {
		t.Error("Expected task to be removed with its wishlist item")
	}
}

func TestDB_ResetStuckDownloadTasks(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	item := &domain.WishlistItem{Artist: "A", Album: "X", Type: domain.MediaTypeAlbum}
	if _, err := db.UpsertWishlistItem(ctx, item); err != nil {
		t.Fatalf("UpsertWishlistItem failed: %v", err)
	}
	task := &domain.DownloadTask{WishlistItemID: item.ID, WishlistKey: item.Key(), Status: domain.TaskStatusDownloading}
	if _, err := db.CreateDownloadTask(ctx, task); err != nil {
		t.Fatalf("CreateDownloadTask failed: %v", err)
	}

	if err := db.ResetStuckDownloadTasks(ctx); err != nil {
		t.Fatalf("ResetStuckDownloadTasks failed: %v", err)
	}

	fetched, _ := db.GetDownloadTask(task.ID)
	if fetched.Status != domain.TaskStatusPending {
		t.Errorf("Expected downloading to rewind to pending, got %s", fetched.Status)
	}
}

func TestDB_ProcessedAndDiscovered(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	added, err := db.MarkRecordingProcessed(ctx, "r1")
	if err != nil {
		t.Fatalf("MarkRecordingProcessed failed: %v", err)
	}
	if !added {
		t.Error("Expected first mark to add")
	}
	added, err = db.MarkRecordingProcessed(ctx, "r1")
	if err != nil {
		t.Fatalf("MarkRecordingProcessed failed: %v", err)
	}
	if added {
		t.Error("Expected duplicate mark to be a no-op")
	}

	processed, err := db.IsRecordingProcessed("r1")
	if err != nil {
		t.Fatalf("IsRecordingProcessed failed: %v", err)
	}
	if !processed {
		t.Error("Expected r1 to be processed")
	}

	if err := db.MarkArtistDiscovered(ctx, "Some Artist"); err != nil {
		t.Fatalf("MarkArtistDiscovered failed: %v", err)
	}
	found, err := db.IsArtistDiscovered("some artist")
	if err != nil {
		t.Fatalf("IsArtistDiscovered failed: %v", err)
	}
	if !found {
		t.Error("Expected case-insensitive discovery match")
	}
}

func TestDB_CatalogArtists(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	artists := []*domain.CatalogArtist{
		{Name: "Boards of Canada", ExternalID: "ar-1"},
		{Name: "Autechre"},
	}
	if err := db.SyncCatalogArtists(ctx, artists); err != nil {
		t.Fatalf("SyncCatalogArtists failed: %v", err)
	}

	// Re-sync updates instead of duplicating; empty external ids do not
	// erase known ones.
	if err := db.SyncCatalogArtists(ctx, []*domain.CatalogArtist{{Name: "BOARDS OF CANADA"}}); err != nil {
		t.Fatalf("SyncCatalogArtists failed: %v", err)
	}

	list, err := db.ListCatalogArtists()
	if err != nil {
		t.Fatalf("ListCatalogArtists failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 artists, got %d", len(list))
	}
	for _, a := range list {
		if a.NameLower == "boards of canada" && a.ExternalID != "ar-1" {
			t.Errorf("Expected external id to survive re-sync, got %q", a.ExternalID)
		}
	}

	ok, err := db.IsInCatalog("autechre")
	if err != nil {
		t.Fatalf("IsInCatalog failed: %v", err)
	}
	if !ok {
		t.Error("Expected Autechre in catalog")
	}
}

func TestDB_Cache(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := db.SetCache(ctx, "k", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("SetCache failed: %v", err)
	}
	data, err := db.GetCache("k")
	if err != nil {
		t.Fatalf("GetCache failed: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Expected payload, got %q", data)
	}

	// Expired entries read as misses
	if err := db.SetCache(ctx, "old", []byte("stale"), -time.Minute); err != nil {
		t.Fatalf("SetCache failed: %v", err)
	}
	data, err = db.GetCache("old")
	if err != nil {
		t.Fatalf("GetCache failed: %v", err)
	}
	if data != nil {
		t.Errorf("Expected expired entry to miss, got %q", data)
	}
}

func TestDB_MigrateIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	// Running the migrations against an already-current schema changes
	// nothing and errors nowhere.
	if err := migrate(db.DB); err != nil {
		t.Fatalf("migrate failed on current schema: %v", err)
	}
	if err := migrate(db.DB); err != nil {
		t.Fatalf("migrate failed on second run: %v", err)
	}

	has, err := columnExists(db.DB, "download_tasks", "organized_at")
	if err != nil {
		t.Fatalf("columnExists failed: %v", err)
	}
	if !has {
		t.Error("Expected organized_at column to exist")
	}
}

func TestDB_ConcurrentWrites(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			item := pendingItem(
				"mbid-"+string(rune('a'+n)),
				"Artist",
				"Album "+string(rune('a'+n)),
			)
			if _, err := db.CreateQueueItem(ctx, item); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent CreateQueueItem failed: %v", err)
	}

	_, total, err := db.ListQueueItems(QueueListOptions{})
	if err != nil {
		t.Fatalf("ListQueueItems failed: %v", err)
	}
	if total != writers {
		t.Errorf("Expected %d items after concurrent writes, got %d", writers, total)
	}
}

func TestDB_ConcurrentApproveOverlap(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for _, mbid := range []string{"x1", "x2", "x3"} {
		if _, err := db.CreateQueueItem(ctx, pendingItem(mbid, "A", "Album "+mbid)); err != nil {
			t.Fatalf("CreateQueueItem failed: %v", err)
		}
	}

	// Two overlapping approvals: the combined affected count equals the
	// distinct pending intersection.
	var wg sync.WaitGroup
	counts := make(chan int, 2)
	for _, set := range [][]string{{"x1", "x2"}, {"x2", "x3"}} {
		wg.Add(1)
		go func(mbids []string) {
			defer wg.Done()
			approved, err := db.ApproveQueueItems(ctx, mbids)
			if err != nil {
				t.Errorf("ApproveQueueItems failed: %v", err)
				return
			}
			counts <- len(approved)
		}(set)
	}
	wg.Wait()
	close(counts)

	total := 0
	for n := range counts {
		total += n
	}
	if total != 3 {
		t.Errorf("Expected 3 distinct approvals across overlapping sets, got %d", total)
	}
}

func TestIsBusy(t *testing.T) {
	if !IsBusy(ErrBusy) {
		t.Error("Expected ErrBusy to be busy")
	}
	if IsBusy(nil) {
		t.Error("Expected nil to not be busy")
	}
	if IsBusy(os.ErrNotExist) {
		t.Error("Expected unrelated error to not be busy")
	}
}
