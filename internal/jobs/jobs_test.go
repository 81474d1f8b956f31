package jobs

import (
	"context"
	"os"
	"testing"

	"github.com/crateseek/crateseek/internal/domain"
	"github.com/crateseek/crateseek/internal/events"
	"github.com/crateseek/crateseek/internal/lastfm"
	"github.com/crateseek/crateseek/internal/listenbrainz"
	"github.com/crateseek/crateseek/internal/logger"
	"github.com/crateseek/crateseek/internal/musicbrainz"
	"github.com/crateseek/crateseek/internal/queue"
	"github.com/crateseek/crateseek/internal/store"
	"github.com/crateseek/crateseek/internal/subsonic"
)

func setupJobTest(t *testing.T) (*store.DB, *queue.Service, func()) {
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
	q := queue.NewService(db, events.NewBus(logger.Default()), logger.Default())
	return db, q, cleanup
}

// fakeRun satisfies scheduler.Run without a scheduler.
type fakeRun struct {
	aborted  bool
	progress []int
}

func (r *fakeRun) Progress(current, _ int) {
	r.progress = append(r.progress, current)
}

func (r *fakeRun) Aborted() bool {
	return r.aborted
}

type fakeRecommender struct {
	recs      []listenbrainz.Recommendation
	err       error
	lastUser  string
	lastCount int
}

func (f *fakeRecommender) FetchRecommendations(_ context.Context, user string, count int) ([]listenbrainz.Recommendation, error) {
	f.lastUser = user
	f.lastCount = count
	return f.recs, f.err
}

type fakeMetadata struct {
	albums   map[string]*musicbrainz.RecordingAlbum
	albumErr error
	groups   map[string][]musicbrainz.ReleaseGroup
	groupErr error
	resolved []string
}

func (f *fakeMetadata) ResolveRecording(_ context.Context, mbid string) (*musicbrainz.Recording, error) {
	album, err := f.ResolveRecordingToAlbum(context.Background(), mbid)
	if album == nil || err != nil {
		return nil, err
	}
	return &musicbrainz.Recording{Artist: album.Artist, Title: album.TrackTitle}, nil
}

func (f *fakeMetadata) ResolveRecordingToAlbum(_ context.Context, mbid string) (*musicbrainz.RecordingAlbum, error) {
	f.resolved = append(f.resolved, mbid)
	if f.albumErr != nil {
		return nil, f.albumErr
	}
	return f.albums[mbid], nil
}

func (f *fakeMetadata) SearchReleaseGroups(_ context.Context, artist, _ string, limit int) ([]musicbrainz.ReleaseGroup, error) {
	if f.groupErr != nil {
		return nil, f.groupErr
	}
	groups := f.groups[artist]
	if len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

type fakeLibrary struct {
	artists map[string]subsonic.Artist
	err     error
}

func (f *fakeLibrary) ListArtists(context.Context) (map[string]subsonic.Artist, error) {
	return f.artists, f.err
}

type fakeSimilar struct {
	similar map[string][]lastfm.SimilarArtist
	calls   []string
}

func (f *fakeSimilar) SimilarArtists(_ context.Context, name string, _ int) []lastfm.SimilarArtist {
	f.calls = append(f.calls, name)
	return f.similar[name]
}

func pendingMBIDs(t *testing.T, q *queue.Service) map[string]*domain.QueueItem {
	t.Helper()
	items, _, err := q.GetPending(store.QueueListOptions{})
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	byMBID := make(map[string]*domain.QueueItem, len(items))
	for _, item := range items {
		byMBID[item.MBID] = item
	}
	return byMBID
}
