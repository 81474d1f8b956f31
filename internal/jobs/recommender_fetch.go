// Package jobs holds the scheduled discovery handlers: pulling
// listening recommendations, mining the library for similar artists,
// and ticking the download engine. Handlers check the run's abort flag
// between iterations so a cancel lands within one item of work.
package jobs

import (
	"context"
	"fmt"

	"github.com/crateseek/crateseek/internal/constants"
	"github.com/crateseek/crateseek/internal/coverart"
	"github.com/crateseek/crateseek/internal/domain"
	"github.com/crateseek/crateseek/internal/listenbrainz"
	"github.com/crateseek/crateseek/internal/logger"
	"github.com/crateseek/crateseek/internal/musicbrainz"
	"github.com/crateseek/crateseek/internal/queue"
	"github.com/crateseek/crateseek/internal/scheduler"
	"github.com/crateseek/crateseek/internal/store"
)

// Recommender is the slice of the ListenBrainz client the fetch job
// consumes.
type Recommender interface {
	FetchRecommendations(ctx context.Context, user string, count int) ([]listenbrainz.Recommendation, error)
}

// RecommenderConfig tunes one RecommenderFetch run.
type RecommenderConfig struct {
	User        string
	FetchCount  int
	MinScore    float64
	Mode        domain.MediaType
	AutoApprove bool
}

// RecommenderFetch pulls personalized recording recommendations and
// files the unseen ones into the review queue.
type RecommenderFetch struct {
	db     *store.DB
	queue  *queue.Service
	client Recommender
	meta   musicbrainz.ClientInterface
	covers *coverart.Client
	cfg    RecommenderConfig
	log    *logger.Logger
}

func NewRecommenderFetch(db *store.DB, q *queue.Service, client Recommender, meta musicbrainz.ClientInterface, covers *coverart.Client, cfg RecommenderConfig, log *logger.Logger) *RecommenderFetch {
	if cfg.FetchCount <= 0 {
		cfg.FetchCount = constants.DefaultFetchCount
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.MediaTypeAlbum
	}
	return &RecommenderFetch{
		db:     db,
		queue:  q,
		client: client,
		meta:   meta,
		covers: covers,
		cfg:    cfg,
		log:    log.WithJob(constants.JobRecommenderFetch),
	}
}

// Run pulls one batch of recommendations. Each recording is considered
// at most once across runs: once handled, its id lands in
// processed_recordings. Transient resolution failures leave the id
// unmarked so the next run retries it.
func (j *RecommenderFetch) Run(ctx context.Context, run scheduler.Run) error {
	if j.cfg.User == "" {
		return fmt.Errorf("listenbrainz user not configured")
	}

	recs, err := j.client.FetchRecommendations(ctx, j.cfg.User, j.cfg.FetchCount)
	if err != nil {
		return fmt.Errorf("fetch recommendations: %w", err)
	}

	added := 0
	for i, rec := range recs {
		if run.Aborted() {
			j.log.Info("Run aborted", "seen", i, "total", len(recs))
			return nil
		}
		ok, err := j.consider(ctx, rec)
		if err != nil {
			return err
		}
		if ok {
			added++
		}
		run.Progress(i+1, len(recs))
	}

	j.log.Info("Recommendations processed", "fetched", len(recs), "queued", added)
	return nil
}

func (j *RecommenderFetch) consider(ctx context.Context, rec listenbrainz.Recommendation) (bool, error) {
	mbid := rec.RecordingMBID
	if mbid == "" || rec.Score < j.cfg.MinScore {
		return false, nil
	}

	processed, err := j.db.IsRecordingProcessed(mbid)
	if err != nil {
		return false, err
	}
	if processed {
		return false, nil
	}

	// The raw recording id may already sit in the queue, most commonly
	// as a rejected row that must stay rejected.
	seen, err := j.queue.Seen(mbid)
	if err != nil {
		return false, err
	}
	if seen {
		_, err := j.db.MarkRecordingProcessed(ctx, mbid)
		return false, err
	}

	album, err := j.meta.ResolveRecordingToAlbum(ctx, mbid)
	if err != nil {
		j.log.Debug("Recording resolution failed", "mbid", mbid, "error", err)
		return false, nil
	}
	if album == nil || album.Artist == "" {
		_, err := j.db.MarkRecordingProcessed(ctx, mbid)
		return false, err
	}

	item := j.buildItem(mbid, rec.Score, album)
	if item.MBID != mbid {
		seen, err := j.queue.Seen(item.MBID)
		if err != nil {
			return false, err
		}
		if seen {
			_, err := j.db.MarkRecordingProcessed(ctx, mbid)
			return false, err
		}
	}

	addedRow, err := j.queue.AddPending(ctx, item)
	if err != nil {
		return false, err
	}
	if addedRow && j.cfg.AutoApprove {
		if _, err := j.queue.Approve(ctx, []string{item.MBID}); err != nil {
			return false, err
		}
	}
	if _, err := j.db.MarkRecordingProcessed(ctx, mbid); err != nil {
		return false, err
	}
	return addedRow, nil
}

// buildItem shapes the queue candidate. Album mode proposes the
// containing album and keeps the recommended track as source_track;
// track mode proposes the recording itself.
func (j *RecommenderFetch) buildItem(mbid string, score float64, album *musicbrainz.RecordingAlbum) *domain.QueueItem {
	s := score
	if s < 0 {
		s = 0
	} else if s > 1 {
		s = 1
	}

	item := &domain.QueueItem{
		Artist: album.Artist,
		Album:  album.AlbumTitle,
		Type:   j.cfg.Mode,
		Score:  &s,
		Source: domain.SourceRecommender,
		Year:   album.Year,
	}
	if j.cfg.Mode == domain.MediaTypeTrack {
		item.MBID = mbid
		item.Title = album.TrackTitle
	} else {
		item.MBID = album.AlbumID
		if item.MBID == "" {
			item.MBID = mbid
		}
		item.SourceTrack = album.TrackTitle
	}
	if album.AlbumID != "" {
		item.CoverURL = j.covers.URL(album.AlbumID, coverart.SizeSmall)
	}
	return item
}
