package jobs

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/crateseek/crateseek/internal/constants"
	"github.com/crateseek/crateseek/internal/coverart"
	"github.com/crateseek/crateseek/internal/domain"
	"github.com/crateseek/crateseek/internal/lastfm"
	"github.com/crateseek/crateseek/internal/logger"
	"github.com/crateseek/crateseek/internal/musicbrainz"
	"github.com/crateseek/crateseek/internal/queue"
	"github.com/crateseek/crateseek/internal/scheduler"
	"github.com/crateseek/crateseek/internal/store"
	"github.com/crateseek/crateseek/internal/subsonic"
)

// LibraryClient lists the artists present in the user's library.
type LibraryClient interface {
	ListArtists(ctx context.Context) (map[string]subsonic.Artist, error)
}

// SimilarityClient looks up artists similar to a seed artist. Lookups
// are best-effort; failures surface as empty lists.
type SimilarityClient interface {
	SimilarArtists(ctx context.Context, name string, limit int) []lastfm.SimilarArtist
}

// SimilarityConfig tunes one CatalogSimilarity run.
type SimilarityConfig struct {
	MaxArtistsPerRun int
	AlbumsPerArtist  int
	MinSimilarity    float64
	SimilarLimit     int
}

// CatalogSimilarity mines the library for artists its owner does not
// have yet. Every library artist votes for its neighbours; candidates
// with the most votes win and their top albums land in the review
// queue. A winner is considered once, ever.
type CatalogSimilarity struct {
	db      *store.DB
	queue   *queue.Service
	library LibraryClient
	similar SimilarityClient
	meta    musicbrainz.ClientInterface
	covers  *coverart.Client
	cfg     SimilarityConfig
	log     *logger.Logger
}

func NewCatalogSimilarity(db *store.DB, q *queue.Service, library LibraryClient, similar SimilarityClient, meta musicbrainz.ClientInterface, covers *coverart.Client, cfg SimilarityConfig, log *logger.Logger) *CatalogSimilarity {
	if cfg.MaxArtistsPerRun <= 0 {
		cfg.MaxArtistsPerRun = constants.DefaultMaxArtistsPerRun
	}
	if cfg.AlbumsPerArtist <= 0 {
		cfg.AlbumsPerArtist = constants.DefaultAlbumsPerArtist
	}
	if cfg.SimilarLimit <= 0 {
		cfg.SimilarLimit = constants.DefaultSimilarLimit
	}
	return &CatalogSimilarity{
		db:      db,
		queue:   q,
		library: library,
		similar: similar,
		meta:    meta,
		covers:  covers,
		cfg:     cfg,
		log:     log.WithJob(constants.JobCatalogSimilarity),
	}
}

// candidate accumulates similarity votes for one artist.
type candidate struct {
	name        string
	mbid        string
	score       float64
	sourceCount int
	similarTo   []string
}

func (j *CatalogSimilarity) Run(ctx context.Context, run scheduler.Run) error {
	if err := j.syncLibrary(ctx); err != nil {
		return err
	}
	mirror, err := j.db.ListCatalogArtists()
	if err != nil {
		return err
	}
	if len(mirror) == 0 {
		j.log.Info("Library mirror is empty, nothing to mine")
		return nil
	}

	agg := make(map[string]*candidate)
	for i, artist := range mirror {
		if run.Aborted() {
			j.log.Info("Run aborted", "seen", i, "total", len(mirror))
			return nil
		}
		for _, sim := range j.similar.SimilarArtists(ctx, artist.Name, j.cfg.SimilarLimit) {
			if sim.Match < j.cfg.MinSimilarity {
				continue
			}
			key := strings.ToLower(strings.TrimSpace(sim.Name))
			if key == "" {
				continue
			}
			c := agg[key]
			if c == nil {
				c = &candidate{name: sim.Name, mbid: sim.MBID}
				agg[key] = c
			}
			c.score += sim.Match
			c.sourceCount++
			c.similarTo = append(c.similarTo, artist.Name)
		}
		run.Progress(i+1, len(mirror))
	}

	winners, err := j.rank(agg)
	if err != nil {
		return err
	}

	queued := 0
	for i, c := range winners {
		if run.Aborted() {
			j.log.Info("Run aborted", "winners_done", i, "winners", len(winners))
			return nil
		}
		n, err := j.proposeAlbums(ctx, c)
		if err != nil {
			return err
		}
		queued += n
		if err := j.db.MarkArtistDiscovered(ctx, c.name); err != nil {
			return err
		}
		run.Progress(i+1, len(winners))
	}

	j.log.Info("Similar artists mined",
		"library", len(mirror), "candidates", len(agg), "winners", len(winners), "queued", queued)
	return nil
}

// syncLibrary refreshes the catalog_artists mirror from the music
// server.
func (j *CatalogSimilarity) syncLibrary(ctx context.Context) error {
	artists, err := j.library.ListArtists(ctx)
	if err != nil {
		return fmt.Errorf("list library artists: %w", err)
	}
	rows := make([]*domain.CatalogArtist, 0, len(artists))
	for _, a := range artists {
		rows = append(rows, &domain.CatalogArtist{Name: a.Name, ExternalID: a.ID})
	}
	return j.db.SyncCatalogArtists(ctx, rows)
}

// rank drops candidates already in the library or already considered,
// then orders the rest by vote count, total score, and name.
func (j *CatalogSimilarity) rank(agg map[string]*candidate) ([]*candidate, error) {
	keep := make([]*candidate, 0, len(agg))
	for key, c := range agg {
		inLibrary, err := j.db.IsInCatalog(key)
		if err != nil {
			return nil, err
		}
		if inLibrary {
			continue
		}
		discovered, err := j.db.IsArtistDiscovered(key)
		if err != nil {
			return nil, err
		}
		if discovered {
			continue
		}
		keep = append(keep, c)
	}

	sort.Slice(keep, func(a, b int) bool {
		if keep[a].sourceCount != keep[b].sourceCount {
			return keep[a].sourceCount > keep[b].sourceCount
		}
		if keep[a].score != keep[b].score {
			return keep[a].score > keep[b].score
		}
		return keep[a].name < keep[b].name
	})

	if len(keep) > j.cfg.MaxArtistsPerRun {
		keep = keep[:j.cfg.MaxArtistsPerRun]
	}
	return keep, nil
}

// proposeAlbums queues the winner's top release-groups. The stored
// score is the average similarity across its voters, rounded to two
// decimals.
func (j *CatalogSimilarity) proposeAlbums(ctx context.Context, c *candidate) (int, error) {
	groups, err := j.meta.SearchReleaseGroups(ctx, c.name, "album", j.cfg.AlbumsPerArtist)
	if err != nil {
		j.log.Debug("Release-group search failed", "artist", c.name, "error", err)
		return 0, nil
	}

	score := c.score / float64(c.sourceCount)
	if score > 1 {
		score = 1
	}
	score = math.Round(score*100) / 100

	added := 0
	for _, g := range groups {
		seen, err := j.queue.Seen(g.ID)
		if err != nil {
			return added, err
		}
		if seen {
			continue
		}
		s := score
		item := &domain.QueueItem{
			MBID:      g.ID,
			Artist:    c.name,
			Album:     g.Title,
			Type:      domain.MediaTypeAlbum,
			Score:     &s,
			Source:    domain.SourceCatalog,
			SimilarTo: domain.StringSlice(c.similarTo),
			CoverURL:  j.covers.URL(g.ID, coverart.SizeSmall),
			Year:      g.Year(),
		}
		ok, err := j.queue.AddPending(ctx, item)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}
