package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/crateseek/crateseek/internal/config"
	"github.com/crateseek/crateseek/internal/constants"
	"github.com/crateseek/crateseek/internal/coverart"
	"github.com/crateseek/crateseek/internal/domain"
	"github.com/crateseek/crateseek/internal/downloader"
	"github.com/crateseek/crateseek/internal/events"
	httpapp "github.com/crateseek/crateseek/internal/http"
	"github.com/crateseek/crateseek/internal/jobs"
	"github.com/crateseek/crateseek/internal/lastfm"
	"github.com/crateseek/crateseek/internal/listenbrainz"
	"github.com/crateseek/crateseek/internal/logger"
	"github.com/crateseek/crateseek/internal/musicbrainz"
	"github.com/crateseek/crateseek/internal/organize"
	"github.com/crateseek/crateseek/internal/preview"
	"github.com/crateseek/crateseek/internal/queue"
	"github.com/crateseek/crateseek/internal/scheduler"
	"github.com/crateseek/crateseek/internal/slskd"
	"github.com/crateseek/crateseek/internal/store"
	"github.com/crateseek/crateseek/internal/subsonic"
	"github.com/crateseek/crateseek/internal/wishlist"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	appLogger := logger.New(logger.Config{
		Level:  level,
		Format: cfg.LogFormat,
	})

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		appLogger.Error("Failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	db, err := store.NewSQLiteDB(cfg.DBPath())
	if err != nil {
		appLogger.Error("Failed to open database", "path", cfg.DBPath(), "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Tasks left mid-transfer by a previous process restart from a
	// clean state.
	if err := db.ResetStuckDownloadTasks(context.Background()); err != nil {
		appLogger.Warn("Failed to reset stuck download tasks", "error", err)
	}

	bus := events.NewBus(appLogger)
	queueSvc := queue.NewService(db, bus, appLogger)

	var organizer *organize.Runner
	if cfg.LibraryOrganize.Command != "" {
		organizer = organize.NewRunner(cfg.LibraryOrganize.Command, cfg.LibraryOrganize.Args,
			cfg.LibraryOrganize.Timeout(), appLogger)
	}

	peers := slskd.NewClient(cfg.Slskd.URL, cfg.Slskd.APIKey)
	engine := downloader.NewEngine(db, peers, organizer, bus, downloader.Config{
		DownloadsRoot:      cfg.Slskd.DownloadsDir,
		SelectionMode:      cfg.Downloads.SelectionMode,
		SelectionTTL:       cfg.Downloads.SelectionTTL(),
		MaxRetries:         cfg.Downloads.MaxRetries,
		RetryDelay:         cfg.Downloads.RetryDelay(),
		SimplifyOnRetry:    cfg.Downloads.SimplifyOnRetry,
		ExcludeTerms:       cfg.Downloads.ExcludeTerms,
		ResponseLimit:      cfg.Downloads.ResponseLimit,
		MinFileSizeMB:      cfg.Downloads.MinFileSizeMB,
		MaxFileSizeMB:      cfg.Downloads.MaxFileSizeMB,
		PreferAlbumFolder:  cfg.Downloads.PreferAlbumFolder,
		RequireComplete:    cfg.Downloads.RequireComplete,
		MinCompleteness:    cfg.Downloads.MinCompleteness,
		CompletenessWeight: cfg.Downloads.CompletenessWeight,
		FileCountCap:       cfg.Downloads.FileCountCap,
		PenalizeExcess:     cfg.Downloads.PenalizeExcess,
		PreferredFormats:   cfg.Downloads.PreferredFormats,
		MinBitRate:         cfg.Downloads.MinBitRate,
		RejectLossless:     cfg.Downloads.RejectLossless,
		RejectLowQuality:   cfg.Downloads.RejectLowQuality,
		MaxConcurrent:      cfg.Downloads.MaxConcurrent,
	}, appLogger)

	wishlistSvc := wishlist.NewService(db, engine, appLogger)

	meta := musicbrainz.NewCachedClient(musicbrainz.NewClient(""), db, constants.DefaultCacheTTL)
	covers := coverart.NewClient("")

	sched := scheduler.New(bus, appLogger)

	driver := jobs.NewDownloadDriver(engine, appLogger)
	sched.Register(constants.JobDownloadDriver, cfg.Downloads.Cron, driver.Run)

	if cfg.ListenBrainz.User != "" {
		recommender := listenbrainz.NewClient(cfg.ListenBrainz.URL, cfg.ListenBrainz.Token)
		fetch := jobs.NewRecommenderFetch(db, queueSvc, recommender, meta, covers, jobs.RecommenderConfig{
			User:        cfg.ListenBrainz.User,
			FetchCount:  cfg.FetchCount,
			MinScore:    cfg.MinScore,
			Mode:        domainMode(cfg.Mode),
			AutoApprove: cfg.AutoApprove,
		}, appLogger)
		sched.Register(constants.JobRecommenderFetch, cfg.ListenBrainz.Cron, fetch.Run)
	} else {
		appLogger.Info("Recommendation fetching disabled, no listenbrainz user configured")
	}

	if cfg.CatalogDiscovery.Enabled {
		library := subsonic.NewClient(cfg.LibraryDuplicate.URL,
			cfg.LibraryDuplicate.Username, cfg.LibraryDuplicate.Password)
		similar := lastfm.NewClient("", cfg.CatalogDiscovery.LastFMAPIKey, appLogger)
		similarity := jobs.NewCatalogSimilarity(db, queueSvc, library, similar, meta, covers, jobs.SimilarityConfig{
			MaxArtistsPerRun: cfg.CatalogDiscovery.MaxArtistsPerRun,
			AlbumsPerArtist:  cfg.CatalogDiscovery.AlbumsPerArtist,
			MinSimilarity:    cfg.CatalogDiscovery.MinSimilarity,
			SimilarLimit:     cfg.CatalogDiscovery.SimilarLimit,
		}, appLogger)
		sched.Register(constants.JobCatalogSimilarity, cfg.CatalogDiscovery.Cron, similarity.Run)
	}

	var previewClient *preview.Client
	if cfg.Preview.Enabled {
		previewClient = preview.NewClient(cfg.Preview.URL, appLogger)
	}

	engine.Start()
	sched.Start()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := httpapp.NewHandler(sched, queueSvc, wishlistSvc, engine, previewClient, bus, cfg)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	sched.Stop()
	engine.Stop()
	if err != nil {
		appLogger.Error("Server error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Server exiting")
}

func domainMode(mode string) domain.MediaType {
	if mode == string(domain.MediaTypeTrack) {
		return domain.MediaTypeTrack
	}
	return domain.MediaTypeAlbum
}
