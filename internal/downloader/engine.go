// Package downloader runs the acquisition state machine. It turns
// wishlist items into download tasks, searches the peer network,
// scores and selects a source, enqueues the transfer, and tracks it to
// completion.
package downloader

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/crateseek/crateseek/internal/apperr"
	"github.com/crateseek/crateseek/internal/audio"
	"github.com/crateseek/crateseek/internal/constants"
	"github.com/crateseek/crateseek/internal/domain"
	"github.com/crateseek/crateseek/internal/events"
	"github.com/crateseek/crateseek/internal/logger"
	"github.com/crateseek/crateseek/internal/organize"
	"github.com/crateseek/crateseek/internal/slskd"
	"github.com/crateseek/crateseek/internal/store"
)

// Selection modes.
const (
	SelectionAuto   = "auto"
	SelectionManual = "manual"
)

// transferMissLimit is how many consecutive polls may come back empty
// before a downloading task is declared lost.
const transferMissLimit = 5

// PeerClient is the slice of the peer-search API the engine drives.
type PeerClient interface {
	StartSearch(ctx context.Context, query string, timeout time.Duration, responseLimit int) (*slskd.Search, error)
	State(ctx context.Context, searchID string) (*slskd.Search, error)
	Responses(ctx context.Context, searchID string) ([]slskd.SearchResponse, error)
	Delete(ctx context.Context, searchID string) error
	Enqueue(ctx context.Context, username string, files []slskd.EnqueueFile) error
	Transfers(ctx context.Context) ([]slskd.UserTransfers, error)
	CancelDownload(ctx context.Context, username, transferID string, remove bool) error
}

// Config tunes search, scoring, selection, and retry behavior.
type Config struct {
	DownloadsRoot      string
	SelectionMode      string
	SelectionTTL       time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
	SimplifyOnRetry    bool
	ExcludeTerms       []string
	ResponseLimit      int
	MinFileSizeMB      int
	MaxFileSizeMB      int
	PreferAlbumFolder  bool
	RequireComplete    bool
	MinCompleteness    float64
	CompletenessWeight float64
	FileCountCap       int
	PenalizeExcess     bool
	PreferredFormats   []string
	MinBitRate         int
	RejectLossless     bool
	RejectLowQuality   bool
	MaxConcurrent      int
	QueuedTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.SelectionMode == "" {
		c.SelectionMode = SelectionAuto
	}
	if c.SelectionTTL <= 0 {
		c.SelectionTTL = constants.DefaultSelectionTTL
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = constants.DefaultRetryDelay
	}
	if c.FileCountCap <= 0 {
		c.FileCountCap = constants.DefaultFileCountCap
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = constants.DefaultMaxConcurrent
	}
	if c.QueuedTimeout <= 0 {
		c.QueuedTimeout = constants.DefaultQueuedTimeout
	}
	return c
}

// SelectionNotice announces a task waiting on, or abandoned by, a
// human choice.
type SelectionNotice struct {
	TaskID      string     `json:"task_id"`
	WishlistKey string     `json:"wishlist_key"`
	Candidates  int        `json:"candidates,omitempty"`
	ExpiresAt   *time.Time `json:"selection_expires_at,omitempty"`
}

// Engine owns every DownloadTask state transition. Transitions are the
// only writes it makes; telemetry travels over the event bus.
type Engine struct {
	db        *store.DB
	peers     PeerClient
	organizer *organize.Runner
	bus       *events.Bus
	log       *logger.Logger
	cfg       Config

	mu       sync.Mutex
	inFlight map[string]struct{}
	misses   map[string]int
	speeds   map[string]float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(db *store.DB, peers PeerClient, organizer *organize.Runner, bus *events.Bus, cfg Config, log *logger.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		db:        db,
		peers:     peers,
		organizer: organizer,
		bus:       bus,
		log:       log.WithComponent("downloader"),
		cfg:       cfg.withDefaults(),
		inFlight:  make(map[string]struct{}),
		misses:    make(map[string]int),
		speeds:    make(map[string]float64),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the transfer monitor, which reconciles live downloads
// on a short cycle so progress events stay fresh between driver runs.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.monitor()
	e.log.Info("download engine started",
		"selection_mode", e.cfg.SelectionMode,
		"max_retries", e.cfg.MaxRetries,
		"max_concurrent", e.cfg.MaxConcurrent)
}

// Stop cancels in-flight work and waits for the monitor to exit.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	e.log.Info("download engine stopped")
}

func (e *Engine) monitor() {
	defer e.wg.Done()

	ticker := time.NewTicker(constants.TransferPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.pollOnce()
		}
	}
}

// pollOnce advances the states with live peer I/O. Lifecycle states
// (pending, deferred, selection expiry) belong to the driver job.
func (e *Engine) pollOnce() {
	tasks, _, err := e.db.ListDownloadTasksByStatus([]domain.TaskStatus{
		domain.TaskStatusSearching,
		domain.TaskStatusQueued,
		domain.TaskStatusDownloading,
	}, 0, 0)
	if err != nil {
		e.log.Warn("monitor poll failed", "error", err)
		return
	}
	e.stepAll(e.ctx, tasks)
}

// Advance runs one driver pass: every live task gets one FSM step.
func (e *Engine) Advance(ctx context.Context) error {
	tasks, err := e.db.ListActiveDownloadTasks()
	if err != nil {
		return e.storeErr(err)
	}
	e.stepAll(ctx, tasks)
	return nil
}

func (e *Engine) stepAll(ctx context.Context, tasks []*domain.DownloadTask) {
	if len(tasks) == 0 {
		return
	}

	sem := make(chan struct{}, e.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(t *domain.DownloadTask) {
			defer wg.Done()
			defer func() { <-sem }()
			e.tryStep(ctx, t)
		}(task)
	}
	wg.Wait()
}

// tryStep runs one FSM step unless the task is already being worked.
func (e *Engine) tryStep(ctx context.Context, task *domain.DownloadTask) {
	e.mu.Lock()
	if _, busy := e.inFlight[task.ID]; busy {
		e.mu.Unlock()
		return
	}
	e.inFlight[task.ID] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, task.ID)
		e.mu.Unlock()
	}()

	if err := e.Step(ctx, task); err != nil {
		e.log.Warn("task step failed", "task_id", task.ID, "status", task.Status, "error", err)
	}
}

// Step advances a task one transition. Terminal tasks are left alone.
func (e *Engine) Step(ctx context.Context, task *domain.DownloadTask) error {
	switch task.Status {
	case domain.TaskStatusPending, domain.TaskStatusSearching:
		return e.stepSearch(ctx, task)
	case domain.TaskStatusPendingSelection:
		return e.stepPendingSelection(ctx, task)
	case domain.TaskStatusDeferred:
		return e.stepDeferred(ctx, task)
	case domain.TaskStatusQueued:
		return e.stepQueued(ctx, task)
	case domain.TaskStatusDownloading:
		return e.stepDownloading(ctx, task)
	default:
		return nil
	}
}

// EnsureTasks creates a pending task for every unprocessed wishlist
// item that does not already have a live one.
func (e *Engine) EnsureTasks(ctx context.Context) (int, error) {
	items, err := e.db.ListWishlistToDownload()
	if err != nil {
		return 0, e.storeErr(err)
	}

	created := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		added, err := e.EnsurePendingTask(ctx, item)
		if err != nil {
			e.log.Warn("failed to create download task", "wishlist_item", item.ID, "error", err)
			continue
		}
		if added {
			created++
		}
	}
	return created, nil
}

// EnsurePendingTask creates the pending task for one wishlist item if
// no live task holds its key. Wishlist requeue calls this directly.
func (e *Engine) EnsurePendingTask(ctx context.Context, item *domain.WishlistItem) (bool, error) {
	expected := 0
	if item.Type == domain.MediaTypeTrack {
		expected = 1
	}
	task := &domain.DownloadTask{
		WishlistItemID:     item.ID,
		WishlistKey:        item.Key(),
		Status:             domain.TaskStatusPending,
		ExpectedTrackCount: expected,
	}

	created, err := e.db.CreateDownloadTask(ctx, task)
	if err != nil {
		return false, e.storeErr(err)
	}
	if created {
		e.log.Info("download task created", "task_id", task.ID, "title", task.WishlistKey)
		e.bus.Publish(events.ChannelDownloads, events.DownloadTaskCreated, task)
		e.publishStats()
	}
	return created, nil
}

// stepSearch runs a full search cycle: build or reuse the query, poll
// the peer network, filter and rank what came back, then either
// enqueue, hold for selection, defer, or fail.
func (e *Engine) stepSearch(ctx context.Context, task *domain.DownloadTask) error {
	item, err := e.db.GetWishlistItem(task.WishlistItemID)
	if err != nil {
		return e.storeErr(err)
	}
	if item == nil {
		return e.failTask(ctx, task, "Wishlist item no longer exists")
	}

	logger := e.log.WithTask(task.ID, task.WishlistKey)

	// A searching task with a stored query is a manual retry or a
	// resumed search; anything else rebuilds from the wishlist item.
	query := task.SearchQuery
	if task.Status != domain.TaskStatusSearching || query == "" {
		simplify := e.cfg.SimplifyOnRetry && task.RetryCount > 0
		query = buildQuery(item, simplify, e.cfg.ExcludeTerms)
	}

	task.Status = domain.TaskStatusSearching
	task.SearchQuery = query
	task.SearchResults = nil
	task.SelectionExpiresAt = nil
	if err := e.db.UpdateDownloadTask(ctx, task); err != nil {
		return e.storeErr(err)
	}
	e.publishTask(task)
	logger.Info("searching peers", "query", query, "attempt", task.RetryCount+1)

	responses, err := e.runSearch(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return e.failTask(ctx, task, fmt.Sprintf("Search failed: %v", err))
	}

	candidates, sawIncomplete := e.buildCandidates(task, responses)
	if len(candidates) == 0 {
		if sawIncomplete && e.retryAllowed(task) {
			return e.deferTask(ctx, task, "no candidate met the completeness threshold")
		}
		return e.failTask(ctx, task, "No suitable search results")
	}

	rankCandidates(candidates, task.ExpectedTrackCount, e.cfg)
	logger.Debug("search produced candidates", "count", len(candidates), "top_score", candidates[0].Score)

	if e.cfg.SelectionMode == SelectionManual && len(candidates) > 1 {
		return e.holdForSelection(ctx, task, query, candidates)
	}
	return e.enqueueCandidate(ctx, task, candidates[0])
}

// runSearch starts a peer search and polls it to completion, bounded
// by the engine-side max wait.
func (e *Engine) runSearch(ctx context.Context, query string) ([]slskd.SearchResponse, error) {
	search, err := e.peers.StartSearch(ctx, query, constants.SearchTimeout, e.cfg.ResponseLimit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.peers.Delete(context.Background(), search.ID); err != nil {
			e.log.Debug("search cleanup failed", "search_id", search.ID, "error", err)
		}
	}()

	deadline := time.Now().Add(constants.SearchMaxWait)
	for {
		state, err := e.peers.State(ctx, search.ID)
		if err != nil {
			return nil, err
		}
		if state.IsComplete || slskd.HasFlag(state.State, "Completed") {
			break
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(constants.SearchPollInterval):
		}
	}
	return e.peers.Responses(ctx, search.ID)
}

// buildCandidates filters raw responses, dropping peers the user has
// skipped.
func (e *Engine) buildCandidates(task *domain.DownloadTask, responses []slskd.SearchResponse) ([]Candidate, bool) {
	skipped := make(map[string]bool, len(task.SkippedUsernames))
	for _, u := range task.SkippedUsernames {
		skipped[u] = true
	}

	var cands []Candidate
	sawIncomplete := false
	for _, resp := range responses {
		if skipped[resp.Username] {
			continue
		}
		cand, outcome := buildCandidate(resp, task.ExpectedTrackCount, e.cfg)
		switch outcome {
		case candidateKept:
			cands = append(cands, cand)
		case candidateIncomplete:
			sawIncomplete = true
		}
	}
	return cands, sawIncomplete
}

func (e *Engine) retryAllowed(task *domain.DownloadTask) bool {
	return e.cfg.MaxRetries > 0 && task.RetryCount < e.cfg.MaxRetries
}

// holdForSelection stores the ranked candidates and waits for a human.
func (e *Engine) holdForSelection(ctx context.Context, task *domain.DownloadTask, query string, cands []Candidate) error {
	blob, err := encodeResults(query, cands)
	if err != nil {
		return err
	}

	expires := time.Now().UTC().Add(e.cfg.SelectionTTL)
	task.Status = domain.TaskStatusPendingSelection
	task.SearchResults = blob
	task.SelectionExpiresAt = &expires
	if err := e.db.UpdateDownloadTask(ctx, task); err != nil {
		return e.storeErr(err)
	}

	e.log.Info("holding for manual selection", "task_id", task.ID, "candidates", len(cands), "expires_at", expires)
	e.bus.Publish(events.ChannelDownloads, events.DownloadPendingSelection, &SelectionNotice{
		TaskID:      task.ID,
		WishlistKey: task.WishlistKey,
		Candidates:  len(cands),
		ExpiresAt:   &expires,
	})
	e.publishTask(task)
	e.publishStats()
	return nil
}

// enqueueCandidate asks the peer to start sending and parks the task
// in queued until transfers appear.
func (e *Engine) enqueueCandidate(ctx context.Context, task *domain.DownloadTask, cand Candidate) error {
	files := make([]slskd.EnqueueFile, 0, len(cand.Files))
	for _, f := range cand.Files {
		files = append(files, slskd.EnqueueFile{Filename: f.Filename, Size: f.Size})
	}
	if err := e.peers.Enqueue(ctx, cand.Username, files); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return e.failTask(ctx, task, fmt.Sprintf("Failed to enqueue with %s: %v", cand.Username, err))
	}

	task.Status = domain.TaskStatusQueued
	task.PeerUsername = cand.Username
	task.PeerDirectory = cand.Directory
	task.FileCount = len(cand.Files)
	task.QualityTier = cand.Quality.Tier
	task.QualityFormat = cand.Quality.Format
	task.QualityBitRate = cand.Quality.BitRate
	task.QualityBitDepth = cand.Quality.BitDepth
	task.QualitySampleRate = cand.Quality.SampleRate
	task.SearchResults = nil
	task.SelectionExpiresAt = nil
	task.ErrorMessage = ""
	if err := e.db.UpdateDownloadTask(ctx, task); err != nil {
		return e.storeErr(err)
	}

	e.log.Info("enqueued download",
		"task_id", task.ID,
		"username", cand.Username,
		"files", len(cand.Files),
		"quality", cand.Quality.Tier,
		"score", cand.Score)
	e.publishTask(task)
	e.publishStats()
	return nil
}

// stepPendingSelection only watches the clock; selection itself comes
// through the control surface.
func (e *Engine) stepPendingSelection(ctx context.Context, task *domain.DownloadTask) error {
	if task.SelectionExpiresAt == nil || time.Now().Before(*task.SelectionExpiresAt) {
		return nil
	}
	return e.expireSelection(ctx, task)
}

func (e *Engine) expireSelection(ctx context.Context, task *domain.DownloadTask) error {
	if err := e.failTask(ctx, task, "Selection expired"); err != nil {
		return err
	}
	e.bus.Publish(events.ChannelDownloads, events.DownloadSelectionExpired, &SelectionNotice{
		TaskID:      task.ID,
		WishlistKey: task.WishlistKey,
	})
	return nil
}

// stepDeferred re-enters searching once the back-off has elapsed.
func (e *Engine) stepDeferred(ctx context.Context, task *domain.DownloadTask) error {
	if time.Since(task.UpdatedAt) < e.cfg.RetryDelay {
		return nil
	}
	task.RetryCount++
	task.SearchQuery = ""
	return e.stepSearch(ctx, task)
}

// stepQueued waits for the peer to accept and start sending.
func (e *Engine) stepQueued(ctx context.Context, task *domain.DownloadTask) error {
	transfers, err := e.peers.Transfers(ctx)
	if err != nil {
		e.log.Warn("transfer poll failed", "task_id", task.ID, "error", err)
		return nil
	}

	files := matchTransfers(transfers, task.PeerUsername, task.PeerDirectory)
	if len(files) == 0 {
		if time.Since(task.UpdatedAt) > e.cfg.QueuedTimeout {
			return e.failTask(ctx, task, fmt.Sprintf("Peer %s never started the transfer", task.PeerUsername))
		}
		return nil
	}

	now := time.Now().UTC()
	task.Status = domain.TaskStatusDownloading
	task.StartedAt = &now
	if err := e.db.UpdateDownloadTask(ctx, task); err != nil {
		return e.storeErr(err)
	}
	e.log.Info("transfer started", "task_id", task.ID, "username", task.PeerUsername, "files", len(files))
	e.publishTask(task)
	return e.reconcile(ctx, task, files)
}

// stepDownloading reconciles live telemetry. A transfer that vanishes
// from the peer client for several polls in a row is declared lost.
func (e *Engine) stepDownloading(ctx context.Context, task *domain.DownloadTask) error {
	transfers, err := e.peers.Transfers(ctx)
	if err != nil {
		e.log.Warn("transfer poll failed", "task_id", task.ID, "error", err)
		return nil
	}

	files := matchTransfers(transfers, task.PeerUsername, task.PeerDirectory)
	if len(files) == 0 {
		e.mu.Lock()
		e.misses[task.ID]++
		misses := e.misses[task.ID]
		e.mu.Unlock()
		if misses >= transferMissLimit {
			return e.failTask(ctx, task, "Transfer disappeared from the peer client")
		}
		return nil
	}

	e.mu.Lock()
	delete(e.misses, task.ID)
	e.mu.Unlock()
	return e.reconcile(ctx, task, files)
}

// reconcile folds telemetry into progress events and settles terminal
// transfers.
func (e *Engine) reconcile(ctx context.Context, task *domain.DownloadTask, files []slskd.TransferFile) error {
	progress := aggregateProgress(task, files)
	e.setSpeed(task.ID, progress.AverageSpeed)

	outcome, summary := classifyTransfers(files)
	switch outcome {
	case transferCompleted:
		return e.completeTask(ctx, task)
	case transferFailed:
		return e.failTask(ctx, task, "Transfer finished with errors: "+summary)
	default:
		e.bus.Publish(events.ChannelDownloads, events.DownloadProgress, &progress)
		return nil
	}
}

// completeTask resolves the local path, verifies what actually landed,
// and marks the wishlist item processed.
func (e *Engine) completeTask(ctx context.Context, task *domain.DownloadTask) error {
	logger := e.log.WithTask(task.ID, task.WishlistKey)

	now := time.Now().UTC()
	task.Status = domain.TaskStatusCompleted
	task.CompletedAt = &now
	task.ErrorMessage = ""
	e.clearSpeed(task.ID)

	if rel, abs, ok := resolveDownloadPath(e.cfg.DownloadsRoot, task); ok {
		task.DownloadPath = rel
		if info, probed := audio.Probe(abs); info != nil {
			logger.Debug("verified downloaded audio",
				"files", probed,
				"format", info.Format,
				"bit_depth", info.BitDepth,
				"sample_rate", info.SampleRate)
			applyProbe(task, info)
		}
	} else {
		logger.Warn("could not resolve download path", "peer_dir", task.PeerDirectory)
	}

	if err := e.db.UpdateDownloadTask(ctx, task); err != nil {
		return e.storeErr(err)
	}
	if task.WishlistItemID != "" {
		if err := e.db.SetWishlistProcessed(ctx, task.WishlistItemID, now); err != nil {
			logger.Warn("failed to mark wishlist item processed", "error", err)
		}
	}

	logger.Info("download completed", "path", task.DownloadPath)
	e.publishTask(task)
	e.publishStats()
	return nil
}

// applyProbe overwrites peer-claimed quality with measured values and
// re-derives the tier from them.
func applyProbe(task *domain.DownloadTask, info *audio.Info) {
	if info.Format != "" {
		task.QualityFormat = info.Format
	}
	if info.BitDepth > 0 {
		task.QualityBitDepth = info.BitDepth
	}
	if info.SampleRate > 0 {
		task.QualitySampleRate = info.SampleRate
	}
	q := classifyFile(slskd.SearchFile{
		Filename:   "probe." + task.QualityFormat,
		BitRate:    task.QualityBitRate,
		BitDepth:   task.QualityBitDepth,
		SampleRate: task.QualitySampleRate,
	})
	task.QualityTier = q.Tier
}

// failTask is terminal for the FSM; the driver may revive the task
// later if the retry budget allows.
func (e *Engine) failTask(ctx context.Context, task *domain.DownloadTask, message string) error {
	now := time.Now().UTC()
	task.Status = domain.TaskStatusFailed
	task.ErrorMessage = message
	task.CompletedAt = &now
	task.SearchResults = nil
	task.SelectionExpiresAt = nil
	e.clearSpeed(task.ID)

	if err := e.db.UpdateDownloadTask(ctx, task); err != nil {
		return e.storeErr(err)
	}
	e.log.Warn("task failed", "task_id", task.ID, "title", task.WishlistKey, "reason", message)
	e.publishTask(task)
	e.publishStats()
	return nil
}

func (e *Engine) deferTask(ctx context.Context, task *domain.DownloadTask, reason string) error {
	task.Status = domain.TaskStatusDeferred
	task.ErrorMessage = ""
	task.SearchResults = nil
	task.SelectionExpiresAt = nil
	if err := e.db.UpdateDownloadTask(ctx, task); err != nil {
		return e.storeErr(err)
	}
	e.log.Info("deferring task", "task_id", task.ID, "reason", reason, "retry_in", e.cfg.RetryDelay)
	e.publishTask(task)
	e.publishStats()
	return nil
}

// ReviveFailed rewinds failed tasks with retry budget left to pending
// once the back-off has elapsed.
func (e *Engine) ReviveFailed(ctx context.Context) (int, error) {
	tasks, _, err := e.db.ListDownloadTasksByStatus([]domain.TaskStatus{domain.TaskStatusFailed}, 0, 0)
	if err != nil {
		return 0, e.storeErr(err)
	}

	revived := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if !e.retryAllowed(task) || time.Since(task.UpdatedAt) < e.cfg.RetryDelay {
			continue
		}

		task.Status = domain.TaskStatusPending
		task.RetryCount++
		task.ErrorMessage = ""
		task.CompletedAt = nil
		task.StartedAt = nil
		task.SearchQuery = ""
		task.PeerUsername = ""
		task.PeerDirectory = ""
		task.FileCount = 0
		if err := e.db.UpdateDownloadTask(ctx, task); err != nil {
			return revived, e.storeErr(err)
		}
		e.log.Info("reviving failed task", "task_id", task.ID, "attempt", task.RetryCount+1)
		e.publishTask(task)
		revived++
	}
	if revived > 0 {
		e.publishStats()
	}
	return revived, nil
}

// OrganizeCompleted hands resolved downloads to the organize hook and
// stamps organized_at. With the hook disabled the stamp is immediate.
func (e *Engine) OrganizeCompleted(ctx context.Context) (int, error) {
	tasks, err := e.db.ListUnorganizedTasks()
	if err != nil {
		return 0, e.storeErr(err)
	}

	done := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if e.organizer != nil && e.organizer.Enabled() && task.DownloadPath != "" {
			abs := filepath.Join(e.cfg.DownloadsRoot, filepath.FromSlash(task.DownloadPath))
			if err := e.organizer.Run(ctx, abs); err != nil {
				e.log.Warn("organize failed", "task_id", task.ID, "error", err)
				continue
			}
		}

		now := time.Now().UTC()
		task.OrganizedAt = &now
		if err := e.db.UpdateDownloadTask(ctx, task); err != nil {
			return done, e.storeErr(err)
		}
		done++
	}
	return done, nil
}

func (e *Engine) publishTask(task *domain.DownloadTask) {
	e.bus.Publish(events.ChannelDownloads, events.DownloadTaskUpdated, task)
}

func (e *Engine) publishStats() {
	stats, err := e.db.GetDownloadStats()
	if err != nil {
		e.log.Warn("failed to load download stats", "error", err)
		return
	}
	stats.TotalBandwidth = e.totalBandwidth()
	e.bus.Publish(events.ChannelDownloads, events.DownloadStatsUpdated, stats)
}

func (e *Engine) setSpeed(taskID string, speed float64) {
	e.mu.Lock()
	e.speeds[taskID] = speed
	e.mu.Unlock()
}

func (e *Engine) clearSpeed(taskID string) {
	e.mu.Lock()
	delete(e.speeds, taskID)
	delete(e.misses, taskID)
	e.mu.Unlock()
}

func (e *Engine) totalBandwidth() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0.0
	for _, s := range e.speeds {
		total += s
	}
	return total
}

func (e *Engine) storeErr(err error) error {
	if store.IsBusy(err) {
		return apperr.Busy("download store is busy, try again", err)
	}
	return err
}
