package downloader

import (
	"context"
	"encoding/json"
	"time"

	"github.com/crateseek/crateseek/internal/apperr"
	"github.com/crateseek/crateseek/internal/domain"
	"github.com/crateseek/crateseek/internal/slskd"
)

// resultsVersion guards the persisted candidate blob against schema
// drift across releases.
const resultsVersion = 1

// storedResults is what a pending_selection task keeps in its
// search_results column.
type storedResults struct {
	Version    int         `json:"version"`
	Query      string      `json:"query"`
	Candidates []Candidate `json:"candidates"`
	SavedAt    time.Time   `json:"saved_at"`
}

func encodeResults(query string, cands []Candidate) ([]byte, error) {
	return json.Marshal(&storedResults{
		Version:    resultsVersion,
		Query:      query,
		Candidates: cands,
		SavedAt:    time.Now().UTC(),
	})
}

// decodeResults reports false for anything unusable: empty blobs,
// malformed JSON, foreign versions, or an empty candidate list.
func decodeResults(blob []byte) (*storedResults, bool) {
	if len(blob) == 0 {
		return nil, false
	}
	var stored storedResults
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, false
	}
	if stored.Version != resultsVersion || len(stored.Candidates) == 0 {
		return nil, false
	}
	return &stored, true
}

// SearchResultSet is the candidate list presented for a manual
// selection.
type SearchResultSet struct {
	TaskID     string      `json:"task_id"`
	Query      string      `json:"query"`
	ExpiresAt  *time.Time  `json:"selection_expires_at,omitempty"`
	Candidates []Candidate `json:"candidates"`
}

// SearchResults returns the remaining candidates for a task awaiting
// selection.
func (e *Engine) SearchResults(ctx context.Context, taskID string) (*SearchResultSet, error) {
	task, stored, err := e.pendingSelection(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &SearchResultSet{
		TaskID:     task.ID,
		Query:      stored.Query,
		ExpiresAt:  task.SelectionExpiresAt,
		Candidates: stored.Candidates,
	}, nil
}

// Select enqueues the chosen candidate. A non-empty directory narrows
// the choice to one folder of that peer's share.
func (e *Engine) Select(ctx context.Context, taskID, username, directory string) error {
	task, stored, err := e.pendingSelection(ctx, taskID)
	if err != nil {
		return err
	}
	cand, ok := findCandidate(stored.Candidates, username)
	if !ok {
		return apperr.NotFound("no candidate from %s", username)
	}
	if directory != "" {
		files := constrainToDirectory(cand.Files, directory)
		if len(files) == 0 {
			return apperr.NotFound("candidate from %s has no files under %s", username, directory)
		}
		cand = narrowCandidate(cand, directory, files, task.ExpectedTrackCount)
	}
	return e.enqueueCandidate(ctx, task, cand)
}

// Skip removes one peer from consideration. With candidates left the
// selection window stays open; with none the task defers for another
// search, or fails when the retry budget is spent.
func (e *Engine) Skip(ctx context.Context, taskID, username string) error {
	task, stored, err := e.pendingSelection(ctx, taskID)
	if err != nil {
		return err
	}
	if _, ok := findCandidate(stored.Candidates, username); !ok {
		return apperr.NotFound("no candidate from %s", username)
	}

	task.SkippedUsernames = appendUnique(task.SkippedUsernames, username)
	remaining := withoutSkipped(stored.Candidates, task.SkippedUsernames)
	if len(remaining) == 0 {
		if e.retryAllowed(task) {
			return e.deferTask(ctx, task, "all candidates were skipped")
		}
		return e.failTask(ctx, task, "All candidates were skipped")
	}

	if err := e.db.UpdateDownloadTask(ctx, task); err != nil {
		return e.storeErr(err)
	}
	e.log.Info("candidate skipped", "task_id", task.ID, "username", username, "remaining", len(remaining))
	e.publishTask(task)
	return nil
}

// RetrySearch abandons the current attempt and runs a fresh search. A
// non-empty query overrides the one built from the wishlist item.
// Manual retries do not consume the automatic retry budget.
func (e *Engine) RetrySearch(ctx context.Context, taskID, query string) error {
	task, err := e.db.GetDownloadTask(taskID)
	if err != nil {
		return e.storeErr(err)
	}
	if task == nil {
		return apperr.NotFound("download task %s not found", taskID)
	}
	switch task.Status {
	case domain.TaskStatusPendingSelection, domain.TaskStatusDeferred, domain.TaskStatusFailed:
	default:
		return apperr.Conflict("cannot retry a %s task", task.Status)
	}

	task.Status = domain.TaskStatusSearching
	task.SearchQuery = query
	task.SearchResults = nil
	task.SelectionExpiresAt = nil
	task.ErrorMessage = ""
	task.CompletedAt = nil
	task.StartedAt = nil
	task.PeerUsername = ""
	task.PeerDirectory = ""
	task.FileCount = 0
	if err := e.db.UpdateDownloadTask(ctx, task); err != nil {
		return e.storeErr(err)
	}
	e.log.Info("manual search retry", "task_id", task.ID, "query", query)
	e.publishTask(task)
	e.publishStats()
	return nil
}

// AutoSelect resolves a pending selection without a human: the best
// ranked remaining candidate wins.
func (e *Engine) AutoSelect(ctx context.Context, taskID string) error {
	task, stored, err := e.pendingSelection(ctx, taskID)
	if err != nil {
		return err
	}
	rankCandidates(stored.Candidates, task.ExpectedTrackCount, e.cfg)
	return e.enqueueCandidate(ctx, task, stored.Candidates[0])
}

// pendingSelection loads a task awaiting selection together with its
// usable candidates. An expired window fails the task and reports
// gone; an unusable blob forces a fresh search and reports conflict.
func (e *Engine) pendingSelection(ctx context.Context, taskID string) (*domain.DownloadTask, *storedResults, error) {
	task, err := e.db.GetDownloadTask(taskID)
	if err != nil {
		return nil, nil, e.storeErr(err)
	}
	if task == nil {
		return nil, nil, apperr.NotFound("download task %s not found", taskID)
	}
	if task.Status != domain.TaskStatusPendingSelection {
		return nil, nil, apperr.Conflict("task is %s, not awaiting selection", task.Status)
	}
	if task.SelectionExpiresAt != nil && time.Now().After(*task.SelectionExpiresAt) {
		if err := e.expireSelection(ctx, task); err != nil {
			return nil, nil, err
		}
		return nil, nil, apperr.Gone("selection window for task %s has expired", taskID)
	}

	stored, ok := decodeResults(task.SearchResults)
	if ok {
		stored.Candidates = withoutSkipped(stored.Candidates, task.SkippedUsernames)
	}
	if !ok || len(stored.Candidates) == 0 {
		if err := e.forceResearch(ctx, task); err != nil {
			return nil, nil, err
		}
		return nil, nil, apperr.Conflict("stored search results were unusable; a new search has been started")
	}
	return task, stored, nil
}

// forceResearch rewinds a task to searching with no stored query, so
// the next step rebuilds it from the wishlist item.
func (e *Engine) forceResearch(ctx context.Context, task *domain.DownloadTask) error {
	task.Status = domain.TaskStatusSearching
	task.SearchQuery = ""
	task.SearchResults = nil
	task.SelectionExpiresAt = nil
	if err := e.db.UpdateDownloadTask(ctx, task); err != nil {
		return e.storeErr(err)
	}
	e.publishTask(task)
	e.publishStats()
	return nil
}

// narrowCandidate rebuilds a candidate around the subset of files in
// the chosen directory.
func narrowCandidate(cand Candidate, directory string, files []slskd.SearchFile, expected int) Candidate {
	cand.Directory = normalizeRemotePath(directory)
	cand.Files = files
	cand.MusicFileCount = len(files)
	cand.TotalSize = 0
	for _, f := range files {
		cand.TotalSize += f.Size
	}
	cand.Quality = bestQuality(files)
	cand.Completeness = completenessRatio(len(files), expected)
	return cand
}

func findCandidate(cands []Candidate, username string) (Candidate, bool) {
	for _, c := range cands {
		if c.Username == username {
			return c, true
		}
	}
	return Candidate{}, false
}

func withoutSkipped(cands []Candidate, skipped []string) []Candidate {
	if len(skipped) == 0 {
		return cands
	}
	drop := make(map[string]bool, len(skipped))
	for _, u := range skipped {
		drop[u] = true
	}
	var kept []Candidate
	for _, c := range cands {
		if !drop[c.Username] {
			kept = append(kept, c)
		}
	}
	return kept
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
