package downloader

import (
	"context"

	"github.com/crateseek/crateseek/internal/domain"
)

var activeStatuses = []domain.TaskStatus{
	domain.TaskStatusPending,
	domain.TaskStatusSearching,
	domain.TaskStatusPendingSelection,
	domain.TaskStatusDeferred,
	domain.TaskStatusQueued,
	domain.TaskStatusDownloading,
}

// Active lists every task still moving through the state machine.
func (e *Engine) Active(limit, offset int) ([]*domain.DownloadTask, int, error) {
	tasks, total, err := e.db.ListDownloadTasksByStatus(activeStatuses, limit, offset)
	if err != nil {
		return nil, 0, e.storeErr(err)
	}
	return tasks, total, nil
}

// Completed lists finished tasks, newest first.
func (e *Engine) Completed(limit, offset int) ([]*domain.DownloadTask, int, error) {
	tasks, total, err := e.db.ListDownloadTasksByStatus([]domain.TaskStatus{domain.TaskStatusCompleted}, limit, offset)
	if err != nil {
		return nil, 0, e.storeErr(err)
	}
	return tasks, total, nil
}

// Failed lists failed tasks, newest first.
func (e *Engine) Failed(limit, offset int) ([]*domain.DownloadTask, int, error) {
	tasks, total, err := e.db.ListDownloadTasksByStatus([]domain.TaskStatus{domain.TaskStatusFailed}, limit, offset)
	if err != nil {
		return nil, 0, e.storeErr(err)
	}
	return tasks, total, nil
}

// Retry restarts failed tasks from scratch: back to pending with a
// zeroed retry count and no trace of the failed attempt. Tasks in any
// other state are left untouched.
func (e *Engine) Retry(ctx context.Context, ids []string) (int, error) {
	retried := 0
	for _, id := range ids {
		task, err := e.db.GetDownloadTask(id)
		if err != nil {
			return retried, e.storeErr(err)
		}
		if task == nil || task.Status != domain.TaskStatusFailed {
			continue
		}

		task.Status = domain.TaskStatusPending
		task.RetryCount = 0
		task.ErrorMessage = ""
		task.SearchQuery = ""
		task.SearchResults = nil
		task.SelectionExpiresAt = nil
		task.SkippedUsernames = nil
		task.PeerUsername = ""
		task.PeerDirectory = ""
		task.FileCount = 0
		task.StartedAt = nil
		task.CompletedAt = nil
		if err := e.db.UpdateDownloadTask(ctx, task); err != nil {
			return retried, e.storeErr(err)
		}
		e.log.Info("task retried by user", "task_id", task.ID, "title", task.WishlistKey)
		e.publishTask(task)
		retried++
	}
	if retried > 0 {
		e.publishStats()
	}
	return retried, nil
}

// Delete removes tasks in any state. Live transfers are cancelled at
// the peer client first, best effort.
func (e *Engine) Delete(ctx context.Context, ids []string) (int, error) {
	for _, id := range ids {
		task, err := e.db.GetDownloadTask(id)
		if err != nil {
			return 0, e.storeErr(err)
		}
		if task == nil {
			continue
		}
		if task.Status == domain.TaskStatusQueued || task.Status == domain.TaskStatusDownloading {
			e.cancelTransfers(ctx, task)
		}
		e.clearSpeed(id)
	}

	deleted, err := e.db.DeleteDownloadTasks(ctx, ids)
	if err != nil {
		return 0, e.storeErr(err)
	}
	if deleted > 0 {
		e.log.Info("download tasks deleted", "count", deleted)
		e.publishStats()
	}
	return deleted, nil
}

func (e *Engine) cancelTransfers(ctx context.Context, task *domain.DownloadTask) {
	transfers, err := e.peers.Transfers(ctx)
	if err != nil {
		e.log.Warn("could not list transfers for cancellation", "task_id", task.ID, "error", err)
		return
	}
	for _, f := range matchTransfers(transfers, task.PeerUsername, task.PeerDirectory) {
		if err := e.peers.CancelDownload(ctx, task.PeerUsername, f.ID, true); err != nil {
			e.log.Warn("could not cancel transfer", "task_id", task.ID, "file", f.Filename, "error", err)
		}
	}
}

// Stats returns the status buckets plus the live aggregate bandwidth.
func (e *Engine) Stats() (*domain.DownloadStats, error) {
	stats, err := e.db.GetDownloadStats()
	if err != nil {
		return nil, e.storeErr(err)
	}
	stats.TotalBandwidth = e.totalBandwidth()
	return stats, nil
}
