package httpapp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crateseek/crateseek/internal/apperr"
	"github.com/crateseek/crateseek/internal/domain"
	"github.com/crateseek/crateseek/internal/scheduler"
	"github.com/crateseek/crateseek/internal/store"
	"github.com/crateseek/crateseek/internal/wishlist"
)

// cancelWait bounds how long a cancel request blocks waiting for the
// run to acknowledge. A run that keeps going past this still winds down
// in the background.
const cancelWait = 5 * time.Second

// Jobs.

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.Scheduler.Status())
}

func (h *Handler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	outcome := h.Scheduler.Trigger(name)

	status := http.StatusAccepted
	switch outcome {
	case scheduler.TriggerAlreadyRunning:
		status = http.StatusConflict
	case scheduler.TriggerUnknown:
		status = http.StatusNotFound
	}
	h.respondJSON(w, status, map[string]string{"job": name, "status": outcome})
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	outcome := h.Scheduler.Cancel(name, cancelWait)

	status := http.StatusOK
	switch outcome {
	case scheduler.CancelNotRunning:
		status = http.StatusConflict
	case scheduler.CancelUnknown:
		status = http.StatusNotFound
	}
	h.respondJSON(w, status, map[string]string{"job": name, "status": outcome})
}

// Queue.

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	var req QueueListRequest
	if err := decodeQuery(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	limit, offset := clampPage(req.Limit, req.Offset)

	items, total, err := h.Queue.GetPending(store.QueueListOptions{
		Source:        domain.Source(req.Source),
		Sort:          req.Sort,
		Order:         req.Order,
		Limit:         limit,
		Offset:        offset,
		HideInLibrary: req.HideInLibrary,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if items == nil {
		items = []*domain.QueueItem{}
	}
	h.respondJSON(w, http.StatusOK, ListResponse{Items: items, Total: total, Limit: limit, Offset: offset})
}

func (h *Handler) ApproveQueue(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	var (
		approved int
		err      error
	)
	if req.All {
		approved, err = h.Queue.ApproveAll(r.Context())
	} else {
		if len(req.IDs) == 0 {
			h.respondError(w, apperr.Validation("ids is required"))
			return
		}
		approved, err = h.Queue.Approve(r.Context(), req.IDs)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"approved": approved})
}

func (h *Handler) RejectQueue(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if len(req.IDs) == 0 {
		h.respondError(w, apperr.Validation("ids is required"))
		return
	}

	rejected, err := h.Queue.Reject(r.Context(), req.IDs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"rejected": rejected})
}

func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Queue.Stats()
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// QueuePreview resolves a 30-second sample for a queue item. Lookups
// are best-effort: a disabled client or a miss both yield an empty URL.
func (h *Handler) QueuePreview(w http.ResponseWriter, r *http.Request) {
	mbid := chi.URLParam(r, "mbid")
	item, err := h.Queue.Get(mbid)
	if err != nil {
		h.respondError(w, err)
		return
	}

	previewURL := ""
	if h.Preview != nil {
		if item.Type == domain.MediaTypeTrack && item.Title != "" {
			previewURL = h.Preview.TrackPreviewURL(r.Context(), item.Artist, item.Title)
		} else {
			previewURL = h.Preview.AlbumPreviewURL(r.Context(), item.Artist, item.Album)
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"mbid": mbid, "preview_url": previewURL})
}

// Wishlist.

func (h *Handler) ListWishlist(w http.ResponseWriter, r *http.Request) {
	var req WishlistListRequest
	if err := decodeQuery(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.Type != "" && req.Type != string(domain.MediaTypeAlbum) && req.Type != string(domain.MediaTypeTrack) {
		h.respondError(w, apperr.Validation("type must be album or track"))
		return
	}
	limit, offset := clampPage(req.Limit, req.Offset)

	items, total, err := h.Wishlist.List(store.WishlistListOptions{
		Type:     domain.MediaType(req.Type),
		Acquired: req.Acquired,
		Search:   strings.TrimSpace(req.Search),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if items == nil {
		items = []*domain.WishlistItem{}
	}
	h.respondJSON(w, http.StatusOK, ListResponse{Items: items, Total: total, Limit: limit, Offset: offset})
}

func (h *Handler) AddWishlist(w http.ResponseWriter, r *http.Request) {
	var item domain.WishlistItem
	if err := decodeBody(r, &item); err != nil {
		h.respondError(w, err)
		return
	}

	added, err := h.Wishlist.Add(r.Context(), &item)
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	h.respondJSON(w, status, map[string]interface{}{"item": item, "added": added})
}

func (h *Handler) UpdateWishlist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch wishlist.Patch
	if err := decodeBody(r, &patch); err != nil {
		h.respondError(w, err)
		return
	}

	item, err := h.Wishlist.Update(r.Context(), id, patch)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, item)
}

func (h *Handler) DeleteWishlist(w http.ResponseWriter, r *http.Request) {
	if err := h.Wishlist.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) BulkDeleteWishlist(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if len(req.IDs) == 0 {
		h.respondError(w, apperr.Validation("ids is required"))
		return
	}

	deleted, err := h.Wishlist.BulkDelete(r.Context(), req.IDs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (h *Handler) BulkRequeueWishlist(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if len(req.IDs) == 0 {
		h.respondError(w, apperr.Validation("ids is required"))
		return
	}

	requeued, err := h.Wishlist.BulkRequeue(r.Context(), req.IDs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"requeued": requeued})
}

func (h *Handler) ExportWishlist(w http.ResponseWriter, r *http.Request) {
	items, err := h.Wishlist.Export()
	if err != nil {
		h.respondError(w, err)
		return
	}
	if items == nil {
		items = []*domain.WishlistItem{}
	}
	w.Header().Set("Content-Disposition", `attachment; filename="wishlist.json"`)
	h.respondJSON(w, http.StatusOK, items)
}

func (h *Handler) ImportWishlist(w http.ResponseWriter, r *http.Request) {
	var items []*domain.WishlistItem
	if err := decodeBody(r, &items); err != nil {
		h.respondError(w, err)
		return
	}
	if len(items) == 0 {
		h.respondError(w, apperr.Validation("no items to import"))
		return
	}

	results, err := h.Wishlist.Import(r.Context(), items)
	if err != nil {
		h.respondError(w, err)
		return
	}

	added, skipped, failed := 0, 0, 0
	for _, res := range results {
		switch {
		case res.Error != "":
			failed++
		case res.Added:
			added++
		default:
			skipped++
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"added":   added,
		"skipped": skipped,
		"failed":  failed,
	})
}

// Downloads.

func (h *Handler) ActiveDownloads(w http.ResponseWriter, r *http.Request) {
	h.listDownloads(w, r, h.Downloads.Active)
}

func (h *Handler) CompletedDownloads(w http.ResponseWriter, r *http.Request) {
	h.listDownloads(w, r, h.Downloads.Completed)
}

func (h *Handler) FailedDownloads(w http.ResponseWriter, r *http.Request) {
	h.listDownloads(w, r, h.Downloads.Failed)
}

func (h *Handler) listDownloads(w http.ResponseWriter, r *http.Request, list func(limit, offset int) ([]*domain.DownloadTask, int, error)) {
	var req PageRequest
	if err := decodeQuery(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	limit, offset := clampPage(req.Limit, req.Offset)

	tasks, total, err := list(limit, offset)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.DownloadTask{}
	}
	h.respondJSON(w, http.StatusOK, ListResponse{Items: tasks, Total: total, Limit: limit, Offset: offset})
}

func (h *Handler) RetryDownloads(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if len(req.IDs) == 0 {
		h.respondError(w, apperr.Validation("ids is required"))
		return
	}

	retried, err := h.Downloads.Retry(r.Context(), req.IDs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"retried": retried})
}

func (h *Handler) DeleteDownloads(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if len(req.IDs) == 0 {
		h.respondError(w, apperr.Validation("ids is required"))
		return
	}

	deleted, err := h.Downloads.Delete(r.Context(), req.IDs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (h *Handler) DownloadStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Downloads.Stats()
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// Selection sub-protocol.

func (h *Handler) SearchResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.Downloads.SearchResults(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, results)
}

func (h *Handler) SelectCandidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req SelectRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.Username == "" {
		h.respondError(w, apperr.Validation("username is required"))
		return
	}

	if err := h.Downloads.Select(r.Context(), id, req.Username, req.Directory); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": "ok"})
}

func (h *Handler) SkipCandidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req SkipRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.Username == "" {
		h.respondError(w, apperr.Validation("username is required"))
		return
	}

	if err := h.Downloads.Skip(r.Context(), id, req.Username); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": "ok"})
}

func (h *Handler) RetrySearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req := RetrySearchRequest{}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			h.respondError(w, err)
			return
		}
	}

	if err := h.Downloads.RetrySearch(r.Context(), id, strings.TrimSpace(req.Query)); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": "ok"})
}

func (h *Handler) AutoSelectCandidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Downloads.AutoSelect(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": "ok"})
}

// Config.

func (h *Handler) ShowConfig(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.Config.Redacted())
}
