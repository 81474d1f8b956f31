// Package httpapp is the JSON façade over the core services. Handlers
// stay thin: decode the request, call one service method, map the error
// kind to a status code.
package httpapp

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crateseek/crateseek/internal/apperr"
	"github.com/crateseek/crateseek/internal/config"
	"github.com/crateseek/crateseek/internal/downloader"
	"github.com/crateseek/crateseek/internal/events"
	"github.com/crateseek/crateseek/internal/logger"
	"github.com/crateseek/crateseek/internal/preview"
	"github.com/crateseek/crateseek/internal/queue"
	"github.com/crateseek/crateseek/internal/scheduler"
	"github.com/crateseek/crateseek/internal/wishlist"
)

type Handler struct {
	Scheduler *scheduler.Scheduler
	Queue     *queue.Service
	Wishlist  *wishlist.Service
	Downloads *downloader.Engine
	Preview   *preview.Client
	Bus       *events.Bus
	Config    *config.Config
	Logger    *logger.Logger
}

func NewHandler(sched *scheduler.Scheduler, q *queue.Service, wl *wishlist.Service, dl *downloader.Engine, pv *preview.Client, bus *events.Bus, cfg *config.Config) *Handler {
	return &Handler{
		Scheduler: sched,
		Queue:     q,
		Wishlist:  wl,
		Downloads: dl,
		Preview:   pv,
		Bus:       bus,
		Config:    cfg,
		Logger:    logger.Default().WithComponent("http"),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)

	r.Route("/api", func(api chi.Router) {
		api.Use(h.basicAuth)

		api.Get("/jobs", h.ListJobs)
		api.Post("/jobs/{name}/trigger", h.TriggerJob)
		api.Post("/jobs/{name}/cancel", h.CancelJob)

		api.Get("/queue", h.ListQueue)
		api.Post("/queue/approve", h.ApproveQueue)
		api.Post("/queue/reject", h.RejectQueue)
		api.Get("/queue/stats", h.QueueStats)
		api.Get("/queue/{mbid}/preview", h.QueuePreview)

		api.Get("/wishlist", h.ListWishlist)
		api.Post("/wishlist", h.AddWishlist)
		api.Patch("/wishlist/{id}", h.UpdateWishlist)
		api.Delete("/wishlist/{id}", h.DeleteWishlist)
		api.Post("/wishlist/bulk-delete", h.BulkDeleteWishlist)
		api.Post("/wishlist/bulk-requeue", h.BulkRequeueWishlist)
		api.Get("/wishlist/export", h.ExportWishlist)
		api.Post("/wishlist/import", h.ImportWishlist)

		api.Get("/downloads/active", h.ActiveDownloads)
		api.Get("/downloads/completed", h.CompletedDownloads)
		api.Get("/downloads/failed", h.FailedDownloads)
		api.Post("/downloads/retry", h.RetryDownloads)
		api.Post("/downloads/delete", h.DeleteDownloads)
		api.Get("/downloads/stats", h.DownloadStats)
		api.Get("/downloads/{id}/results", h.SearchResults)
		api.Post("/downloads/{id}/select", h.SelectCandidate)
		api.Post("/downloads/{id}/skip", h.SkipCandidate)
		api.Post("/downloads/{id}/retry-search", h.RetrySearch)
		api.Post("/downloads/{id}/auto-select", h.AutoSelectCandidate)

		api.Get("/events", h.StreamEvents)
		api.Get("/config", h.ShowConfig)
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// basicAuth enforces the optional ui credentials. With no credentials
// configured every request passes through.
func (h *Handler) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Config == nil || h.Config.UI.Username == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(h.Config.UI.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(h.Config.UI.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="crateseek"`)
			h.respondError(w, apperr.Unauthorized("missing or invalid credentials"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Warn("Failed to write response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("Request failed", "error", err)
	}
	h.respondJSON(w, status, errorResponse{Error: err.Error(), Code: apperr.Code(err)})
}
