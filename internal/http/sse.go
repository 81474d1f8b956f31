package httpapp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/crateseek/crateseek/internal/apperr"
	"github.com/crateseek/crateseek/internal/events"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 30 * time.Second

// StreamEvents bridges one event bus channel onto a server-sent event
// stream. The subscription lives for the duration of the request.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	channel := events.Channel(r.URL.Query().Get("channel"))
	switch channel {
	case events.ChannelQueue, events.ChannelDownloads, events.ChannelJobs:
	default:
		h.respondError(w, apperr.Validation("channel must be queue, downloads, or jobs"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, apperr.Internal("streaming not supported", nil))
		return
	}

	ch, unsubscribe := h.Bus.Subscribe(channel)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.Logger.Warn("Failed to encode event", "event", ev.Name, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
