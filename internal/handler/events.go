package handler

import (
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// EventHub fans change notifications out to connected SSE clients. The
// payload is a bare event name, not the ledger itself: clients re-fetch
// through the normal endpoints, so a slow client never holds stale data
// and a dropped event costs nothing.
type EventHub struct {
	mu      sync.Mutex
	clients map[chan string]struct{}
	logger  *zap.Logger
}

func NewEventHub(logger *zap.Logger) *EventHub {
	return &EventHub{
		clients: make(map[chan string]struct{}),
		logger:  logger,
	}
}

// Notify broadcasts an event to every connected client. Clients that
// cannot keep up have the event dropped rather than blocking the caller.
func (h *EventHub) Notify(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *EventHub) subscribe() chan string {
	ch := make(chan string, 8)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) unsubscribe(ch chan string) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// ServeHTTP streams hub events as server-sent events until the client
// disconnects.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.subscribe()
	defer h.unsubscribe(ch)
	h.logger.Debug("sse client connected", zap.String("remote_addr", r.RemoteAddr))

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("sse client disconnected", zap.String("remote_addr", r.RemoteAddr))
			return
		case event := <-ch:
			fmt.Fprintf(w, "event: %s\ndata: {}\n\n", event)
			flusher.Flush()
		}
	}
}
