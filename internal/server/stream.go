package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/backtrack-hq/chatcore/internal/auth"
)

// sseRetryMillis tells clients how long to wait before reconnecting.
const sseRetryMillis = 3000

// handleStream serves a room's live frames as server-sent events, for
// clients that cannot hold a WebSocket.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	rm := s.svc.ResolveRoom(chi.URLParam(r, "room"))
	if err := s.svc.Authorize(rm, user); err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "retry: %d\n\n", sseRetryMillis)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.hub.Subscribe(rm.Name, cancel)
	defer s.hub.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-sub.Frames():
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
	}
}
