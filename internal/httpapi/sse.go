package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 25 * time.Second

// streamEvents serves the auction's event topic over server-sent events.
// Envelopes carry a per-auction sequence number; after a reconnect clients
// compare it against their last seen value and refetch the snapshot on a gap.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	if err := s.resolver.AuthorizeParticipant(r.Context(), identityFrom(r.Context()), auctionID); err != nil {
		s.writeError(w, r, err)
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
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.broker.Subscribe(auctionID, middleware.GetReqID(r.Context()), 64)
	defer s.broker.Unsubscribe(auctionID, sub)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case env, open := <-sub.Ch:
			if !open {
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				s.logger.Error("encoding sse envelope", slog.Any("error", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", env.Event, env.Seq, data)
			flusher.Flush()
		}
	}
}
