package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// sseBuffer is the per-subscriber channel depth for both stream
// transports.
const sseBuffer = 256

// handleSSE streams one session's events via Server-Sent Events. Clients
// resume after a drop by sending the Last-Event-ID header (or the
// last_event_id query param); the replay ring fills the gap.
// GET /stream/sse?session_id=<id>&types=a,b
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id required", "")
		return
	}
	typeFilter := parseTypeFilter(r.URL.Query().Get("types"))

	var lastID uint64
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported", sessionID)
		return
	}

	ch := s.stream.Subscribe(sessionID, sseBuffer)
	defer s.stream.Unsubscribe(sessionID, ch)

	fmt.Fprintf(w, ": connected to session %s\n\n", sessionID)
	flusher.Flush()

	// Replay backlog since lastID (best-effort)
	if lastID > 0 {
		for _, ev := range s.stream.ReplaySince(sessionID, lastID) {
			if skipType(typeFilter, ev.Type) {
				continue
			}
			writeSSE(w, ev.Seq, ev.Type, ev.Marshal())
		}
		flusher.Flush()
	}

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SSE client disconnected", zap.String("session_id", sessionID))
			return
		case ev := <-ch:
			if skipType(typeFilter, ev.Type) {
				continue
			}
			writeSSE(w, ev.Seq, ev.Type, ev.Marshal())
			flusher.Flush()
		case <-hb.C:
			// Keeps connections alive through proxies.
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, seq uint64, eventType string, data []byte) {
	if seq > 0 {
		fmt.Fprintf(w, "id: %d\n", seq)
	}
	if eventType != "" {
		fmt.Fprintf(w, "event: %s\n", eventType)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func parseTypeFilter(raw string) map[string]struct{} {
	filter := map[string]struct{}{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = struct{}{}
		}
	}
	return filter
}

func skipType(filter map[string]struct{}, eventType string) bool {
	if len(filter) == 0 {
		return false
	}
	_, ok := filter[eventType]
	return !ok
}
