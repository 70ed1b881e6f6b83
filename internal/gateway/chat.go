package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/crewd/internal/orchestrator"
	"github.com/nextlevelbuilder/crewd/internal/telemetry"
	"github.com/nextlevelbuilder/crewd/pkg/protocol"
)

// handleChat runs one team session and streams its events as NDJSON,
// one JSON object per line, terminated by a done event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.rateLimiter.Enabled() && !s.rateLimiter.Allow(clientKey(r)) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}

	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "gateway.chat",
		attribute.String("conversation.id", req.ConversationID),
	)
	defer telemetry.EndSpan(span, nil)

	if s.history != nil {
		conv, err := s.history.GetOrCreate(ctx, req.ConversationID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		req.ConversationID = conv.ID
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	session := s.sessions()
	for ev := range session.RunStream(ctx, req) {
		if err := enc.Encode(ev); err != nil {
			slog.Warn("chat stream write failed", "error", err)
			return
		}
		flusher.Flush()
		if ev.Type == protocol.StreamDone {
			return
		}
	}
}
