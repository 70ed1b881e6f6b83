// Package gateway exposes the team over HTTP: a streaming chat endpoint,
// conversation history APIs, and a WebSocket feed of live bus traffic.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/crewd/internal/bus"
	"github.com/nextlevelbuilder/crewd/internal/config"
	"github.com/nextlevelbuilder/crewd/internal/eventlog"
	"github.com/nextlevelbuilder/crewd/internal/orchestrator"
	"github.com/nextlevelbuilder/crewd/internal/store"
)

// SessionFactory builds a fresh orchestrator for one chat request.
type SessionFactory func() *orchestrator.Orchestrator

// Server is the HTTP face of the daemon.
type Server struct {
	cfg      config.GatewayConfig
	sessions SessionFactory
	history  store.HistoryStore // nil disables conversation APIs
	events   *bus.Bus           // nil disables /ws
	log      *eventlog.Logger   // nil disables the event log API

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter
	httpServer  *http.Server
	mux         *http.ServeMux
}

// NewServer wires the gateway. history, events, and log are optional.
func NewServer(cfg config.GatewayConfig, sessions SessionFactory, history store.HistoryStore, events *bus.Bus, log *eventlog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		history:  history,
		events:   events,
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.rateLimiter = NewRateLimiter(cfg.RateLimitRPM, 5)
	return s
}

// checkOrigin validates the Origin header against the allowed origins
// whitelist. No configured origins means allow all; an empty Origin
// (CLI clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range s.cfg.AllowedOrigins {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("cors rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/chat", s.withCORS(s.handleChat))
	mux.HandleFunc("OPTIONS /api/", s.withCORS(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if s.history != nil {
		mux.HandleFunc("GET /api/conversations", s.withCORS(s.handleListConversations))
		mux.HandleFunc("GET /api/conversations/search", s.withCORS(s.handleSearchConversations))
		mux.HandleFunc("GET /api/conversations/{id}", s.withCORS(s.handleGetConversation))
		mux.HandleFunc("DELETE /api/conversations/{id}", s.withCORS(s.handleDeleteConversation))
	}
	if s.log != nil {
		mux.HandleFunc("GET /api/events", s.withCORS(s.handleListEvents))
		mux.HandleFunc("DELETE /api/events", s.withCORS(s.handleClearEvents))
	}
	if s.events != nil {
		mux.HandleFunc("/ws", s.handleWebSocket)
	}

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}
