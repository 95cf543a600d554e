// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server implements the chat persistence HTTP server.
//
// Endpoints:
//
//	POST   /save-chat        store a full chat record
//	GET    /load-chats       list all chats, newest first
//	DELETE /delete-chat/{id} remove one chat
//
// All endpoints sit behind bearer auth (when a token is configured),
// CORS, per-client rate limiting, and request logging.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jeranaias/chatflow/internal/config"
	"github.com/jeranaias/chatflow/internal/model"
	"github.com/jeranaias/chatflow/internal/storage"
)

// Server serves the persistence API over a ChatStore.
type Server struct {
	cfg    config.ServerConfig
	store  *storage.ChatStore
	logger *slog.Logger
	http   *http.Server
}

// New builds a Server. logger may be nil.
func New(cfg config.ServerConfig, store *storage.ChatStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, store: store, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /save-chat", s.handleSaveChat)
	mux.HandleFunc("GET /load-chats", s.handleLoadChats)
	mux.HandleFunc("DELETE /delete-chat/{id}", s.handleDeleteChat)

	var handler http.Handler = mux
	handler = authMiddleware(cfg.AuthToken, handler)
	handler = rateLimitMiddleware(newRateLimiter(cfg.RateLimit), handler)
	handler = corsMiddleware(handler)
	handler = loggingMiddleware(logger, handler)

	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe runs the server until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("persistence server listening", "addr", s.cfg.Addr())
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleSaveChat(w http.ResponseWriter, r *http.Request) {
	var rec model.SessionRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat payload")
		return
	}
	if rec.ID == "" {
		writeError(w, http.StatusBadRequest, "chat id is required")
		return
	}

	if err := s.store.Save(rec); err != nil {
		s.logger.Error("failed to save chat", "id", rec.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleLoadChats(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List()
	if err != nil {
		s.logger.Error("failed to list chats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load chats")
		return
	}
	if recs == nil {
		recs = []model.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": recs})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(id); err != nil {
		if errors.Is(err, storage.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		s.logger.Error("failed to delete chat", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ============================================================================
// Response helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
