// Package api provides HTTP handlers for the Parley API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/parleylabs/parley/internal/store"
	"github.com/parleylabs/parley/internal/transport"
	"github.com/parleylabs/parley/internal/variant"
)

// Handler serves session inspection and health endpoints.
type Handler struct {
	repo     store.Repository
	registry *variant.Registry
	sm       *transport.SessionManager
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, registry *variant.Registry, sm *transport.SessionManager) *Handler {
	return &Handler{repo: repo, registry: registry, sm: sm}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the read-only API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/variants", h.GetVariants)
		r.Get("/sessions/{id}", h.GetSession)
	})
	r.Get("/healthz", h.Health)
}

// GetVariants lists the registered session variants.
func (h *Handler) GetVariants(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"variants": h.registry.Names(),
		"default":  h.registry.Default(),
	})
}

// GetSession returns one journal record.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.repo.GetSession(r.Context(), id)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	resp := map[string]any{
		"session_id":       sess.ID,
		"variant":          sess.Variant,
		"started_at":       sess.StartedAt.UTC().Format(time.RFC3339),
		"active":           sess.Active(),
		"duration_seconds": sess.DurationSeconds,
	}
	if sess.EndedAt != nil {
		resp["ended_at"] = sess.EndedAt.UTC().Format(time.RFC3339)
		resp["end_reason"] = sess.EndReason
	}
	JSON(w, http.StatusOK, resp)
}

// Health reports database connectivity and active session count.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  "database unreachable",
		})
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": h.sm.Count(),
	})
}
