// Package ops exposes a small HTTP surface over the access layer's
// runtime state. The middleware embedding griddb mounts it on its
// operational listener; it carries no query capability.
package ops

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gridforge/griddb/internal/database"
	"github.com/gridforge/griddb/internal/logger"
)

// Handler serves pool statistics and a health ping.
type Handler struct {
	registry *database.Registry
	log      *logger.Logger
}

// NewHandler creates an ops handler over the registry.
func NewHandler(registry *database.Registry, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{registry: registry, log: log.Component("ops")}
}

// Routes mounts the ops endpoints on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.health)
	r.Get("/pools", h.pools)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) pools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
