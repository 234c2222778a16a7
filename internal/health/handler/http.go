// Package handler serves liveness and readiness endpoints for Kubernetes,
// load balancers, and CI.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"tripdeck/backend/internal/server/respond"
)

// Pinger reports whether a backing store is reachable (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

const pingTimeout = 2 * time.Second

// Handler serves /health and /health/ready.
type Handler struct {
	db Pinger
}

// NewHandler returns a health handler. db may be nil; readiness then skips
// the database ping.
func NewHandler(db Pinger) *Handler {
	return &Handler{db: db}
}

// RegisterRoutes mounts the health endpoints on the given router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Live).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", h.Ready).Methods(http.MethodGet)
}

// Live reports process liveness. It never touches external stores.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports readiness to serve traffic. The database must answer a ping
// within pingTimeout.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			checks["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	body := map[string]interface{}{"checks": checks}
	if status == http.StatusOK {
		body["status"] = "ok"
	} else {
		body["status"] = "unavailable"
	}
	respond.JSON(w, status, body)
}
