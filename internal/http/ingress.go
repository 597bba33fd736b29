// Package http exposes the gateway's local HTTP surface: a message
// ingress used by co-located channel adapters and a health endpoint.
// This is not the webhook transport — signature validation and platform
// callbacks happen upstream, in the adapter that posts here.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/store"
)

// IngressHandler accepts inbound messages over HTTP and publishes them to
// the message bus.
type IngressHandler struct {
	router bus.MessageRouter
	store  store.Store
}

// NewIngressHandler creates the handler.
func NewIngressHandler(router bus.MessageRouter, st store.Store) *IngressHandler {
	return &IngressHandler{router: router, store: st}
}

// RegisterRoutes registers all ingress routes on the given mux.
func (h *IngressHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/messages", h.handlePublish)
	mux.HandleFunc("GET /v1/health", h.handleHealth)
}

func (h *IngressHandler) handlePublish(w http.ResponseWriter, r *http.Request) {
	var msg bus.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid message payload"})
		return
	}
	if msg.Content == "" && len(msg.Media) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message has no content"})
		return
	}
	h.router.PublishInbound(msg)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *IngressHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
