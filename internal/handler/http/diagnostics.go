package http

import (
	"encoding/json"
	"net/http"

	"github.com/relayhub/relay-service/internal/domain/registry"
)

// DiagnosticsHandler exposes the read-only registry snapshot for operators.
// No history queries live here; the snapshot is all the core exports.
type DiagnosticsHandler struct {
	hub registry.Hubber
}

func NewDiagnosticsHandler(hub registry.Hubber) *DiagnosticsHandler {
	return &DiagnosticsHandler{hub: hub}
}

type connectionsResponse struct {
	Count       int                 `json:"count"`
	Connections []registry.Snapshot `json:"connections"`
}

func (h *DiagnosticsHandler) Connections(w http.ResponseWriter, r *http.Request) {
	snap := h.hub.List()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(connectionsResponse{
		Count:       len(snap),
		Connections: snap,
	})
}
