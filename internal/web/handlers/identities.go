package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/facegate/internal/registry"
)

// IdentitiesHandler exposes the registry snapshot
type IdentitiesHandler struct {
	registry *registry.Registry
}

// NewIdentitiesHandler creates a new identities handler
func NewIdentitiesHandler(reg *registry.Registry) *IdentitiesHandler {
	return &IdentitiesHandler{registry: reg}
}

// IdentitiesResponse describes the current snapshot
type IdentitiesResponse struct {
	Identities []string  `json:"identities"`
	Count      int       `json:"count"`
	Generation uint64    `json:"generation"`
	BuiltAt    time.Time `json:"built_at"`
	Indexed    bool      `json:"indexed"`
}

func snapshotResponse(snap *registry.Snapshot) IdentitiesResponse {
	return IdentitiesResponse{
		Identities: snap.Names(),
		Count:      snap.Len(),
		Generation: snap.Generation(),
		BuiltAt:    snap.BuiltAt(),
		Indexed:    snap.Indexed(),
	}
}

// List returns the identities of the current snapshot
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, snapshotResponse(h.registry.All()))
}

// Reload rebuilds the registry from the identity store. On a bootstrap
// failure the previous snapshot stays active and the offending name is reported.
func (h *IdentitiesHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Reload(r.Context()); err != nil {
		respondWorkflowError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshotResponse(h.registry.All()))
}
