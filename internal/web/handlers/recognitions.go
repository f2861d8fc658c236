package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/descriptor"
)

const (
	defaultRecognitionsLimit = 50
	maxRecognitionsLimit     = 500
)

// RecognitionsHandler serves the recognition audit log
type RecognitionsHandler struct {
	log database.RecognitionReader
}

// NewRecognitionsHandler creates a new recognitions handler
func NewRecognitionsHandler(log database.RecognitionReader) *RecognitionsHandler {
	return &RecognitionsHandler{log: log}
}

// RecognitionResponse is one logged face
type RecognitionResponse struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Matched   bool           `json:"matched"`
	Distance  float64        `json:"distance"`
	Location  descriptor.Box `json:"location"`
	SketchURL string         `json:"sketch_url,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// List returns the most recent recognitions, newest first
func (h *RecognitionsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecognitionsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxRecognitionsLimit)
	}

	entries, err := h.log.RecentRecognitions(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load recognitions")
		return
	}

	result := make([]RecognitionResponse, 0, len(entries))
	for _, e := range entries {
		result = append(result, RecognitionResponse{
			ID:        e.ID,
			Name:      e.Name,
			Matched:   e.Matched,
			Distance:  e.Distance,
			Location:  descriptor.Box{Top: e.Top, Right: e.Right, Bottom: e.Bottom, Left: e.Left},
			SketchURL: e.SketchURL,
			CreatedAt: e.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, result)
}
