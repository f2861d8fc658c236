package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/kozaktomas/facegate/internal/imaging"
	"github.com/kozaktomas/facegate/internal/workflow"
)

// FaceService runs enrollments and recognitions.
type FaceService interface {
	Enroll(ctx context.Context, req workflow.EnrollRequest) (*workflow.EnrollResult, error)
	Recognize(ctx context.Context, image []byte) (*workflow.RecognitionResult, error)
}

// FacesHandler handles enrollment and recognition requests
type FacesHandler struct {
	service FaceService
}

// NewFacesHandler creates a new faces handler
func NewFacesHandler(service FaceService) *FacesHandler {
	return &FacesHandler{service: service}
}

// RegisterRequest carries the identity label and a captured frame as a data URL
type RegisterRequest struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// RegisterResponse acknowledges an enrollment
type RegisterResponse struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

// RecognizeRequest carries a captured frame as a data URL
type RecognizeRequest struct {
	Image string `json:"image"`
}

// RecognizeResponse lists the faces found in the frame
type RecognizeResponse struct {
	Success     bool                      `json:"success"`
	Faces       []workflow.RecognizedFace `json:"faces"`
	SketchURL   string                    `json:"sketch_url,omitempty"`
	SketchError string                    `json:"sketch_error,omitempty"`
}

// Register enrolls a new identity
func (h *FacesHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondWorkflowError(w, r, workflow.ErrMissingName)
		return
	}

	data, err := imaging.DecodeDataURL(req.Image)
	if err != nil {
		respondWorkflowError(w, r, err)
		return
	}

	res, err := h.service.Enroll(r.Context(), workflow.EnrollRequest{Name: req.Name, Image: data})
	if err != nil {
		respondWorkflowError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, RegisterResponse{
		Message: "Registration successful",
		Name:    res.Name,
	})
}

// Recognize identifies the faces of a live frame
func (h *FacesHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	var req RecognizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	data, err := imaging.DecodeDataURL(req.Image)
	if err != nil {
		respondWorkflowError(w, r, err)
		return
	}

	res, err := h.service.Recognize(r.Context(), data)
	if err != nil {
		respondWorkflowError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, RecognizeResponse{
		Success:     true,
		Faces:       res.Faces,
		SketchURL:   res.SketchURL,
		SketchError: res.SketchError,
	})
}
