package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/registry"
	"github.com/kozaktomas/facegate/internal/workflow"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// ErrorResponse is the body of every failed enrollment, recognition or reload.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Name    string `json:"name,omitempty"` // canonical image that broke a registry reload
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondWorkflowError maps a service error to a status code and a structured body.
// Client errors get 400, everything else 500.
func respondWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest
	if !workflow.IsClientError(err) {
		status = http.StatusInternalServerError
		slog.Error("request failed", "path", sanitizeForLog(r.URL.Path), "error", err)
	}

	resp := ErrorResponse{Error: workflow.Message(err), Kind: workflow.ErrorKind(err)}
	var be *registry.BootstrapError
	if errors.As(err, &be) {
		resp.Name = be.Name
	}
	respondJSON(w, status, resp)
}

// decodeJSON reads a size limited JSON body into v. It writes the error
// response itself and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
