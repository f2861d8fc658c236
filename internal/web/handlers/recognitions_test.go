package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/database/mock"
)

func TestRecognitionsHandler_List(t *testing.T) {
	log := mock.NewMockRecognitionLog()
	for _, name := range []string{"alice", "Unknown", "bob"} {
		entry := &database.RecognitionEntry{Name: name, Matched: name != "Unknown", Top: 1, Right: 2, Bottom: 3, Left: 4}
		if err := log.SaveRecognition(context.Background(), entry); err != nil {
			t.Fatal(err)
		}
	}
	handler := NewRecognitionsHandler(log)

	tests := []struct {
		name     string
		query    string
		status   int
		expected []string
	}{
		{"default limit", "", http.StatusOK, []string{"bob", "Unknown", "alice"}},
		{"explicit limit", "?limit=2", http.StatusOK, []string{"bob", "Unknown"}},
		{"invalid limit", "?limit=abc", http.StatusBadRequest, nil},
		{"zero limit", "?limit=0", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/recognitions"+tt.query, nil))

			if recorder.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, recorder.Code)
			}
			if tt.expected == nil {
				return
			}
			var resp []RecognitionResponse
			if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if len(resp) != len(tt.expected) {
				t.Fatalf("expected %d entries, got %d", len(tt.expected), len(resp))
			}
			for i, name := range tt.expected {
				if resp[i].Name != name {
					t.Errorf("entry %d: expected %s, got %s", i, name, resp[i].Name)
				}
			}
			if resp[0].Location.Left != 4 {
				t.Errorf("location not mapped: %+v", resp[0].Location)
			}
		})
	}
}

func TestRecognitionsHandler_StoreError(t *testing.T) {
	log := mock.NewMockRecognitionLog()
	log.RecentError = errors.New("connection refused")

	recorder := httptest.NewRecorder()
	NewRecognitionsHandler(log).List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/recognitions", nil))

	if recorder.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", recorder.Code)
	}
}
