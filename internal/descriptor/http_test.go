package descriptor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var jpegMagic = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46}

func TestHTTPExtractor_Extract(t *testing.T) {
	var gotContentType, gotPartType string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotContentType = r.Header.Get("Content-Type")

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		gotPartType = header.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(file)

		json.NewEncoder(w).Encode(map[string]any{
			"faces_count": 2,
			"model":       "buffalo_l",
			"faces": []map[string]any{
				{"face_index": 0, "dim": 3, "embedding": []float32{0.1, 0.2, 0.3}, "bbox": []float64{10, 20, 110.4, 140.6}, "det_score": 0.98},
				{"face_index": 1, "dim": 3, "embedding": []float32{0.4, 0.5, 0.6}, "bbox": []float64{200, 30, 260, 100}, "det_score": 0.91},
			},
		})
	}))
	defer server.Close()

	client := NewHTTPExtractor(server.URL + "/")
	faces, err := client.Extract(context.Background(), jpegMagic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Errorf("expected multipart request, got %q", gotContentType)
	}
	if gotPartType != "image/jpeg" {
		t.Errorf("expected image/jpeg part, got %q", gotPartType)
	}
	if string(gotBody) != string(jpegMagic) {
		t.Error("image bytes were not forwarded unchanged")
	}

	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	want := Box{Top: 20, Right: 110, Bottom: 141, Left: 10}
	if faces[0].Box != want {
		t.Errorf("expected box %+v, got %+v", want, faces[0].Box)
	}
	if faces[1].Descriptor[2] != 0.6 {
		t.Errorf("unexpected descriptor: %v", faces[1].Descriptor)
	}
	if faces[0].Score != 0.98 {
		t.Errorf("unexpected score: %v", faces[0].Score)
	}
}

func TestHTTPExtractor_NoFaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"faces_count":0,"faces":[],"model":"buffalo_l"}`))
	}))
	defer server.Close()

	faces, err := NewHTTPExtractor(server.URL).Extract(context.Background(), jpegMagic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("expected no faces, got %d", len(faces))
	}
}

func TestHTTPExtractor_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, "boom", nil},
		{"invalid json", http.StatusOK, "not json", nil},
		{"empty embedding", http.StatusOK, `{"faces":[{"face_index":0,"embedding":[],"bbox":[0,0,1,1]}]}`, ErrEmptyDescriptor},
		{"short bbox", http.StatusOK, `{"faces":[{"face_index":0,"embedding":[1],"bbox":[0,0]}]}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewHTTPExtractor(server.URL).Extract(context.Background(), jpegMagic)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"jpeg", jpegMagic, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"gif", []byte("GIF89a\x00\x00"), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBP"), "image/webp"},
		{"short", []byte{0xFF}, "application/octet-stream"},
		{"unknown", []byte("hello world"), "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectMIMEType(tt.data); got != tt.expected {
				t.Errorf("detectMIMEType = %q, want %q", got, tt.expected)
			}
		})
	}
}
