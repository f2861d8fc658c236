package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kozaktomas/facegate/internal/workflow"
)

func dialStream(t *testing.T, svc FaceService) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(NewStreamHandler(svc).Recognize))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestStreamHandler_Frames(t *testing.T) {
	svc := &fakeFaceService{recognizeRes: &workflow.RecognitionResult{
		Faces: []workflow.RecognizedFace{{Name: "alice"}},
	}}
	conn := dialStream(t, svc)

	// binary frame carries raw image bytes
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("raw-frame")); err != nil {
		t.Fatal(err)
	}
	var resp RecognizeResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || len(resp.Faces) != 1 || resp.Faces[0].Name != "alice" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if string(svc.recognizeImg) != "raw-frame" {
		t.Errorf("expected raw bytes, got %q", svc.recognizeImg)
	}

	// text frame carries a data URL
	if err := conn.WriteMessage(websocket.TextMessage, []byte(dataURL("encoded-frame"))); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if string(svc.recognizeImg) != "encoded-frame" {
		t.Errorf("expected decoded data URL, got %q", svc.recognizeImg)
	}
}

func TestStreamHandler_ErrorsKeepConnection(t *testing.T) {
	svc := &fakeFaceService{recognizeErr: workflow.ErrLivenessRejected}
	conn := dialStream(t, svc)

	for range 2 {
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte("frame")); err != nil {
			t.Fatal(err)
		}
		var resp ErrorResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Kind != "liveness_rejected" || resp.Success {
			t.Errorf("unexpected response: %+v", resp)
		}
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("data:image/jpeg,plain")); err != nil {
		t.Fatal(err)
	}
	var resp ErrorResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Kind != "invalid_image" {
		t.Errorf("expected invalid_image, got %+v", resp)
	}
}
