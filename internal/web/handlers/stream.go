package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/imaging"
	"github.com/kozaktomas/facegate/internal/workflow"
)

// StreamHandler runs recognition over a websocket, one frame per message
type StreamHandler struct {
	service  FaceService
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a new stream handler. Only same-origin upgrades are accepted.
func NewStreamHandler(service FaceService) *StreamHandler {
	return &StreamHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Recognize reads frames until the client goes away. Binary messages are
// encoded images, text messages are data URLs. Every frame gets exactly one
// JSON reply: a RecognizeResponse or an ErrorResponse.
func (h *StreamHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(constants.WSReadLimit)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read failed", "error", err)
			}
			return
		}

		reply := h.recognizeFrame(r, mt, data)

		conn.SetWriteDeadline(time.Now().Add(constants.WSWriteWaitSeconds * time.Second))
		if err := conn.WriteJSON(reply); err != nil {
			slog.Warn("websocket write failed", "error", err)
			return
		}
	}
}

func (h *StreamHandler) recognizeFrame(r *http.Request, messageType int, data []byte) any {
	if messageType == websocket.TextMessage {
		decoded, err := imaging.DecodeDataURL(string(data))
		if err != nil {
			return streamError(err)
		}
		data = decoded
	}

	res, err := h.service.Recognize(r.Context(), data)
	if err != nil {
		if !workflow.IsClientError(err) {
			slog.Error("stream recognition failed", "error", err)
		}
		return streamError(err)
	}
	return RecognizeResponse{
		Success:     true,
		Faces:       res.Faces,
		SketchURL:   res.SketchURL,
		SketchError: res.SketchError,
	}
}

func streamError(err error) ErrorResponse {
	return ErrorResponse{Error: workflow.Message(err), Kind: workflow.ErrorKind(err)}
}
