package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/spotter/internal/detector"
	"github.com/MeKo-Tech/spotter/internal/frame"
	"github.com/MeKo-Tech/spotter/internal/pipeline"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsMaxMessage   = 32 << 20
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketDetectRequest is a text message on /ws/detect. Binary messages
// carry an encoded image and are treated as {"type":"frame"}.
type WebSocketDetectRequest struct {
	Type  string `json:"type"` // "frame" or "stats"
	Image []byte `json:"image,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketDetectResponse is sent for every frame, in arrival order.
type WebSocketDetectResponse struct {
	Type      string                    `json:"type"`   // "detections", "stats" or "error"
	Status    string                    `json:"status"` // "completed", "dropped" or "error"
	Sequence  uint64                    `json:"sequence,omitempty"`
	Result    *pipeline.FrameJSON       `json:"result,omitempty"`
	Stats     *pipeline.ProfileSnapshot `json:"stats,omitempty"`
	Error     string                    `json:"error,omitempty"`
	ErrorType string                    `json:"error_type,omitempty"`
}

// wsStream is one websocket connection bound to one pipeline.
type wsStream struct {
	server   *Server
	pipeline detectionPipeline
	conn     WebSocketConnWriter
	seq      atomic.Uint64
}

// detectWebSocketHandler streams frames through a pipeline held for the
// lifetime of the connection.
func (s *Server) detectWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		s.writeErrorResponse(w, "detection pipeline not initialized", http.StatusServiceUnavailable)
		return
	}

	// Acquire before upgrading so an exhausted pool is a plain 503.
	pl, err := s.pool.Acquire(r.Context())
	if err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("no pipeline available: %v", err), statusForError(err))
		return
	}
	defer s.pool.Release(pl)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	streamsActive.Inc()
	defer streamsActive.Dec()

	slog.Info("WebSocket stream opened", "remote_addr", r.RemoteAddr)
	stream := &wsStream{server: s, pipeline: pl, conn: conn}
	s.handleWebSocketConnection(conn, stream)
	slog.Info("WebSocket stream closed", "remote_addr", r.RemoteAddr, "frames", stream.seq.Load())
}

// handleWebSocketConnection reads frames until the client goes away.
func (s *Server) handleWebSocketConnection(conn *websocket.Conn, stream *wsStream) {
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		streamMessages.WithLabelValues("received").Inc()

		switch messageType {
		case websocket.BinaryMessage:
			stream.processFrame(ctx, data)
		case websocket.TextMessage:
			stream.handleMessage(ctx, data)
		}
	}
}

// handleMessage processes a JSON text message.
func (st *wsStream) handleMessage(ctx context.Context, data []byte) {
	var req WebSocketDetectRequest
	if err := json.Unmarshal(data, &req); err != nil {
		st.server.sendWebSocketError(st.conn, 0, "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}

	switch req.Type {
	case "frame", "":
		st.processFrame(ctx, req.Image)
	case "stats":
		stats := st.pipeline.Stats()
		st.server.sendWebSocketResponse(st.conn, WebSocketDetectResponse{
			Type:   "stats",
			Status: "completed",
			Stats:  &stats,
		})
	default:
		st.server.sendWebSocketError(st.conn, 0, "invalid_request", "Unsupported request type: "+req.Type)
	}
}

// processFrame decodes and analyzes one frame. Every frame gets exactly one
// response carrying its sequence number.
func (st *wsStream) processFrame(ctx context.Context, data []byte) {
	seq := st.seq.Add(1)
	if len(data) == 0 {
		st.server.sendWebSocketError(st.conn, seq, "invalid_request", "No image data provided")
		return
	}

	f, err := frame.Decode(bytes.NewReader(data), st.server.channels())
	if err != nil {
		st.server.sendWebSocketError(st.conn, seq, "invalid_request", fmt.Sprintf("Failed to decode image: %v", err))
		return
	}

	res, err := st.server.analyze(ctx, st.pipeline, f, sourceWebsocket)
	if err != nil {
		switch {
		case errors.Is(err, detector.ErrInferenceTimeout):
			st.server.sendWebSocketError(st.conn, seq, "timeout", err.Error())
		case errors.Is(err, pipeline.ErrPipelineBusy):
			st.server.sendWebSocketResponse(st.conn, WebSocketDetectResponse{
				Type:      "error",
				Status:    "dropped",
				Sequence:  seq,
				Error:     err.Error(),
				ErrorType: "busy",
			})
		default:
			st.server.sendWebSocketError(st.conn, seq, "processing_error", err.Error())
		}
		return
	}

	res.Sequence = seq
	out := pipeline.NewFrameJSON(res)
	st.server.sendWebSocketResponse(st.conn, WebSocketDetectResponse{
		Type:     "detections",
		Status:   "completed",
		Sequence: seq,
		Result:   &out,
	})
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketDetectResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}

	streamMessages.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, seq uint64, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketDetectResponse{
		Type:      "error",
		Status:    "error",
		Sequence:  seq,
		Error:     message,
		ErrorType: errorType,
	})
}
