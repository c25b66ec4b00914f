package server

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xhad/jurisrag/internal/models"
)

// Message is a websocket frame. Clients send {"type":"query"} or
// {"type":"compressed_query"} with the question in Content and the query
// parameters in Data. The server answers with status, result and error
// frames.
type Message struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type reply struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *zap.Logger
}

func (w *wsConn) send(msgType, content string, data any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteJSON(reply{Type: msgType, Content: content, Data: data}); err != nil {
		w.logger.Debug("error sending message", zap.Error(err))
	}
}

func (s *Server) upgrader() websocket.Upgrader {
	origins := s.config.CORSOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
}

func (s *Server) handleWebSocket(c echo.Context) error {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	ws := &wsConn{conn: conn, logger: s.logger}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", zap.Error(err))
			}
			return nil
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			ws.send("error", "invalid message: "+err.Error(), nil)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, ws, msg)
		}()
	}
}

func (s *Server) handleMessage(ctx context.Context, ws *wsConn, msg Message) {
	var params models.QueryParams
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &params); err != nil {
			ws.send("error", "invalid query parameters: "+err.Error(), nil)
			return
		}
	}
	if msg.Content != "" {
		params.Query = msg.Content
	}

	switch msg.Type {
	case "query":
		ws.send("status", "Searching documents", nil)
		result := s.svc.Query(ctx, params)
		if result.Error != "" {
			ws.send("error", result.Error, result)
			return
		}
		ws.send("result", result.Context, result)
	case "compressed_query":
		ws.send("status", "Searching and compressing documents", nil)
		result := s.svc.CompressedQuery(ctx, params)
		if result.Error != "" && !result.Compressed && result.ChunksFound == 0 {
			ws.send("error", result.Error, result)
			return
		}
		ws.send("result", result.Context, result)
	default:
		ws.send("error", "unknown message type "+msg.Type, nil)
	}
}
