package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/openfunnel/maestro/pkg/session"
)

// inboundMessage is the single client-to-server frame shape.
type inboundMessage struct {
	Message string `json:"message"`
}

// wsHandler upgrades GET /ws and runs the conversation loop. One WebSocket
// connection maps to one session thread; the thread id comes from the
// thread_id query parameter or is minted fresh, so clients can reconnect to
// a checkpointed conversation.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.sessions == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}

	opts := &websocket.AcceptOptions{}
	if len(s.cfg.AllowedWSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.AllowedWSOrigins
	} else {
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusInternalError, "server error")

	threadID := c.QueryParam("thread_id")
	if threadID == "" {
		threadID = s.sessions.NewThreadID()
	}
	s.logger.Info("WebSocket connected", "thread_id", threadID)

	ctx := c.Request().Context()
	s.serveConversation(ctx, conn, threadID)

	conn.Close(websocket.StatusNormalClosure, "")
	return nil
}

// serveConversation reads inbound messages and writes one payload per turn
// until the client disconnects.
func (s *Server) serveConversation(ctx context.Context, conn *websocket.Conn, threadID string) {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				s.logger.Info("WebSocket closed", "thread_id", threadID)
			} else {
				s.logger.Warn("WebSocket read failed", "thread_id", threadID, "error", err)
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var inbound inboundMessage
		if err := json.Unmarshal(data, &inbound); err != nil || inbound.Message == "" {
			if writeErr := writeJSON(ctx, conn, session.ErrorPayload("expected {\"message\": \"...\"}")); writeErr != nil {
				return
			}
			continue
		}

		payload, err := s.sessions.HandleMessage(ctx, threadID, inbound.Message)
		if err != nil {
			payload = session.ErrorPayload(err.Error())
		}
		if err := writeJSON(ctx, conn, payload); err != nil {
			s.logger.Warn("WebSocket write failed", "thread_id", threadID, "error", err)
			return
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
