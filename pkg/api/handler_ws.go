package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/artificer-dev/artificer/pkg/events"
)

// acceptOptions builds the WebSocket accept options from server config.
// With no configured origins the library's same-host check applies.
func (s *Server) acceptOptions() *websocket.AcceptOptions {
	return &websocket.AcceptOptions{
		OriginPatterns: s.cfg.Server.AllowedWSOrigins,
	}
}

// wsHandler handles GET /ws: the generic subscribe/catchup/ping protocol,
// delegated to the ConnectionManager.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), s.acceptOptions())
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}

// wsAskHandler handles GET /ws/ask: submit a query and stream its event
// sequence (start, iteration, thinking, stream, response_complete, state,
// action, result, final|timeout|error) over the socket, then close.
//
// The question arrives as the ?question= query parameter or, absent that, as
// a single JSON request message after the upgrade.
func (s *Server) wsAskHandler(c *echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), s.acceptOptions())
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	ctx := c.Request().Context()

	req := AskRequest{Question: c.QueryParam("question")}
	if req.Question == "" {
		if err := s.readAskMessage(ctx, conn, &req); err != nil {
			conn.Close(websocket.StatusPolicyViolation, "question is required")
			return nil
		}
	}

	session := s.sessionFromRequest(&req)
	session.ID = newSessionID()

	eventCh, cancelSub, err := s.connManager.SubscribeLocal(events.SessionChannel(session.ID))
	if err != nil {
		slog.Error("WebSocket event subscription failed", "error", err)
		conn.Close(websocket.StatusInternalError, "event stream unavailable")
		return nil
	}
	defer cancelSub()

	if _, err := s.queries.Submit(ctx, session); err != nil {
		s.writeWSError(ctx, conn, err.Error())
		conn.Close(websocket.StatusInternalError, "submit failed")
		return nil
	}

	s.streamSessionEvents(ctx, conn, session.ID, eventCh)
	return nil
}

// readAskMessage reads the initial request message from the socket.
func (s *Server) readAskMessage(ctx context.Context, conn *websocket.Conn, req *AskRequest) error {
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, data, err := conn.Read(readCtx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, req); err != nil {
		return err
	}
	if req.question() == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	return nil
}

// streamSessionEvents forwards session events to the socket until a terminal
// event arrives, the deadline passes, or the client disconnects. Disconnect
// cancels the session.
func (s *Server) streamSessionEvents(ctx context.Context, conn *websocket.Conn, sessionID string, eventCh <-chan []byte) {
	deadline := time.NewTimer(s.cfg.Queue.SessionTimeout + syncWaitMargin)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			s.cancelSessionBestEffort(sessionID)
			return
		case <-deadline.C:
			s.writeWSError(ctx, conn, "query did not complete in time")
			conn.Close(websocket.StatusNormalClosure, "timeout")
			return
		case raw, ok := <-eventCh:
			if !ok {
				conn.Close(websocket.StatusInternalError, "event stream closed")
				return
			}
			if err := s.writeWS(ctx, conn, raw); err != nil {
				s.cancelSessionBestEffort(sessionID)
				return
			}
			if isTerminalEvent(raw) {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}

// writeWS writes one raw event with the configured write deadline.
func (s *Server) writeWS(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.WSWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// writeWSError sends an error envelope to the client. Best-effort.
func (s *Server) writeWSError(ctx context.Context, conn *websocket.Conn, message string) {
	payload, err := json.Marshal(map[string]any{
		"type": events.EventTypeError,
		"data": map[string]any{"error": message},
	})
	if err != nil {
		return
	}
	if err := s.writeWS(ctx, conn, payload); err != nil {
		slog.Debug("Failed to write WebSocket error", "error", err)
	}
}
