package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/artificer-dev/artificer/pkg/events"
	"github.com/artificer-dev/artificer/pkg/models"
)

// Safety margin added to the queue session timeout when the sync handler
// waits for a terminal state: queue wait + claim latency.
const syncWaitMargin = 30 * time.Second

// Poll fallback for terminal detection when the event stream is unavailable
// or an event is missed.
const terminalPollInterval = time.Second

// askHandler handles POST /ask: submit a query and block until it reaches a
// terminal state, returning the answer shape. Client disconnect cancels the
// session.
func (s *Server) askHandler(c *echo.Context) error {
	session, httpErr := s.bindQueryRequest(c)
	if httpErr != nil {
		return httpErr
	}

	ctx := c.Request().Context()

	// Subscribe before submitting so the terminal event cannot race the
	// subscription. Best-effort: the poll fallback covers a missing stream.
	var eventCh <-chan []byte
	if s.connManager != nil {
		// Channel name needs the session ID, which Submit assigns; pre-assign
		// it here via the service's validation path instead of subscribing
		// late. Submit preserves a caller-set ID.
		session.ID = newSessionID()
		ch, cancel, err := s.connManager.SubscribeLocal(events.SessionChannel(session.ID))
		if err != nil {
			slog.Warn("Event subscription failed, falling back to polling",
				"session_id", session.ID, "error", err)
		} else {
			defer cancel()
			eventCh = ch
		}
	}

	session, err := s.queries.Submit(ctx, session)
	if err != nil {
		return mapServiceError(err)
	}

	terminal, err := s.waitForTerminal(ctx, session.ID, eventCh)
	if err != nil {
		if ctx.Err() != nil {
			// Client went away: cancel the session best-effort. The response
			// is written into a dead connection either way.
			s.cancelSessionBestEffort(session.ID)
			return echo.NewHTTPError(http.StatusRequestTimeout, "client disconnected")
		}
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, queryResponseFromSession(terminal))
}

// waitForTerminal blocks until the session reaches a terminal status. Events
// wake it up early; a slow poll catches anything the stream missed.
func (s *Server) waitForTerminal(ctx context.Context, sessionID string, eventCh <-chan []byte) (*models.QuerySession, error) {
	deadline := s.cfg.Queue.SessionTimeout + syncWaitMargin
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	ticker := time.NewTicker(terminalPollInterval)
	defer ticker.Stop()

	check := func() (*models.QuerySession, error) {
		session, err := s.queries.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session.Status.Terminal() {
			return session, nil
		}
		return nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, echo.NewHTTPError(http.StatusGatewayTimeout,
				"query did not complete in time")
		case raw, ok := <-eventCh:
			if !ok {
				eventCh = nil // subscription ended; keep polling
				continue
			}
			if !isTerminalEvent(raw) {
				continue
			}
			if session, err := check(); err != nil || session != nil {
				return session, err
			}
		case <-ticker.C:
			if session, err := check(); err != nil || session != nil {
				return session, err
			}
		}
	}
}

// newSessionID pre-assigns the session ID so the event subscription can be
// opened before the enqueue. The store keeps caller-set IDs.
func newSessionID() string {
	return uuid.NewString()
}

// isTerminalEvent reports whether a raw event payload signals the end of a
// session: a terminal event type, or a session.status transition into a
// terminal status.
func isTerminalEvent(raw []byte) bool {
	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	switch env.Type {
	case events.EventTypeFinal, events.EventTypeTimeout, events.EventTypeError:
		return true
	case events.EventTypeSessionStatus:
		status, _ := env.Data["status"].(string)
		return models.SessionStatus(status).Terminal()
	}
	return false
}

// cancelSessionBestEffort flips a pending session or interrupts a running one.
func (s *Server) cancelSessionBestEffort(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.queries.Cancel(ctx, sessionID); err != nil {
		slog.Warn("Failed to cancel session after disconnect",
			"session_id", sessionID, "error", err)
	}
	if s.workerPool != nil {
		s.workerPool.CancelSession(sessionID)
	}
}

// bindQueryRequest parses the shared ask/queries request body into a session.
func (s *Server) bindQueryRequest(c *echo.Context) (*models.QuerySession, *echo.HTTPError) {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.question() == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}
	return s.sessionFromRequest(&req), nil
}

// sessionFromRequest maps the wire request onto a new session, applying the
// configured sandbox default.
func (s *Server) sessionFromRequest(req *AskRequest) *models.QuerySession {
	session := &models.QuerySession{
		Question:      req.question(),
		MaxIterations: req.MaxIterations,
		MaxTools:      req.MaxTools,
		History:       req.History,
	}
	if req.UseSandbox != nil {
		session.UseSandbox = *req.UseSandbox
	} else {
		session.UseSandbox = s.cfg.Agent.UseSandbox
	}
	return session
}

// submitQueryHandler handles POST /queries: enqueue and return immediately.
func (s *Server) submitQueryHandler(c *echo.Context) error {
	session, httpErr := s.bindQueryRequest(c)
	if httpErr != nil {
		return httpErr
	}

	session, err := s.queries.Submit(c.Request().Context(), session)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, &SubmitQueryResponse{
		SessionID: session.ID,
		Status:    string(session.Status),
		Message:   "Query submitted for processing",
	})
}

// getQueryHandler handles GET /queries/:id.
func (s *Server) getQueryHandler(c *echo.Context) error {
	session, err := s.queries.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, session)
}

// listQueriesHandler handles GET /queries?status&limit.
func (s *Server) listQueriesHandler(c *echo.Context) error {
	limit, err := parseIntParam(c, "limit", 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	status := models.SessionStatus(c.QueryParam("status"))
	sessions, err := s.queries.List(c.Request().Context(), status, limit)
	if err != nil {
		return mapServiceError(err)
	}
	if sessions == nil {
		sessions = []*models.QuerySession{}
	}
	return c.JSON(http.StatusOK, &ListQueriesResponse{Queries: sessions, Count: len(sessions)})
}

// cancelQueryHandler handles POST /queries/:id/cancel. Pending sessions flip
// to cancelled directly; in-progress sessions are interrupted via the worker
// pool when they run on this pod.
func (s *Server) cancelQueryHandler(c *echo.Context) error {
	id := c.Param("id")

	flipped, err := s.queries.Cancel(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}

	if flipped {
		return c.JSON(http.StatusOK, &CancelResponse{
			SessionID: id,
			Cancelled: true,
			Message:   "Query cancelled before processing started",
		})
	}

	if s.workerPool != nil && s.workerPool.CancelSession(id) {
		return c.JSON(http.StatusOK, &CancelResponse{
			SessionID: id,
			Cancelled: true,
			Message:   "Cancellation signalled to the running query",
		})
	}

	// In progress on another pod: its worker observes the cancel through the
	// orphan/heartbeat machinery only, so report acceptance honestly.
	return c.JSON(http.StatusAccepted, &CancelResponse{
		SessionID: id,
		Cancelled: false,
		Message:   "Query is processing on another instance; cancellation not delivered",
	})
}
