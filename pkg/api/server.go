// Package api exposes the HTTP and WebSocket surface: query submission
// (sync, async, streaming), tool store CRUD, registry inspection, health,
// and admin auth.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/artificer-dev/artificer/pkg/config"
	"github.com/artificer-dev/artificer/pkg/database"
	"github.com/artificer-dev/artificer/pkg/events"
	"github.com/artificer-dev/artificer/pkg/queue"
	"github.com/artificer-dev/artificer/pkg/registry"
	"github.com/artificer-dev/artificer/pkg/sandbox"
	"github.com/artificer-dev/artificer/pkg/services"
)

// Server is the HTTP API server.
type Server struct {
	cfg  *config.Config
	echo *echo.Echo
	http *http.Server

	auth        *Authenticator
	dbClient    *database.Client
	queries     *services.QueryService
	tools       *services.ToolService
	registry    *registry.Registry
	sandbox     *sandbox.Executor
	workerPool  *queue.WorkerPool
	connManager *events.ConnectionManager
}

// NewServer wires the API surface. workerPool, connManager, and sandbox may
// be nil (cancellation, streaming, and the sandbox health check degrade
// accordingly).
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	queryService *services.QueryService,
	toolService *services.ToolService,
	reg *registry.Registry,
	sandboxExec *sandbox.Executor,
	workerPool *queue.WorkerPool,
	connManager *events.ConnectionManager,
) (*Server, error) {
	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		echo:        echo.New(),
		auth:        auth,
		dbClient:    dbClient,
		queries:     queryService,
		tools:       toolService,
		registry:    reg,
		sandbox:     sandboxExec,
		workerPool:  workerPool,
		connManager: connManager,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.Use(recoverPanics())
	e.Use(requestLogger())
	e.Use(securityHeaders())
	e.Use(corsMiddleware(s.cfg.Server.AllowedWSOrigins))

	admin := s.auth.Middleware()

	// Health and auth
	e.GET("/health", s.healthHandler)
	e.POST("/auth/login", s.loginHandler)
	e.GET("/auth/verify", s.verifyHandler, admin)

	// Query execution
	e.POST("/ask", s.askHandler)
	e.GET("/ws", s.wsHandler)
	e.GET("/ws/ask", s.wsAskHandler)
	e.POST("/queries", s.submitQueryHandler)
	e.GET("/queries", s.listQueriesHandler)
	e.GET("/queries/:id", s.getQueryHandler)
	e.POST("/queries/:id/cancel", s.cancelQueryHandler, admin)

	// Tool store CRUD. Static segments (search, bugged) win over :id.
	e.POST("/tools", s.createToolHandler, admin)
	e.GET("/tools", s.listToolsHandler)
	e.GET("/tools/search/:query", s.searchToolsHandler)
	e.GET("/tools/bugged/list", s.listBuggedToolsHandler)
	e.GET("/tools/:id", s.getToolHandler)
	e.PUT("/tools/:id", s.updateToolHandler, admin)
	e.DELETE("/tools/:id", s.deleteToolHandler, admin)
	e.POST("/tools/:id/execute", s.executeToolHandler, admin)
	e.POST("/tools/:id/clear-bugs", s.clearBugsHandler, admin)
	e.POST("/tools/:id/deactivate", s.deactivateToolHandler, admin)

	// Registry (merged curated + authored namespace)
	e.GET("/registry/tools", s.registryToolsHandler)
	e.GET("/registry/availability", s.registryAvailabilityHandler)
	e.GET("/registry/context", s.registryContextHandler)
	e.POST("/registry/reload", s.registryReloadHandler, admin)
}

// Handler returns the underlying HTTP handler, used by tests to drive the
// server without a listener.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured host:port and serves until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.StartWithListener(ln)
}

// StartWithListener serves on the given listener. Blocks until Shutdown or a
// serve error; a clean shutdown returns nil.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
