// Artificer server — self-extending tool-use agent runtime. Serves the HTTP
// and WebSocket API, manages queue workers, and runs the agent loop.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/artificer-dev/artificer/pkg/agent"
	"github.com/artificer-dev/artificer/pkg/api"
	"github.com/artificer-dev/artificer/pkg/config"
	"github.com/artificer-dev/artificer/pkg/database"
	"github.com/artificer-dev/artificer/pkg/events"
	"github.com/artificer-dev/artificer/pkg/llm"
	"github.com/artificer-dev/artificer/pkg/masking"
	"github.com/artificer-dev/artificer/pkg/mcp"
	"github.com/artificer-dev/artificer/pkg/notify"
	"github.com/artificer-dev/artificer/pkg/queue"
	"github.com/artificer-dev/artificer/pkg/registry"
	"github.com/artificer-dev/artificer/pkg/sandbox"
	"github.com/artificer-dev/artificer/pkg/services"
	"github.com/artificer-dev/artificer/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	podID := resolvePodID()
	slog.Info("Starting artificer", "pod_id", podID, "config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (migrations run inside NewClient)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	toolStore := store.NewToolStore(dbClient.DB())
	queryStore := store.NewQueryStore(dbClient.DB())
	eventStore := store.NewEventStore(dbClient.DB())

	// 3. One-time startup orphan recovery: sessions this pod abandoned on its
	// last crash go back to pending.
	if err := queue.RecoverStartupOrphans(ctx, queryStore, podID); err != nil {
		slog.Error("Failed to recover startup orphans", "error", err)
		// Non-fatal — continue
	}

	// 4. Streaming infrastructure
	eventService := services.NewEventService(eventStore)
	eventPublisher := events.NewEventPublisher(dbClient.DB())
	connManager := events.NewConnectionManager(
		events.NewEventServiceAdapter(eventService), cfg.Server.WSWriteTimeout)

	// NotifyListener holds a dedicated pgx connection for LISTEN
	notifyListener := events.NewNotifyListener(dbConfig.DSN(), connManager)
	if err := notifyListener.Start(ctx); err != nil {
		slog.Error("Failed to start NotifyListener", "error", err)
		os.Exit(1)
	}
	defer notifyListener.Stop(ctx)
	connManager.SetListener(notifyListener)
	slog.Info("Streaming infrastructure initialized")

	// 5. LLM client and key pool
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized",
		"provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	// 6. MCP servers: eager validation, then a long-lived client for the
	// registry. A server that cannot connect at startup is a broken config.
	maskingService := masking.NewService(cfg.MCPServers)
	var mcpClient *mcp.Client
	serverIDs := cfg.MCPServers.ServerIDs()
	if len(serverIDs) > 0 {
		factory := mcp.NewClientFactory(cfg.MCPServers)
		mcpClient, err = factory.CreateClient(ctx, serverIDs)
		if err != nil {
			slog.Error("MCP startup validation failed", "error", err)
			os.Exit(1)
		}
		if failed := mcpClient.FailedServers(); len(failed) > 0 {
			slog.Error("MCP servers failed startup validation", "failed_servers", failed)
			_ = mcpClient.Close()
			os.Exit(1)
		}
		defer func() {
			if err := mcpClient.Close(); err != nil {
				slog.Error("Error closing MCP client", "error", err)
			}
		}()
		slog.Info("MCP servers validated", "count", len(serverIDs))
	}

	// 7. Slack notifications (nil-safe: disabled without token + channel)
	var notifier *notify.Service
	if cfg.Slack.Enabled {
		notifier = notify.NewService(notify.ServiceConfig{
			Token:        os.Getenv(cfg.Slack.TokenEnv),
			Channel:      cfg.Slack.Channel,
			DashboardURL: cfg.DashboardURL,
		})
	}

	// 8. Sandbox executor and tool registry
	sandboxExec := sandbox.NewExecutor(cfg.Sandbox)

	regOpts := registry.Options{
		ToolsDir:   cfg.Tools.Dir,
		Store:      toolStore,
		Servers:    cfg.MCPServers,
		Masker:     maskingService,
		Executor:   sandboxExec,
		UseSandbox: cfg.Agent.UseSandbox,
		OnQuarantine: func(toolName, lastError, window string) {
			notifier.NotifyToolQuarantined(context.Background(), notify.ToolQuarantinedInput{
				ToolName:  toolName,
				LastError: lastError,
				SessionID: window,
			})
		},
	}
	if mcpClient != nil {
		regOpts.MCP = mcpClient
	}
	reg := registry.New(regOpts)
	if err := reg.Load(ctx); err != nil {
		slog.Error("Failed to load tool registry", "error", err)
		os.Exit(1)
	}
	availability := reg.Availability()
	slog.Info("Tool registry loaded",
		"available", availability.AvailableTools,
		"unavailable", availability.UnavailableTools)

	// 9. Domain services
	toolService := services.NewToolService(toolStore, reg)
	queryService := services.NewQueryService(queryStore, services.QueryDefaults{
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTools:      cfg.Agent.MaxTools,
	})
	slog.Info("Services initialized")

	// 10. Agent loop and worker pool
	agentRunner := agent.NewAgent(llmClient, reg, toolService, eventPublisher, agent.Options{
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTools:      cfg.Agent.MaxTools,
		Stream:        true,
		RetryBackoff:  cfg.Agent.AttemptBackoff,
		ReloadGrace:   cfg.Agent.ReloadGrace,
	})

	workerPool := queue.NewWorkerPool(podID, queryStore, cfg.Queue,
		queue.NewAgentExecutor(agentRunner), eventPublisher, eventService, notifier)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 11. HTTP server (non-blocking)
	httpServer, err := api.NewServer(cfg, dbClient, queryService, toolService,
		reg, sandboxExec, workerPool, connManager)
	if err != nil {
		slog.Error("Failed to create HTTP server", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening",
			"host", cfg.Server.Host, "port", cfg.Server.Port)
		if err := httpServer.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Artificer started successfully",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount)

	// 12. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 13. Graceful shutdown: drain workers first, then stop HTTP.
	workerShutdownCtx, workerCancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer workerCancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-workerShutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — incomplete sessions will be orphan-recovered")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
