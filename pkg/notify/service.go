package notify

import (
	"context"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// QueryCompletedInput contains data for a terminal query notification.
type QueryCompletedInput struct {
	SessionID    string
	Question     string
	Status       string // completed, failed, timed_out, cancelled
	Response     string
	ErrorMessage string
}

// ToolQuarantinedInput contains data for a tool-quarantine notification.
type ToolQuarantinedInput struct {
	ToolName  string
	LastError string
	SessionID string
}

// Service handles Slack notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NotifyQueryCompleted sends a terminal status notification.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyQueryCompleted(ctx context.Context, input QueryCompletedInput) {
	if s == nil {
		return
	}

	blocks := BuildTerminalMessage(input, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack query notification",
			"session_id", input.SessionID,
			"status", input.Status,
			"error", err)
	}
}

// NotifyToolQuarantined sends a quarantine notification for a tool that hit
// the bug threshold. Fail-open: errors are logged, never returned.
func (s *Service) NotifyToolQuarantined(ctx context.Context, input ToolQuarantinedInput) {
	if s == nil {
		return
	}

	blocks := BuildQuarantineMessage(input)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("Failed to send Slack quarantine notification",
			"tool", input.ToolName,
			"error", err)
	}
}
