package config

import (
	"fmt"
	"time"
)

// QueueConfig holds resolved queue processing configuration.
type QueueConfig struct {
	// Number of worker goroutines per pod
	WorkerCount int

	// Maximum sessions processed concurrently per pod
	MaxConcurrentSessions int

	// How often idle workers poll for pending sessions
	PollInterval time.Duration

	// Random jitter applied to the poll interval to avoid thundering herd
	PollIntervalJitter time.Duration

	// Maximum time a session may run before being timed out
	SessionTimeout time.Duration

	// How long Stop waits for in-flight sessions during shutdown
	GracefulShutdownTimeout time.Duration

	// How often the orphan detector scans for abandoned sessions
	OrphanDetectionInterval time.Duration

	// How stale a session's last interaction must be to count as orphaned
	OrphanThreshold time.Duration

	// How often workers refresh last_interaction_at for running sessions
	HeartbeatInterval time.Duration
}

// QueueYAMLConfig is the YAML-facing shape of the queue section.
// Durations are strings ("1s", "15m") parsed during resolution.
type QueueYAMLConfig struct {
	WorkerCount             int    `yaml:"worker_count,omitempty"`
	MaxConcurrentSessions   int    `yaml:"max_concurrent_sessions,omitempty"`
	PollInterval            string `yaml:"poll_interval,omitempty"`
	PollIntervalJitter      string `yaml:"poll_interval_jitter,omitempty"`
	SessionTimeout          string `yaml:"session_timeout,omitempty"`
	GracefulShutdownTimeout string `yaml:"graceful_shutdown_timeout,omitempty"`
	OrphanDetectionInterval string `yaml:"orphan_detection_interval,omitempty"`
	OrphanThreshold         string `yaml:"orphan_threshold,omitempty"`
	HeartbeatInterval       string `yaml:"heartbeat_interval,omitempty"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentSessions:   5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		SessionTimeout:          15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
	}
}

// ValidateQueue checks queue configuration for internal consistency.
func ValidateQueue(q *QueueConfig) error {
	if q == nil {
		return fmt.Errorf("queue configuration is nil")
	}
	if q.WorkerCount < 1 || q.WorkerCount > 50 {
		return fmt.Errorf("worker_count must be between 1 and 50, got %d", q.WorkerCount)
	}
	if q.MaxConcurrentSessions < 1 {
		return fmt.Errorf("max_concurrent_sessions must be at least 1, got %d", q.MaxConcurrentSessions)
	}
	if q.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", q.PollInterval)
	}
	if q.PollIntervalJitter < 0 {
		return fmt.Errorf("poll_interval_jitter must be non-negative, got %v", q.PollIntervalJitter)
	}
	if q.PollIntervalJitter >= q.PollInterval {
		return fmt.Errorf("poll_interval_jitter must be less than poll_interval (%v >= %v)", q.PollIntervalJitter, q.PollInterval)
	}
	if q.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive, got %v", q.SessionTimeout)
	}
	if q.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be positive, got %v", q.GracefulShutdownTimeout)
	}
	if q.OrphanDetectionInterval <= 0 {
		return fmt.Errorf("orphan_detection_interval must be positive, got %v", q.OrphanDetectionInterval)
	}
	if q.OrphanThreshold <= 0 {
		return fmt.Errorf("orphan_threshold must be positive, got %v", q.OrphanThreshold)
	}
	if q.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive, got %v", q.HeartbeatInterval)
	}
	if q.HeartbeatInterval >= q.OrphanThreshold {
		return fmt.Errorf("heartbeat_interval must be less than orphan_threshold (%v >= %v)", q.HeartbeatInterval, q.OrphanThreshold)
	}
	return nil
}
