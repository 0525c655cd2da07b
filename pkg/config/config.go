// Package config provides configuration management for the agent runtime:
// server, auth, LLM, sandbox, queue, and MCP server configurations, loaded
// from a single YAML file with environment variable expansion plus a small
// set of well-known environment fallbacks.
package config

import "time"

// Config is the complete runtime configuration.
// Built by Initialize(); treat as read-only afterwards.
type Config struct {
	configDir string

	Server  *ServerConfig
	Auth    *AuthConfig
	LLM     *LLMConfig
	Agent   *AgentConfig
	Sandbox *SandboxConfig
	Tools   *ToolsConfig
	Queue   *QueueConfig
	Slack   *SlackConfig

	// Dashboard base URL used in outbound notifications (empty = no links)
	DashboardURL string

	MCPServers *MCPServerRegistry
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats provides summary statistics about loaded configuration
type Stats struct {
	MCPServers int
	APIKeys    int
}

// Stats returns summary statistics about the loaded configuration
func (c *Config) Stats() Stats {
	return Stats{
		MCPServers: c.MCPServers.Len(),
		APIKeys:    len(c.LLM.APIKeys),
	}
}

// Convenience accessors for commonly threaded values.

// SessionTimeout returns the per-session execution deadline.
func (c *Config) SessionTimeout() time.Duration {
	return c.Queue.SessionTimeout
}

// MaxIterations returns the default reasoning iteration ceiling.
func (c *Config) MaxIterations() int {
	return c.Agent.MaxIterations
}
