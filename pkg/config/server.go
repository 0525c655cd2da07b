package config

import "time"

// ServerConfig holds resolved HTTP server configuration.
type ServerConfig struct {
	Host  string
	Port  int
	Debug bool

	// Origins allowed to open WebSocket connections (empty = same-host only)
	AllowedWSOrigins []string

	// Per-message write deadline for WebSocket sends
	WSWriteTimeout time.Duration
}

// ServerYAMLConfig is the YAML-facing shape of the server section.
type ServerYAMLConfig struct {
	Host             string   `yaml:"host,omitempty"`
	Port             int      `yaml:"port,omitempty"`
	Debug            *bool    `yaml:"debug,omitempty"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`
	WSWriteTimeout   string   `yaml:"ws_write_timeout,omitempty"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		WSWriteTimeout: 10 * time.Second,
	}
}

// AuthConfig holds resolved authentication configuration.
//
// The admin credential hash is computed once at process start (see api
// package); config only carries the raw inputs.
type AuthConfig struct {
	JWTSecret     string
	AdminUsername string
	AdminPassword string
	TokenTTL      time.Duration
}

// AuthYAMLConfig is the YAML-facing shape of the auth section.
// Secrets normally arrive via environment (JWT_SECRET_KEY, ADMIN_PASSWORD);
// the YAML fields exist for {{.VAR}} indirection and local development.
type AuthYAMLConfig struct {
	JWTSecret     string `yaml:"jwt_secret,omitempty"`
	AdminUsername string `yaml:"admin_username,omitempty"`
	AdminPassword string `yaml:"admin_password,omitempty"`
	TokenTTL      string `yaml:"token_ttl,omitempty"`
}

// DefaultAuthConfig returns the built-in auth defaults. The secret and
// password placeholders are replaced during resolution (env or YAML);
// keeping them here makes local development work out of the box.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		AdminUsername: "admin",
		TokenTTL:      24 * time.Hour,
	}
}

// SlackConfig holds resolved Slack notification configuration.
type SlackConfig struct {
	Enabled  bool
	TokenEnv string // Env var name for Slack bot token (default: "SLACK_BOT_TOKEN")
	Channel  string // Slack channel ID (e.g., "C12345678")
}

// SlackYAMLConfig holds Slack notification settings from YAML.
type SlackYAMLConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// ToolsConfig holds resolved curated-tool directory configuration.
type ToolsConfig struct {
	// Directory scanned for tool manifests (YAML) and their Python sources
	Dir string
}

// ToolsYAMLConfig is the YAML-facing shape of the tools section.
type ToolsYAMLConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// DefaultToolsConfig returns the built-in tool directory defaults.
func DefaultToolsConfig() *ToolsConfig {
	return &ToolsConfig{
		Dir: "./tools",
	}
}
