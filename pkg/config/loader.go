package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// configFileName is the single configuration file read from the config dir.
const configFileName = "artificer.yaml"

// FileConfig represents the complete artificer.yaml file structure
type FileConfig struct {
	DashboardURL string                     `yaml:"dashboard_url,omitempty"`
	Server       *ServerYAMLConfig          `yaml:"server"`
	Auth         *AuthYAMLConfig            `yaml:"auth"`
	LLM          *LLMYAMLConfig             `yaml:"llm"`
	Agent        *AgentYAMLConfig           `yaml:"agent"`
	Sandbox      *SandboxYAMLConfig         `yaml:"sandbox"`
	Tools        *ToolsYAMLConfig           `yaml:"tools"`
	Queue        *QueueYAMLConfig           `yaml:"queue"`
	Slack        *SlackYAMLConfig           `yaml:"slack"`
	MCPServers   map[string]MCPServerConfig `yaml:"mcp_servers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load artificer.yaml from configDir (optional; defaults apply without it)
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Parse YAML into structs
//  4. Resolve each section against built-in defaults and env fallbacks
//  5. Scan numbered API keys from the environment
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"api_keys", stats.APIKeys,
		"mcp_servers", stats.MCPServers)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// A missing config file is not an error: the runtime is fully
	// operable from defaults plus environment variables.
	fileConfig := &FileConfig{}
	if err := loader.loadYAML(configFileName, fileConfig); err != nil {
		if !errors.Is(err, ErrConfigNotFound) {
			return nil, NewLoadError(configFileName, err)
		}
		slog.Info("No configuration file found, using defaults", "file", configFileName)
	}

	queueConfig, err := resolveQueueConfig(fileConfig.Queue)
	if err != nil {
		return nil, err
	}

	mcpServers := make(map[string]*MCPServerConfig, len(fileConfig.MCPServers))
	for id := range fileConfig.MCPServers {
		server := fileConfig.MCPServers[id]
		mcpServers[id] = &server
	}

	return &Config{
		configDir:    configDir,
		Server:       resolveServerConfig(fileConfig.Server),
		Auth:         resolveAuthConfig(fileConfig.Auth),
		LLM:          resolveLLMConfig(fileConfig.LLM),
		Agent:        resolveAgentConfig(fileConfig.Agent),
		Sandbox:      resolveSandboxConfig(fileConfig.Sandbox),
		Tools:        resolveToolsConfig(fileConfig.Tools),
		Queue:        queueConfig,
		Slack:        resolveSlackConfig(fileConfig.Slack),
		DashboardURL: fileConfig.DashboardURL,
		MCPServers:   NewMCPServerRegistry(mcpServers),
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing the YAML parser to handle the content (or fail with a clearer
	// error message)
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

// parseDurationField parses a duration string value from YAML, returning def
// when the value is empty and logging a warning when it is invalid.
func parseDurationField(field, value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration in config, using default",
			"field", field,
			"value", value,
			"default", def)
		return def
	}
	return d
}

func resolveServerConfig(y *ServerYAMLConfig) *ServerConfig {
	cfg := DefaultServerConfig()
	if y != nil {
		if y.Host != "" {
			cfg.Host = y.Host
		}
		if y.Port != 0 {
			cfg.Port = y.Port
		}
		if y.Debug != nil {
			cfg.Debug = *y.Debug
		}
		if len(y.AllowedWSOrigins) > 0 {
			cfg.AllowedWSOrigins = y.AllowedWSOrigins
		}
		cfg.WSWriteTimeout = parseDurationField("server.ws_write_timeout", y.WSWriteTimeout, cfg.WSWriteTimeout)
	}

	// Environment fallbacks (YAML wins when both are set)
	if y == nil || y.Port == 0 {
		if v := os.Getenv("PORT"); v != "" {
			if port, err := strconv.Atoi(v); err == nil {
				cfg.Port = port
			}
		}
	}
	if y == nil || y.Debug == nil {
		if v := os.Getenv("DEBUG"); v == "true" || v == "1" {
			cfg.Debug = true
		}
	}
	return cfg
}

func resolveAuthConfig(y *AuthYAMLConfig) *AuthConfig {
	cfg := DefaultAuthConfig()
	if y != nil {
		if y.JWTSecret != "" {
			cfg.JWTSecret = y.JWTSecret
		}
		if y.AdminUsername != "" {
			cfg.AdminUsername = y.AdminUsername
		}
		if y.AdminPassword != "" {
			cfg.AdminPassword = y.AdminPassword
		}
		cfg.TokenTTL = parseDurationField("auth.token_ttl", y.TokenTTL, cfg.TokenTTL)
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = os.Getenv("JWT_SECRET_KEY")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-change-in-production"
		slog.Warn("JWT_SECRET_KEY not set, using insecure development secret")
	}

	if cfg.AdminPassword == "" {
		cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	}
	if cfg.AdminPassword == "" {
		cfg.AdminPassword = "admin123"
		slog.Warn("ADMIN_PASSWORD not set, using default development password")
	}

	if y == nil || y.TokenTTL == "" {
		if v := os.Getenv("TOKEN_EXPIRY_HOURS"); v != "" {
			if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
				cfg.TokenTTL = time.Duration(hours) * time.Hour
			}
		}
	}
	return cfg
}

func resolveLLMConfig(y *LLMYAMLConfig) *LLMConfig {
	cfg := DefaultLLMConfig()
	if y != nil {
		if y.Provider != "" {
			cfg.Provider = LLMProviderType(y.Provider)
		}
		if y.Model != "" {
			cfg.Model = y.Model
		}
		if y.KeyPrefix != "" {
			cfg.KeyPrefix = strings.ToUpper(y.KeyPrefix)
		}
		if y.BaseURL != "" {
			cfg.BaseURL = y.BaseURL
		}
		if y.Temperature != nil {
			cfg.Temperature = y.Temperature
		}
		if y.MaxTokens != nil {
			cfg.MaxTokens = y.MaxTokens
		}
		cfg.MinRequestInterval = parseDurationField("llm.min_request_interval", y.MinRequestInterval, cfg.MinRequestInterval)
		cfg.KeyCooldown = parseDurationField("llm.key_cooldown", y.KeyCooldown, cfg.KeyCooldown)
	}

	// <PREFIX>_MODEL env override (e.g. GEMINI_MODEL)
	if y == nil || y.Model == "" {
		if v := os.Getenv(cfg.KeyPrefix + "_MODEL"); v != "" {
			cfg.Model = v
		}
	}

	cfg.APIKeys = ResolveAPIKeys(cfg.KeyPrefix)
	return cfg
}

func resolveAgentConfig(y *AgentYAMLConfig) *AgentConfig {
	cfg := DefaultAgentConfig()
	if y != nil {
		if y.MaxIterations != 0 {
			cfg.MaxIterations = y.MaxIterations
		}
		if y.MaxTools != 0 {
			cfg.MaxTools = y.MaxTools
		}
		if y.UseSandbox != nil {
			cfg.UseSandbox = *y.UseSandbox
		}
		cfg.AttemptBackoff = parseDurationField("agent.attempt_backoff", y.AttemptBackoff, cfg.AttemptBackoff)
		cfg.ReloadGrace = parseDurationField("agent.reload_grace", y.ReloadGrace, cfg.ReloadGrace)
	}
	return cfg
}

func resolveSandboxConfig(y *SandboxYAMLConfig) *SandboxConfig {
	cfg := DefaultSandboxConfig()
	if y != nil {
		if y.Image != "" {
			cfg.Image = y.Image
		}
		if y.Memory != "" {
			cfg.Memory = y.Memory
		}
		if y.CPUPeriod != 0 {
			cfg.CPUPeriod = y.CPUPeriod
		}
		if y.CPUQuota != 0 {
			cfg.CPUQuota = y.CPUQuota
		}
		if y.Network != "" {
			cfg.Network = y.Network
		}
		if y.DirectPython != "" {
			cfg.DirectPython = y.DirectPython
		}
		cfg.Timeout = parseDurationField("sandbox.timeout", y.Timeout, cfg.Timeout)
	}
	return cfg
}

func resolveToolsConfig(y *ToolsYAMLConfig) *ToolsConfig {
	cfg := DefaultToolsConfig()
	if y != nil && y.Dir != "" {
		cfg.Dir = y.Dir
	}
	if v := os.Getenv("TOOLS_DIR"); v != "" && (y == nil || y.Dir == "") {
		cfg.Dir = v
	}
	return cfg
}

func resolveQueueConfig(y *QueueYAMLConfig) (*QueueConfig, error) {
	cfg := DefaultQueueConfig()
	if y == nil {
		return cfg, nil
	}

	// Parse the YAML-facing strings into a sparse QueueConfig, then merge
	// user-provided values over the defaults (non-zero values override)
	user := &QueueConfig{
		WorkerCount:             y.WorkerCount,
		MaxConcurrentSessions:   y.MaxConcurrentSessions,
		PollInterval:            parseDurationField("queue.poll_interval", y.PollInterval, 0),
		PollIntervalJitter:      parseDurationField("queue.poll_interval_jitter", y.PollIntervalJitter, 0),
		SessionTimeout:          parseDurationField("queue.session_timeout", y.SessionTimeout, 0),
		GracefulShutdownTimeout: parseDurationField("queue.graceful_shutdown_timeout", y.GracefulShutdownTimeout, 0),
		OrphanDetectionInterval: parseDurationField("queue.orphan_detection_interval", y.OrphanDetectionInterval, 0),
		OrphanThreshold:         parseDurationField("queue.orphan_threshold", y.OrphanThreshold, 0),
		HeartbeatInterval:       parseDurationField("queue.heartbeat_interval", y.HeartbeatInterval, 0),
	}
	if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge queue config: %w", err)
	}
	return cfg, nil
}

func resolveSlackConfig(y *SlackYAMLConfig) *SlackConfig {
	cfg := &SlackConfig{
		TokenEnv: "SLACK_BOT_TOKEN",
	}
	if y == nil {
		return cfg
	}
	if y.TokenEnv != "" {
		cfg.TokenEnv = y.TokenEnv
	}
	cfg.Channel = y.Channel
	// Enabled defaults to true when a channel is configured; an explicit
	// enabled: false always wins
	cfg.Enabled = cfg.Channel != ""
	if y.Enabled != nil {
		cfg.Enabled = *y.Enabled && cfg.Channel != ""
	}
	return cfg
}
