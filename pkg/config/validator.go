package config

import (
	"fmt"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	if err := v.validateAuth(); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}

	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("LLM validation failed: %w", err)
	}

	if err := v.validateAgent(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}

	if err := v.validateSandbox(); err != nil {
		return fmt.Errorf("sandbox validation failed: %w", err)
	}

	if err := ValidateQueue(v.cfg.Queue); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}

	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateServer() error {
	s := v.cfg.Server
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "server", "port", fmt.Errorf("must be between 1 and 65535, got %d", s.Port))
	}
	if s.WSWriteTimeout <= 0 {
		return NewValidationError("server", "server", "ws_write_timeout", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *ConfigValidator) validateAuth() error {
	a := v.cfg.Auth
	if a.JWTSecret == "" {
		return NewValidationError("auth", "auth", "jwt_secret", ErrMissingRequiredField)
	}
	if a.AdminUsername == "" {
		return NewValidationError("auth", "auth", "admin_username", ErrMissingRequiredField)
	}
	if a.TokenTTL <= 0 {
		return NewValidationError("auth", "auth", "token_ttl", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *ConfigValidator) validateLLM() error {
	l := v.cfg.LLM
	if !l.Provider.IsValid() {
		return NewValidationError("llm", "llm", "provider", fmt.Errorf("%w: %s", ErrInvalidValue, l.Provider))
	}
	if l.Model == "" {
		return NewValidationError("llm", "llm", "model", ErrMissingRequiredField)
	}
	if l.KeyPrefix == "" {
		return NewValidationError("llm", "llm", "key_prefix", ErrMissingRequiredField)
	}
	if l.MinRequestInterval <= 0 {
		return NewValidationError("llm", "llm", "min_request_interval", fmt.Errorf("must be positive"))
	}
	if l.KeyCooldown <= 0 {
		return NewValidationError("llm", "llm", "key_cooldown", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *ConfigValidator) validateAgent() error {
	a := v.cfg.Agent
	if a.MaxIterations < 1 {
		return NewValidationError("agent", "agent", "max_iterations", fmt.Errorf("must be at least 1"))
	}
	if a.MaxTools < 1 {
		return NewValidationError("agent", "agent", "max_tools", fmt.Errorf("must be at least 1"))
	}
	if a.AttemptBackoff < 0 {
		return NewValidationError("agent", "agent", "attempt_backoff", fmt.Errorf("must be non-negative"))
	}
	return nil
}

func (v *ConfigValidator) validateSandbox() error {
	s := v.cfg.Sandbox
	if s.Image == "" {
		return NewValidationError("sandbox", "sandbox", "image", ErrMissingRequiredField)
	}
	if s.Timeout <= 0 {
		return NewValidationError("sandbox", "sandbox", "timeout", fmt.Errorf("must be positive"))
	}
	if s.CPUPeriod <= 0 || s.CPUQuota <= 0 {
		return NewValidationError("sandbox", "sandbox", "cpu_quota", fmt.Errorf("cpu_period and cpu_quota must be positive"))
	}
	return nil
}

func (v *ConfigValidator) validateMCPServers() error {
	for serverID, server := range v.cfg.MCPServers.GetAll() {
		transport := server.Transport
		if !transport.Type.IsValid() {
			return NewValidationError("mcp_server", serverID, "transport.type", fmt.Errorf("%w: %s", ErrInvalidValue, transport.Type))
		}

		switch transport.Type {
		case TransportTypeStdio:
			if transport.Command == "" {
				return NewValidationError("mcp_server", serverID, "transport.command", fmt.Errorf("required for stdio transport"))
			}
		case TransportTypeHTTP, TransportTypeSSE:
			if transport.URL == "" {
				return NewValidationError("mcp_server", serverID, "transport.url", fmt.Errorf("required for %s transport", transport.Type))
			}
		}

		if transport.Timeout < 0 {
			return NewValidationError("mcp_server", serverID, "transport.timeout", fmt.Errorf("must be non-negative"))
		}
	}
	return nil
}
