package config

import "time"

// AgentConfig holds resolved agent loop configuration.
type AgentConfig struct {
	// Hard ceiling on reasoning iterations per query
	MaxIterations int

	// How many tools the initial relevance search seeds into the prompt
	MaxTools int

	// Whether tool execution defaults to the container sandbox
	UseSandbox bool

	// Pause between the two invocation attempts of a failing tool
	AttemptBackoff time.Duration

	// Settle time after hot-reloading a freshly authored tool
	ReloadGrace time.Duration
}

// AgentYAMLConfig is the YAML-facing shape of the agent section.
type AgentYAMLConfig struct {
	MaxIterations  int    `yaml:"max_iterations,omitempty"`
	MaxTools       int    `yaml:"max_tools,omitempty"`
	UseSandbox     *bool  `yaml:"use_sandbox,omitempty"`
	AttemptBackoff string `yaml:"attempt_backoff,omitempty"`
	ReloadGrace    string `yaml:"reload_grace,omitempty"`
}

// DefaultAgentConfig returns the built-in agent loop defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		MaxIterations:  10,
		MaxTools:       5,
		UseSandbox:     true,
		AttemptBackoff: 3 * time.Second,
		ReloadGrace:    5 * time.Second,
	}
}
