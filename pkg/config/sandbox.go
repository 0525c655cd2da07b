package config

import "time"

// SandboxConfig holds resolved container sandbox configuration.
type SandboxConfig struct {
	// Container image for tool execution
	Image string

	// Wall-clock limit for a single containerized run
	Timeout time.Duration

	// Docker resource limits
	Memory    string // e.g. "512m"
	CPUPeriod int
	CPUQuota  int

	// Docker network mode ("bridge" allows outbound tool traffic,
	// "none" isolates fully)
	Network string

	// Interpreter used for the host fallback path when the container
	// substrate is unavailable
	DirectPython string
}

// SandboxYAMLConfig is the YAML-facing shape of the sandbox section.
type SandboxYAMLConfig struct {
	Image        string `yaml:"image,omitempty"`
	Timeout      string `yaml:"timeout,omitempty"`
	Memory       string `yaml:"memory,omitempty"`
	CPUPeriod    int    `yaml:"cpu_period,omitempty"`
	CPUQuota     int    `yaml:"cpu_quota,omitempty"`
	Network      string `yaml:"network,omitempty"`
	DirectPython string `yaml:"direct_python,omitempty"`
}

// DefaultSandboxConfig returns the built-in sandbox defaults.
func DefaultSandboxConfig() *SandboxConfig {
	return &SandboxConfig{
		Image:        "python:3.11-slim",
		Timeout:      30 * time.Second,
		Memory:       "512m",
		CPUPeriod:    100000,
		CPUQuota:     50000,
		Network:      "bridge",
		DirectPython: "python3",
	}
}
