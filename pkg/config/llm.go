package config

import "time"

// LLMProviderType defines supported LLM provider backends
type LLMProviderType string

const (
	// LLMProviderGemini uses the Google Gemini API via the genai SDK
	LLMProviderGemini LLMProviderType = "gemini"
	// LLMProviderOpenAI uses an OpenAI-compatible chat completion API
	// (OpenAI itself, or a local endpoint such as Ollama via base_url)
	LLMProviderOpenAI LLMProviderType = "openai"
)

// IsValid checks if the provider type is valid
func (t LLMProviderType) IsValid() bool {
	switch t {
	case LLMProviderGemini, LLMProviderOpenAI:
		return true
	default:
		return false
	}
}

// LLMConfig holds resolved LLM client configuration.
//
// API keys are never written in YAML. They are scanned from numbered
// environment variables (<key_prefix>_API_KEY_1, _2, ...) at load time,
// which is what lets the key pool rotate across quota buckets.
type LLMConfig struct {
	Provider LLMProviderType
	Model    string

	// Env var prefix for the numbered key scan (e.g. "GEMINI")
	KeyPrefix string

	// Optional custom endpoint for OpenAI-compatible providers
	BaseURL string

	// Optional generation parameters (nil means provider default)
	Temperature *float32
	MaxTokens   *int32

	// Minimum spacing between any two upstream requests, shared
	// across all keys
	MinRequestInterval time.Duration

	// How long an overloaded key sits out before reuse
	KeyCooldown time.Duration

	// Resolved keys, in scan order
	APIKeys []string
}

// LLMYAMLConfig is the YAML-facing shape of the llm section.
// Durations are strings ("3s", "1m") parsed during resolution.
type LLMYAMLConfig struct {
	Provider           string   `yaml:"provider,omitempty"`
	Model              string   `yaml:"model,omitempty"`
	KeyPrefix          string   `yaml:"key_prefix,omitempty"`
	BaseURL            string   `yaml:"base_url,omitempty"`
	Temperature        *float32 `yaml:"temperature,omitempty"`
	MaxTokens          *int32   `yaml:"max_tokens,omitempty"`
	MinRequestInterval string   `yaml:"min_request_interval,omitempty"`
	KeyCooldown        string   `yaml:"key_cooldown,omitempty"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Provider:           LLMProviderGemini,
		Model:              "gemini-2.0-flash",
		KeyPrefix:          "GEMINI",
		MinRequestInterval: 3 * time.Second,
		KeyCooldown:        60 * time.Second,
	}
}
