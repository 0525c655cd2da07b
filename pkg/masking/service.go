package masking

import (
	"log/slog"

	"github.com/artificer-dev/artificer/pkg/config"
)

// Service applies regex redaction to tool output before it enters the
// conversation history or an LLM observation. Created once at startup.
// Thread-safe: state is immutable after construction.
//
// Masking is fail-open. If nothing matches the text passes through
// unchanged, and a server without masking config still gets the default
// built-in sweep.
type Service struct {
	registry             *config.MCPServerRegistry
	patterns             map[string]*CompiledPattern
	patternGroups        map[string][]string
	serverCustomPatterns map[string][]string
	defaults             []*CompiledPattern
}

// NewService creates a masking service with compiled patterns.
// All patterns are compiled eagerly; invalid ones are logged and skipped.
// The registry may be nil when no MCP servers are configured.
func NewService(registry *config.MCPServerRegistry) *Service {
	s := &Service{
		registry:             registry,
		patterns:             make(map[string]*CompiledPattern),
		patternGroups:        builtinPatternGroups(),
		serverCustomPatterns: make(map[string][]string),
	}

	s.compileBuiltinPatterns()
	s.compileCustomPatterns()
	s.defaults = s.resolveGroup("default")

	slog.Info("Masking service initialized",
		"builtin_patterns", len(builtinPatterns()),
		"compiled_patterns", len(s.patterns))

	return s
}

// MaskToolResult redacts secrets from tool result content. The default
// built-in patterns always apply; when serverID names an MCP server with
// a masking config, that server's patterns apply on top.
func (s *Service) MaskToolResult(content, serverID string) string {
	if content == "" {
		return content
	}

	masked := apply(content, s.defaults)

	if serverID == "" || s.registry == nil {
		return masked
	}
	serverCfg, err := s.registry.Get(serverID)
	if err != nil || serverCfg.DataMasking == nil || !serverCfg.DataMasking.Enabled {
		return masked
	}

	return apply(masked, s.resolvePatterns(serverCfg.DataMasking, serverID))
}

// MaskText redacts secrets from arbitrary text using the default patterns.
func (s *Service) MaskText(text string) string {
	if text == "" {
		return text
	}
	return apply(text, s.defaults)
}

func apply(content string, patterns []*CompiledPattern) string {
	masked := content
	for _, pattern := range patterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}
	return masked
}
