package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/pkg/registry"
	"github.com/artificer-dev/artificer/pkg/store"
)

const maxToolNameLength = 100

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ToolRegistry is the slice of the runtime registry the tool service needs:
// hot reload after catalogue mutations, and execution by name.
type ToolRegistry interface {
	Reload(ctx context.Context) error
	Execute(ctx context.Context, name string, params map[string]any, opts registry.ExecuteOptions) (*models.ExecutionRecord, error)
}

// ToolService manages the authored tool catalogue: CRUD, search, bug
// bookkeeping, and execution routed through the registry.
type ToolService struct {
	tools    *store.ToolStore
	registry ToolRegistry
}

// NewToolService creates a ToolService. The registry may be nil, which
// disables hot reload and execution (useful in tests that only exercise the
// catalogue).
func NewToolService(tools *store.ToolStore, reg ToolRegistry) *ToolService {
	return &ToolService{
		tools:    tools,
		registry: reg,
	}
}

// CreateTool validates and persists a new tool, then hot-reloads the
// registry so the tool is invocable without a restart. New tools always
// start active and unquarantined.
func (s *ToolService) CreateTool(ctx context.Context, tool *models.Tool) (*models.Tool, error) {
	if err := validateTool(tool); err != nil {
		return nil, err
	}
	if tool.Category == "" {
		tool.Category = "custom"
	}
	tool.Active = true
	tool.Bugged = false

	if err := s.tools.Create(ctx, tool); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, NewValidationError("name", fmt.Sprintf("Tool with name '%s' already exists", tool.Name))
		}
		return nil, fmt.Errorf("failed to create tool: %w", err)
	}

	s.reloadRegistry(ctx, "create", tool.Name)
	return tool, nil
}

// GetTool resolves a tool by UUID or by name.
func (s *ToolService) GetTool(ctx context.Context, idOrName string) (*models.Tool, error) {
	if idOrName == "" {
		return nil, NewValidationError("id", "tool ID or name is required")
	}

	if _, err := uuid.Parse(idOrName); err == nil {
		tool, err := s.tools.Get(ctx, idOrName)
		if err == nil {
			return tool, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to get tool: %w", err)
		}
	}

	tool, err := s.tools.GetByName(ctx, idOrName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tool: %w", err)
	}
	return tool, nil
}

// ListTools returns catalogue tools matching the filter.
func (s *ToolService) ListTools(ctx context.Context, filter store.ToolFilter) ([]*models.Tool, error) {
	tools, err := s.tools.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return tools, nil
}

// ListBugged returns quarantined tools with their failure history.
func (s *ToolService) ListBugged(ctx context.Context) ([]*models.Tool, error) {
	tools, err := s.tools.ListBugged(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bugged tools: %w", err)
	}
	return tools, nil
}

// UpdateTool rewrites a tool's definition and hot-reloads the registry.
// Bug bookkeeping is not touched; use ClearBugs for that.
func (s *ToolService) UpdateTool(ctx context.Context, tool *models.Tool) (*models.Tool, error) {
	if tool.ID == "" {
		return nil, NewValidationError("id", "tool ID is required")
	}
	if err := validateTool(tool); err != nil {
		return nil, err
	}

	if err := s.tools.Update(ctx, tool); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, NewValidationError("name", fmt.Sprintf("Tool with name '%s' already exists", tool.Name))
		}
		return nil, fmt.Errorf("failed to update tool: %w", err)
	}

	s.reloadRegistry(ctx, "update", tool.Name)
	return tool, nil
}

// DeleteTool removes a tool permanently and hot-reloads the registry.
func (s *ToolService) DeleteTool(ctx context.Context, id string) error {
	tool, err := s.GetTool(ctx, id)
	if err != nil {
		return err
	}

	if err := s.tools.Delete(ctx, tool.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete tool: %w", err)
	}

	s.reloadRegistry(ctx, "delete", tool.Name)
	return nil
}

// DeactivateTool soft-removes a tool. Deactivated tools keep their history
// and can be re-enabled through UpdateTool.
func (s *ToolService) DeactivateTool(ctx context.Context, id string) (*models.Tool, error) {
	tool, err := s.GetTool(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.tools.Deactivate(ctx, tool.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to deactivate tool: %w", err)
	}
	tool.Active = false

	s.reloadRegistry(ctx, "deactivate", tool.Name)
	return tool, nil
}

// ClearBugs lifts a tool's quarantine. The failure log is retained as
// history; only the bugged flag is reset.
func (s *ToolService) ClearBugs(ctx context.Context, id string) (*models.Tool, error) {
	tool, err := s.GetTool(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.tools.ClearBug(ctx, tool.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to clear bug status: %w", err)
	}
	tool.Bugged = false

	s.reloadRegistry(ctx, "clear-bugs", tool.Name)
	return tool, nil
}

// SearchTools ranks active catalogue tools against a free-text query.
// Zero values fall back to a limit of 10 and the default threshold.
func (s *ToolService) SearchTools(ctx context.Context, query string, limit int, threshold float64, excludeBugged bool) ([]store.ScoredTool, error) {
	if query == "" {
		return nil, NewValidationError("query", "search query is required")
	}
	if limit <= 0 {
		limit = 10
	}
	if threshold <= 0 {
		threshold = store.DefaultSearchThreshold
	}

	tools, err := s.tools.List(ctx, store.ToolFilter{ActiveOnly: true, ExcludeBugged: excludeBugged})
	if err != nil {
		return nil, fmt.Errorf("failed to search tools: %w", err)
	}

	ranked := store.RankTools(query, tools, threshold)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// Execute resolves a catalogue tool and runs it through the registry
// pipeline. Inactive tools are refused before the registry is consulted;
// quarantined tools are refused with their most recent failure attached.
func (s *ToolService) Execute(ctx context.Context, idOrName string, params map[string]any, opts registry.ExecuteOptions) (*models.ExecutionRecord, error) {
	tool, err := s.GetTool(ctx, idOrName)
	if err != nil {
		return nil, err
	}

	if !tool.Active {
		return nil, NewValidationError("tool", fmt.Sprintf("Tool '%s' is not active", tool.Name))
	}
	if tool.Bugged {
		if last := tool.LastError(); last != "" {
			return nil, fmt.Errorf("%w: %s", registry.ErrToolBugged, last)
		}
		return nil, fmt.Errorf("tool %q: %w", tool.Name, registry.ErrToolBugged)
	}
	if s.registry == nil {
		return nil, errors.New("tool execution is not available")
	}

	record, err := s.registry.Execute(ctx, tool.Name, params, opts)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// reloadRegistry refreshes the registry snapshot after a catalogue
// mutation. Failures are logged, not returned: the write already happened
// and the registry catches up on the next reload.
func (s *ToolService) reloadRegistry(ctx context.Context, op, name string) {
	if s.registry == nil {
		return
	}
	reloadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.registry.Reload(reloadCtx); err != nil {
		slog.Warn("Registry reload after tool mutation failed",
			"op", op, "tool", name, "error", err)
	}
}

func validateTool(tool *models.Tool) error {
	if tool.Name == "" {
		return NewValidationError("name", "tool name is required")
	}
	if len(tool.Name) > maxToolNameLength {
		return NewValidationError("name", fmt.Sprintf("tool name must be at most %d characters", maxToolNameLength))
	}
	if !toolNamePattern.MatchString(tool.Name) {
		return NewValidationError("name", "tool name must start with a letter or underscore and contain only letters, digits, and underscores")
	}
	if tool.Description == "" {
		return NewValidationError("description", "tool description is required")
	}
	if tool.Code == "" {
		return NewValidationError("code", "tool code is required")
	}
	return nil
}
