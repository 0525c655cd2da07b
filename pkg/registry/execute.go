package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/artificer-dev/artificer/pkg/mcp"
	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/pkg/sandbox"
)

// Sentinel error kinds for invocation refusals. Wrapped with the tool name;
// match with errors.Is.
var (
	ErrToolNotFound    = errors.New("tool not found")
	ErrToolBugged      = errors.New("tool is marked as bugged")
	ErrToolUnavailable = errors.New("tool is not available")
	ErrInvalidParams   = errors.New("invalid parameters")
)

// ExecuteOptions tunes a single invocation.
type ExecuteOptions struct {
	// Window labels the invocation window for quarantine accounting; two
	// failures sharing a window flip the tool to bugged.
	Window string

	// UseSandbox overrides the registry default when non-nil.
	UseSandbox *bool

	// Timeout overrides the configured execution deadline when positive.
	Timeout time.Duration
}

// Execute runs a tool through the full invocation pipeline. Refusals
// (unknown, unavailable, quarantined, bad params) come back as Go errors and
// never reach an executor; tool failures come back inside the record with
// Success=false. A *sandbox.SubstrateError means both execution paths were
// unusable and the failure says nothing about the tool itself.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any, opts ExecuteOptions) (*models.ExecutionRecord, error) {
	snap := r.snapshotRef()

	entry, ok := snap.lookup(name)
	if !ok {
		if reason, recorded := snap.unavailable[name]; recorded {
			return nil, fmt.Errorf("tool %q is not available: %s: %w", name, reason, ErrToolUnavailable)
		}
		return nil, fmt.Errorf("tool %q: %w", name, ErrToolNotFound)
	}
	tool := entry.Tool

	if tool.Bugged {
		return nil, fmt.Errorf("tool %q: %w", name, ErrToolBugged)
	}

	if params == nil {
		params = map[string]any{}
	}
	if missing := tool.MissingParams(params); len(missing) > 0 {
		return nil, fmt.Errorf("missing required parameters %v for tool %q: %w",
			missing, name, ErrInvalidParams)
	}

	if entry.Source == SourceMCP {
		return r.executeMCP(ctx, entry, params), nil
	}

	record, err := r.executeSandboxed(ctx, entry, snap, params, opts)
	if err != nil {
		return nil, err
	}
	r.recordOutcome(ctx, entry, params, record, opts.Window)
	return record, nil
}

// executeMCP routes an invocation to the tool's MCP server. Transport-level
// failures are reported as tool failures inside the record (MCP convention:
// errors travel as content, not as Go errors).
func (r *Registry) executeMCP(ctx context.Context, entry *Entry, params map[string]any) *models.ExecutionRecord {
	record := &models.ExecutionRecord{
		Tool:      entry.Tool.Name,
		Timestamp: time.Now().UTC(),
	}

	result, err := r.mcp.CallTool(ctx, entry.ServerID, entry.RemoteTool, params)
	if err != nil {
		record.Error = fmt.Sprintf("MCP tool execution failed: %s", err)
		return record
	}

	text := mcp.ExtractText(result)
	if r.masker != nil {
		text = r.masker.MaskToolResult(text, entry.ServerID)
	}
	if result.IsError {
		record.Error = text
		return record
	}

	record.Success = true
	record.Result = text
	return record
}

// executeSandboxed runs a curated or stored tool's code. The sandbox is
// tried first; when the sandbox substrate itself is broken (and the context
// is still live) the tool is re-run directly on the host with the record
// flagged docker_fallback.
func (r *Registry) executeSandboxed(ctx context.Context, entry *Entry, snap *snapshot, params map[string]any, opts ExecuteOptions) (*models.ExecutionRecord, error) {
	deps, requirements, err := snap.assembleDeps(entry)
	if err != nil {
		return nil, err
	}

	req := &sandbox.Request{
		Code:         entry.Tool.Code,
		Entry:        entry.Tool.Entrypoint,
		Params:       params,
		Requirements: requirements,
		Timeout:      opts.Timeout,
		Deps:         deps,
	}

	useSandbox := r.useSandbox
	if opts.UseSandbox != nil {
		useSandbox = *opts.UseSandbox
	}
	if r.executor == nil {
		return nil, fmt.Errorf("no tool executor configured")
	}

	if !useSandbox {
		record, err := r.executor.ExecuteDirect(ctx, req)
		if err != nil {
			return nil, err
		}
		return r.finishRecord(entry, record), nil
	}

	record, err := r.executor.Execute(ctx, req)
	if err == nil {
		return r.finishRecord(entry, record), nil
	}

	var substrate *sandbox.SubstrateError
	if !errors.As(err, &substrate) || ctx.Err() != nil {
		return nil, err
	}

	slog.Warn("Sandbox unavailable, falling back to direct execution",
		"tool", entry.Tool.Name, "reason", substrate.Reason)
	record, err = r.executor.ExecuteDirect(ctx, req)
	if err != nil {
		return nil, err
	}
	record.DockerFallback = true
	return r.finishRecord(entry, record), nil
}

// finishRecord stamps the registered tool name and masks textual fields.
func (r *Registry) finishRecord(entry *Entry, record *models.ExecutionRecord) *models.ExecutionRecord {
	record.Tool = entry.Tool.Name
	if r.masker != nil {
		if s, ok := record.Result.(string); ok {
			record.Result = r.masker.MaskText(s)
		}
		record.Error = r.masker.MaskText(record.Error)
		record.Stdout = r.masker.MaskText(record.Stdout)
	}
	return record
}

// recordOutcome updates execution stats and the bug ledger for stored tools.
// Curated and MCP tools have no persistent row to account against. A failure
// that flips the tool to bugged triggers a best-effort reload so the fresh
// quarantine is visible to search and fail-fast checks immediately.
func (r *Registry) recordOutcome(ctx context.Context, entry *Entry, params map[string]any, record *models.ExecutionRecord, window string) {
	if entry.Source != SourceStore || entry.Tool.ID == "" || r.store == nil {
		return
	}

	if record.Success {
		if err := r.store.RecordSuccess(ctx, entry.Tool.ID); err != nil {
			slog.Warn("Failed to record tool execution",
				"tool", entry.Tool.Name, "error", err)
		}
		return
	}

	updated, err := r.store.RecordFailure(ctx, entry.Tool.ID, models.BugReport{
		Error:     record.Error,
		Params:    params,
		Traceback: record.Traceback,
		Window:    window,
	})
	if err != nil {
		slog.Warn("Failed to record tool failure",
			"tool", entry.Tool.Name, "error", err)
		return
	}

	record.IsBugged = updated.Bugged
	if updated.Bugged && !entry.Tool.Bugged {
		slog.Warn("Tool quarantined after repeated failures",
			"tool", entry.Tool.Name, "bug_count", updated.BugCount)
		if err := r.Reload(ctx); err != nil {
			slog.Warn("Registry reload after quarantine failed", "error", err)
		}
		if r.onQuarantine != nil {
			r.onQuarantine(entry.Tool.Name, record.Error, window)
		}
	}
}

// executeToolRe finds execute_tool("name") references in composite tool code.
var executeToolRe = regexp.MustCompile(`execute_tool\(\s*["']([\w.-]+)["']`)

// assembleDeps walks execute_tool references transitively and bundles the
// callee sources for the sandbox driver. A quarantined callee fails the whole
// invocation up front; unknown or MCP-backed names are left for the driver to
// report at call time. Requirements are the union of the root tool's and
// every bundled callee's.
func (s *snapshot) assembleDeps(root *Entry) ([]sandbox.Dep, []string, error) {
	requirements := append([]string(nil), root.Tool.Requirements...)

	queue := referencedTools(root.Tool.Code)
	if len(queue) == 0 {
		return nil, dedupeSorted(requirements), nil
	}

	var deps []sandbox.Dep
	visited := make(map[string]bool)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if visited[name] {
			continue
		}
		visited[name] = true

		entry, ok := s.lookup(name)
		if !ok || entry.Source == SourceMCP {
			continue
		}
		if entry.Tool.Bugged {
			return nil, nil, fmt.Errorf("dependency tool %q is quarantined: %w", name, ErrToolBugged)
		}

		deps = append(deps, sandbox.Dep{
			Name:  entry.Tool.Name,
			Code:  entry.Tool.Code,
			Entry: entry.Tool.Entrypoint,
		})
		requirements = append(requirements, entry.Tool.Requirements...)
		queue = append(queue, referencedTools(entry.Tool.Code)...)
	}
	return deps, dedupeSorted(requirements), nil
}

func referencedTools(code string) []string {
	matches := executeToolRe.FindAllStringSubmatch(code, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

func dedupeSorted(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
