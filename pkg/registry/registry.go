// Package registry merges curated, authored, and MCP tools under one
// namespace and owns the invocation pipeline: availability tracking,
// quarantine fail-fast, dependency assembly for composite tools, sandboxed
// or direct execution, and result masking.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/artificer-dev/artificer/pkg/config"
	"github.com/artificer-dev/artificer/pkg/masking"
	"github.com/artificer-dev/artificer/pkg/mcp"
	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/pkg/sandbox"
	"github.com/artificer-dev/artificer/pkg/search"
	"github.com/artificer-dev/artificer/pkg/store"
)

// Source identifies where a registered tool came from.
type Source string

const (
	// SourceCurated tools are loaded from the manifest directory.
	SourceCurated Source = "curated"
	// SourceStore tools were authored at runtime and persisted.
	SourceStore Source = "store"
	// SourceMCP tools are served by external MCP servers.
	SourceMCP Source = "mcp"
)

// Entry is one registered tool with its routing information.
type Entry struct {
	Tool   *models.Tool
	Source Source

	// MCP routing, set when Source == SourceMCP.
	ServerID   string
	RemoteTool string
}

// ToolStore is the persistence surface the registry needs.
type ToolStore interface {
	List(ctx context.Context, filter store.ToolFilter) ([]*models.Tool, error)
	RecordSuccess(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, report models.BugReport) (*models.Tool, error)
	SetBugged(ctx context.Context, id string) error
}

// MCPClient is the MCP surface the registry needs.
type MCPClient interface {
	ListAllTools(ctx context.Context) (map[string][]*mcpsdk.Tool, error)
	CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error)
	InvalidateAllToolCaches()
}

// Executor runs tool code in the container sandbox or directly on the host.
type Executor interface {
	Execute(ctx context.Context, req *sandbox.Request) (*models.ExecutionRecord, error)
	ExecuteDirect(ctx context.Context, req *sandbox.Request) (*models.ExecutionRecord, error)
}

// Options wires a Registry. Store, MCP, Servers, and Masker may be nil;
// the corresponding source or behavior is simply disabled.
type Options struct {
	ToolsDir   string
	Store      ToolStore
	MCP        MCPClient
	Servers    *config.MCPServerRegistry
	Masker     *masking.Service
	Executor   Executor
	UseSandbox bool

	// OnQuarantine is invoked after a tool flips to bugged, with the tool
	// name, the error that tripped the threshold, and the invocation window.
	// Called outside the registry lock; may be nil.
	OnQuarantine func(toolName, lastError, window string)
}

// snapshot is one immutable view of the merged namespace. Reload builds a
// fresh snapshot off to the side and swaps the pointer; in-flight executions
// keep the snapshot they resolved against.
type snapshot struct {
	entries     map[string]*Entry
	order       []string // insertion order for stable listing
	unavailable map[string]string
	engine      *search.Engine
}

func emptySnapshot() *snapshot {
	return &snapshot{
		entries:     make(map[string]*Entry),
		unavailable: make(map[string]string),
		engine:      search.NewEngine(nil),
	}
}

// lookup resolves a tool name, accepting the server__tool spelling for
// MCP-namespaced tools.
func (s *snapshot) lookup(name string) (*Entry, bool) {
	if e, ok := s.entries[name]; ok {
		return e, true
	}
	if norm := mcp.NormalizeToolName(name); norm != name {
		if e, ok := s.entries[norm]; ok {
			return e, true
		}
	}
	return nil, false
}

// Registry is the merged tool namespace. Safe for concurrent use.
type Registry struct {
	toolsDir     string
	store        ToolStore
	mcp          MCPClient
	servers      *config.MCPServerRegistry
	masker       *masking.Service
	executor     Executor
	useSandbox   bool
	onQuarantine func(toolName, lastError, window string)

	mu      sync.RWMutex
	current *snapshot
}

// New creates an empty Registry; call Load to populate it.
func New(opts Options) *Registry {
	return &Registry{
		toolsDir:     opts.ToolsDir,
		store:        opts.Store,
		mcp:          opts.MCP,
		servers:      opts.Servers,
		masker:       opts.Masker,
		executor:     opts.Executor,
		useSandbox:   opts.UseSandbox,
		onQuarantine: opts.OnQuarantine,
		current:      emptySnapshot(),
	}
}

// Load builds the namespace from all configured sources and swaps it in.
// First source wins on name conflicts (curated, then store, then MCP);
// losers are recorded unavailable with the conflict reason.
func (r *Registry) Load(ctx context.Context) error {
	snap, err := r.buildSnapshot(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.current = snap
	r.mu.Unlock()

	slog.Info("Tool registry loaded",
		"available", len(snap.entries),
		"unavailable", len(snap.unavailable))
	return nil
}

// Reload rebuilds the namespace. Idempotent on an unchanged filesystem and
// store; on failure the previous snapshot stays in place.
func (r *Registry) Reload(ctx context.Context) error {
	return r.Load(ctx)
}

func (r *Registry) buildSnapshot(ctx context.Context) (*snapshot, error) {
	snap := &snapshot{
		entries:     make(map[string]*Entry),
		unavailable: make(map[string]string),
	}
	add := func(e *Entry) {
		name := e.Tool.Name
		if prior, exists := snap.entries[name]; exists {
			snap.unavailable[name] = fmt.Sprintf(
				"duplicate tool name: already registered from the %s source", prior.Source)
			return
		}
		snap.entries[name] = e
		snap.order = append(snap.order, name)
	}

	curated, unavailable, err := loadManifestDir(r.toolsDir)
	if err != nil {
		return nil, err
	}
	for name, reason := range unavailable {
		snap.unavailable[name] = reason
	}
	for _, t := range curated {
		add(&Entry{Tool: t, Source: SourceCurated})
	}

	if r.store != nil {
		stored, err := r.store.List(ctx, store.ToolFilter{ActiveOnly: true})
		if err != nil {
			return nil, fmt.Errorf("failed to load stored tools: %w", err)
		}
		for _, t := range stored {
			add(&Entry{Tool: t, Source: SourceStore})
		}
	}

	if r.mcp != nil {
		r.mcp.InvalidateAllToolCaches()
		byServer, err := r.mcp.ListAllTools(ctx)
		if err != nil {
			slog.Warn("MCP tool listing failed, continuing without MCP tools", "error", err)
		}
		serverIDs := make([]string, 0, len(byServer))
		for id := range byServer {
			serverIDs = append(serverIDs, id)
		}
		sort.Strings(serverIDs)
		for _, serverID := range serverIDs {
			for _, mt := range byServer[serverID] {
				add(&Entry{
					Tool:       r.mcpToolModel(serverID, mt),
					Source:     SourceMCP,
					ServerID:   serverID,
					RemoteTool: mt.Name,
				})
			}
		}
	}

	tools := make([]*models.Tool, 0, len(snap.order))
	for _, name := range snap.order {
		tools = append(tools, snap.entries[name].Tool)
	}
	snap.engine = search.NewEngine(tools)
	return snap, nil
}

// mcpToolModel converts an MCP tool descriptor into the shared tool shape,
// namespaced as server.tool. Category and tags come from the server config
// when present.
func (r *Registry) mcpToolModel(serverID string, mt *mcpsdk.Tool) *models.Tool {
	t := &models.Tool{
		Name:        serverID + "." + mt.Name,
		Description: mt.Description,
		Category:    "mcp",
		Active:      true,
	}
	if r.servers != nil {
		if cfg, err := r.servers.Get(serverID); err == nil {
			if cfg.Category != "" {
				t.Category = cfg.Category
			}
			t.Tags = cfg.Tags
		}
	}
	t.RequiredParams, t.OptionalParams = schemaParams(mt.InputSchema)
	return t
}

// schemaParams extracts parameter names from a JSON Schema input descriptor.
// Optional parameters carry nil defaults; MCP schemas do not declare them.
func schemaParams(schema any) ([]models.ParamSpec, map[string]any) {
	if schema == nil {
		return nil, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, nil
	}
	var s struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, nil
	}

	var required []models.ParamSpec
	seen := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required = append(required, models.ParamSpec{Name: name, Type: s.Properties[name].Type})
		seen[name] = true
	}

	var optional map[string]any
	for name := range s.Properties {
		if seen[name] {
			continue
		}
		if optional == nil {
			optional = make(map[string]any)
		}
		optional[name] = nil
	}
	return required, optional
}

func (r *Registry) snapshotRef() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Get returns the entry for an exact or server__tool-spelled name.
func (r *Registry) Get(name string) (*Entry, bool) {
	return r.snapshotRef().lookup(name)
}

// List returns all entries in load order.
func (r *Registry) List() []*Entry {
	snap := r.snapshotRef()
	entries := make([]*Entry, 0, len(snap.order))
	for _, name := range snap.order {
		entries = append(entries, snap.entries[name])
	}
	return entries
}

// Len returns the number of available tools.
func (r *Registry) Len() int {
	return len(r.snapshotRef().entries)
}

// Unavailable returns a copy of the name → reason map for tools that failed
// to load.
func (r *Registry) Unavailable() map[string]string {
	snap := r.snapshotRef()
	out := make(map[string]string, len(snap.unavailable))
	for k, v := range snap.unavailable {
		out[k] = v
	}
	return out
}

// Availability is the overall registry health summary.
type Availability struct {
	TotalTools           int      `json:"total_tools"`
	AvailableTools       int      `json:"available_tools"`
	UnavailableTools     int      `json:"unavailable_tools"`
	AvailableToolNames   []string `json:"available_tool_names"`
	UnavailableToolNames []string `json:"unavailable_tool_names"`
}

// Availability reports how many tools loaded and which did not.
func (r *Registry) Availability() Availability {
	snap := r.snapshotRef()
	available := append([]string(nil), snap.order...)
	sort.Strings(available)
	unavailable := make([]string, 0, len(snap.unavailable))
	for name := range snap.unavailable {
		unavailable = append(unavailable, name)
	}
	sort.Strings(unavailable)
	return Availability{
		TotalTools:           len(available) + len(unavailable),
		AvailableTools:       len(available),
		UnavailableTools:     len(unavailable),
		AvailableToolNames:   available,
		UnavailableToolNames: unavailable,
	}
}

// Search ranks the namespace against a natural-language query.
func (r *Registry) Search(query string, opts search.Options) []search.Result {
	return r.snapshotRef().engine.Search(query, opts)
}

// SearchContext renders the top-ranked tools for a query as prompt context.
func (r *Registry) SearchContext(query string, maxTools int) string {
	return r.snapshotRef().engine.FormatContext(query, maxTools)
}

// ContextText renders the full namespace (optionally one category) as
// LLM-friendly context, with a trailing section naming unavailable tools.
// Quarantined tools are omitted.
func (r *Registry) ContextText(category string) string {
	snap := r.snapshotRef()

	var b strings.Builder
	b.WriteString("Available Tools:\n\n")
	for _, name := range snap.order {
		t := snap.entries[name].Tool
		if category != "" && t.Category != category {
			continue
		}
		if t.Bugged {
			continue
		}
		fmt.Fprintf(&b, "Tool: %s\n", t.Name)
		fmt.Fprintf(&b, "Description: %s\n", t.Description)
		fmt.Fprintf(&b, "Category: %s\n", t.Category)
		fmt.Fprintf(&b, "Required Parameters: %s\n", joinOrNone(t.RequiredParamNames()))
		fmt.Fprintf(&b, "Optional Parameters: %s\n", formatOptional(t.OptionalParams))
		if len(t.Tags) > 0 {
			fmt.Fprintf(&b, "Tags: %s\n", strings.Join(t.Tags, ", "))
		}
		b.WriteString("\n")
	}

	if len(snap.unavailable) > 0 {
		names := make([]string, 0, len(snap.unavailable))
		for name := range snap.unavailable {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\nUnavailable Tools:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %s\n", name, snap.unavailable[name])
		}
	}
	return b.String()
}

// MarkBugged quarantines a stored tool and refreshes the namespace. Curated
// and MCP tools carry no persistent bug ledger; marking them is a no-op so
// callers can apply one policy to every source.
func (r *Registry) MarkBugged(ctx context.Context, name string) error {
	snap := r.snapshotRef()
	entry, ok := snap.lookup(name)
	if !ok {
		return fmt.Errorf("tool %q: %w", name, ErrToolNotFound)
	}
	if entry.Source != SourceStore || entry.Tool.ID == "" || r.store == nil {
		slog.Debug("Bug mark skipped for non-stored tool",
			"tool", name, "source", entry.Source)
		return nil
	}
	if err := r.store.SetBugged(ctx, entry.Tool.ID); err != nil {
		return fmt.Errorf("failed to quarantine tool %q: %w", name, err)
	}
	if err := r.Reload(ctx); err != nil {
		slog.Warn("Registry reload after quarantine failed", "tool", name, "error", err)
	}
	if r.onQuarantine != nil {
		var lastError string
		if n := len(entry.Tool.FailureLog); n > 0 {
			lastError = entry.Tool.FailureLog[n-1].Error
		}
		r.onQuarantine(entry.Tool.Name, lastError, "")
	}
	return nil
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, ", ")
}

func formatOptional(params map[string]any) string {
	if len(params) == 0 {
		return "None"
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		if params[name] == nil {
			parts[i] = name
		} else {
			parts[i] = fmt.Sprintf("%s=%v", name, params[name])
		}
	}
	return strings.Join(parts, ", ")
}
