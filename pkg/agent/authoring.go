package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/pkg/services"
)

// forbiddenPatterns reject generated code that fakes its work instead of
// doing it. Matching is case-insensitive substring.
var forbiddenPatterns = []string{
	"placeholder",
	"simulated",
	"mock",
	"dummy",
	"fake",
	"todo",
	"not implemented",
	"pass  # implementation",
}

var (
	entrypointPattern = regexp.MustCompile(`(?m)^def\s+([A-Za-z_]\w*)\s*\(`)
	resultPattern     = regexp.MustCompile(`(?m)^\s*result\s*=[^=]`)
)

// createTool handles the create_tool state: validate the generated
// definition, persist it through the creator, and give the reload a moment
// to settle so the tool is invocable on the next iteration.
func (a *Agent) createTool(ctx context.Context, r *run, d *Decision) (any, string) {
	if a.creator == nil {
		obs := "Tool authoring is not available in this deployment. Use existing tools or answer directly."
		return map[string]any{"success": false, "error": obs}, obs
	}

	if !r.searched {
		obs := "You must use 'search_tools' state before creating a new tool. Always search for existing tools first. You might find tools you can reuse or compose."
		return map[string]any{"success": false, "error": obs}, obs
	}

	name := strings.TrimSpace(d.actionString("name"))
	code := d.actionString("code")
	if name == "" || strings.TrimSpace(code) == "" {
		obs := "The create_tool action requires both 'name' and 'code'. Provide the complete tool definition."
		return map[string]any{"success": false, "error": obs}, obs
	}

	if r.analyzed && !strings.Contains(code, "execute_tool(") {
		names := fetchedNames(r)
		obs := fmt.Sprintf("This tool should call existing tools [%s] using execute_tool(), but the generated code doesn't use it. REIMPLEMENT AS COMPOSITE TOOL: call execute_tool('%s', {...}) inside the code instead of rewriting that logic.",
			strings.Join(names, ", "), firstOr(names, "tool_name"))
		return map[string]any{"success": false, "error": "composite tool must use execute_tool()"}, obs
	}

	if pattern := findForbiddenPattern(code); pattern != "" {
		obs := fmt.Sprintf("Generated code contains the forbidden pattern %q. Tools must contain a real, working implementation with no placeholders or simulated results. Rewrite the code.", pattern)
		return map[string]any{"success": false, "error": obs}, obs
	}

	entrypoint, ok := resolveEntrypoint(code)
	if !ok {
		obs := "Tool code must either assign a 'result' variable or define a single top-level function that returns the result. Rewrite the code in one of those forms."
		return map[string]any{"success": false, "error": obs}, obs
	}

	tool := &models.Tool{
		Name:           name,
		Description:    d.actionString("description"),
		Category:       d.actionString("category"),
		Tags:           d.actionStrings("tags"),
		RequiredParams: paramSpecsFromAction(d.Action["required_params"]),
		OptionalParams: d.actionMap("optional_params"),
		Requirements:   d.actionStrings("requirements"),
		Code:           code,
		Entrypoint:     entrypoint,
	}
	if schema, exists := d.Action["return_schema"]; exists {
		if data, err := json.Marshal(schema); err == nil {
			tool.ReturnSchema = data
		}
	}

	created, err := a.creator.CreateTool(ctx, tool)
	if err != nil {
		if services.IsValidationError(err) {
			obs := fmt.Sprintf("Tool creation rejected: %v. If the tool already exists, run it with 'use_tool'; otherwise fix the definition and try a different name.", err)
			return map[string]any{"success": false, "error": err.Error()}, obs
		}
		slog.Error("tool creation failed", "session_id", r.sessionID, "tool", name, "error", err)
		obs := fmt.Sprintf("Tool creation failed: %v. Try again, or answer without the new tool.", err)
		return map[string]any{"success": false, "error": err.Error()}, obs
	}

	// Show the new tool on the slate and give the hot reload a moment
	// before the next decision tries to execute it.
	r.fetched = append(r.fetched, created)
	if err := sleepCtx(ctx, a.opts.ReloadGrace); err != nil {
		slog.Warn("reload grace interrupted", "session_id", r.sessionID, "error", err)
	}

	slog.Info("tool authored", "session_id", r.sessionID, "tool", created.Name, "tool_id", created.ID)
	result := map[string]any{
		"success":   true,
		"tool_id":   created.ID,
		"tool_name": created.Name,
		"code":      preview(code, codePreviewLen),
	}
	obs := fmt.Sprintf("Tool '%s' created successfully. The catalogue has been reloaded. You can now run it with the 'use_tool' action.", created.Name)
	return result, obs
}

// findForbiddenPattern returns the first forbidden pattern present in code.
func findForbiddenPattern(code string) string {
	lowered := strings.ToLower(code)
	for _, pattern := range forbiddenPatterns {
		if strings.Contains(lowered, pattern) {
			return pattern
		}
	}
	return ""
}

// resolveEntrypoint decides how the code will be driven: script-style code
// assigning a result variable runs as-is, otherwise a lone top-level function
// becomes the entrypoint. Several functions with no result assignment leave
// the entrypoint ambiguous, so that is rejected along with code doing neither.
func resolveEntrypoint(code string) (string, bool) {
	if resultPattern.MatchString(code) {
		return "", true
	}
	if m := entrypointPattern.FindAllStringSubmatch(code, 2); len(m) == 1 {
		return m[0][1], true
	}
	return "", false
}

// paramSpecsFromAction converts the required_params action field, tolerating
// both the bare-string form and {"name","type"} objects.
func paramSpecsFromAction(v any) []models.ParamSpec {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	specs := make([]models.ParamSpec, 0, len(items))
	for _, item := range items {
		switch p := item.(type) {
		case string:
			if p != "" {
				specs = append(specs, models.ParamSpec{Name: p})
			}
		case map[string]any:
			name, _ := p["name"].(string)
			if name == "" {
				continue
			}
			typ, _ := p["type"].(string)
			specs = append(specs, models.ParamSpec{Name: name, Type: typ})
		}
	}
	if len(specs) == 0 {
		return nil
	}
	return specs
}

func fetchedNames(r *run) []string {
	names := make([]string, 0, len(r.fetched))
	for _, tool := range r.fetched {
		names = append(names, tool.Name)
	}
	return names
}

func firstOr(items []string, fallback string) string {
	if len(items) > 0 {
		return items[0]
	}
	return fallback
}
