package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// codeFieldPattern finds the code body inside a decision so raw newlines can
// be re-escaped before a second parse attempt. Models frequently emit real
// newlines inside the JSON string for tool code, which is invalid JSON.
var codeFieldPattern = regexp.MustCompile(`(?s)"(tool_code|code)"\s*:\s*"((?:[^"\\]|\\.)*)"`)

var codeEscaper = strings.NewReplacer(
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// parseDecision parses LLM text into a Decision. The parser is intentionally
// forgiving: code fences are stripped, the JSON object is sliced out of
// surrounding prose, common field-name drift is normalized, and control
// characters inside code bodies are sanitized. A second parse attempt
// re-escapes raw newlines inside the code field. Failure is returned to the
// loop, which answers with a corrective observation rather than aborting.
func parseDecision(text string) (*Decision, error) {
	cleaned := stripCodeFences(text)
	cleaned = sliceJSONObject(cleaned)
	if cleaned == "" {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		fixed := codeFieldPattern.ReplaceAllStringFunc(cleaned, func(match string) string {
			sub := codeFieldPattern.FindStringSubmatch(match)
			return fmt.Sprintf(`"%s": "%s"`, sub[1], codeEscaper.Replace(sub[2]))
		})
		if err2 := json.Unmarshal([]byte(fixed), &raw); err2 != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	return normalizeDecision(raw)
}

// stripCodeFences removes a surrounding markdown code fence, if any.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = text[len("```json"):]
	} else if strings.HasPrefix(text, "```") {
		text = text[len("```"):]
	}
	if strings.HasSuffix(text, "```") {
		text = text[:len(text)-len("```")]
	}
	return strings.TrimSpace(text)
}

// sliceJSONObject cuts the text down to the outermost brace pair, dropping
// any prose the model wrapped around the JSON.
func sliceJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return text[start : end+1]
}

// normalizeDecision applies the field-drift rules and assembles a Decision.
func normalizeDecision(raw map[string]any) (*Decision, error) {
	d := &Decision{}

	if s, ok := raw["state"].(string); ok {
		d.State = strings.ToLower(strings.TrimSpace(s))
	}
	if d.State == stateFetchTool {
		d.State = StateSearch
	}
	if d.State == "" {
		return nil, fmt.Errorf("decision has no state field")
	}

	// Models drift between "reasoning" and "response" for the thought field.
	if s, ok := raw["reasoning"].(string); ok {
		d.Reasoning = s
	} else if s, ok := raw["response"].(string); ok {
		d.Reasoning = s
	}

	if action, ok := raw["action"].(map[string]any); ok {
		d.Action = action
	} else {
		d.Action = map[string]any{}
	}

	if d.Reasoning == "" {
		if s, ok := d.Action["answer"].(string); ok {
			d.Reasoning = s
		} else {
			d.Reasoning = "No reasoning provided"
		}
	}

	switch d.State {
	case StateUse:
		// "parameters" is the most common drift for tool arguments.
		if params, ok := d.Action["parameters"]; ok {
			if _, exists := d.Action["params"]; !exists {
				d.Action["params"] = params
			}
			delete(d.Action, "parameters")
		}
		if _, ok := d.Action["params"].(map[string]any); !ok {
			d.Action["params"] = map[string]any{}
		}
	case StateCreate:
		if code, ok := d.Action["tool_code"].(string); ok {
			if _, exists := d.Action["code"]; !exists {
				d.Action["code"] = code
			}
			delete(d.Action, "tool_code")
		}
		if code, ok := d.Action["code"].(string); ok {
			d.Action["code"] = sanitizeCode(code)
		}
	}

	return d, nil
}

// sanitizeCode drops control characters that break JSON round-trips and
// Python parsing, keeping newlines, carriage returns, and tabs.
func sanitizeCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if r >= 32 || r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
