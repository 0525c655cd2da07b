package search

import (
	"fmt"
	"sort"
	"strings"
)

// FormatContext renders the top-ranked tools for a query as prompt context.
// Bugged tools are excluded; their absence is how quarantine reaches the LLM.
func (e *Engine) FormatContext(query string, maxTools int) string {
	results := e.Search(query, Options{TopK: maxTools})
	if len(results) == 0 {
		return "No relevant tools found for this query."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Most relevant tools for: '%s'\n\n", query)
	for i, r := range results {
		tool := r.Tool
		fmt.Fprintf(&b, "%d. Tool: %s (Relevance: %.2f)\n", i+1, tool.Name, r.Score)
		fmt.Fprintf(&b, "   Description: %s\n", tool.Description)
		fmt.Fprintf(&b, "   Category: %s\n", tool.Category)

		required := "None"
		if names := tool.RequiredParamNames(); len(names) > 0 {
			required = strings.Join(names, ", ")
		}
		fmt.Fprintf(&b, "   Required Params: %s\n", required)

		if len(tool.OptionalParams) > 0 {
			names := make([]string, 0, len(tool.OptionalParams))
			for name := range tool.OptionalParams {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintf(&b, "   Optional Params: %s\n", strings.Join(names, ", "))
		}
		if len(tool.Tags) > 0 {
			fmt.Fprintf(&b, "   Tags: %s\n", strings.Join(tool.Tags, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
