package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/artificer-dev/artificer/pkg/models"
)

const (
	resultPreviewLen = 200
	codePreviewLen   = 150
)

// systemPrompt is the fixed instruction block sent on every iteration. It
// fixes the state alphabet, the composite-first philosophy, and the exact
// JSON response contract the parser expects.
const systemPrompt = `You are an AI assistant with access to a tool system. You can perform these actions:

**States:**
1. **respond**: Directly answer if you can with high confidence
2. **search_tools**: Search for tools that can help answer the question
3. **use_tool**: Execute a specific tool with parameters
4. **create_tool**: Create a new tool ONLY as a last resort
5. **exit_response**: Provide final answer and conclude
6. **analyze_tools_for_composite**: Fetch detailed information about specific tools before creating a composite tool

**TOOL USAGE PHILOSOPHY - READ CAREFULLY:**

**ALWAYS PREFER EXISTING TOOLS OVER CREATING NEW ONES**
- If a tool exists that does 80% of what you need, USE IT
- Create composite tools that wrap/combine existing tools
- Only create entirely new tools if NO existing tools can help

**DECISION TREE FOR TOOL USAGE:**
1. **First**: Search for existing tools (search_tools)
2. **Second**: Can you use an existing tool directly? -> use_tool
3. **Third**: Can you create a simple composite tool that calls existing tools? -> analyze_tools_for_composite -> create_tool (composite)
4. **Last Resort**: Create a brand new tool with new implementation

**COMPOSITE TOOLS ARE YOUR FRIEND:**
- If you need to chain operations, create a composite tool
- If you need to combine results, create a composite tool
- If you need to transform output of one tool for another, create a composite tool
- Composite tools are MUCH better than reinventing functionality

**CRITICAL: Analyzing Tool Results:**
- When tools return search results or scraped content, ANALYZE and EXTRACT the relevant information
- Don't mark results as "empty" just because they need parsing
- If you get URLs or titles, that IS useful information - extract and present it
- Only mark as truly empty if the result is literally "[]", "{}", or an error

**CRITICAL: Tool Creation Rule:**
- If search_tools finds NO tools or NO APPROPRIATE tools, you MUST immediately transition to create_tool state
- Do NOT exit or respond without creating a tool when none exist for the task
- NEVER give up - if you can't answer directly, CREATE A TOOL to help

**COMPOSITE TOOLS - MANDATORY WORKFLOW:**
Before creating ANY tool, you MUST:
1. Use **search_tools** state to find existing tools
2. **EVALUATE**: Can I use these tools directly? Can I compose them?
3. If composition needed: Use **analyze_tools_for_composite** state
4. Create a SIMPLE wrapper that calls existing tools
5. ONLY create new implementation if truly no existing tools can help

**Inside ANY tool code, you have access to an execute_tool(tool_name, params) function:**
` + "```python" + `
# Example 1: Simple wrapper
search_results = execute_tool('web_search', {'query': params['query']})
result = {'results': search_results, 'count': len(search_results)}

# Example 2: Chain existing tools
raw_data = execute_tool('fetch_data', {'url': params['url']})
cleaned = execute_tool('clean_text', {'text': raw_data})
result = cleaned
` + "```" + `

**Tool Code Requirements (create_tool):**
1. If ANY existing tools can do part of the work, you MUST call them using execute_tool(tool_name, params) - DO NOT REIMPLEMENT
2. Access parameters via the params dict (e.g. query = params['query'])
3. Store the final output in a variable called result, or define a single top-level function that returns it
4. Handle errors with try/except blocks when calling execute_tool()
5. Real implementation only - no placeholders, no mocks, no TODO stubs

**Response Format:**
You MUST respond with ONLY valid JSON in this exact structure:
{
  "state": "respond|search_tools|use_tool|create_tool|exit_response|analyze_tools_for_composite",
  "reasoning": "Explain your thought process and why you chose this state",
  "action": {
    // State-specific action data
  }
}

**Action Field Requirements by State:**

- **use_tool**:
  {
    "tool_name": "exact_tool_name",
    "params": {
      "param1": "value1"
    }
  }

- **search_tools**:
  {
    "query": "search query string"
  }

- **analyze_tools_for_composite**:
  {
    "tool_names": ["tool_name1", "tool_name2"]
  }

- **create_tool**:
  {
    "name": "tool_name",
    "description": "what it does",
    "category": "category",
    "required_params": ["param1"],
    "optional_params": {},
    "return_schema": {},
    "tags": [],
    "requirements": [],
    "code": "result = params['param1']"
  }

- **respond** or **exit_response**:
  {
    "final_answer": "your answer here",
    "confidence": "high|medium|low"
  }

**CRITICAL**:
- Use "reasoning" field, NOT "response" field
- Use "params" field for tool parameters, NOT "parameters"
- ALWAYS use analyze_tools_for_composite before creating composite tools`

// promptContext carries everything the per-iteration user prompt renders.
type promptContext struct {
	question      string
	iteration     int
	maxIterations int
	prior         []models.HistoryEntry
	steps         []step
	tools         []*models.Tool
	analyzed      bool
	execResults   []execResult
}

// step is one completed loop turn, rendered into the Previous Actions block.
type step struct {
	state     string
	reasoning string
	result    string
}

// execResult summarises one tool execution for the prompt.
type execResult struct {
	tool    string
	success bool
	result  string
	errMsg  string
}

// buildUserPrompt renders the per-iteration prompt: the question, progress
// counters, prior conversation, completed actions, the currently fetched
// tool slate, and recent execution results.
func buildUserPrompt(pc *promptContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**Question:** %s\n\n", pc.question)
	fmt.Fprintf(&b, "**Iteration:** %d/%d\n\n", pc.iteration, pc.maxIterations)

	if len(pc.prior) > 0 {
		b.WriteString("**Conversation History:**\n")
		for _, entry := range pc.prior {
			fmt.Fprintf(&b, "%s: %s\n", capitalize(entry.Role), entry.Content)
		}
		b.WriteString("\n")
	}

	if len(pc.steps) > 0 {
		b.WriteString("**Previous Actions:**\n")
		for _, s := range pc.steps {
			fmt.Fprintf(&b, "- %s: %s\n", s.state, s.reasoning)
			if s.result != "" {
				fmt.Fprintf(&b, "  Result: %s\n", preview(s.result, resultPreviewLen))
			}
		}
		b.WriteString("\n")
	}

	if len(pc.tools) > 0 {
		b.WriteString("**Available Tools:**\n")
		for _, tool := range pc.tools {
			fmt.Fprintf(&b, "- **%s**: %s\n", tool.Name, tool.Description)
			fmt.Fprintf(&b, "  Required params: %s\n", formatParamList(tool.RequiredParamNames()))
			fmt.Fprintf(&b, "  Optional params: %s\n", formatOptionalParams(tool.OptionalParams))
			if pc.analyzed && tool.Code != "" {
				fmt.Fprintf(&b, "  Code preview: %s\n", preview(tool.Code, codePreviewLen))
			}
			if len(tool.ReturnSchema) > 0 {
				fmt.Fprintf(&b, "  Returns: %s\n", string(tool.ReturnSchema))
			}
		}
		b.WriteString("\n")

		if pc.analyzed {
			b.WriteString("**Tool details available:** You can now create a composite tool using the analyzed information.\n\n")
		} else if len(pc.tools) > 1 {
			b.WriteString("**IMPORTANT:** To create a composite tool, first use 'analyze_tools_for_composite' state to fetch detailed tool information!\n\n")
		}
	}

	if len(pc.execResults) > 0 {
		b.WriteString("**Tool Execution Results:**\n")
		for _, r := range pc.execResults {
			fmt.Fprintf(&b, "- Tool: %s\n", r.tool)
			fmt.Fprintf(&b, "  Success: %t\n", r.success)
			fmt.Fprintf(&b, "  Result: %s\n", preview(r.result, resultPreviewLen))
			if r.errMsg != "" {
				fmt.Fprintf(&b, "  Error: %s\n", r.errMsg)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("**Your Response (JSON only):**")
	return b.String()
}

// fullPrompt joins the system and user prompts into the single completion
// request sent to the provider.
func fullPrompt(pc *promptContext) string {
	return systemPrompt + "\n\n" + buildUserPrompt(pc)
}

func preview(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

func formatParamList(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

func formatOptionalParams(params map[string]any) string {
	if len(params) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(params))
	for name, def := range params {
		if def == nil {
			parts = append(parts, name)
		} else {
			parts = append(parts, fmt.Sprintf("%s=%v", name, def))
		}
	}
	// Map order is random; a stable prompt keeps LLM behavior reproducible.
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
