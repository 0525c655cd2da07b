package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Request describes one tool execution.
type Request struct {
	// Tool source code
	Code string

	// Entrypoint function called as entry(**params). Empty means the
	// script protocol: the code runs top-level with `params` in scope
	// and assigns its output to `result`.
	Entry string

	Params       map[string]any
	Requirements []string

	// Wall-clock limit; zero means the configured default
	Timeout time.Duration

	// Tools callable from the code through execute_tool(name, params)
	Deps []Dep
}

// Dep is a tool whose source is spliced into the driver so composite
// tools can call it without leaving the container.
type Dep struct {
	Name  string
	Code  string
	Entry string
}

// maxCallDepth bounds recursion through execute_tool inside the driver.
const maxCallDepth = 8

// buildDriverScript renders the Python driver for a request. The driver
// defines the no-op @tool decorator and the execute_tool dispatcher, splices
// the tool source, injects params as a JSON literal, and prints exactly one
// JSON envelope: success on stdout with exit 0, failure on stderr with
// exit 1.
func buildDriverScript(req *Request) string {
	var b strings.Builder

	b.WriteString("import sys\nimport json\nimport traceback\nimport contextlib\nimport io\n")
	for _, imp := range importNames(req.Requirements) {
		fmt.Fprintf(&b, "import %s\n", imp)
	}

	b.WriteString(`
# Tool decorator (needed if tool code references it)
def tool(name=None, category="general", auth_required=False, rate_limit=None, tags=None, requirements=None):
    def decorator(func):
        func._is_tool = True
        func._tool_name = name or func.__name__
        func._tool_category = category
        func._auth_required = auth_required
        func._rate_limit = rate_limit
        func._tags = tags or []
        func._requirements = requirements or []
        return func
    return decorator

`)

	depSources := make(map[string]string, len(req.Deps))
	depEntries := make(map[string]string, len(req.Deps))
	for _, dep := range req.Deps {
		depSources[dep.Name] = dep.Code
		if dep.Entry != "" {
			depEntries[dep.Name] = dep.Entry
		}
	}

	fmt.Fprintf(&b, "_DEP_SOURCES = %s\n", pyJSON(depSources))
	fmt.Fprintf(&b, "_DEP_ENTRIES = %s\n", pyJSON(depEntries))
	fmt.Fprintf(&b, "_MAX_CALL_DEPTH = %d\n", maxCallDepth)
	b.WriteString(`_call_depth = 0

def execute_tool(tool_name, params):
    global _call_depth
    code = _DEP_SOURCES.get(tool_name)
    if code is None:
        raise ValueError("Tool '%s' not found" % tool_name)
    if _call_depth >= _MAX_CALL_DEPTH:
        raise RuntimeError("Tool call depth limit (%d) exceeded" % _MAX_CALL_DEPTH)
    _call_depth += 1
    try:
        scope = {"params": params, "execute_tool": execute_tool, "__builtins__": __builtins__}
        entry = _DEP_ENTRIES.get(tool_name)
        try:
            exec(compile(code, tool_name, "exec"), scope)
            if entry:
                result = scope[entry](**params)
            else:
                result = scope.get("result")
        except Exception as e:
            raise RuntimeError("Tool '%s' failed: %s" % (tool_name, e)) from e
        return result
    finally:
        _call_depth -= 1

`)

	if req.Entry != "" {
		writeEntryEpilogue(&b, req)
	} else {
		writeScriptEpilogue(&b, req)
	}

	return b.String()
}

// writeEntryEpilogue splices the tool source at module level and calls the
// entrypoint with the params expanded as keyword arguments.
func writeEntryEpilogue(b *strings.Builder, req *Request) {
	b.WriteString("# Tool code\n")
	b.WriteString(req.Code)
	b.WriteString("\n\n")

	fmt.Fprintf(b, `try:
    params = %s
    result = %s(**params)

    if isinstance(result, (dict, list)):
        output = result
    else:
        output = {"result": result}

    print(json.dumps({"success": True, "result": output}))
    sys.exit(0)

except Exception as e:
    error_data = {
        "success": False,
        "error": str(e),
        "traceback": traceback.format_exc()
    }
    print(json.dumps(error_data), file=sys.stderr)
    sys.exit(1)
`, pyJSON(paramsOrEmpty(req.Params)), req.Entry)
}

// writeScriptEpilogue execs the tool source with `params` in scope and
// reads the `result` variable, capturing anything the code prints.
func writeScriptEpilogue(b *strings.Builder, req *Request) {
	fmt.Fprintf(b, "_TOOL_SOURCE = %s\n\n", pyJSON(req.Code))

	fmt.Fprintf(b, `try:
    params = %s
    _stdout = io.StringIO()
    _scope = {"params": params, "execute_tool": execute_tool, "__builtins__": __builtins__}
    with contextlib.redirect_stdout(_stdout):
        exec(compile(_TOOL_SOURCE, "<tool>", "exec"), _scope)
    result = _scope.get("result")

    if isinstance(result, (dict, list)):
        output = result
    else:
        output = {"result": result}

    print(json.dumps({"success": True, "result": output, "stdout": _stdout.getvalue()}))
    sys.exit(0)

except Exception as e:
    error_data = {
        "success": False,
        "error": str(e),
        "traceback": traceback.format_exc()
    }
    print(json.dumps(error_data), file=sys.stderr)
    sys.exit(1)
`, pyJSON(paramsOrEmpty(req.Params)))
}

func paramsOrEmpty(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return params
}

// importNames derives import statements from pip requirement specs by
// stripping extras and version pins.
func importNames(requirements []string) []string {
	var names []string
	for _, req := range requirements {
		name := req
		for _, sep := range []string{"[", "==", ">=", "<=", ">", "<", "~="} {
			if idx := strings.Index(name, sep); idx >= 0 {
				name = name[:idx]
			}
		}
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// pyJSON embeds v in the driver as json.loads of a string literal. JSON
// string escapes are valid Python escapes, and routing through json.loads
// keeps true/false/null out of the generated source.
func pyJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte("null")
	}
	quoted, err := json.Marshal(string(data))
	if err != nil {
		return "json.loads(\"null\")"
	}
	return "json.loads(" + string(quoted) + ")"
}
