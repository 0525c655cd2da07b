package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/artificer-dev/artificer/pkg/events"
	"github.com/artificer-dev/artificer/pkg/llm"
	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/pkg/search"
)

// run carries the mutable state of one query session through the loop.
type run struct {
	sessionID     string
	question      string
	maxIterations int
	maxTools      int
	useSandbox    bool

	iteration int

	// prior is caller-supplied conversation context; conversation is the
	// turn-by-turn record this run appends to.
	prior        []models.HistoryEntry
	conversation []models.HistoryEntry

	steps   []step
	actions []models.ActionRecord

	// fetched is the tool slate currently shown to the LLM. searched and
	// analyzed gate the authoring path.
	fetched  []*models.Tool
	searched bool
	analyzed bool

	execResults []execResult
}

func (r *run) promptContext() *promptContext {
	return &promptContext{
		question:      r.question,
		iteration:     r.iteration,
		maxIterations: r.maxIterations,
		prior:         r.prior,
		steps:         r.steps,
		tools:         r.fetched,
		analyzed:      r.analyzed,
		execResults:   r.execResults,
	}
}

// record books one completed decision: the action summary, the prompt step,
// and the assistant/system turn pair in the conversation record.
func (r *run) record(d *Decision, result any, observation string) {
	r.actions = append(r.actions, models.ActionRecord{
		Iteration: r.iteration,
		State:     d.State,
		Summary:   d.Summary(),
	})
	r.steps = append(r.steps, step{
		state:     d.State,
		reasoning: d.Reasoning,
		result:    renderJSON(result),
	})
	r.conversation = append(r.conversation,
		models.HistoryEntry{Role: models.RoleAssistant, Content: assistantLine(d)},
		models.HistoryEntry{Role: models.RoleSystem, Content: observation},
	)
}

// observe books a turn that produced no decision, such as a parse failure.
func (r *run) observe(state, note, observation string) {
	r.actions = append(r.actions, models.ActionRecord{
		Iteration: r.iteration,
		State:     state,
		Summary:   note,
	})
	r.steps = append(r.steps, step{state: state, reasoning: note, result: observation})
	r.conversation = append(r.conversation,
		models.HistoryEntry{Role: models.RoleSystem, Content: observation},
	)
}

// Run processes one query to a terminal outcome. The returned error is
// non-nil only for context-level aborts (cancellation, shutdown); every
// other failure is reported inside the result.
func (a *Agent) Run(ctx context.Context, req Request) (*models.QueryResult, error) {
	r := &run{
		sessionID:     req.SessionID,
		question:      req.Question,
		maxIterations: a.opts.MaxIterations,
		maxTools:      a.opts.MaxTools,
		useSandbox:    req.UseSandbox,
		prior:         req.History,
	}
	if req.MaxIterations > 0 {
		r.maxIterations = req.MaxIterations
	}
	if req.MaxTools > 0 {
		r.maxTools = req.MaxTools
	}

	a.publish(ctx, events.StartEvent(r.sessionID, r.question))
	slog.Info("query started", "session_id", r.sessionID, "max_iterations", r.maxIterations)

	// Seed the slate with the closest existing tools so iteration 1 can
	// go straight to use_tool when a match already exists.
	r.fetched = a.seedTools(r)

	for r.iteration = 1; r.iteration <= r.maxIterations; r.iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		a.publish(ctx, events.IterationEvent(r.sessionID, r.iteration))
		a.publishTransient(ctx, events.ThinkingEvent(r.sessionID, "Analyzing the question and available tools"))

		text, err := a.generate(ctx, r, fullPrompt(r.promptContext()))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return a.failResult(ctx, r, classifyLLMError(err), err.Error()), nil
		}
		if strings.TrimSpace(text) == "" {
			return a.failResult(ctx, r, models.ErrorTypeNoResponse, "LLM returned an empty response"), nil
		}

		decision, perr := parseDecision(text)
		if perr != nil {
			obs := fmt.Sprintf("Your previous response could not be parsed (%v). Respond with ONLY a single valid JSON object in the required format, with no text outside it.", perr)
			a.publish(ctx, events.StateEvent(r.sessionID, "parse_error", obs))
			r.observe("parse_error", "response was not valid JSON", obs)
			slog.Warn("unparseable LLM response", "session_id", r.sessionID, "iteration", r.iteration, "error", perr)
			continue
		}

		a.publish(ctx, events.StateEvent(r.sessionID, decision.State, decision.Reasoning))
		if len(decision.Action) > 0 {
			a.publish(ctx, events.ActionEvent(r.sessionID, decision.State, decision.Action))
		}
		slog.Info("agent decision", "session_id", r.sessionID, "iteration", r.iteration, "state", decision.State)

		if decision.State == StateRespond || decision.State == StateExit {
			return a.finalResult(ctx, r, decision), nil
		}

		result, observation := a.dispatch(ctx, r, decision)
		a.publish(ctx, events.ResultEvent(r.sessionID, decision.State, result))
		r.record(decision, result, observation)
	}

	a.publish(ctx, events.TimeoutEvent(r.sessionID, r.maxIterations))
	slog.Warn("query hit iteration limit", "session_id", r.sessionID, "iterations", r.maxIterations)
	return &models.QueryResult{
		Success:      false,
		Error:        fmt.Sprintf("Maximum iterations (%d) reached without a final answer", r.maxIterations),
		ErrorType:    models.ErrorTypeBoundedIterations,
		Iterations:   r.maxIterations,
		Actions:      r.actions,
		Conversation: r.conversation,
	}, nil
}

// dispatch executes one non-terminal decision and returns the structured
// result for the result event plus the observation fed back to the LLM.
func (a *Agent) dispatch(ctx context.Context, r *run, d *Decision) (any, string) {
	switch d.State {
	case StateSearch:
		return a.searchTools(r, d)
	case StateAnalyze:
		return a.analyzeTools(r, d)
	case StateUse:
		return a.invokeTool(ctx, r, d)
	case StateCreate:
		return a.createTool(ctx, r, d)
	}
	obs := fmt.Sprintf("Unknown action '%s' received. Please choose from: respond, search_tools, use_tool, create_tool, analyze_tools_for_composite, or exit_response.", d.State)
	return map[string]any{"success": false, "error": obs}, obs
}

// generate obtains one LLM completion, streaming chunks out as transient
// events when streaming is enabled.
func (a *Agent) generate(ctx context.Context, r *run, prompt string) (string, error) {
	if !a.opts.Stream {
		text, err := a.llm.Generate(ctx, prompt)
		if err != nil {
			return "", err
		}
		a.publish(ctx, events.ResponseCompleteEvent(r.sessionID, text))
		return text, nil
	}

	chunks, errs := a.llm.GenerateStream(ctx, prompt)
	var b strings.Builder
	for chunk := range chunks {
		if chunk.Content == "" {
			continue
		}
		if chunk.IsThinking {
			a.publishTransient(ctx, events.ThinkingEvent(r.sessionID, chunk.Content))
			continue
		}
		b.WriteString(chunk.Content)
		a.publishTransient(ctx, events.StreamEvent(r.sessionID, chunk.Content))
	}
	if err := <-errs; err != nil {
		return "", err
	}
	text := b.String()
	a.publish(ctx, events.ResponseCompleteEvent(r.sessionID, text))
	return text, nil
}

// seedTools ranks the catalogue against the question itself so the first
// prompt already shows plausible candidates.
func (a *Agent) seedTools(r *run) []*models.Tool {
	results := a.tools.Search(r.question, search.Options{TopK: r.maxTools})
	if len(results) == 0 {
		return nil
	}
	tools := make([]*models.Tool, 0, len(results))
	for _, res := range results {
		tools = append(tools, res.Tool)
	}
	return tools
}

// searchTools handles the search_tools state: rank the catalogue against the
// query (or list everything when the query is empty) and refresh the slate.
func (a *Agent) searchTools(r *run, d *Decision) (any, string) {
	query := strings.TrimSpace(d.actionString("query"))

	var results []search.Result
	if query == "" {
		for _, entry := range a.tools.List() {
			if entry.Tool.Executable() {
				results = append(results, search.Result{Tool: entry.Tool, Score: 1})
			}
		}
		sort.Slice(results, func(i, j int) bool { return results[i].Tool.Name < results[j].Tool.Name })
		if len(results) > r.maxTools {
			results = results[:r.maxTools]
		}
	} else {
		results = a.tools.Search(query, search.Options{TopK: r.maxTools})
	}

	// A fresh slate invalidates any earlier analysis.
	r.searched = true
	r.analyzed = false
	r.fetched = r.fetched[:0]

	if len(results) == 0 {
		obs := fmt.Sprintf("No tools found matching query '%s'. You can create a new tool with the 'create_tool' action.", query)
		return map[string]any{"tools_found": 0, "tools": []string{}}, obs
	}

	names := make([]string, 0, len(results))
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tools:\n", len(results))
	for i, res := range results {
		tool := res.Tool
		r.fetched = append(r.fetched, tool)
		names = append(names, tool.Name)

		fmt.Fprintf(&b, "\n%d. %s\n", i+1, tool.Name)
		fmt.Fprintf(&b, "   Category: %s\n", tool.Category)
		fmt.Fprintf(&b, "   Description: %s\n", tool.Description)
		if len(tool.RequiredParams) > 0 {
			fmt.Fprintf(&b, "   Required Parameters: %s\n", strings.Join(tool.RequiredParamNames(), ", "))
		}
		if len(tool.OptionalParams) > 0 {
			fmt.Fprintf(&b, "   Optional Parameters: %s\n", formatOptionalParams(tool.OptionalParams))
		}
		if len(tool.Tags) > 0 {
			fmt.Fprintf(&b, "   Tags: %s\n", strings.Join(tool.Tags, ", "))
		}
		if query != "" {
			fmt.Fprintf(&b, "   Relevance Score: %.2f\n", res.Score)
		}
	}
	b.WriteString("\nIf one of these tools fits, use it with the 'use_tool' action. Only create a new tool if none of them can do the job.")

	return map[string]any{"tools_found": len(results), "tools": names}, b.String()
}

// analyzeTools handles analyze_tools_for_composite: pin the named tools to
// the slate with full code and schemas so a composite can be written
// against them.
func (a *Agent) analyzeTools(r *run, d *Decision) (any, string) {
	names := d.actionStrings("tool_names")
	if len(names) == 0 {
		obs := "analyze_tools_for_composite requires a 'tool_names' list naming the tools to compose."
		return map[string]any{"success": false, "error": obs}, obs
	}

	var detailed []*models.Tool
	var found, missing []string
	for _, name := range names {
		entry, ok := a.tools.Get(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		detailed = append(detailed, entry.Tool)
		found = append(found, entry.Tool.Name)
	}

	if len(detailed) == 0 {
		obs := fmt.Sprintf("None of the requested tools exist: %s. Search for the correct names first.", strings.Join(missing, ", "))
		return map[string]any{"success": false, "error": obs}, obs
	}

	r.fetched = detailed
	r.analyzed = true

	result := map[string]any{
		"success":        true,
		"analyzed_count": len(detailed),
		"tool_names":     found,
		"details":        "Full tool details including code, params, and return schemas fetched",
	}
	obs := fmt.Sprintf("Fetched full details (code, parameters, return schemas) for: %s. You can now create a composite tool that calls them via execute_tool().", strings.Join(found, ", "))
	if len(missing) > 0 {
		obs += fmt.Sprintf(" Not found: %s.", strings.Join(missing, ", "))
	}
	return result, obs
}

// finalResult books the terminal respond/exit_response decision and builds
// the success result.
func (a *Agent) finalResult(ctx context.Context, r *run, d *Decision) *models.QueryResult {
	answer := d.Answer()
	if answer == "" {
		answer = d.Reasoning
	}
	confidence := confidenceScore(d.Confidence())

	r.actions = append(r.actions, models.ActionRecord{
		Iteration: r.iteration,
		State:     d.State,
		Summary:   d.Summary(),
	})
	r.conversation = append(r.conversation,
		models.HistoryEntry{Role: models.RoleAssistant, Content: answer},
	)

	a.publish(ctx, events.FinalEvent(r.sessionID, answer, confidence, r.iteration))
	slog.Info("query answered", "session_id", r.sessionID, "iterations", r.iteration)

	return &models.QueryResult{
		Success:      true,
		Response:     answer,
		Reasoning:    d.Reasoning,
		Iterations:   r.iteration,
		Actions:      r.actions,
		Conversation: r.conversation,
	}
}

// failResult publishes the error event and builds a terminal failure result.
func (a *Agent) failResult(ctx context.Context, r *run, errorType, message string) *models.QueryResult {
	a.publish(ctx, events.ErrorEvent(r.sessionID, message))
	slog.Error("query failed", "session_id", r.sessionID, "iteration", r.iteration, "error_type", errorType, "error", message)
	return &models.QueryResult{
		Success:      false,
		Error:        message,
		ErrorType:    errorType,
		Iterations:   r.iteration,
		Actions:      r.actions,
		Conversation: r.conversation,
	}
}

// classifyLLMError maps a generation failure to the result error taxonomy.
func classifyLLMError(err error) string {
	var overloaded *llm.AllKeysOverloadedError
	if errors.As(err, &overloaded) {
		return models.ErrorTypeAllKeysOverloaded
	}
	return models.ErrorTypeAPIError
}

// assistantLine renders the decision as the assistant's conversation turn.
func assistantLine(d *Decision) string {
	switch d.State {
	case StateSearch:
		return fmt.Sprintf("I will search for tools matching %q. Reasoning: %s", d.actionString("query"), d.Reasoning)
	case StateAnalyze:
		return fmt.Sprintf("I will analyze tools [%s] before composing them. Reasoning: %s", strings.Join(d.actionStrings("tool_names"), ", "), d.Reasoning)
	case StateUse:
		return fmt.Sprintf("I will use the tool '%s' with parameters %s. Reasoning: %s", d.actionString("tool_name"), renderJSON(d.actionMap("params")), d.Reasoning)
	case StateCreate:
		return fmt.Sprintf("I will create a new tool '%s'. Reasoning: %s", d.actionString("name"), d.Reasoning)
	}
	return d.Reasoning
}

// renderJSON renders v compactly for prompts and conversation records.
func renderJSON(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
