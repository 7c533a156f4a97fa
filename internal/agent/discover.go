package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/netreee/setup-agent/internal/core"
	"github.com/netreee/setup-agent/internal/llm"
	"github.com/netreee/setup-agent/internal/prompt"
	"github.com/netreee/setup-agent/internal/tool"
	"github.com/netreee/setup-agent/internal/trace"
)

// discoverAllowedTools is the read-only whitelist the ReAct loop may call.
// Mutating tools (run_instruction, git_ensure_cloned) are rejected outright.
var discoverAllowedTools = map[string]bool{
	"files_exists":           true,
	"files_stat":             true,
	"files_list":             true,
	"files_read":             true,
	"files_find":             true,
	"files_read_section":     true,
	"files_read_range":       true,
	"files_grep":             true,
	"md_outline":             true,
	"pyenv_python_info":      true,
	"pyenv_tool_versions":    true,
	"pyenv_parse_pyproject":  true,
	"pyenv_select_installer": true,
	"git_repo_status":        true,
}

// keyProjectFiles get highlighted in directory-listing observations.
var keyProjectFiles = map[string]string{
	"pyproject.toml":   "has_pyproject",
	"setup.py":         "has_setup_py",
	"requirements.txt": "has_requirements_txt",
	"readme.md":        "has_readme",
	"readme":           "has_readme",
	"readme.rst":       "has_readme",
}

// DiscoverTurn is one thought/action/observation triple of the ReAct loop.
type DiscoverTurn struct {
	Thought     string
	Action      string
	Observation string
}

// DiscoverState is the shared state of the read-only discover sub-agent.
type DiscoverState struct {
	Goal       string
	Transcript []DiscoverTurn
	Summary    string
	Facts      Facts
	Registry   *tool.Registry

	LastResult *tool.Envelope

	pendingTool string
	pendingArgs map[string]any
}

// ── react node ──

type reactNode struct {
	provider llm.Provider
	prompts  *prompt.Loader
}

type reactPrep struct{ Prompt string }

type reactResult struct {
	Thought    string
	ActionLine string
}

func (n *reactNode) Prep(state *DiscoverState) []reactPrep {
	var sb strings.Builder
	for _, turn := range tailTurns(state.Transcript, 6) {
		if turn.Thought != "" {
			fmt.Fprintf(&sb, "Thought: %s\n", turn.Thought)
		}
		if turn.Action != "" {
			fmt.Fprintf(&sb, "Action: %s\n", turn.Action)
		}
		if turn.Observation != "" {
			fmt.Fprintf(&sb, "Observation: %s\n", trace.Truncate(turn.Observation, 1500))
		}
	}
	rendered := n.prompts.Render("discover", map[string]string{
		"goal":       state.Goal,
		"transcript": sb.String(),
	})
	return []reactPrep{{Prompt: rendered}}
}

func (n *reactNode) Exec(ctx context.Context, prep reactPrep) (reactResult, error) {
	resp, err := n.provider.Complete(ctx, prep.Prompt, llm.Params{Temperature: 0.2, MaxTokens: 400})
	if err != nil {
		return reactResult{}, err
	}
	return splitThoughtAction(resp), nil
}

func (n *reactNode) ExecFallback(err error) reactResult {
	trace.Note("discover", "llm_error", err.Error())
	// Finishing beats spinning: the main planner copes with sparse facts.
	return reactResult{ActionLine: "finish"}
}

func (n *reactNode) Post(state *DiscoverState, _ []reactPrep, results ...reactResult) core.Action {
	var result reactResult
	if len(results) > 0 {
		result = results[0]
	}
	state.Transcript = append(state.Transcript, DiscoverTurn{
		Thought: result.Thought,
		Action:  result.ActionLine,
	})
	turn := &state.Transcript[len(state.Transcript)-1]

	parsed := parseActionLine(result.ActionLine)
	switch parsed.kind {
	case actionFinish:
		return core.ActionSummarize
	case actionTool:
		if !discoverAllowedTools[parsed.name] {
			turn.Observation = "unsupported_action: " + parsed.name
			return core.ActionReact
		}
		state.pendingTool = parsed.name
		state.pendingArgs = parsed.args
		return core.ActionExecute
	default:
		turn.Observation = "invalid_action"
		return core.ActionReact
	}
}

// ── execute node ──

type discoverExecNode struct{}

type discoverExecPrep struct {
	Tool     string
	Args     json.RawMessage
	Registry *tool.Registry
}

func (n *discoverExecNode) Prep(state *DiscoverState) []discoverExecPrep {
	if state.pendingTool == "" {
		return nil
	}
	raw, err := json.Marshal(state.pendingArgs)
	if err != nil {
		raw = []byte("{}")
	}
	prep := discoverExecPrep{Tool: state.pendingTool, Args: raw, Registry: state.Registry}
	state.pendingTool, state.pendingArgs = "", nil
	return []discoverExecPrep{prep}
}

func (n *discoverExecNode) Exec(ctx context.Context, prep discoverExecPrep) (tool.Envelope, error) {
	return prep.Registry.Call(ctx, prep.Tool, prep.Args), nil
}

func (n *discoverExecNode) ExecFallback(err error) tool.Envelope {
	return tool.Fail("unknown", map[string]any{}, err.Error())
}

func (n *discoverExecNode) Post(state *DiscoverState, preps []discoverExecPrep, results ...tool.Envelope) core.Action {
	if len(preps) == 0 || len(results) == 0 {
		return core.ActionReact
	}
	env := results[0]
	state.LastResult = &env
	return core.ActionObserve
}

// ── observe node ──

type discoverObserveNode struct{}

type discoverObservePrep struct{}

func (n *discoverObserveNode) Prep(_ *DiscoverState) []discoverObservePrep { return nil }

func (n *discoverObserveNode) Exec(_ context.Context, _ discoverObservePrep) (struct{}, error) {
	return struct{}{}, nil
}

func (n *discoverObserveNode) ExecFallback(_ error) struct{} { return struct{}{} }

func (n *discoverObserveNode) Post(state *DiscoverState, _ []discoverObservePrep, _ ...struct{}) core.Action {
	env := state.LastResult
	if env == nil {
		return core.ActionReact
	}
	if len(state.Transcript) > 0 {
		state.Transcript[len(state.Transcript)-1].Observation = compactObservation(env)
	}
	seedFactsFromEnvelope(state.Facts, env)
	return core.ActionReact
}

// ── summarize node ──

type summarizeNode struct {
	provider llm.Provider
	prompts  *prompt.Loader
}

type summarizePrep struct{ Prompt string }

func (n *summarizeNode) Prep(state *DiscoverState) []summarizePrep {
	var sb strings.Builder
	for _, turn := range tailTurns(state.Transcript, 12) {
		if turn.Thought != "" {
			fmt.Fprintf(&sb, "Thought: %s\n", turn.Thought)
		}
		if turn.Action != "" {
			fmt.Fprintf(&sb, "Action: %s\n", turn.Action)
		}
		if turn.Observation != "" {
			fmt.Fprintf(&sb, "Observation: %s\n", trace.Truncate(turn.Observation, 1200))
		}
	}
	rendered := n.prompts.Render("summarize", map[string]string{
		"goal":       state.Goal,
		"transcript": sb.String(),
	})
	return []summarizePrep{{Prompt: rendered}}
}

func (n *summarizeNode) Exec(ctx context.Context, prep summarizePrep) (string, error) {
	return n.provider.Complete(ctx, prep.Prompt, llm.Params{Temperature: 0.2, MaxTokens: 700})
}

func (n *summarizeNode) ExecFallback(err error) string {
	return "(summary unavailable: " + err.Error() + ")"
}

func (n *summarizeNode) Post(state *DiscoverState, _ []summarizePrep, results ...string) core.Action {
	if len(results) > 0 {
		state.Summary = strings.TrimSpace(results[0])
	}
	return core.ActionEnd
}

// ── wiring ──

// BuildDiscoverFlow assembles the read-only exploration loop:
// react → execute → observe → react … → summarize → end.
func BuildDiscoverFlow(provider llm.Provider, prompts *prompt.Loader, maxHops int) *core.Flow[DiscoverState] {
	react := core.NewNode[DiscoverState, reactPrep, reactResult](&reactNode{provider: provider, prompts: prompts}, 1)
	execute := core.NewNode[DiscoverState, discoverExecPrep, tool.Envelope](&discoverExecNode{}, 0)
	observe := core.NewNode[DiscoverState, discoverObservePrep, struct{}](&discoverObserveNode{}, 0)
	summarize := core.NewNode[DiscoverState, summarizePrep, string](&summarizeNode{provider: provider, prompts: prompts}, 1)

	react.AddSuccessor(execute, core.ActionExecute)
	react.AddSuccessor(react, core.ActionReact)
	react.AddSuccessor(summarize, core.ActionSummarize)
	execute.AddSuccessor(observe, core.ActionObserve)
	execute.AddSuccessor(react, core.ActionReact)
	observe.AddSuccessor(react, core.ActionReact)

	return core.NewFlow[DiscoverState](react).WithMaxHops(maxHops)
}

// RunDiscover runs the exploration loop and returns its summary plus the
// facts it seeded.
func RunDiscover(ctx context.Context, provider llm.Provider, prompts *prompt.Loader, registry *tool.Registry, goal string, seed Facts, maxHops int) (string, Facts) {
	state := &DiscoverState{
		Goal:     goal,
		Facts:    Facts{},
		Registry: registry,
	}
	for k, v := range seed {
		state.Facts[k] = v
	}
	BuildDiscoverFlow(provider, prompts, maxHops).Run(ctx, state)
	return state.Summary, state.Facts
}

// ── helpers ──

type parsedActionKind int

const (
	actionInvalid parsedActionKind = iota
	actionFinish
	actionTool
)

type parsedAction struct {
	kind parsedActionKind
	name string
	args map[string]any
}

var actionCallRe = regexp.MustCompile(`(?s)^([a-zA-Z_][\w]*)\s*\((.*)\)\s*$`)

// parseActionLine parses a ReAct action line:
//
//	Action: files_list(path=".")
//	Action: finish
func parseActionLine(line string) parsedAction {
	text := strings.TrimSpace(line)
	for strings.HasPrefix(strings.ToLower(text), "action:") {
		text = strings.TrimSpace(text[len("action:"):])
	}
	if text == "" {
		return parsedAction{kind: actionInvalid}
	}
	lowered := strings.ToLower(text)
	if strings.HasPrefix(lowered, "finish") || lowered == "done" || lowered == "no more actions" {
		return parsedAction{kind: actionFinish}
	}
	m := actionCallRe.FindStringSubmatch(text)
	if m == nil {
		return parsedAction{kind: actionInvalid}
	}
	return parsedAction{
		kind: actionTool,
		name: m[1],
		args: parseKwargs(m[2]),
	}
}

// parseKwargs parses a comma-separated key=value list, respecting quotes.
// Values decode as JSON scalars when possible, bare strings otherwise.
func parseKwargs(src string) map[string]any {
	args := map[string]any{}
	for _, pair := range splitTopLevel(src) {
		eq := strings.Index(pair, "=")
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(pair[:eq])
		val := strings.TrimSpace(pair[eq+1:])
		if key == "" || val == "" {
			continue
		}
		args[key] = decodeArgValue(val)
	}
	return args
}

// splitTopLevel splits on commas outside quotes and brackets.
func splitTopLevel(src string) []string {
	var parts []string
	var current strings.Builder
	inQuote := false
	var quoteChar byte
	depth := 0
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case inQuote:
			current.WriteByte(c)
			if c == quoteChar {
				inQuote = false
			}
		case c == '"' || c == '\'':
			inQuote = true
			quoteChar = c
			current.WriteByte(c)
		case c == '[' || c == '(':
			depth++
			current.WriteByte(c)
		case c == ']' || c == ')':
			depth--
			current.WriteByte(c)
		case c == ',' && depth == 0:
			if s := strings.TrimSpace(current.String()); s != "" {
				parts = append(parts, s)
			}
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		parts = append(parts, s)
	}
	return parts
}

func decodeArgValue(val string) any {
	// Quoted string (either quote style).
	if len(val) >= 2 {
		if (val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'') {
			return val[1 : len(val)-1]
		}
	}
	switch strings.ToLower(val) {
	case "true":
		return true
	case "false":
		return false
	case "none", "null":
		return nil
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	// Bracketed list of scalars.
	if strings.HasPrefix(val, "[") && strings.HasSuffix(val, "]") {
		var items []any
		for _, item := range splitTopLevel(val[1 : len(val)-1]) {
			items = append(items, decodeArgValue(item))
		}
		return items
	}
	return val
}

// splitThoughtAction extracts the Thought and Action lines from raw model
// output, tolerating missing labels.
func splitThoughtAction(resp string) reactResult {
	var result reactResult
	for _, line := range strings.Split(resp, "\n") {
		trimmed := strings.TrimSpace(line)
		lowered := strings.ToLower(trimmed)
		if result.Thought == "" && strings.HasPrefix(lowered, "thought:") {
			result.Thought = strings.TrimSpace(trimmed[len("thought:"):])
		}
		if result.ActionLine == "" && strings.HasPrefix(lowered, "action:") {
			result.ActionLine = trimmed
		}
	}
	if result.ActionLine == "" {
		// Heuristic: any call-looking line serves as the action.
		for _, line := range strings.Split(resp, "\n") {
			if strings.Contains(line, "(") && strings.Contains(line, ")") {
				result.ActionLine = "Action: " + strings.TrimSpace(line)
				break
			}
		}
	}
	return result
}

func tailTurns(turns []DiscoverTurn, n int) []DiscoverTurn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// compactObservation renders an envelope as a concise observation for the
// next ReAct turn, highlighting the files the planner will care about.
func compactObservation(env *tool.Envelope) string {
	if !env.OK {
		return fmt.Sprintf("tool %s failed: %s", env.Tool, env.Error)
	}
	switch env.Tool {
	case "files_read":
		flag := "[complete]"
		if env.Bool("truncated") {
			flag = "[truncated]"
		}
		return fmt.Sprintf("read %s (%d chars) %s:\n%s",
			env.Str("path"), env.Int("size", 0), flag, env.Str("content"))
	case "files_list":
		return describeListing(env)
	case "files_exists":
		if env.Bool("exists") {
			return fmt.Sprintf("%s exists", env.Str("path"))
		}
		return fmt.Sprintf("%s does not exist", env.Str("path"))
	case "pyenv_parse_pyproject":
		if !env.Bool("exists") {
			return fmt.Sprintf("pyproject.toml not found at %s", env.Str("path"))
		}
		deps, _ := env.Data["dependencies"].([]string)
		shown := deps
		if len(shown) > 10 {
			shown = shown[:10]
		}
		return fmt.Sprintf("project %q, %d dependencies: %s",
			env.Str("project_name"), len(deps), strings.Join(shown, ", "))
	default:
		b, err := json.Marshal(env.Data)
		if err != nil {
			return env.Tool + ": ok"
		}
		return trace.Truncate(string(b), 800)
	}
}

// describeListing categorizes a directory listing: key files first, then
// directories, Python files, and the rest.
func describeListing(env *tool.Envelope) string {
	entries, _ := env.Data["entries"].([]map[string]any)
	var keyFiles, dirs, pyFiles, others []string
	for _, e := range entries {
		name, _ := e["name"].(string)
		kind, _ := e["type"].(string)
		switch {
		case keyProjectFiles[strings.ToLower(name)] != "":
			keyFiles = append(keyFiles, fmt.Sprintf("%s [%s]", name, kind))
		case strings.HasSuffix(name, ".py"):
			pyFiles = append(pyFiles, name)
		case kind == "dir":
			dirs = append(dirs, name+"/")
		default:
			others = append(others, name)
		}
	}
	parts := []string{fmt.Sprintf("directory %s has %d entries:", env.Str("dir"), len(entries))}
	if len(keyFiles) > 0 {
		parts = append(parts, "  key files: "+strings.Join(keyFiles, ", "))
	}
	if len(dirs) > 0 {
		parts = append(parts, fmt.Sprintf("  subdirs(%d): %s", len(dirs), strings.Join(capList(dirs, 10), ", ")))
	}
	if len(pyFiles) > 0 {
		parts = append(parts, fmt.Sprintf("  python files(%d): %s", len(pyFiles), strings.Join(capList(pyFiles, 8), ", ")))
	}
	if len(others) > 0 && len(others) <= 15 {
		parts = append(parts, "  other: "+strings.Join(others, ", "))
	}
	return strings.Join(parts, "\n")
}

func capList(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return append(append([]string{}, items[:n]...), "…")
}

// seedFactsFromEnvelope records existence facts as the loop observes them.
func seedFactsFromEnvelope(facts Facts, env *tool.Envelope) {
	if !env.OK {
		return
	}
	switch env.Tool {
	case "files_list":
		entries, _ := env.Data["entries"].([]map[string]any)
		for _, e := range entries {
			name, _ := e["name"].(string)
			if key := keyProjectFiles[strings.ToLower(name)]; key != "" {
				facts[key] = true
			}
		}
	case "files_exists":
		base := strings.ToLower(strings.TrimSpace(filepathBase(env.Str("path"))))
		if key := keyProjectFiles[base]; key != "" {
			facts[key] = env.Bool("exists")
		}
	case "pyenv_parse_pyproject":
		if env.Bool("exists") {
			facts["has_pyproject"] = true
			if name := env.Str("project_name"); name != "" && facts.Str("project_name") == "" {
				facts["project_name"] = name
			}
		}
	case "files_read", "files_read_section":
		if strings.Contains(strings.ToUpper(env.Str("path")), "README") {
			facts["has_readme"] = true
			facts["readme_read"] = true
		}
	}
}

func filepathBase(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
