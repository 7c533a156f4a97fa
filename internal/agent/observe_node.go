package agent

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/netreee/setup-agent/internal/config"
	"github.com/netreee/setup-agent/internal/core"
	"github.com/netreee/setup-agent/internal/llm"
	"github.com/netreee/setup-agent/internal/prompt"
	"github.com/netreee/setup-agent/internal/trace"
)

// repeatThreshold: more than this many repeats of one step title forces a
// re-plan instead of another retry.
const repeatThreshold = 2

// RouteDecision is the observer's structured output.
type RouteDecision struct {
	Route      string
	Mode       string // suggested mode switch, "" when none
	FactsDelta map[string]any
	Success    *bool
	Notes      string
}

// ObserveNode implements BaseNode[AgentState, ObservePrep, RouteDecision].
// It classifies the last tool result, merges fact deltas, and picks the next
// edge: decide | repeat_step | skip_step | plan | end.
type ObserveNode struct {
	provider llm.Provider
	prompts  *prompt.Loader
}

// NewObserveNode creates the observer node.
func NewObserveNode(provider llm.Provider, prompts *prompt.Loader) *ObserveNode {
	return &ObserveNode{provider: provider, prompts: prompts}
}

// ObservePrep carries the rendered observer prompt.
type ObservePrep struct {
	Prompt string
}

func (n *ObserveNode) Prep(state *AgentState) []ObservePrep {
	lastResult := "(none)"
	if state.LastResult != nil {
		lastResult = trace.Truncate(state.LastResult.JSON(), 1200)
	}
	rendered := n.prompts.Render("observer", map[string]string{
		"mode":        state.Mode,
		"episode":     strconv.Itoa(state.Episode),
		"goal":        state.Goal,
		"titles":      titlesLine(state.StepTitles()),
		"index":       strconv.Itoa(state.CurrentStepIndex),
		"last_result": lastResult,
		"facts":       state.Facts.JSON(1200),
	})
	return []ObservePrep{{Prompt: rendered}}
}

func (n *ObserveNode) Exec(ctx context.Context, prep ObservePrep) (RouteDecision, error) {
	resp, err := n.provider.Complete(ctx, prep.Prompt, llm.Params{Temperature: 0.2, MaxTokens: 400})
	if err != nil {
		return RouteDecision{}, err
	}
	return parseRouteDecision(resp), nil
}

// ExecFallback defaults to pressing on: the throttles in Post keep a broken
// observer LLM from spinning the loop.
func (n *ObserveNode) ExecFallback(err error) RouteDecision {
	trace.Note("observer", "llm_error", err.Error())
	return RouteDecision{Route: RouteDecide, Notes: "observer unavailable, continuing"}
}

func (n *ObserveNode) Post(state *AgentState, _ []ObservePrep, results ...RouteDecision) core.Action {
	decision := RouteDecision{Route: RouteDecide}
	if len(results) > 0 {
		decision = results[0]
	}
	if decision.Route == "" {
		decision.Route = RouteDecide
	}
	notes := []string{}
	if decision.Notes != "" {
		notes = append(notes, decision.Notes)
	}

	workRoot := config.WorkspaceRoot()

	// Fact merging: the LLM delta first (with key migration), then the
	// tool-driven enrichment so hard envelope data fills empty keys and
	// overwrites placeholder values, then one re-normalization pass. The clone absorber
	// must see placeholder spellings before Normalize expands them.
	if decision.FactsDelta != nil {
		state.Facts.Merge(decision.FactsDelta)
	}
	n.absorbCloneResult(state, workRoot)
	n.absorbReadme(state)
	state.Facts.Normalize(workRoot)

	// Success: the LLM's call when present, the envelope otherwise.
	success := envelopeSuccess(state)
	if decision.Success != nil {
		success = *decision.Success
	}

	// A successful executing call finishes the step under the cursor.
	step := state.CurrentStep()
	if success && step != nil {
		state.MarkFinished(step.Title)
	}

	route := decision.Route
	forcedPlan := false

	// Repeat throttle: more than repeatThreshold repeats of one title → plan.
	if route == RouteRepeatStep && step != nil {
		state.RepeatCounts[step.Title]++
		if state.RepeatCounts[step.Title] > repeatThreshold {
			route = RoutePlan
			forcedPlan = true
			notes = append(notes, "repeat_throttled: forcing re-plan")
		}
	}

	// Re-plan throttle: at most one observer-driven re-plan per episode.
	// A forced plan (repeat runaway) bypasses it — stalling there would loop.
	if route == RoutePlan && !forcedPlan && state.lastReplanEpisode == state.Episode {
		route = RouteDecide
		notes = append(notes, "replan_throttled")
	}

	// Mode switch: at most one per episode, shared throttle with re-planning.
	if decision.Mode == ModeDiscover || decision.Mode == ModeExecute {
		switch {
		case decision.Mode != state.Mode && state.lastReplanEpisode != state.Episode:
			state.Mode = decision.Mode
			state.Episode++
			state.lastReplanEpisode = state.Episode
			if route != RouteEnd {
				route = RoutePlan
			}
			notes = append(notes, "mode switched to "+decision.Mode)
		case state.lastReplanEpisode == state.Episode:
			notes = append(notes, "mode_switch_throttled")
		}
	}

	// Cursor advancement by route.
	switch route {
	case RouteSkipStep:
		state.CurrentStepIndex++
	case RouteDecide:
		if success {
			state.CurrentStepIndex++
		}
	}
	// repeat_step, plan, end: cursor unchanged.

	state.Observation = strings.Join(notes, "; ")
	state.Route = route
	trace.Note("observer", "route", route)
	trace.Note("observer", "notes", state.Observation)

	switch route {
	case RoutePlan:
		state.ReplanRequested = true
		state.lastReplanEpisode = state.Episode
		return core.ActionPlan
	case RouteEnd:
		state.Complete = true
		state.Failed = !success && state.LastResult != nil && !state.LastResult.OK
		return core.ActionEnd
	default:
		return core.ActionDecide
	}
}

// envelopeSuccess is the fallback success criterion when the LLM omits one:
// the plain envelope ok flag, sharpened to exit_code==0 for shell results.
func envelopeSuccess(state *AgentState) bool {
	env := state.LastResult
	if env == nil {
		return false
	}
	if env.Tool == "run_instruction" {
		return env.OK && env.Int("exit_code", -1) == 0
	}
	return env.OK
}

// gitCloneRe extracts URL and optional target from an executed clone
// command. The target may be a (Join-Path ...) expression, a quoted string,
// or a bare word.
var gitCloneRe = regexp.MustCompile(`(?i)\bgit\s+clone\s+(?:-\S+\s+)*(\S+)(?:\s+(\([^)]*\)|"[^"]+"|'[^']+'|\S+))?`)

var joinPathRe = regexp.MustCompile(`(?i)Join-Path\s+\$env:REPO_ROOT\s+['"]([^'"]+)['"]`)

// absorbCloneResult back-fills project_root / project_name after a
// successful clone, whether it ran through git_ensure_cloned or as a raw
// shell command.
func (n *ObserveNode) absorbCloneResult(state *AgentState, workRoot string) {
	env := state.LastResult
	if env == nil || !env.OK {
		return
	}

	// Structured path: git_ensure_cloned already reports the facts.
	if env.Tool == "git_ensure_cloned" {
		n.setProjectFacts(state, env.Str("project_root"), env.Str("project_name"), workRoot)
		return
	}

	// Shell path: parse the executed command.
	if env.Tool != "run_instruction" || env.Int("exit_code", -1) != 0 {
		return
	}
	command := env.Str("command")
	if !strings.Contains(strings.ToLower(command), "git clone") {
		return
	}
	m := gitCloneRe.FindStringSubmatch(command)
	if m == nil {
		return
	}
	url := strings.Trim(m[1], `'"`)
	targetArg := m[2]

	repoName := repoNameFromCloneURL(url)
	projectRoot := ""
	if targetArg != "" {
		if jm := joinPathRe.FindStringSubmatch(targetArg); jm != nil {
			projectRoot = filepath.Join(workRoot, jm[1])
		} else {
			cleaned := strings.Trim(strings.Trim(targetArg, "()"), ` '"`)
			cleaned = strings.TrimPrefix(cleaned, "$REPO_ROOT/")
			if cleaned != "" && cleaned != "$env:REPO_ROOT" {
				if filepath.IsAbs(cleaned) {
					projectRoot = filepath.Clean(cleaned)
				} else {
					projectRoot = filepath.Join(workRoot, cleaned)
				}
			}
		}
	}
	if projectRoot == "" {
		projectRoot = filepath.Join(workRoot, repoName)
	}

	n.setProjectFacts(state, projectRoot, repoName, workRoot)
	trace.Note("observer", "clone_detected", projectRoot)
}

// setProjectFacts installs project_root/project_name, overwriting empty or
// placeholder values while keeping repo_root anchored at the workspace root.
func (n *ObserveNode) setProjectFacts(state *AgentState, projectRoot, projectName, workRoot string) {
	if state.Facts.Str("repo_root") == "" {
		state.Facts["repo_root"] = workRoot
	}
	prev := state.Facts.Str("project_root")
	isPlaceholder := prev == "" ||
		strings.HasPrefix(strings.ToLower(prev), "repo_root/") ||
		strings.HasPrefix(strings.ToLower(prev), `repo_root\`) ||
		strings.HasPrefix(prev, "$env:REPO_ROOT") ||
		strings.HasPrefix(prev, "$REPO_ROOT")
	if projectRoot != "" && isPlaceholder {
		state.Facts["project_root"] = projectRoot
	}
	if projectName != "" && state.Facts.Str("project_name") == "" {
		state.Facts["project_name"] = projectName
	}
}

func repoNameFromCloneURL(url string) string {
	name := strings.TrimRight(url, "/")
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".git"), ".GIT")
	if name == "" {
		return "repo"
	}
	return name
}

// absorbReadme extracts structured README info when the last result
// implicates one.
func (n *ObserveNode) absorbReadme(state *AgentState) {
	env := state.LastResult
	if env == nil || !env.OK {
		return
	}

	var text string
	implicated := false
	switch env.Tool {
	case "run_instruction":
		text = env.Str("stdout")
		head := text
		if len(head) > 50 {
			head = head[:50]
		}
		implicated = strings.Contains(strings.ToUpper(env.Str("command")), "README") ||
			strings.Contains(strings.ToUpper(head), "README")
	case "files_read", "files_read_section":
		text = env.Str("content")
		implicated = strings.Contains(strings.ToUpper(env.Str("path")), "README")
	}
	if !implicated || text == "" {
		return
	}

	parsed := ExtractReadmeInfo(text)
	if len(parsed) == 0 {
		return
	}
	if state.ReadmeInfo == nil {
		state.ReadmeInfo = map[string]any{}
	}
	for k, v := range parsed {
		state.ReadmeInfo[k] = v
	}
	state.Facts["has_readme"] = true
	state.Facts["readme_read"] = true
	trace.Note("observer", "readme_info", parsed)
}

// parseRouteDecision extracts the observer output from raw model text.
func parseRouteDecision(resp string) RouteDecision {
	obj := llm.ParseLooseJSON(resp)
	if obj == nil {
		return RouteDecision{Route: RouteDecide, Notes: "unparseable observation, continuing"}
	}
	decision := RouteDecision{
		Route:      llm.Str(obj, "route"),
		Mode:       llm.Str(obj, "mode"),
		FactsDelta: llm.Obj(obj, "facts_delta"),
		Notes:      llm.Str(obj, "notes"),
	}
	if v, ok := obj["success"].(bool); ok {
		decision.Success = &v
	}
	switch decision.Route {
	case RouteDecide, RouteRepeatStep, RouteSkipStep, RoutePlan, RouteEnd:
	default:
		decision.Route = RouteDecide
	}
	return decision
}
