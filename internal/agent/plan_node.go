package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/netreee/setup-agent/internal/config"
	"github.com/netreee/setup-agent/internal/core"
	"github.com/netreee/setup-agent/internal/llm"
	"github.com/netreee/setup-agent/internal/prompt"
	"github.com/netreee/setup-agent/internal/trace"
)

// PlanNode implements BaseNode[AgentState, PlanPrep, PlanResult].
// It asks the LLM for a linear step plan and merges it into the task:
// incrementally (prefix preserved) on same-mode re-plans, wholesale with a
// cursor reset after a mode switch.
type PlanNode struct {
	provider llm.Provider
	prompts  *prompt.Loader
	shell    string // dialect name for the prompt's environment section
}

// NewPlanNode creates the planner node.
func NewPlanNode(provider llm.Provider, prompts *prompt.Loader, shellName string) *PlanNode {
	return &PlanNode{provider: provider, prompts: prompts, shell: shellName}
}

// PlanPrep carries the rendered prompt plus the context needed in Post.
type PlanPrep struct {
	Prompt     string
	ModeSwitch bool // plan follows a mode switch: replace instead of append
}

// PlanResult is the parsed planner output.
type PlanResult struct {
	Title     string
	Steps     []Step
	Installer string
	Raw       string
}

func (n *PlanNode) Prep(state *AgentState) []PlanPrep {
	idx := clamp(state.CurrentStepIndex, 0, len(state.Task.Steps))
	completed := state.Task.Steps[:idx]
	remaining := state.Task.Steps[idx:]

	hasContext := "no"
	if len(state.Task.Steps) > 0 {
		hasContext = "yes"
	}

	lastExit, lastCmd, lastStdout := "", "", ""
	if state.LastResult != nil {
		lastExit = strconv.Itoa(state.LastResult.Int("exit_code", -1))
		lastCmd = trace.Truncate(state.LastResult.Str("command"), 200)
		lastStdout = trace.Truncate(state.LastResult.Str("stdout"), 300)
	}

	rendered := n.prompts.Render("planner", map[string]string{
		"goal":             state.Goal,
		"mode":             state.Mode,
		"episode":          strconv.Itoa(state.Episode),
		"work_root":        config.WorkspaceRoot(),
		"shell_name":       n.shell,
		"facts":            state.Facts.JSON(1200),
		"finished_titles":  titlesLine(state.FinishedTitles),
		"discover_summary": trace.Truncate(state.DiscoverSummary, 1500),
		"has_context":      hasContext,
		"completed_titles": titlesLine(stepTitles(completed)),
		"remaining_titles": titlesLine(stepTitles(remaining)),
		"last_exit":        lastExit,
		"last_cmd":         lastCmd,
		"last_stdout":      lastStdout,
	})

	modeSwitch := state.lastPlanMode != "" && state.lastPlanMode != state.Mode
	return []PlanPrep{{Prompt: rendered, ModeSwitch: modeSwitch}}
}

func (n *PlanNode) Exec(ctx context.Context, prep PlanPrep) (PlanResult, error) {
	resp, err := n.provider.Complete(ctx, prep.Prompt, llm.Params{Temperature: 0.1, MaxTokens: 1200})
	if err != nil {
		return PlanResult{}, err
	}
	return parsePlanResponse(resp), nil
}

// ExecFallback degrades to an empty result; Post turns it into the
// single-step fallback plan.
func (n *PlanNode) ExecFallback(err error) PlanResult {
	trace.Note("planner", "llm_error", err.Error())
	return PlanResult{}
}

func (n *PlanNode) Post(state *AgentState, preps []PlanPrep, results ...PlanResult) core.Action {
	var result PlanResult
	if len(results) > 0 {
		result = results[0]
	}

	steps := result.Steps
	// Planner hard constraint: never repeat a finished title. Enforce it here
	// as well — the prompt asks, the merge guarantees.
	filtered := steps[:0]
	for _, st := range steps {
		if !state.HasFinished(st.Title) {
			filtered = append(filtered, st)
		}
	}
	steps = filtered

	if len(steps) == 0 {
		// Parse failure or empty plan: degrade to executing the goal directly.
		steps = []Step{{Title: "execute goal", Instruction: state.Goal}}
	}

	modeSwitch := len(preps) > 0 && preps[0].ModeSwitch
	if modeSwitch || len(state.Task.Steps) == 0 {
		// Mode-switched (or first) plan: replace the list, reset the cursor.
		state.Task = Task{
			ID:    uuid.New().String()[:8],
			Goal:  state.Goal,
			Steps: renumber(steps, 0),
		}
		state.CurrentStepIndex = 0
	} else {
		// Incremental re-plan: the completed prefix is immutable; returned
		// steps replace the remainder.
		idx := clamp(state.CurrentStepIndex, 0, len(state.Task.Steps))
		prefix := append([]Step{}, state.Task.Steps[:idx]...)
		state.Task.Steps = append(prefix, renumber(steps, idx)...)
		if state.Task.ID == "" {
			state.Task.ID = uuid.New().String()[:8]
		}
		state.Task.Goal = state.Goal
	}

	state.lastPlanMode = state.Mode
	state.ReplanRequested = false
	state.LastResult = nil
	state.Route = RouteDecide

	title := result.Title
	if title == "" {
		title = state.Goal
	}
	state.Observation = fmt.Sprintf("plan %q: %d step(s): %s",
		title, len(state.Task.Steps), strings.Join(state.StepTitles(), " → "))
	trace.Note("planner", "plan", state.Observation)
	if result.Installer != "" {
		trace.Note("planner", "environment_selection", result.Installer)
	}

	return core.ActionDecide
}

// parsePlanResponse extracts the plan from raw model output.
func parsePlanResponse(resp string) PlanResult {
	obj := llm.ParseLooseJSON(resp)
	if obj == nil {
		return PlanResult{Raw: resp}
	}
	result := PlanResult{
		Title: llm.Str(obj, "title"),
		Raw:   resp,
	}
	if sel := llm.Obj(obj, "environment_selection"); sel != nil {
		result.Installer = llm.Str(sel, "installer")
	}
	for _, item := range llm.List(obj, "steps") {
		stepObj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		title := strings.TrimSpace(llm.Str(stepObj, "title"))
		instruction := strings.TrimSpace(llm.Str(stepObj, "instruction"))
		if instruction == "" {
			continue
		}
		if title == "" {
			title = fmt.Sprintf("step %d", len(result.Steps)+1)
		}
		result.Steps = append(result.Steps, Step{
			Title:       title,
			Instruction: instruction,
			Timeout:     llm.Int(stepObj, "timeout", 0),
		})
	}
	return result
}

func renumber(steps []Step, base int) []Step {
	out := make([]Step, len(steps))
	for i, st := range steps {
		st.ID = base + i + 1
		out[i] = st
	}
	return out
}

func stepTitles(steps []Step) []string {
	titles := make([]string, len(steps))
	for i, st := range steps {
		titles[i] = st.Title
	}
	return titles
}

func titlesLine(titles []string) string {
	if len(titles) == 0 {
		return "(none)"
	}
	return strings.Join(titles, ", ")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
