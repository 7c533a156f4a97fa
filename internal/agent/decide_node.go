package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/netreee/setup-agent/internal/core"
	"github.com/netreee/setup-agent/internal/llm"
	"github.com/netreee/setup-agent/internal/prompt"
	"github.com/netreee/setup-agent/internal/tool"
	"github.com/netreee/setup-agent/internal/trace"
)

// Decision actions.
const (
	ActionReplan          = "replan"
	ActionCallTool        = "call_tool"
	ActionCallInstruction = "call_instruction"
)

// Timeouts assigned by intent class. Clones and installs may legitimately
// run for half an hour; everything else fails fast.
const (
	defaultStepTimeout = 60
	longStepTimeout    = 1800
)

// Decision is the decider's output: exactly one of replan, call_tool, or
// call_instruction (the shell fallback).
type Decision struct {
	Action        string         `json:"action"`
	ToolName      string         `json:"tool_name,omitempty"`
	ToolArgs      map[string]any `json:"tool_args,omitempty"`
	NLInstruction string         `json:"nl_instruction,omitempty"`
	Timeout       int            `json:"timeout,omitempty"`
	SessionToken  string         `json:"session_token,omitempty"`
	Raw           string         `json:"-"`
}

// DecideNode implements BaseNode[AgentState, DecidePrep, Decision].
// It picks the next tool and arguments for the current step.
type DecideNode struct {
	provider llm.Provider
	prompts  *prompt.Loader
}

// NewDecideNode creates the decider node.
func NewDecideNode(provider llm.Provider, prompts *prompt.Loader) *DecideNode {
	return &DecideNode{provider: provider, prompts: prompts}
}

// DecidePrep carries the rendered prompt plus the fallback context.
type DecidePrep struct {
	Prompt          string
	StepInstruction string
	StepTimeout     int
	SessionToken    string
}

func (n *DecideNode) Prep(state *AgentState) []DecidePrep {
	step := state.CurrentStep()
	instruction := ""
	stepTimeout := 0
	if step != nil {
		instruction = step.Instruction
		stepTimeout = step.Timeout
	}

	rendered := n.prompts.Render("decider", map[string]string{
		"tools_prompt": state.ToolRegistry.GenerateToolsPrompt(),
		"context":      summarizeContext(state),
	})

	return []DecidePrep{{
		Prompt:          rendered,
		StepInstruction: instruction,
		StepTimeout:     stepTimeout,
		SessionToken:    state.SessionID,
	}}
}

func (n *DecideNode) Exec(ctx context.Context, prep DecidePrep) (Decision, error) {
	resp, err := n.provider.Complete(ctx, prep.Prompt, llm.Params{Temperature: 0.2, MaxTokens: 400})
	if err != nil {
		return Decision{}, err
	}
	return parseDecision(resp, prep), nil
}

// ExecFallback falls back to executing the raw step instruction through the
// shell wrapper — the run keeps moving even when the decider LLM is down.
func (n *DecideNode) ExecFallback(err error) Decision {
	trace.Note("decider", "llm_error", err.Error())
	return Decision{}
}

func (n *DecideNode) Post(state *AgentState, preps []DecidePrep, results ...Decision) core.Action {
	var decision Decision
	if len(results) > 0 {
		decision = results[0]
	}
	prep := DecidePrep{}
	if len(preps) > 0 {
		prep = preps[0]
	}

	if decision.Action == "" {
		decision = fallbackDecision(prep)
	}
	decision = applyFactGuards(decision, state)

	if decision.Action == ActionReplan {
		state.ReplanRequested = true
		state.Route = RoutePlan
		trace.Note("decider", "route", "plan")
		return core.ActionPlan
	}

	if decision.SessionToken == "" {
		decision.SessionToken = state.SessionID
	}
	if decision.Timeout <= 0 {
		decision.Timeout = timeoutForIntent(decision.NLInstruction, prep.StepTimeout)
	}

	// Export the root facts so the shell session and tools observe the
	// current values; children inherit a snapshot at spawn.
	if repoRoot := state.Facts.Str("repo_root"); repoRoot != "" {
		os.Setenv("REPO_ROOT", repoRoot)
	}
	if projectRoot := state.Facts.Str("project_root"); projectRoot != "" {
		os.Setenv("PROJECT_ROOT", projectRoot)
	}

	state.LastDecision = &decision
	state.Route = "execute"
	trace.Note("decider", "decision", decision)
	return core.ActionExecute
}

// fallbackDecision executes the raw step instruction when the LLM produced
// nothing usable. Without a current step the only sensible move is a re-plan.
func fallbackDecision(prep DecidePrep) Decision {
	if strings.TrimSpace(prep.StepInstruction) == "" {
		return Decision{Action: ActionReplan}
	}
	return Decision{
		Action:        ActionCallInstruction,
		NLInstruction: prep.StepInstruction,
		Timeout:       timeoutForIntent(prep.StepInstruction, prep.StepTimeout),
		SessionToken:  prep.SessionToken,
	}
}

// applyFactGuards enforces "facts override intent": a clone decision while
// project_root is already set (and present on disk) is rewritten into a
// repository status probe.
func applyFactGuards(decision Decision, state *AgentState) Decision {
	projectRoot := state.Facts.Str("project_root")
	if projectRoot == "" {
		return decision
	}
	if _, err := os.Stat(projectRoot); err != nil {
		return decision
	}

	cloneIntent := false
	switch decision.Action {
	case ActionCallTool:
		cloneIntent = decision.ToolName == "git_ensure_cloned"
	case ActionCallInstruction:
		cloneIntent = strings.Contains(strings.ToLower(decision.NLInstruction), "clone")
	}
	if !cloneIntent {
		return decision
	}

	trace.Note("decider", "fact_guard", "clone intent rewritten to git_repo_status: project_root exists")
	return Decision{
		Action:       ActionCallTool,
		ToolName:     "git_repo_status",
		ToolArgs:     map[string]any{"path": projectRoot},
		Timeout:      defaultStepTimeout,
		SessionToken: decision.SessionToken,
		Raw:          decision.Raw,
	}
}

// timeoutForIntent assigns the timeout class for an instruction. An explicit
// per-step timeout wins.
func timeoutForIntent(instruction string, stepTimeout int) int {
	if stepTimeout > 0 {
		return stepTimeout
	}
	lowered := strings.ToLower(instruction)
	for _, marker := range []string{"git clone", "git pull", "pip install", "install"} {
		if strings.Contains(lowered, marker) {
			return longStepTimeout
		}
	}
	return defaultStepTimeout
}

// parseDecision extracts a Decision from raw model output, falling back to
// the step instruction when the JSON is unusable.
func parseDecision(resp string, prep DecidePrep) Decision {
	obj := llm.ParseLooseJSON(resp)
	if obj == nil {
		trace.Note("decider", "unparseable_response", trace.Truncate(resp, 300))
		d := fallbackDecision(prep)
		d.Raw = resp
		return d
	}

	decision := Decision{
		Action:        llm.Str(obj, "action"),
		ToolName:      strings.TrimSpace(llm.Str(obj, "tool_name")),
		ToolArgs:      llm.Obj(obj, "tool_args"),
		NLInstruction: strings.TrimSpace(llm.Str(obj, "nl_instruction")),
		Timeout:       llm.Int(obj, "timeout", 0),
		SessionToken:  llm.Str(obj, "session_token"),
		Raw:           resp,
	}

	switch decision.Action {
	case ActionReplan:
		return Decision{Action: ActionReplan, Raw: resp}
	case ActionCallTool:
		if decision.ToolName == "" {
			return Decision{Action: ActionReplan, Raw: resp}
		}
		return decision
	case ActionCallInstruction:
		if decision.NLInstruction == "" {
			d := fallbackDecision(prep)
			d.Raw = resp
			return d
		}
		return decision
	default:
		d := fallbackDecision(prep)
		d.Raw = resp
		return d
	}
}

// summarizeContext renders the goal/plan/cursor/facts/last-result block fed
// to the decider LLM.
func summarizeContext(state *AgentState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task goal: %s\n", state.Goal)
	fmt.Fprintf(&sb, "Plan step titles: %s\n", titlesLine(state.StepTitles()))
	fmt.Fprintf(&sb, "Current step index: %d\n", state.CurrentStepIndex)
	if step := state.CurrentStep(); step != nil {
		fmt.Fprintf(&sb, "Current step: %q — %s\n", step.Title, step.Instruction)
	} else {
		sb.WriteString("Current step: (cursor past end of plan)\n")
	}
	fmt.Fprintf(&sb, "Mode: %s  Episode: %d\n", state.Mode, state.Episode)
	fmt.Fprintf(&sb, "Known facts: %s\n", state.Facts.JSON(1000))
	sb.WriteString("Last result:\n")
	sb.WriteString(summarizeEnvelope(state.LastResult))
	return sb.String()
}

// summarizeEnvelope renders a tool envelope for prompt context, showing only
// the fields a decision can act on.
func summarizeEnvelope(env *tool.Envelope) string {
	if env == nil {
		return "(none)\n"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "tool: %s\n", env.Tool)
	fmt.Fprintf(&sb, "ok: %v\n", env.OK)
	if env.Tool == "run_instruction" {
		fmt.Fprintf(&sb, "command: %s\n", env.Str("command"))
		fmt.Fprintf(&sb, "exit_code: %d\n", env.Int("exit_code", -1))
		fmt.Fprintf(&sb, "stdout: %s\n", trace.Truncate(env.Str("stdout"), 600))
	} else {
		keyData := map[string]any{}
		for _, k := range []string{"path", "dir", "exists", "content", "type", "installer", "reason", "project_root", "project_name", "existed", "cloned", "is_repo"} {
			if v, present := env.Data[k]; present {
				keyData[k] = v
			}
		}
		if b, err := json.Marshal(keyData); err == nil {
			fmt.Fprintf(&sb, "key data: %s\n", trace.Truncate(string(b), 600))
		}
	}
	if env.Error != "" {
		fmt.Fprintf(&sb, "error: %s\n", env.Error)
	}
	return sb.String()
}
