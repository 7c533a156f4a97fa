package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/netreee/setup-agent/internal/core"
	"github.com/netreee/setup-agent/internal/tool"
	"github.com/netreee/setup-agent/internal/trace"
)

// toolCallGrace extends the tool-level context beyond the command timeout so
// the shell manager reports a proper synthetic 124 result before the context
// would cut it off.
const toolCallGrace = 5 * time.Second

// ExecuteNode implements BaseNode[AgentState, ExecutePrep, tool.Envelope].
// It performs the tool call the decider chose. No LLM involvement.
type ExecuteNode struct {
	registry *tool.Registry
}

// NewExecuteNode creates the execution node.
func NewExecuteNode(registry *tool.Registry) *ExecuteNode {
	return &ExecuteNode{registry: registry}
}

// ExecutePrep is one resolved tool invocation.
type ExecutePrep struct {
	ToolName string
	Args     json.RawMessage
	Timeout  time.Duration
}

func (n *ExecuteNode) Prep(state *AgentState) []ExecutePrep {
	decision := state.LastDecision
	if decision == nil {
		return nil
	}

	var name string
	var args map[string]any
	switch decision.Action {
	case ActionCallTool:
		name = decision.ToolName
		args = decision.ToolArgs
		if args == nil {
			args = map[string]any{}
		}
	case ActionCallInstruction:
		name = "run_instruction"
		args = map[string]any{
			"intent":  decision.NLInstruction,
			"timeout": decision.Timeout,
		}
		if decision.SessionToken != "" {
			args["session_token"] = decision.SessionToken
		}
	default:
		return nil
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil
	}

	state.AppendMessage("tool_call", name, string(raw))
	return []ExecutePrep{{
		ToolName: name,
		Args:     raw,
		Timeout:  time.Duration(decision.Timeout) * time.Second,
	}}
}

func (n *ExecuteNode) Exec(ctx context.Context, prep ExecutePrep) (tool.Envelope, error) {
	if prep.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, prep.Timeout+toolCallGrace)
		defer cancel()
	}
	env := n.registry.Call(ctx, prep.ToolName, prep.Args)
	return env, nil
}

// ExecFallback never fires in practice (Call absorbs errors), but the
// contract requires a well-formed envelope either way.
func (n *ExecuteNode) ExecFallback(err error) tool.Envelope {
	return tool.Fail("unknown", map[string]any{}, err.Error())
}

func (n *ExecuteNode) Post(state *AgentState, preps []ExecutePrep, results ...tool.Envelope) core.Action {
	state.LastDecision = nil
	if len(results) == 0 {
		// Nothing to execute (cursor overrun or marshal failure): let the
		// observer route.
		state.LastResult = nil
		return core.ActionObserve
	}

	env := results[0]
	state.LastResult = &env
	state.AppendMessage("tool_result", env.Tool, env.JSON())

	// A rebuilt shell session hands back a fresh token; keep it.
	if token := env.Str("session_token"); token != "" {
		state.SessionID = token
	}

	trace.Note("executor", "tool", env.Tool)
	trace.Note("executor", "ok", env.OK)
	return core.ActionObserve
}
