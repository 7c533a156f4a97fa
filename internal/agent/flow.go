package agent

import (
	"github.com/netreee/setup-agent/internal/core"
	"github.com/netreee/setup-agent/internal/llm"
	"github.com/netreee/setup-agent/internal/prompt"
	"github.com/netreee/setup-agent/internal/tool"
)

// BuildTaskFlow assembles the main task graph:
//
//	plan ──► decide ──► execute ──► observe
//	  ▲         │                      │
//	  │         └──── (replan) ────────┤ plan
//	  └────────────────────────────────┤
//	                                   ├ decide ──► decide
//	                                   └ end    ──► END
//
// The observer's end route is the only way the flow terminates; the hop cap
// (recursion limit) is a safety net, not a success path.
func BuildTaskFlow(provider llm.Provider, prompts *prompt.Loader, registry *tool.Registry, shellName string, maxHops int) *core.Flow[AgentState] {
	plan := core.NewNode[AgentState, PlanPrep, PlanResult](NewPlanNode(provider, prompts, shellName), 1)
	decide := core.NewNode[AgentState, DecidePrep, Decision](NewDecideNode(provider, prompts), 1)
	execute := core.NewNode[AgentState, ExecutePrep, tool.Envelope](NewExecuteNode(registry), 0)
	observe := core.NewNode[AgentState, ObservePrep, RouteDecision](NewObserveNode(provider, prompts), 1)

	plan.AddSuccessor(decide, core.ActionDecide)
	decide.AddSuccessor(execute, core.ActionExecute)
	decide.AddSuccessor(plan, core.ActionPlan)
	execute.AddSuccessor(observe, core.ActionObserve)
	observe.AddSuccessor(decide, core.ActionDecide)
	observe.AddSuccessor(plan, core.ActionPlan)
	// core.ActionEnd has no successor: the flow stops there.

	return core.NewFlow[AgentState](plan).WithMaxHops(maxHops)
}
