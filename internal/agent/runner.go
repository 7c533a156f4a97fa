package agent

import (
	"context"
	"fmt"

	"github.com/netreee/setup-agent/internal/config"
	"github.com/netreee/setup-agent/internal/core"
	"github.com/netreee/setup-agent/internal/llm"
	"github.com/netreee/setup-agent/internal/prompt"
	"github.com/netreee/setup-agent/internal/tool"
	"github.com/netreee/setup-agent/internal/trace"
)

// Runner drives one complete agent run: discover to seed facts, then the
// plan–decide–execute–observe loop until the observer asserts end.
type Runner struct {
	Provider  llm.Provider
	Prompts   *prompt.Loader
	Registry  *tool.Registry
	ShellName string

	// RecursionLimit caps node transitions per flow (CLI --recursion-limit).
	RecursionLimit int

	// Progress receives per-step summary lines; nil means silent.
	Progress func(format string, args ...any)
}

// Run executes the goal. It returns nil when the observer routed end with no
// recorded failure, an error otherwise.
func (r *Runner) Run(ctx context.Context, goal string) error {
	limit := r.RecursionLimit
	if limit <= 0 {
		limit = config.DefaultRecursionLimit
	}
	progress := r.Progress
	if progress == nil {
		progress = func(string, ...any) {}
	}

	workRoot := config.WorkspaceRoot()
	seed := Facts{"repo_root": workRoot}
	seed.Normalize(workRoot)

	// Phase 1: read-only discovery seeds the fact store.
	progress("discover: exploring workspace %s", workRoot)
	summary, facts := RunDiscover(ctx, r.Provider, r.Prompts, r.Registry, goal, seed, limit)
	facts.Normalize(workRoot)
	trace.Note("runner", "discover_facts", facts)
	if summary != "" {
		progress("discover: %s", trace.Truncate(summary, 400))
	}

	// Phase 2: the main loop.
	state := NewAgentState(goal, r.Registry, facts)
	state.DiscoverSummary = summary

	flow := BuildTaskFlow(r.Provider, r.Prompts, r.Registry, r.ShellName, limit)

	// Progress is reported once the flow returns: the final observation, then
	// one line per plan step with its completion mark.
	action := flow.Run(ctx, state)

	progress("final: %s", state.Observation)
	for i, step := range state.Task.Steps {
		mark := " "
		if state.HasFinished(step.Title) {
			mark = "✓"
		}
		progress("step %d [%s] %s", i+1, mark, step.Title)
	}

	if action != core.ActionEnd || !state.Complete {
		return fmt.Errorf("agent stopped without completion (recursion limit or unrecoverable error): %s", state.Observation)
	}
	if state.Failed {
		return fmt.Errorf("agent ended with failure: %s", state.Observation)
	}
	return nil
}
