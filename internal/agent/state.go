// Package agent implements the plan–decide–execute–observe state machine and
// the read-only discover sub-agent that seeds its facts.
package agent

import (
	"github.com/netreee/setup-agent/internal/tool"
)

// Agent modes. discover gathers facts read-only; execute performs mutating
// operations. Every switch between them starts a new episode.
const (
	ModeDiscover = "discover"
	ModeExecute  = "execute"
)

// Observer routes. end is the only way the run terminates.
const (
	RouteDecide     = "decide"
	RouteRepeatStep = "repeat_step"
	RouteSkipStep   = "skip_step"
	RoutePlan       = "plan"
	RouteEnd        = "end"
)

// Step is one planned unit of work. Instruction is intent-only natural
// language ("read pyproject.toml"), never a shell command.
type Step struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Instruction string `json:"instruction"`
	Timeout     int    `json:"timeout,omitempty"` // seconds; 0 = decider default
}

// Task is the current plan.
type Task struct {
	ID    string `json:"id"`
	Goal  string `json:"goal"`
	Steps []Step `json:"steps"`
}

// MessageRecord is one entry of the append-only audit log: tool calls and
// tool results. Decisions never read it beyond the most recent tool result.
type MessageRecord struct {
	Kind    string `json:"kind"` // "tool_call" | "tool_result"
	Tool    string `json:"tool"`
	Payload string `json:"payload"`
}

// AgentState is the sole mutable object shared across nodes.
// NOT goroutine-safe: all fields must be accessed from a single goroutine.
// The Flow.Run implementation guarantees single-goroutine access.
type AgentState struct {
	Goal             string
	Task             Task
	CurrentStepIndex int
	LastResult       *tool.Envelope
	Mode             string
	Episode          int
	Facts            Facts
	FinishedTitles   []string
	RepeatCounts     map[string]int
	SessionID        string
	Messages         []MessageRecord
	Route            string
	ReplanRequested  bool
	ReadmeInfo       map[string]any

	Observation     string // last observer note, for CLI output
	Complete        bool
	Failed          bool
	DiscoverSummary string // natural-language summary from the discover sub-agent

	ToolRegistry *tool.Registry

	// Transient field: DecideNode writes, ExecuteNode reads.
	LastDecision *Decision `json:"-"`

	// Re-plan / mode-switch throttle scratch counters.
	lastPlanMode      string
	lastReplanEpisode int
}

// NewAgentState creates the run state with goal and seed facts.
func NewAgentState(goal string, registry *tool.Registry, seedFacts Facts) *AgentState {
	facts := Facts{}
	for k, v := range seedFacts {
		facts[k] = v
	}
	return &AgentState{
		Goal:         goal,
		Mode:         ModeDiscover,
		Episode:      1,
		Facts:        facts,
		RepeatCounts: map[string]int{},
		ToolRegistry: registry,
	}
}

// CurrentStep returns the step under the cursor, nil when the cursor has run
// past the plan.
func (s *AgentState) CurrentStep() *Step {
	if s.CurrentStepIndex < 0 || s.CurrentStepIndex >= len(s.Task.Steps) {
		return nil
	}
	return &s.Task.Steps[s.CurrentStepIndex]
}

// StepTitles returns the plan's title sequence.
func (s *AgentState) StepTitles() []string {
	titles := make([]string, len(s.Task.Steps))
	for i, st := range s.Task.Steps {
		titles[i] = st.Title
	}
	return titles
}

// HasFinished reports whether a step title is already in FinishedTitles.
func (s *AgentState) HasFinished(title string) bool {
	for _, t := range s.FinishedTitles {
		if t == title {
			return true
		}
	}
	return false
}

// MarkFinished appends a title to FinishedTitles once.
func (s *AgentState) MarkFinished(title string) {
	if title == "" || s.HasFinished(title) {
		return
	}
	s.FinishedTitles = append(s.FinishedTitles, title)
}

// AppendMessage records an audit entry.
func (s *AgentState) AppendMessage(kind, toolName, payload string) {
	s.Messages = append(s.Messages, MessageRecord{Kind: kind, Tool: toolName, Payload: payload})
}
