// Command setup-agent runs the autonomous task-execution agent: it takes a
// natural-language goal and drives the host shell to completion, interleaving
// LLM planning with deterministic tool calls.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/netreee/setup-agent/internal/agent"
	"github.com/netreee/setup-agent/internal/config"
	"github.com/netreee/setup-agent/internal/llm/openai"
	"github.com/netreee/setup-agent/internal/prompt"
	"github.com/netreee/setup-agent/internal/shell"
	"github.com/netreee/setup-agent/internal/tool"
	"github.com/netreee/setup-agent/internal/tool/builtin"
)

func main() {
	var goal string
	var recursionLimit int

	root := &cobra.Command{
		Use:          "setup-agent --goal <text>",
		Short:        "Autonomous setup agent: plan, execute and observe until the goal is done",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), goal, recursionLimit)
		},
	}
	root.Flags().StringVar(&goal, "goal", "", "task description, e.g. \"install all dependencies of this repository\"")
	root.Flags().IntVar(&recursionLimit, "recursion-limit", config.DefaultRecursionLimit, "maximum node transitions per run")
	_ = root.MarkFlagRequired("goal")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "setup-agent: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, goal string, recursionLimit int) error {
	config.LoadEnv()

	provider, err := openai.NewClientFromEnv()
	if err != nil {
		return fmt.Errorf("initialize LLM client: %w", err)
	}

	workRoot := config.WorkspaceRoot()
	fmt.Printf("workspace: %s\n", workRoot)
	fmt.Printf("model:     %s\n", provider.Model())

	dialect := shell.DefaultDialect()
	manager := shell.NewManager(dialect, time.Duration(config.LineTimeoutSecs())*time.Second)
	defer manager.CloseAll()

	registry := tool.NewRegistry()
	registry.Register(builtin.NewFilesExistsTool())
	registry.Register(builtin.NewFilesStatTool())
	registry.Register(builtin.NewFilesListTool())
	registry.Register(builtin.NewFilesReadTool())
	registry.Register(builtin.NewFilesFindTool())
	registry.Register(builtin.NewFilesReadSectionTool())
	registry.Register(builtin.NewFilesReadRangeTool())
	registry.Register(builtin.NewFilesGrepTool())
	registry.Register(builtin.NewMdOutlineTool())
	registry.Register(builtin.NewPyenvPythonInfoTool())
	registry.Register(builtin.NewPyenvToolVersionsTool())
	registry.Register(builtin.NewPyenvParsePyprojectTool())
	registry.Register(builtin.NewPyenvSelectInstallerTool())
	registry.Register(builtin.NewGitRepoStatusTool())
	registry.Register(builtin.NewGitEnsureClonedTool())
	registry.Register(builtin.NewRunInstructionTool(manager, provider))

	if err := registry.InitAll(ctx); err != nil {
		return fmt.Errorf("initialize tools: %w", err)
	}
	defer registry.CloseAll()

	runner := &agent.Runner{
		Provider:       provider,
		Prompts:        prompt.NewLoaderFromEnv(),
		Registry:       registry,
		ShellName:      dialect.Name(),
		RecursionLimit: recursionLimit,
		Progress: func(format string, args ...any) {
			fmt.Printf(format+"\n", args...)
		},
	}
	return runner.Run(ctx, goal)
}
