package builtin

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/netreee/setup-agent/internal/shell"
	"github.com/netreee/setup-agent/internal/tool"
)

const (
	gitProbeTimeout = 8 * time.Second
	gitCloneTimeout = 900 * time.Second
)

// runGit executes git with the given arguments and timeout.
func runGit(ctx context.Context, timeout time.Duration, dir string, args ...string) (int, string, string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	code := 0
	if err != nil {
		code = 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
	}
	return code, strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String())
}

func gitAvailable(ctx context.Context) bool {
	code, _, _ := runGit(ctx, gitProbeTimeout, "", "--version")
	return code == 0
}

func isGitRepo(ctx context.Context, dir string) bool {
	code, out, _ := runGit(ctx, gitProbeTimeout, "", "-C", dir, "rev-parse", "--is-inside-work-tree")
	return code == 0 && strings.EqualFold(out, "true")
}

func originURL(ctx context.Context, dir string) string {
	code, out, _ := runGit(ctx, gitProbeTimeout, "", "-C", dir, "remote", "get-url", "origin")
	if code != 0 {
		return ""
	}
	return out
}

func currentBranch(ctx context.Context, dir string) string {
	code, out, _ := runGit(ctx, gitProbeTimeout, "", "-C", dir, "rev-parse", "--abbrev-ref", "HEAD")
	if code != 0 || out == "HEAD" {
		return ""
	}
	return out
}

// ── git_repo_status ──

// GitRepoStatusTool reports whether a directory is a Git repository and its
// origin URL / current branch.
type GitRepoStatusTool struct{}

func NewGitRepoStatusTool() *GitRepoStatusTool { return &GitRepoStatusTool{} }

func (t *GitRepoStatusTool) Name() string { return "git_repo_status" }
func (t *GitRepoStatusTool) Description() string {
	return "Check whether a directory is a Git repository; report origin URL and branch"
}

func (t *GitRepoStatusTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "Directory to inspect (defaults to the workspace root)"},
	)
}

func (t *GitRepoStatusTool) Init(_ context.Context) error { return nil }
func (t *GitRepoStatusTool) Close() error                 { return nil }

func (t *GitRepoStatusTool) Execute(ctx context.Context, args json.RawMessage) tool.Envelope {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"path": ""}, tool.ErrInvalidJSON)
	}
	target := a.Path
	if target == "" {
		target = workspaceRoot()
	}
	p, errKind := resolveAndGuard(target)
	if errKind != "" {
		return tool.Fail(t.Name(), map[string]any{"path": target}, errKind)
	}
	if !gitAvailable(ctx) {
		return tool.Fail(t.Name(), map[string]any{"path": p}, tool.ErrGitUnavailable)
	}

	isRepo := isGitRepo(ctx, p)
	data := map[string]any{
		"path":    p,
		"is_repo": isRepo,
	}
	if isRepo {
		data["origin_url"] = originURL(ctx, p)
		data["branch"] = currentBranch(ctx, p)
	} else {
		data["origin_url"] = nil
		data["branch"] = nil
	}
	return tool.OK(t.Name(), data)
}

// ── git_ensure_cloned ──

// GitEnsureClonedTool makes a repository available inside the workspace:
// an existing destination is returned as-is (never re-cloned); otherwise a
// shallow clone is performed.
type GitEnsureClonedTool struct{}

func NewGitEnsureClonedTool() *GitEnsureClonedTool { return &GitEnsureClonedTool{} }

func (t *GitEnsureClonedTool) Name() string { return "git_ensure_cloned" }
func (t *GitEnsureClonedTool) Description() string {
	return "Ensure a repository is available in the workspace; shallow-clone only when missing"
}

func (t *GitEnsureClonedTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "url", Type: "string", Description: "Repository URL", Required: true},
		tool.SchemaParam{Name: "dest", Type: "string", Description: "Target directory; omit to derive from the URL"},
		tool.SchemaParam{Name: "depth", Type: "integer", Description: "Clone depth (default 1)"},
		tool.SchemaParam{Name: "sparse", Type: "boolean", Description: "Use blob filtering to minimize transfer"},
		tool.SchemaParam{Name: "branch", Type: "string", Description: "Branch to clone"},
	)
}

func (t *GitEnsureClonedTool) Init(_ context.Context) error { return nil }
func (t *GitEnsureClonedTool) Close() error                 { return nil }

type ensureClonedArgs struct {
	URL    string `json:"url"`
	Dest   string `json:"dest"`
	Depth  *int   `json:"depth"`
	Sparse *bool  `json:"sparse"`
	Branch string `json:"branch"`
}

func (t *GitEnsureClonedTool) Execute(ctx context.Context, args json.RawMessage) tool.Envelope {
	var a ensureClonedArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"url": ""}, tool.ErrInvalidJSON)
	}
	if strings.TrimSpace(a.URL) == "" {
		return tool.Fail(t.Name(), map[string]any{"url": a.URL}, tool.ErrInvalidURL)
	}
	if !gitAvailable(ctx) {
		return tool.Fail(t.Name(), map[string]any{"url": a.URL}, tool.ErrGitUnavailable)
	}

	workRoot := workspaceRoot()
	repoName := shell.RepoNameFromURL(a.URL)

	// "." / "" / the workspace root itself all mean "no specific destination":
	// cloning into the root would collide with the containment anchor, so the
	// URL-derived subdirectory is used instead.
	targetPath := ""
	dest := strings.TrimSpace(a.Dest)
	if dest != "" && dest != "." && dest != "./" {
		p, errKind := resolveAndGuard(dest)
		if errKind != "" {
			return tool.Fail(t.Name(), map[string]any{"url": a.URL, "dest": a.Dest}, errKind)
		}
		if p != workRoot {
			targetPath = p
		}
	}
	if targetPath == "" {
		targetPath = filepath.Join(workRoot, repoName)
	}

	if _, err := os.Stat(targetPath); err == nil {
		isRepo := isGitRepo(ctx, targetPath)
		data := map[string]any{
			"existed":      true,
			"cloned":       false,
			"repo_root":    workRoot,
			"project_root": targetPath,
			"project_name": repoName,
			"is_repo":      isRepo,
			"remote_url":   a.URL,
		}
		if isRepo {
			if origin := originURL(ctx, targetPath); origin != "" {
				data["remote_url"] = origin
			}
			data["branch"] = currentBranch(ctx, targetPath)
		} else {
			data["branch"] = nil
		}
		return tool.OK(t.Name(), data)
	}

	cloneArgs := []string{"clone"}
	depth := 1
	if a.Depth != nil {
		depth = *a.Depth
	}
	if depth > 0 {
		cloneArgs = append(cloneArgs, "--depth", strconv.Itoa(depth))
	}
	sparse := true
	if a.Sparse != nil {
		sparse = *a.Sparse
	}
	if sparse {
		cloneArgs = append(cloneArgs, "--filter=blob:none")
	}
	if a.Branch != "" {
		cloneArgs = append(cloneArgs, "-b", a.Branch)
	}
	cloneArgs = append(cloneArgs, a.URL, targetPath)

	code, stdout, stderr := runGit(ctx, gitCloneTimeout, workRoot, cloneArgs...)
	if code != 0 {
		return tool.Fail(t.Name(), map[string]any{
			"existed":      false,
			"cloned":       false,
			"repo_root":    workRoot,
			"project_root": targetPath,
			"project_name": repoName,
			"remote_url":   a.URL,
			"stdout":       stdout,
			"stderr":       stderr,
		}, tool.ErrGitCloneFailed)
	}

	return tool.OK(t.Name(), map[string]any{
		"existed":      false,
		"cloned":       true,
		"repo_root":    workRoot,
		"project_root": targetPath,
		"project_name": repoName,
		"remote_url":   firstNonEmpty(originURL(ctx, targetPath), a.URL),
		"branch":       currentBranch(ctx, targetPath),
		"is_repo":      isGitRepo(ctx, targetPath),
		"stdout":       stdout,
		"stderr":       stderr,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
