package builtin

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/netreee/setup-agent/internal/tool"
)

// initSourceRepo creates a git repository with one commit outside the
// workspace and returns its path.
func initSourceRepo(t *testing.T) string {
	t.Helper()
	if !gitAvailable(context.Background()) {
		t.Skip("git not available")
	}
	src := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = src
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-q")
	if err := os.WriteFile(filepath.Join(src, "README.md"), []byte("# demo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-q", "-m", "initial")
	return src
}

func TestGitRepoStatus_NotARepo(t *testing.T) {
	setupWorkspace(t, map[string]string{"plain/file.txt": "x"})
	if !gitAvailable(context.Background()) {
		t.Skip("git not available")
	}
	env := NewGitRepoStatusTool().Execute(context.Background(), mustJSON(t, map[string]any{"path": "plain"}))
	if !env.OK || env.Bool("is_repo") {
		t.Errorf("expected is_repo=false, got %+v", env)
	}
}

func TestGitEnsureCloned_FreshClone(t *testing.T) {
	src := initSourceRepo(t)
	root := setupWorkspace(t, nil)

	env := NewGitEnsureClonedTool().Execute(context.Background(), mustJSON(t, map[string]any{"url": src}))
	if !env.OK {
		t.Fatalf("ensure_cloned failed: %+v", env)
	}
	if env.Bool("existed") || !env.Bool("cloned") {
		t.Errorf("flags = existed:%v cloned:%v", env.Bool("existed"), env.Bool("cloned"))
	}
	wantDest := filepath.Join(root, filepath.Base(src))
	if env.Str("project_root") != wantDest {
		t.Errorf("project_root = %q, want %q", env.Str("project_root"), wantDest)
	}
	if env.Str("project_name") != filepath.Base(src) {
		t.Errorf("project_name = %q", env.Str("project_name"))
	}
	if _, err := os.Stat(filepath.Join(wantDest, "README.md")); err != nil {
		t.Errorf("clone missing content: %v", err)
	}
}

func TestGitEnsureCloned_Idempotent(t *testing.T) {
	src := initSourceRepo(t)
	setupWorkspace(t, nil)

	first := NewGitEnsureClonedTool().Execute(context.Background(), mustJSON(t, map[string]any{"url": src}))
	if !first.OK || !first.Bool("cloned") {
		t.Fatalf("first clone: %+v", first)
	}

	second := NewGitEnsureClonedTool().Execute(context.Background(), mustJSON(t, map[string]any{"url": src}))
	if !second.OK {
		t.Fatalf("second call: %+v", second)
	}
	if !second.Bool("existed") || second.Bool("cloned") {
		t.Errorf("re-run must not clone again: existed:%v cloned:%v",
			second.Bool("existed"), second.Bool("cloned"))
	}
	if second.Str("project_root") != first.Str("project_root") {
		t.Errorf("project_root changed: %q vs %q", second.Str("project_root"), first.Str("project_root"))
	}
}

func TestGitEnsureCloned_DotDestMeansDefault(t *testing.T) {
	src := initSourceRepo(t)
	root := setupWorkspace(t, nil)

	env := NewGitEnsureClonedTool().Execute(context.Background(), mustJSON(t, map[string]any{
		"url": src, "dest": ".",
	}))
	if !env.OK {
		t.Fatalf("ensure_cloned failed: %+v", env)
	}
	if env.Str("project_root") != filepath.Join(root, filepath.Base(src)) {
		t.Errorf("dest '.' must fall back to the URL-derived subdirectory, got %q", env.Str("project_root"))
	}
}

func TestGitEnsureCloned_EmptyURL(t *testing.T) {
	setupWorkspace(t, nil)
	env := NewGitEnsureClonedTool().Execute(context.Background(), mustJSON(t, map[string]any{"url": ""}))
	if env.OK || env.Error != tool.ErrInvalidURL {
		t.Errorf("expected invalid_url, got %+v", env)
	}
}

func TestGitEnsureCloned_CloneFailure(t *testing.T) {
	setupWorkspace(t, nil)
	if !gitAvailable(context.Background()) {
		t.Skip("git not available")
	}
	env := NewGitEnsureClonedTool().Execute(context.Background(), mustJSON(t, map[string]any{
		"url": filepath.Join(t.TempDir(), "does-not-exist"),
	}))
	if env.OK || env.Error != tool.ErrGitCloneFailed {
		t.Errorf("expected git_clone_failed, got %+v", env)
	}
	if env.Bool("cloned") {
		t.Error("cloned must be false on failure")
	}
}
