// Package builtin implements the agent's native tools: read-only filesystem
// probes (files_*), Python environment analyzers (pyenv_*), Git helpers
// (git_*), and the shell-backed run_instruction tool.
//
// Every filesystem tool resolves paths through the shared guard below:
// relative paths anchor at the workspace root, and any path that escapes the
// root — via "..", a symlink, or an outright absolute path — is rejected with
// the stable error kind path_out_of_root.
package builtin

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/netreee/setup-agent/internal/config"
	"github.com/netreee/setup-agent/internal/tool"
	"github.com/netreee/setup-agent/internal/util"
)

// workspaceRoot returns the absolute containment root, with symlinks in the
// root itself resolved so descendant checks compare like with like.
func workspaceRoot() string {
	root := config.WorkspaceRoot()
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		return resolved
	}
	return filepath.Clean(root)
}

// resolveAndGuard resolves a caller-supplied path inside the workspace root.
// Returns the absolute resolved path and "" on success, or "" and a stable
// error kind (path_out_of_root, resolve_error) on failure.
func resolveAndGuard(raw string) (string, string) {
	root := workspaceRoot()

	p := util.ExpandRoot(raw, root)
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)

	// Resolve symlinks when the target exists; a dangling path is checked
	// lexically, which is already ".."-proof after Clean.
	resolved := p
	if ev, err := filepath.EvalSymlinks(p); err == nil {
		resolved = ev
	} else if !os.IsNotExist(err) {
		return "", tool.ErrResolve
	}

	if !isWithin(root, resolved) {
		return "", tool.ErrPathOutOfRoot
	}
	return resolved, ""
}

// isWithin reports whether path equals root or lies strictly beneath it.
func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
