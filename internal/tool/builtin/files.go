package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/netreee/setup-agent/internal/tool"
)

const (
	defaultListLimit = 1000
	defaultFindLimit = 2000
)

// matchAny reports whether any pattern matches the entry name or its
// workspace-relative path (slash-separated, so patterns are portable).
func matchAny(patterns []string, name, relPath string) bool {
	rel := filepath.ToSlash(relPath)
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, name); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func entryKind(d fs.DirEntry) string {
	if d.IsDir() {
		return "dir"
	}
	if d.Type().IsRegular() {
		return "file"
	}
	return "other"
}

// ── files_exists ──

// FilesExistsTool checks whether a path exists within the workspace root.
type FilesExistsTool struct{}

func NewFilesExistsTool() *FilesExistsTool { return &FilesExistsTool{} }

func (t *FilesExistsTool) Name() string { return "files_exists" }
func (t *FilesExistsTool) Description() string {
	return "Check whether a file or directory exists inside the workspace"
}

func (t *FilesExistsTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "Path, relative to the workspace root or absolute inside it", Required: true},
	)
}

func (t *FilesExistsTool) Init(_ context.Context) error { return nil }
func (t *FilesExistsTool) Close() error                 { return nil }

type pathArgs struct {
	Path string `json:"path"`
}

func (t *FilesExistsTool) Execute(_ context.Context, args json.RawMessage) tool.Envelope {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"path": ""}, tool.ErrInvalidJSON)
	}
	p, errKind := resolveAndGuard(a.Path)
	if errKind != "" {
		return tool.Fail(t.Name(), map[string]any{"path": a.Path}, errKind)
	}
	_, err := os.Lstat(p)
	return tool.OK(t.Name(), map[string]any{"exists": err == nil, "path": p})
}

// ── files_stat ──

// FilesStatTool stats a file or directory.
type FilesStatTool struct{}

func NewFilesStatTool() *FilesStatTool { return &FilesStatTool{} }

func (t *FilesStatTool) Name() string        { return "files_stat" }
func (t *FilesStatTool) Description() string { return "Stat a file or directory (type, size, mtime)" }

func (t *FilesStatTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "Path to stat", Required: true},
	)
}

func (t *FilesStatTool) Init(_ context.Context) error { return nil }
func (t *FilesStatTool) Close() error                 { return nil }

func (t *FilesStatTool) Execute(_ context.Context, args json.RawMessage) tool.Envelope {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"path": "", "type": "missing"}, tool.ErrInvalidJSON)
	}
	p, errKind := resolveAndGuard(a.Path)
	if errKind != "" {
		return tool.Fail(t.Name(), map[string]any{"path": a.Path, "type": "missing"}, errKind)
	}
	info, err := os.Lstat(p)
	if err != nil {
		// Missing is a successful probe, not an error.
		return tool.OK(t.Name(), map[string]any{"path": p, "type": "missing"})
	}
	kind := "other"
	switch {
	case info.IsDir():
		kind = "dir"
	case info.Mode().IsRegular():
		kind = "file"
	}
	return tool.OK(t.Name(), map[string]any{
		"path":       p,
		"type":       kind,
		"size":       info.Size(),
		"mtime":      float64(info.ModTime().UnixNano()) / 1e9,
		"is_symlink": info.Mode()&os.ModeSymlink != 0,
	})
}

// ── files_list ──

// FilesListTool lists entries under a directory with optional recursion and
// glob filtering.
type FilesListTool struct{}

func NewFilesListTool() *FilesListTool { return &FilesListTool{} }

func (t *FilesListTool) Name() string { return "files_list" }
func (t *FilesListTool) Description() string {
	return "List entries under a directory, optionally recursive, with glob filters"
}

func (t *FilesListTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "Directory to list ('.' for the workspace root)", Required: true},
		tool.SchemaParam{Name: "files_only", Type: "boolean", Description: "Only include regular files"},
		tool.SchemaParam{Name: "recurse", Type: "boolean", Description: "Walk subdirectories"},
		tool.SchemaParam{Name: "patterns", Type: "array", Description: "Glob patterns matched against name or relative path"},
		tool.SchemaParam{Name: "limit", Type: "integer", Description: "Maximum entries returned (default 1000)"},
	)
}

func (t *FilesListTool) Init(_ context.Context) error { return nil }
func (t *FilesListTool) Close() error                 { return nil }

type listArgs struct {
	Path      string   `json:"path"`
	FilesOnly bool     `json:"files_only"`
	Recurse   bool     `json:"recurse"`
	Patterns  []string `json:"patterns"`
	Limit     int      `json:"limit"`
}

func (t *FilesListTool) Execute(_ context.Context, args json.RawMessage) tool.Envelope {
	var a listArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"dir": "", "entries": []any{}}, tool.ErrInvalidJSON)
	}
	if a.Limit <= 0 {
		a.Limit = defaultListLimit
	}
	p, errKind := resolveAndGuard(a.Path)
	if errKind != "" {
		return tool.Fail(t.Name(), map[string]any{"dir": a.Path, "entries": []any{}}, errKind)
	}
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return tool.Fail(t.Name(), map[string]any{"dir": p, "entries": []any{}}, tool.ErrNotADirectory)
	}

	root := workspaceRoot()
	entries := make([]map[string]any, 0, 64)
	truncated := false

	add := func(path string, d fs.DirEntry) bool {
		if a.FilesOnly && !d.Type().IsRegular() {
			return true
		}
		if len(a.Patterns) > 0 {
			rel, _ := filepath.Rel(root, path)
			if !matchAny(a.Patterns, d.Name(), rel) {
				return true
			}
		}
		entries = append(entries, map[string]any{
			"name": d.Name(),
			"path": path,
			"type": entryKind(d),
		})
		if len(entries) >= a.Limit {
			truncated = true
			return false
		}
		return true
	}

	if !a.Recurse {
		dirEntries, err := os.ReadDir(p)
		if err != nil {
			return tool.Fail(t.Name(), map[string]any{"dir": p, "entries": []any{}}, fmt.Sprintf("%T: %v", err, err))
		}
		for _, d := range dirEntries {
			if !add(filepath.Join(p, d.Name()), d) {
				break
			}
		}
	} else {
		_ = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable subtree: skip, do not fail the listing
			}
			if path == p {
				return nil
			}
			if !add(path, d) {
				return fs.SkipAll
			}
			return nil
		})
	}

	return tool.OK(t.Name(), map[string]any{"dir": p, "entries": entries, "truncated": truncated})
}

// ── files_find ──

// FilesFindTool searches for files and directories by glob pattern.
type FilesFindTool struct{}

func NewFilesFindTool() *FilesFindTool { return &FilesFindTool{} }

func (t *FilesFindTool) Name() string { return "files_find" }
func (t *FilesFindTool) Description() string {
	return "Find files/dirs under a start directory using include/exclude globs"
}

func (t *FilesFindTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "start_dir", Type: "string", Description: "Directory to search from", Required: true},
		tool.SchemaParam{Name: "include_globs", Type: "array", Description: "Include patterns (empty = include all)"},
		tool.SchemaParam{Name: "exclude_globs", Type: "array", Description: "Exclude patterns, applied after include"},
		tool.SchemaParam{Name: "first_only", Type: "boolean", Description: "Stop at the first match"},
		tool.SchemaParam{Name: "limit", Type: "integer", Description: "Maximum matches (default 2000)"},
	)
}

func (t *FilesFindTool) Init(_ context.Context) error { return nil }
func (t *FilesFindTool) Close() error                 { return nil }

type findArgs struct {
	StartDir     string   `json:"start_dir"`
	IncludeGlobs []string `json:"include_globs"`
	ExcludeGlobs []string `json:"exclude_globs"`
	FirstOnly    bool     `json:"first_only"`
	Limit        int      `json:"limit"`
}

func (t *FilesFindTool) Execute(_ context.Context, args json.RawMessage) tool.Envelope {
	var a findArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"start_dir": "", "matches": []any{}}, tool.ErrInvalidJSON)
	}
	if a.Limit <= 0 {
		a.Limit = defaultFindLimit
	}
	p, errKind := resolveAndGuard(a.StartDir)
	if errKind != "" {
		return tool.Fail(t.Name(), map[string]any{"start_dir": a.StartDir, "matches": []any{}}, errKind)
	}
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return tool.Fail(t.Name(), map[string]any{"start_dir": p, "matches": []any{}}, tool.ErrNotADirectory)
	}

	root := workspaceRoot()
	matches := make([]string, 0, 32)
	truncated := false

	_ = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == p {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		included := len(a.IncludeGlobs) == 0 || matchAny(a.IncludeGlobs, d.Name(), rel)
		if !included {
			return nil
		}
		if len(a.ExcludeGlobs) > 0 && matchAny(a.ExcludeGlobs, d.Name(), rel) {
			return nil
		}
		matches = append(matches, path)
		if a.FirstOnly {
			return fs.SkipAll
		}
		if len(matches) >= a.Limit {
			truncated = true
			return fs.SkipAll
		}
		return nil
	})

	return tool.OK(t.Name(), map[string]any{
		"start_dir": p,
		"matches":   matches,
		"pattern":   strings.Join(a.IncludeGlobs, ","),
		"truncated": truncated,
	})
}
