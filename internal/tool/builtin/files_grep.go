package builtin

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/netreee/setup-agent/internal/tool"
	"github.com/netreee/setup-agent/internal/util"
)

const (
	defaultGrepLimit = 500
	grepLineCap      = 400
	grepFileCap      = 4 << 20 // skip files larger than 4 MiB
)

// FilesGrepTool searches text files recursively for regex patterns.
type FilesGrepTool struct{}

func NewFilesGrepTool() *FilesGrepTool { return &FilesGrepTool{} }

func (t *FilesGrepTool) Name() string { return "files_grep" }
func (t *FilesGrepTool) Description() string {
	return "Search recursively for regex patterns in text files"
}

func (t *FilesGrepTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "start_dir", Type: "string", Description: "Directory to search from", Required: true},
		tool.SchemaParam{Name: "patterns", Type: "array", Description: "Regex patterns", Required: true},
		tool.SchemaParam{Name: "include_globs", Type: "array", Description: "Restrict to files matching these globs"},
		tool.SchemaParam{Name: "first_only", Type: "boolean", Description: "Stop at the first match"},
		tool.SchemaParam{Name: "limit", Type: "integer", Description: "Maximum matches (default 500)"},
	)
}

func (t *FilesGrepTool) Init(_ context.Context) error { return nil }
func (t *FilesGrepTool) Close() error                 { return nil }

type grepArgs struct {
	StartDir     string   `json:"start_dir"`
	Patterns     []string `json:"patterns"`
	IncludeGlobs []string `json:"include_globs"`
	FirstOnly    bool     `json:"first_only"`
	Limit        int      `json:"limit"`
}

func (t *FilesGrepTool) Execute(_ context.Context, args json.RawMessage) tool.Envelope {
	var a grepArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"start_dir": "", "matches": []any{}}, tool.ErrInvalidJSON)
	}
	if a.Limit <= 0 {
		a.Limit = defaultGrepLimit
	}
	p, errKind := resolveAndGuard(a.StartDir)
	if errKind != "" {
		return tool.Fail(t.Name(), map[string]any{"start_dir": a.StartDir, "matches": []any{}}, errKind)
	}
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return tool.Fail(t.Name(), map[string]any{"start_dir": p, "matches": []any{}}, tool.ErrNotADirectory)
	}

	regexps := make([]*regexp.Regexp, 0, len(a.Patterns))
	for _, pat := range a.Patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return tool.Fail(t.Name(), map[string]any{"start_dir": p, "matches": []any{}}, tool.ErrParse)
		}
		regexps = append(regexps, re)
	}

	root := workspaceRoot()
	matches := make([]map[string]any, 0, 32)
	truncated := false

	_ = filepath.WalkDir(p, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(a.IncludeGlobs) > 0 {
			rel, _ := filepath.Rel(root, path)
			if !matchAny(a.IncludeGlobs, d.Name(), rel) {
				return nil
			}
		}
		if fi, err := d.Info(); err != nil || fi.Size() > grepFileCap {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for lineNo, line := range strings.Split(decodeText(data), "\n") {
			for _, re := range regexps {
				if !re.MatchString(line) {
					continue
				}
				matches = append(matches, map[string]any{
					"path":    path,
					"line_no": lineNo + 1,
					"line":    util.TruncateRunes(line, grepLineCap),
					"pattern": re.String(),
				})
				if a.FirstOnly || len(matches) >= a.Limit {
					if len(matches) >= a.Limit && !a.FirstOnly {
						truncated = true
					}
					return fs.SkipAll
				}
			}
		}
		return nil
	})

	return tool.OK(t.Name(), map[string]any{
		"start_dir": p,
		"matches":   matches,
		"truncated": truncated,
		"patterns":  a.Patterns,
	})
}

// ── md_outline ──

var mdHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)

// MdOutlineTool extracts Markdown headings with their section line ranges.
type MdOutlineTool struct{}

func NewMdOutlineTool() *MdOutlineTool { return &MdOutlineTool{} }

func (t *MdOutlineTool) Name() string { return "md_outline" }
func (t *MdOutlineTool) Description() string {
	return "Extract Markdown headings (#..######) and their section line ranges"
}

func (t *MdOutlineTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "Markdown file path", Required: true},
	)
}

func (t *MdOutlineTool) Init(_ context.Context) error { return nil }
func (t *MdOutlineTool) Close() error                 { return nil }

func (t *MdOutlineTool) Execute(_ context.Context, args json.RawMessage) tool.Envelope {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"path": "", "sections": []any{}}, tool.ErrInvalidJSON)
	}
	p, errKind := resolveAndGuard(a.Path)
	if errKind != "" {
		return tool.Fail(t.Name(), map[string]any{"path": a.Path, "sections": []any{}}, errKind)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return tool.Fail(t.Name(), map[string]any{"path": p, "sections": []any{}}, tool.ErrNotAFile)
	}

	lines := strings.Split(decodeText(data), "\n")
	type heading struct {
		level  int
		title  string
		lineNo int
	}
	var headings []heading
	for i, line := range lines {
		if m := mdHeadingRe.FindStringSubmatch(line); m != nil {
			headings = append(headings, heading{level: len(m[1]), title: m[2], lineNo: i + 1})
		}
	}

	sections := make([]map[string]any, 0, len(headings))
	for i, h := range headings {
		endLine := len(lines)
		for j := i + 1; j < len(headings); j++ {
			if headings[j].level <= h.level {
				endLine = headings[j].lineNo - 1
				break
			}
		}
		sections = append(sections, map[string]any{
			"level":      h.level,
			"title":      h.title,
			"line_no":    h.lineNo,
			"start_line": h.lineNo,
			"end_line":   endLine,
		})
	}

	return tool.OK(t.Name(), map[string]any{"path": p, "sections": sections, "count": len(sections)})
}
