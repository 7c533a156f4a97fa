package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/netreee/setup-agent/internal/tool"
)

// defaultMaxBytes caps content loaded by the read tools (256 KiB).
const defaultMaxBytes = 262144

// decodeText converts raw bytes to a UTF-8 string, replacing invalid
// sequences. Real-world READMEs occasionally carry stray latin-1 bytes; the
// replacement keeps the envelope JSON-safe.
func decodeText(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}

// ── files_read ──

// FilesReadTool reads a file in raw/head/tail mode with a byte cap.
type FilesReadTool struct{}

func NewFilesReadTool() *FilesReadTool { return &FilesReadTool{} }

func (t *FilesReadTool) Name() string { return "files_read" }
func (t *FilesReadTool) Description() string {
	return "Read a file's content. mode: raw|head|tail; max_bytes caps bytes loaded"
}

func (t *FilesReadTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "File path", Required: true},
		tool.SchemaParam{Name: "mode", Type: "string", Description: "Read mode", Enum: []string{"raw", "head", "tail"}},
		tool.SchemaParam{Name: "max_bytes", Type: "integer", Description: "Byte cap (default 262144)"},
	)
}

func (t *FilesReadTool) Init(_ context.Context) error { return nil }
func (t *FilesReadTool) Close() error                 { return nil }

type readArgs struct {
	Path     string `json:"path"`
	Mode     string `json:"mode"`
	MaxBytes int    `json:"max_bytes"`
}

func (t *FilesReadTool) Execute(_ context.Context, args json.RawMessage) tool.Envelope {
	var a readArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"path": "", "content": ""}, tool.ErrInvalidJSON)
	}
	if a.MaxBytes <= 0 {
		a.MaxBytes = defaultMaxBytes
	}
	p, errKind := resolveAndGuard(a.Path)
	if errKind != "" {
		return tool.Fail(t.Name(), map[string]any{"path": a.Path, "content": ""}, errKind)
	}
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return tool.Fail(t.Name(), map[string]any{"path": p, "content": ""}, tool.ErrNotAFile)
	}

	f, err := os.Open(p)
	if err != nil {
		return tool.Fail(t.Name(), map[string]any{"path": p, "content": ""}, tool.ErrNotAFile)
	}
	defer f.Close()

	size := info.Size()
	var data []byte
	truncated := false
	switch a.Mode {
	case "tail":
		if size > int64(a.MaxBytes) {
			if _, err := f.Seek(size-int64(a.MaxBytes), io.SeekStart); err == nil {
				truncated = true
			}
		}
		data, _ = io.ReadAll(io.LimitReader(f, int64(a.MaxBytes)))
	default: // raw and head share the cap-from-start behavior
		data, _ = io.ReadAll(io.LimitReader(f, int64(a.MaxBytes)))
		truncated = size > int64(len(data))
	}

	text := decodeText(data)
	return tool.OK(t.Name(), map[string]any{
		"path":      p,
		"content":   text,
		"encoding":  "utf-8",
		"size":      len(text),
		"truncated": truncated,
	})
}

// ── files_read_section ──

// FilesReadSectionTool reads an inclusive 1-based line range with a char cap.
type FilesReadSectionTool struct{}

func NewFilesReadSectionTool() *FilesReadSectionTool { return &FilesReadSectionTool{} }

func (t *FilesReadSectionTool) Name() string { return "files_read_section" }
func (t *FilesReadSectionTool) Description() string {
	return "Read lines [start_line, end_line] (1-based, inclusive) of a file"
}

func (t *FilesReadSectionTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "File path", Required: true},
		tool.SchemaParam{Name: "start_line", Type: "integer", Description: "First line, 1-based", Required: true},
		tool.SchemaParam{Name: "end_line", Type: "integer", Description: "Last line, inclusive", Required: true},
		tool.SchemaParam{Name: "max_chars", Type: "integer", Description: "Character cap (default 262144)"},
	)
}

func (t *FilesReadSectionTool) Init(_ context.Context) error { return nil }
func (t *FilesReadSectionTool) Close() error                 { return nil }

type readSectionArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	MaxChars  int    `json:"max_chars"`
}

func (t *FilesReadSectionTool) Execute(_ context.Context, args json.RawMessage) tool.Envelope {
	var a readSectionArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"path": "", "content": ""}, tool.ErrInvalidJSON)
	}
	if a.MaxChars <= 0 {
		a.MaxChars = defaultMaxBytes
	}
	p, errKind := resolveAndGuard(a.Path)
	if errKind != "" {
		return tool.Fail(t.Name(), map[string]any{"path": a.Path, "content": ""}, errKind)
	}
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return tool.Fail(t.Name(), map[string]any{"path": p, "content": ""}, tool.ErrNotAFile)
	}

	start := a.StartLine
	if start < 1 {
		start = 1
	}
	end := a.EndLine
	if end < start {
		// Empty range is a valid, empty read.
		return tool.OK(t.Name(), map[string]any{
			"path": p, "start_line": start, "end_line": end,
			"content": "", "encoding": "utf-8", "size": 0, "truncated": false,
		})
	}

	f, err := os.Open(p)
	if err != nil {
		return tool.Fail(t.Name(), map[string]any{"path": p, "content": ""}, tool.ErrNotAFile)
	}
	defer f.Close()

	var sb strings.Builder
	truncated := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo < start {
			continue
		}
		if lineNo > end {
			break
		}
		line := decodeText(scanner.Bytes()) + "\n"
		need := a.MaxChars - sb.Len()
		if need <= 0 {
			truncated = true
			break
		}
		if len(line) > need {
			sb.WriteString(line[:need])
			truncated = true
			break
		}
		sb.WriteString(line)
	}

	return tool.OK(t.Name(), map[string]any{
		"path":       p,
		"start_line": start,
		"end_line":   end,
		"content":    sb.String(),
		"encoding":   "utf-8",
		"size":       sb.Len(),
		"truncated":  truncated,
	})
}

// ── files_read_range ──

// FilesReadRangeTool reads a byte range [offset, offset+length).
type FilesReadRangeTool struct{}

func NewFilesReadRangeTool() *FilesReadRangeTool { return &FilesReadRangeTool{} }

func (t *FilesReadRangeTool) Name() string { return "files_read_range" }
func (t *FilesReadRangeTool) Description() string {
	return "Read a byte range [offset, offset+length) of a file"
}

func (t *FilesReadRangeTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "File path", Required: true},
		tool.SchemaParam{Name: "offset", Type: "integer", Description: "Byte offset", Required: true},
		tool.SchemaParam{Name: "length", Type: "integer", Description: "Bytes to read", Required: true},
	)
}

func (t *FilesReadRangeTool) Init(_ context.Context) error { return nil }
func (t *FilesReadRangeTool) Close() error                 { return nil }

type readRangeArgs struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

func (t *FilesReadRangeTool) Execute(_ context.Context, args json.RawMessage) tool.Envelope {
	var a readRangeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"path": "", "content": ""}, tool.ErrInvalidJSON)
	}
	p, errKind := resolveAndGuard(a.Path)
	if errKind != "" {
		return tool.Fail(t.Name(), map[string]any{"path": a.Path, "content": ""}, errKind)
	}
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return tool.Fail(t.Name(), map[string]any{"path": p, "content": ""}, tool.ErrNotAFile)
	}

	size := info.Size()
	off := max64(0, a.Offset)
	length := max64(0, a.Length)
	if length == 0 || off >= size {
		return tool.OK(t.Name(), map[string]any{
			"path": p, "offset": off, "length": length,
			"content": "", "encoding": "utf-8", "size": 0, "truncated": false,
		})
	}

	f, err := os.Open(p)
	if err != nil {
		return tool.Fail(t.Name(), map[string]any{"path": p, "content": ""}, tool.ErrNotAFile)
	}
	defer f.Close()

	data := make([]byte, length)
	n, _ := f.ReadAt(data, off)
	data = data[:n]

	text := decodeText(data)
	return tool.OK(t.Name(), map[string]any{
		"path":      p,
		"offset":    off,
		"length":    length,
		"content":   text,
		"encoding":  "utf-8",
		"size":      len(text),
		"truncated": off+int64(n) < size,
	})
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
