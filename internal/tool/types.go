package tool

import (
	"context"
	"encoding/json"
)

// Stable error kinds shared across tools. Consumers match on these strings,
// so they are part of the wire contract and must never change.
const (
	ErrPathOutOfRoot  = "path_out_of_root"
	ErrNotAFile       = "not_a_file"
	ErrNotADirectory  = "not_a_directory"
	ErrResolve        = "resolve_error"
	ErrInvalidJSON    = "invalid_json"
	ErrParse          = "parse_error"
	ErrGitUnavailable = "git_not_available"
	ErrGitCloneFailed = "git_clone_failed"
	ErrInvalidURL     = "invalid_url"
	ErrUnknownTool    = "unknown_tool"
)

// Envelope is the uniform response every tool returns.
// Data is always a non-nil object; Error is present iff OK is false.
type Envelope struct {
	OK    bool           `json:"ok"`
	Tool  string         `json:"tool"`
	Data  map[string]any `json:"data"`
	Error string         `json:"error,omitempty"`
}

// OK builds a success envelope.
func OK(tool string, data map[string]any) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{OK: true, Tool: tool, Data: data}
}

// Fail builds a failure envelope carrying an error kind.
func Fail(tool string, data map[string]any, errKind string) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{OK: false, Tool: tool, Data: data, Error: errKind}
}

// JSON serializes the envelope. Serialization of an envelope never fails for
// the value types tools put in Data; on the impossible path a minimal
// invalid_json envelope is returned instead.
func (e Envelope) JSON() string {
	b, err := json.Marshal(e)
	if err != nil {
		return `{"ok":false,"tool":"` + e.Tool + `","data":{},"error":"` + ErrInvalidJSON + `"}`
	}
	return string(b)
}

// Str reads a string field from Data, "" when absent or mistyped.
func (e Envelope) Str(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Int reads a numeric field from Data. JSON round-trips land as float64.
func (e Envelope) Int(key string, fallback int) int {
	switch v := e.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// Bool reads a boolean field from Data, false when absent or mistyped.
func (e Envelope) Bool(key string) bool {
	b, _ := e.Data[key].(bool)
	return b
}

// ParseEnvelope decodes a serialized envelope. Malformed input yields a
// failure envelope with error invalid_json, mirroring how tools themselves
// report bad input.
func ParseEnvelope(s string) Envelope {
	var e Envelope
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return Fail("unknown", nil, ErrInvalidJSON)
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	return e
}

// Tool is the unified interface for all agent tools.
type Tool interface {
	// Name returns the tool identifier (the LLM invokes tools by this name).
	Name() string

	// Description returns a natural-language description for LLM prompt injection.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's parameters.
	InputSchema() json.RawMessage

	// Execute runs the tool with JSON-encoded arguments. Tools never return a
	// Go error across this boundary: failures are envelopes with OK=false and
	// a stable error kind.
	Execute(ctx context.Context, args json.RawMessage) Envelope

	// Init initializes tool resources. Most tools return nil.
	Init(ctx context.Context) error

	// Close releases tool resources.
	Close() error
}

// SchemaParam describes a single parameter for the BuildSchema helper.
type SchemaParam struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // "string", "integer", "boolean", "number", "array"
	Description string   `json:"description"`
	Required    bool     `json:"-"`
	Enum        []string `json:"enum,omitempty"`
}

// BuildSchema generates a standard JSON Schema object from a list of
// SchemaParams, so native tools avoid hand-writing JSON strings.
func BuildSchema(params ...SchemaParam) json.RawMessage {
	properties := make(map[string]any)
	var required []string

	for _, p := range params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Type == "array" {
			prop["items"] = map[string]any{"type": "string"}
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	data, _ := json.Marshal(schema)
	return data
}
