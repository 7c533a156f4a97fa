package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencedJSONRe matches a ```json ... ``` (or bare ```) fenced block whose body
// starts with an object.
var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseLooseJSON extracts a JSON object from raw model output.
//
// Recognizer order:
//  1. direct parse of the whole (trimmed) text
//  2. first fenced ```json block
//  3. the span from the first '{' to the last '}'
//
// Returns nil when no recognizer yields a JSON object. Arrays and scalars are
// rejected on purpose — every agent contract is an object.
func ParseLooseJSON(text string) map[string]any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	if obj := tryParseObject(trimmed); obj != nil {
		return obj
	}

	if m := fencedJSONRe.FindStringSubmatch(trimmed); m != nil {
		if obj := tryParseObject(m[1]); obj != nil {
			return obj
		}
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		if obj := tryParseObject(trimmed[start : end+1]); obj != nil {
			return obj
		}
	}

	return nil
}

func tryParseObject(s string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil
	}
	return obj
}

// Str reads a string field from a loose JSON object, "" when absent or not a
// string.
func Str(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	s, _ := obj[key].(string)
	return s
}

// Int reads an integer field from a loose JSON object. JSON numbers decode as
// float64; non-numeric values yield the fallback.
func Int(obj map[string]any, key string, fallback int) int {
	if obj == nil {
		return fallback
	}
	switch v := obj[key].(type) {
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

// Obj reads a nested object field, nil when absent or mistyped.
func Obj(obj map[string]any, key string) map[string]any {
	if obj == nil {
		return nil
	}
	m, _ := obj[key].(map[string]any)
	return m
}

// List reads an array field, nil when absent or mistyped.
func List(obj map[string]any, key string) []any {
	if obj == nil {
		return nil
	}
	l, _ := obj[key].([]any)
	return l
}
