// Package trace writes the two best-effort append-only log files the agent
// keeps in the current working directory:
//
//   - .agent_debug.log — node transitions, tool calls and key intermediate values
//   - .agent_llm.log   — LLM request/response pairs, redacted and truncated
//
// Both sinks are best-effort: failure to open or write never affects the run.
package trace

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	debugLogPath = ".agent_debug.log"
	llmLogPath   = ".agent_llm.log"

	// maxMessageBytes caps prompt/response payloads in the LLM trace.
	maxMessageBytes = 4096
)

var (
	once     sync.Once
	debugLog zerolog.Logger
	llmLog   zerolog.Logger
)

func initLoggers() {
	debugLog = openLogger(debugLogPath)
	llmLog = openLogger(llmLogPath)
}

func openLogger(path string) zerolog.Logger {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		// Disabled sink; writes become no-ops.
		return zerolog.Nop()
	}
	return zerolog.New(f).With().Timestamp().Logger()
}

// Note records a key/value observation under a component tag.
func Note(component, key string, value any) {
	once.Do(initLoggers)
	debugLog.Info().Str("component", component).Interface(key, value).Msg("")
}

// Notef records a preformatted message under a component tag.
func Notef(component, msg string) {
	once.Do(initLoggers)
	debugLog.Info().Str("component", component).Msg(msg)
}

// LLMRequest records an outgoing prompt. The prompt body is truncated to
// maxMessageBytes; api keys never reach this layer.
func LLMRequest(model, prompt string) {
	once.Do(initLoggers)
	llmLog.Info().
		Str("kind", "REQUEST").
		Str("model", model).
		Str("prompt", Truncate(prompt, maxMessageBytes)).
		Msg("")
}

// LLMResponse records a model response, truncated to maxMessageBytes.
func LLMResponse(model, content string) {
	once.Do(initLoggers)
	llmLog.Info().
		Str("kind", "RESPONSE").
		Str("model", model).
		Str("content", Truncate(content, maxMessageBytes)).
		Msg("")
}

// LLMError records a terminal LLM client error.
func LLMError(kind, message string) {
	once.Do(initLoggers)
	llmLog.Error().
		Str("kind", "ERROR").
		Str("error_type", kind).
		Str("message", Truncate(message, 1000)).
		Msg("")
}

// Truncate caps s at n bytes on a rune boundary.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	b := []byte(s)[:n]
	// Back off a partial UTF-8 sequence at the cut point.
	for len(b) > 0 && b[len(b)-1]&0xC0 == 0x80 {
		b = b[:len(b)-1]
	}
	return string(b) + "…(truncated)"
}

// Redact masks values of secret-bearing keys in a shallow string map.
// Used before logging request parameter maps.
func Redact(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if isSecretKey(k) {
			out[k] = "***"
		} else {
			out[k] = v
		}
	}
	return out
}

func isSecretKey(k string) bool {
	lk := strings.ToLower(k)
	for _, marker := range []string{"api_key", "apikey", "password", "token", "secret"} {
		if strings.Contains(lk, marker) {
			return true
		}
	}
	return false
}
