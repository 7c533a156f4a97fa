// Package prompt loads the agent's LLM prompt templates.
//
// Templates ship embedded in the binary and may be overridden at runtime by
// files of the same name in the directory named by PROMPTS_DIR — useful for
// iterating on planner/observer behavior without recompiling.
//
// Substitution is deliberately simple: ${name} placeholders replaced from a
// string map. No conditionals, no loops.
package prompt

import (
	"embed"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

//go:embed templates/*.tmpl
var defaultTemplates embed.FS

// Loader reads prompt templates, caching file contents after the first read.
type Loader struct {
	overrideDir string
	mu          sync.RWMutex
	cache       map[string]string
}

// NewLoader creates a Loader. overrideDir may be empty (embedded only).
func NewLoader(overrideDir string) *Loader {
	return &Loader{
		overrideDir: overrideDir,
		cache:       make(map[string]string),
	}
}

// NewLoaderFromEnv honors the PROMPTS_DIR environment variable.
func NewLoaderFromEnv() *Loader {
	return NewLoader(os.Getenv("PROMPTS_DIR"))
}

// Get returns the raw template body for name (without the .tmpl suffix).
// Missing templates return "" — callers treat prompts as best-effort and an
// empty prompt fails loudly at the LLM call site, not here.
func (l *Loader) Get(name string) string {
	l.mu.RLock()
	if cached, ok := l.cache[name]; ok {
		l.mu.RUnlock()
		return cached
	}
	l.mu.RUnlock()

	body := l.load(name)
	l.mu.Lock()
	l.cache[name] = body
	l.mu.Unlock()
	return body
}

func (l *Loader) load(name string) string {
	filename := name + ".tmpl"
	if l.overrideDir != "" {
		if data, err := os.ReadFile(filepath.Join(l.overrideDir, filename)); err == nil {
			return string(data)
		}
	}
	data, err := defaultTemplates.ReadFile("templates/" + filename)
	if err != nil {
		return ""
	}
	return string(data)
}

// Render substitutes ${key} placeholders in the named template.
// Unknown placeholders are left intact so they are visible in trace logs.
func (l *Loader) Render(name string, vars map[string]string) string {
	body := l.Get(name)
	if len(vars) == 0 {
		return body
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "${"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(body)
}

// Reload drops the cache; the next Get re-reads overrides and defaults.
func (l *Loader) Reload() {
	l.mu.Lock()
	l.cache = make(map[string]string)
	l.mu.Unlock()
}
