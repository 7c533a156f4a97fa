// Package llm defines the minimal LLM capability the agent nodes depend on:
// a blocking Complete(prompt) → text call, plus shared helpers for digging
// structured data out of model output.
package llm

import "context"

// Params tunes a single completion request. Zero values defer to the
// provider's configured defaults.
type Params struct {
	Temperature float32 // 0 means provider default
	MaxTokens   int     // 0 means provider default
}

// Provider is the single-capability interface all agent nodes call.
// Implementations handle transport, authentication and rate-limit retry
// internally; callers only see text or a terminal error.
type Provider interface {
	// Complete sends a single-user-message prompt and returns the raw
	// assistant text.
	Complete(ctx context.Context, prompt string, params Params) (string, error)

	// Model returns the configured model name, for trace logs.
	Model() string
}
