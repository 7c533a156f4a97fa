// Package openai implements llm.Provider over the OpenAI-compatible chat
// completions protocol. Works with any endpoint that speaks it (OpenAI,
// Moonshot, DeepSeek, vLLM, ...).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	openailib "github.com/sashabaranov/go-openai"

	"github.com/netreee/setup-agent/internal/llm"
	"github.com/netreee/setup-agent/internal/trace"
)

// Client implements llm.Provider using the OpenAI-compatible protocol.
type Client struct {
	client *openailib.Client
	config *Config
}

// NewClient creates a new OpenAI-compatible client.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clientConfig := openailib.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	// Prevent indefinite hangs when the API is unresponsive. This is the only
	// cancellation the planner/observer calls have.
	clientConfig.HTTPClient = &http.Client{Timeout: time.Duration(config.HTTPTimeout) * time.Second}

	return &Client{
		client: openailib.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// NewClientFromEnv creates a client using environment variables.
func NewClientFromEnv() (*Client, error) {
	config, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	return NewClient(config)
}

// Model implements llm.Provider.
func (c *Client) Model() string { return c.config.Model }

// Complete implements llm.Provider. Rate-limit responses (429) are retried
// with a fixed delay up to MaxRetries attempts; every other error is
// terminal.
func (c *Client) Complete(ctx context.Context, prompt string, params llm.Params) (string, error) {
	req := openailib.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openailib.ChatCompletionMessage{
			{Role: openailib.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature > 0 {
		req.Temperature = params.Temperature
	} else if c.config.Temperature != nil {
		req.Temperature = *c.config.Temperature
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	} else if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}

	trace.LLMRequest(c.config.Model, prompt)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(time.Duration(c.config.RetryDelay)*time.Second),
			uint64(c.config.MaxRetries),
		),
		ctx,
	)

	var content string
	operation := func() error {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			if isRateLimit(err) {
				// Retryable: the endpoint asked us to slow down.
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("no choices returned from LLM"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		trace.LLMError(fmt.Sprintf("%T", err), err.Error())
		return "", fmt.Errorf("LLM call failed: %w", err)
	}

	trace.LLMResponse(c.config.Model, content)
	return content, nil
}

// isRateLimit reports whether err is an HTTP 429 from the API.
func isRateLimit(err error) bool {
	var apiErr *openailib.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openailib.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
