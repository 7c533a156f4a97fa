package openai

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// Config holds OpenAI-compatible LLM configuration.
type Config struct {
	APIKey      string   // API key for authentication
	BaseURL     string   // Base URL (default: https://api.openai.com/v1)
	Model       string   // Model name (default: gpt-4o)
	Temperature *float32 // Response creativity 0.0-2.0 (nil = API default)
	MaxTokens   int      // Max tokens in response, 0 = no limit
	MaxRetries  int      // Rate-limit (429) retry budget (default: 8)
	RetryDelay  int      // Fixed delay between rate-limit retries, seconds (default: 5)
	HTTPTimeout int      // HTTP client timeout in seconds (default: 300)
}

// envAliases maps config fields to the accepted environment variable names,
// in priority order. Several providers' conventional names are honored so a
// .env written for the OpenAI or Moonshot SDK works unchanged.
var envAliases = map[string][]string{
	"api_key":  {"OPENAI_API_KEY", "LLM_API_KEY", "MOONSHOT_API_KEY"},
	"base_url": {"OPENAI_BASE_URL", "LLM_BASE_URL", "MOONSHOT_BASE_URL"},
	"model":    {"OPENAI_MODEL", "LLM_MODEL", "MOONSHOT_MODEL"},
}

func firstEnv(names []string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// NewConfigFromEnv creates Config from environment variables.
func NewConfigFromEnv() (*Config, error) {
	config := &Config{
		APIKey:      firstEnv(envAliases["api_key"]),
		BaseURL:     withDefault(firstEnv(envAliases["base_url"]), "https://api.openai.com/v1"),
		Model:       withDefault(firstEnv(envAliases["model"]), "gpt-4o"),
		Temperature: getEnvFloat32Ptr("LLM_TEMPERATURE"),
		MaxTokens:   getEnvIntOrDefault("LLM_MAX_TOKENS", 0),
		MaxRetries:  getEnvIntOrDefault("LLM_MAX_RETRIES", 8),
		RetryDelay:  getEnvIntOrDefault("LLM_RETRY_DELAY", 5),
		HTTPTimeout: getEnvIntOrDefault("LLM_HTTP_TIMEOUT", 300),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("LLM API key is required. Set OPENAI_API_KEY, LLM_API_KEY or MOONSHOT_API_KEY in .env or environment")
	}
	if c.Model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if c.Temperature != nil && (*c.Temperature < 0.0 || *c.Temperature > 2.0) {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0.0 and 2.0, got %f", *c.Temperature)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES cannot be negative, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 1 {
		return fmt.Errorf("LLM_RETRY_DELAY must be at least 1 second, got %d", c.RetryDelay)
	}
	return nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getEnvFloat32Ptr(key string) *float32 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			f := float32(parsed)
			return &f
		}
		log.Printf("[Config] WARNING: invalid value for %s=%q, ignoring", key, v)
	}
	return nil
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
		log.Printf("[Config] WARNING: invalid value for %s=%q, using default %d", key, v, defaultValue)
	}
	return defaultValue
}
