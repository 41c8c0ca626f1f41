package config

import (
	"fmt"
	"strings"
)

var providers = map[string]bool{
	"anthropic": true,
	"openai":    true,
	"cli":       true,
	"mock":      true,
}

// Validate performs business-rule validation on the loaded configuration.
// Load calls it automatically.
func (c *Config) Validate() error {
	if err := c.LLM.validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if c.Continuation.TokenCeiling <= 0 {
		return fmt.Errorf("continuation.token_ceiling must be > 0 (got %d)", c.Continuation.TokenCeiling)
	}
	if c.Continuation.TTL <= 0 {
		return fmt.Errorf("continuation.ttl must be > 0 (got %s)", c.Continuation.TTL)
	}
	if c.DeepL.Timeout <= 0 {
		return fmt.Errorf("deepl.timeout must be > 0 (got %s)", c.DeepL.Timeout)
	}
	if err := c.Pipeline.validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	return nil
}

func (l *LLMConfig) validate() error {
	l.Provider = strings.ToLower(strings.TrimSpace(l.Provider))
	if !providers[l.Provider] {
		return fmt.Errorf("unknown provider %q", l.Provider)
	}
	switch l.Provider {
	case "anthropic":
		if l.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required for provider anthropic")
		}
	case "openai":
		if l.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required for provider openai")
		}
	}
	if l.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0 (got %s)", l.Timeout)
	}
	if l.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be > 0 (got %d)", l.MaxTokens)
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0 (got %d)", l.MaxRetries)
	}
	return nil
}

func (p *PipelineConfig) validate() error {
	if p.DefaultDifficulty < 1 || p.DefaultDifficulty > 5 {
		return fmt.Errorf("default_difficulty must be in [1, 5] (got %d)", p.DefaultDifficulty)
	}
	if p.ValidationConcurrency <= 0 {
		return fmt.Errorf("validation_concurrency must be > 0 (got %d)", p.ValidationConcurrency)
	}
	if p.MaxGenerateCount <= 0 {
		return fmt.Errorf("max_generate_count must be > 0 (got %d)", p.MaxGenerateCount)
	}
	if strings.TrimSpace(p.CanonicalLanguage) == "" {
		return fmt.Errorf("canonical_language is required")
	}
	for i, l := range p.RequiredLocales {
		l = strings.TrimSpace(l)
		if l == "" {
			return fmt.Errorf("required_locales[%d] is empty", i)
		}
		p.RequiredLocales[i] = l
	}
	return nil
}
