// Package factory creates llm.Provider instances by name and wraps them with
// retry and an optional circuit breaker. It imports the provider sub-packages so that the llm package itself
// stays free of concrete implementations.
package factory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/snehaltandel/process-map-agent/llm"
	"github.com/snehaltandel/process-map-agent/llm/circuitbreaker"
	"github.com/snehaltandel/process-map-agent/llm/providers"
	"github.com/snehaltandel/process-map-agent/llm/providers/gemini"
	"github.com/snehaltandel/process-map-agent/llm/providers/openaicompat"
	"github.com/snehaltandel/process-map-agent/llm/retry"
	"go.uber.org/zap"
)

// ErrMissingOpenAIKey 使用 openai 时未配置 API Key
var ErrMissingOpenAIKey = errors.New("OPENAI_API_KEY environment variable is required to run the CI Coach.")

// ProviderConfig is the generic configuration accepted by the factory.
type ProviderConfig struct {
	APIKey     string        `json:"api_key" yaml:"api_key"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	JSONMode   bool          `json:"json_mode,omitempty" yaml:"json_mode,omitempty"`
	MaxRetries int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	// BreakerThreshold 连续失败多少次后熔断；0 表示不启用熔断
	BreakerThreshold    int           `json:"breaker_threshold,omitempty" yaml:"breaker_threshold,omitempty"`
	BreakerResetTimeout time.Duration `json:"breaker_reset_timeout,omitempty" yaml:"breaker_reset_timeout,omitempty"`
}

type constructor func(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error)

var defaultBaseURLs = map[string]string{
	"openai":   "https://api.openai.com",
	"deepseek": "https://api.deepseek.com",
}

var constructors = map[string]constructor{
	"openai":   newOpenAICompat("openai", "gpt-4o-mini"),
	"deepseek": newOpenAICompat("deepseek", "deepseek-chat"),
	"openai-compatible": func(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai-compatible provider requires base_url")
		}
		return newOpenAICompat("openai-compatible", "")(ctx, cfg, logger)
	},
	"gemini": func(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
		return gemini.NewGeminiProvider(ctx, providers.GeminiConfig{
			BaseProviderConfig: providers.BaseProviderConfig{
				APIKey:  cfg.APIKey,
				BaseURL: cfg.BaseURL,
				Model:   cfg.Model,
				Timeout: cfg.Timeout,
			},
		}, logger)
	},
}

func newOpenAICompat(name, fallbackModel string) constructor {
	return func(_ context.Context, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
		if strings.TrimSpace(cfg.APIKey) == "" {
			if name == "openai" {
				return nil, ErrMissingOpenAIKey
			}
			return nil, fmt.Errorf("%s provider requires an API key", name)
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURLs[name]
		}
		return openaicompat.New(openaicompat.Config{
			ProviderName:  name,
			APIKey:        cfg.APIKey,
			BaseURL:       baseURL,
			DefaultModel:  cfg.Model,
			FallbackModel: fallbackModel,
			Timeout:       cfg.Timeout,
			JSONMode:      cfg.JSONMode,
		}, logger), nil
	}
}

// NewProviderFromConfig creates a Provider by name and wraps it with
// exponential-backoff retry when MaxRetries > 0. When BreakerThreshold > 0
// the result is further wrapped with a circuit breaker, so one exhausted
// retry sequence counts as one failure.
//
// Supported names: openai, deepseek, openai-compatible, gemini.
func NewProviderFromConfig(ctx context.Context, name string, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctor, ok := constructors[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (supported: %s)", name, strings.Join(SupportedProviders(), ", "))
	}

	p, err := ctor(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.MaxRetries > 0 {
		policy := retry.DefaultPolicy()
		policy.MaxRetries = cfg.MaxRetries
		p = providers.NewRetryableProvider(p, policy, logger)
	}
	if cfg.BreakerThreshold > 0 {
		p = circuitbreaker.NewProvider(p, circuitbreaker.Config{
			Threshold:    cfg.BreakerThreshold,
			ResetTimeout: cfg.BreakerResetTimeout,
		}, logger)
	}
	return p, nil
}

// SupportedProviders returns the sorted list of provider names.
func SupportedProviders() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
