package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/snehaltandel/process-map-agent/coach"
	"github.com/snehaltandel/process-map-agent/config"
	"github.com/snehaltandel/process-map-agent/llm"
	llmfactory "github.com/snehaltandel/process-map-agent/llm/factory"
)

// newProvider 按配置创建模型提供商（带重试与熔断）
func newProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (llm.Provider, error) {
	provider, err := llmfactory.NewProviderFromConfig(ctx, cfg.LLM.Provider, llmfactory.ProviderConfig{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		Timeout:    cfg.LLM.Timeout,
		JSONMode:   cfg.LLM.JSONMode,
		MaxRetries: cfg.LLM.MaxRetries,

		BreakerThreshold:    cfg.LLM.BreakerThreshold,
		BreakerResetTimeout: cfg.LLM.BreakerResetTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", cfg.LLM.Provider, err)
	}
	logger.Info("llm provider ready",
		zap.String("provider", provider.Name()),
		zap.String("model", cfg.LLM.Model))
	return provider, nil
}

// coachOptions 将配置映射为 Coach 选项；obs 可为 nil
func coachOptions(cfg *config.Config, logger *zap.Logger, obs coach.Observer) []coach.Option {
	opts := []coach.Option{
		coach.WithLogger(logger),
		coach.WithModel(cfg.LLM.Model),
		coach.WithTemperature(float32(cfg.Coach.Temperature)),
		coach.WithMaxTokens(cfg.Coach.MaxTokens),
		coach.WithRequestTimeout(cfg.LLM.Timeout),
		coach.WithArtifactsDir(cfg.Coach.ArtifactsDir),
		coach.WithHistoryBudget(cfg.Coach.HistoryTokenBudget),
	}
	if cfg.Coach.MaxSteps > 0 {
		opts = append(opts, coach.WithMaxSteps(cfg.Coach.MaxSteps))
	}
	if obs != nil {
		opts = append(opts, coach.WithObserver(obs))
	}
	return opts
}
