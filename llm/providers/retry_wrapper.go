package providers

import (
	"context"
	"errors"

	"github.com/snehaltandel/process-map-agent/llm"
	"github.com/snehaltandel/process-map-agent/llm/retry"
	"go.uber.org/zap"
)

// RetryableProvider 为 llm.Provider 增加指数退避重试
type RetryableProvider struct {
	inner   llm.Provider
	retryer *retry.Retryer
	logger  *zap.Logger
}

// NewRetryableProvider 创建重试包装。policy 为空时使用 retry.DefaultPolicy；
// 未设置 ShouldRetry 时只重试标记为 Retryable 的 *llm.Error。
func NewRetryableProvider(inner llm.Provider, policy *retry.Policy, logger *zap.Logger) *RetryableProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	p := *policy
	if p.ShouldRetry == nil {
		p.ShouldRetry = IsRetryableLLMError
	}
	logger = logger.With(zap.String("component", "retry_provider"), zap.String("provider", inner.Name()))
	return &RetryableProvider{
		inner:   inner,
		retryer: retry.NewRetryer(&p, logger),
		logger:  logger,
	}
}

var _ llm.Provider = (*RetryableProvider)(nil)

func (p *RetryableProvider) Name() string { return p.inner.Name() }

func (p *RetryableProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

// Completion 执行聊天请求，瞬时错误按策略重试
func (p *RetryableProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return retry.Do(ctx, p.retryer, func() (*llm.ChatResponse, error) {
		return p.inner.Completion(ctx, req)
	})
}

// IsRetryableLLMError 判断错误是否为可重试的 *llm.Error
func IsRetryableLLMError(err error) bool {
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}
