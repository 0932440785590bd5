package circuitbreaker

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/snehaltandel/process-map-agent/llm"
)

// Provider 用熔断器包装 llm.Provider。
// 熔断打开时 Completion 直接返回 LLM_PROVIDER_UNAVAILABLE，不访问上游。
type Provider struct {
	inner   llm.Provider
	breaker *Breaker
	logger  *zap.Logger
}

// NewProvider 包装 inner
func NewProvider(inner llm.Provider, cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("provider", inner.Name()))
	return &Provider{inner: inner, breaker: New(cfg, logger), logger: logger}
}

// Completion 实现 llm.Provider
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := p.breaker.Allow(); err != nil {
		return nil, &llm.Error{
			Code:       llm.ErrProviderUnavailable,
			Message:    err.Error(),
			HTTPStatus: http.StatusServiceUnavailable,
			Provider:   p.inner.Name(),
		}
	}
	resp, err := p.inner.Completion(ctx, req)
	if err != nil && errors.Is(err, context.Canceled) {
		// 调用方取消：释放试探名额但不改变计数
		p.breaker.release()
		return nil, err
	}
	p.breaker.Done(!countsAsFailure(err))
	return resp, err
}

// HealthCheck 透传；熔断打开时报告不健康
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	if p.breaker.State() == StateOpen {
		return &llm.HealthStatus{Healthy: false}, ErrCircuitOpen
	}
	return p.inner.HealthCheck(ctx)
}

// Name 实现 llm.Provider
func (p *Provider) Name() string { return p.inner.Name() }

// State 返回熔断器当前状态
func (p *Provider) State() State { return p.breaker.State() }
