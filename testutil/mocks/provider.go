// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持按顺序返回脚本化响应、固定响应与错误注入场景。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/snehaltandel/process-map-agent/llm"
)

// ErrScriptExhausted 脚本响应已用完且未设置兜底响应
var ErrScriptExhausted = errors.New("mock provider: scripted responses exhausted")

// --- MockProvider 结构 ---

// MockProvider 是 LLM Provider 的模拟实现
type MockProvider struct {
	mu sync.RWMutex

	// 响应配置
	name     string
	script   []string
	fallback *string
	err      error

	// Token 使用统计
	promptTokens     int
	completionTokens int

	// 调用记录
	calls          []MockProviderCall
	completionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	// 行为控制
	callCount int
	healthErr error
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:             "mock",
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithResponse 设置固定响应内容，脚本用完后返回
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &response
	return m
}

// WithScript 按调用顺序依次返回的响应
func (m *MockProvider) WithScript(responses ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
	return m
}

// WithError 设置返回错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithName 设置 Provider 名称
func (m *MockProvider) WithName(name string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithTokenUsage 设置 Token 使用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithHealthError 设置 HealthCheck 返回的错误
func (m *MockProvider) WithHealthError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthErr = err
	return m
}

// WithCompletionFunc 设置自定义 Completion 函数
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// --- llm.Provider 实现 ---

var _ llm.Provider = (*MockProvider)(nil)

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// HealthCheck 返回配置的健康状态
func (m *MockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.healthErr != nil {
		return &llm.HealthStatus{Healthy: false}, m.healthErr
	}
	return &llm.HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

// Completion 返回下一条脚本响应
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.callCount++
	fn := m.completionFunc
	m.mu.Unlock()

	if fn != nil {
		resp, err := fn(ctx, req)
		m.record(req, resp, err)
		return resp, err
	}

	m.mu.Lock()
	var (
		resp *llm.ChatResponse
		err  error
	)
	switch {
	case m.err != nil:
		err = m.err
	case len(m.script) > 0:
		resp = m.response(m.script[0])
		m.script = m.script[1:]
	case m.fallback != nil:
		resp = m.response(*m.fallback)
	default:
		err = ErrScriptExhausted
	}
	m.mu.Unlock()

	m.record(req, resp, err)
	return resp, err
}

func (m *MockProvider) response(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:        "mock-response",
		Provider:  m.name,
		Model:     "mock-model",
		CreatedAt: time.Now(),
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: "stop",
			Message:      llm.AssistantMessage(content),
		}},
		Usage: llm.ChatUsage{
			PromptTokens:     m.promptTokens,
			CompletionTokens: m.completionTokens,
			TotalTokens:      m.promptTokens + m.completionTokens,
		},
	}
}

func (m *MockProvider) record(req *llm.ChatRequest, resp *llm.ChatResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp, Error: err})
}

// --- 查询方法 ---

// Calls 返回调用记录副本
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MockProviderCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回调用次数
func (m *MockProvider) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// LastRequest 返回最后一次请求
func (m *MockProvider) LastRequest() *llm.ChatRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1].Request
}

// Remaining 返回尚未消费的脚本响应数
func (m *MockProvider) Remaining() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.script)
}

