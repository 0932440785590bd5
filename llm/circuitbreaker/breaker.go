// Package circuitbreaker 为模型提供商提供熔断保护。
//
// 连续失败达到阈值后熔断器打开，在 ResetTimeout 内直接拒绝请求；
// 之后进入半开状态放行少量试探请求，成功则关闭，失败则重新打开。
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snehaltandel/process-map-agent/llm"
)

// State 熔断器状态
type State int

const (
	// StateClosed 正常放行
	StateClosed State = iota
	// StateOpen 熔断中
	StateOpen
	// StateHalfOpen 试探性恢复
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值
	Threshold int
	// ResetTimeout 从 Open 到 HalfOpen 的等待时间
	ResetTimeout time.Duration
	// HalfOpenMaxCalls 半开状态允许的并发试探数
	HalfOpenMaxCalls int
	// OnStateChange 状态变更回调（同步调用，不要在回调中阻塞）
	OnStateChange func(from, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

var (
	// ErrCircuitOpen 熔断器打开时拒绝请求
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyCallsInHalfOpen 半开状态试探请求已满
	ErrTooManyCallsInHalfOpen = errors.New("circuit breaker is half-open and probing")
)

// Breaker 熔断状态机，可并发使用
type Breaker struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	halfOpenRun int
}

// New 创建熔断器，非法配置项回落到默认值
func New(cfg Config, logger *zap.Logger) *Breaker {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{cfg: cfg, logger: logger, now: time.Now, state: StateClosed}
}

// Allow 检查是否放行一次调用；放行后必须调用 Done 报告结果
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.halfOpenRun = 1
		return nil
	case StateHalfOpen:
		if b.halfOpenRun >= b.cfg.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenRun++
		return nil
	default:
		return nil
	}
}

// Done 报告一次已放行调用的结果
func (b *Breaker) Done(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.halfOpenRun = 0
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.Threshold {
			b.logger.Warn("circuit breaker opened",
				zap.Int("failures", b.failures),
				zap.Int("threshold", b.cfg.Threshold))
			b.open()
		}
	case StateHalfOpen:
		b.logger.Warn("circuit breaker probe failed, reopening")
		b.open()
	}
}

// release 归还半开试探名额，不记录成败
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.halfOpenRun > 0 {
		b.halfOpenRun--
	}
}

// State 返回当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复到关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.halfOpenRun = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.halfOpenRun = 0
	b.transition(StateOpen)
}

// transition 需在持锁状态下调用
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.logger.Info("circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// countsAsFailure 判断错误是否计入熔断失败。
// 请求本身的问题（参数、鉴权、额度）不反映上游健康度。
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		switch llmErr.Code {
		case llm.ErrInvalidRequest, llm.ErrUnauthorized, llm.ErrForbidden, llm.ErrQuotaExceeded:
			return false
		}
	}
	return true
}
