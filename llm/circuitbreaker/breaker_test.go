package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snehaltandel/process-map-agent/llm"
	"github.com/snehaltandel/process-map-agent/testutil/mocks"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(cfg, zap.NewNop())
	b.now = clock.now
	return b, clock
}

func TestNew_Defaults(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want Config
	}{
		{name: "zero values", cfg: Config{}, want: DefaultConfig()},
		{name: "negative values", cfg: Config{Threshold: -1, ResetTimeout: -time.Second, HalfOpenMaxCalls: -2}, want: DefaultConfig()},
		{name: "custom values", cfg: Config{Threshold: 2, ResetTimeout: time.Second, HalfOpenMaxCalls: 3}, want: Config{Threshold: 2, ResetTimeout: time.Second, HalfOpenMaxCalls: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.cfg, nil)
			assert.Equal(t, tt.want.Threshold, b.cfg.Threshold)
			assert.Equal(t, tt.want.ResetTimeout, b.cfg.ResetTimeout)
			assert.Equal(t, tt.want.HalfOpenMaxCalls, b.cfg.HalfOpenMaxCalls)
			assert.Equal(t, StateClosed, b.State())
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Done(false)
		assert.Equal(t, StateClosed, b.State())
	}
	require.NoError(t, b.Allow())
	b.Done(false)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 2})

	require.NoError(t, b.Allow())
	b.Done(false)
	require.NoError(t, b.Allow())
	b.Done(true)
	require.NoError(t, b.Allow())
	b.Done(false)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	var transitions []string
	b, clock := newTestBreaker(Config{
		Threshold:        1,
		ResetTimeout:     10 * time.Second,
		HalfOpenMaxCalls: 1,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	require.NoError(t, b.Allow())
	b.Done(false)
	require.Equal(t, StateOpen, b.State())

	clock.advance(5 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	clock.advance(5 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrTooManyCallsInHalfOpen)

	b.Done(true)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 1, ResetTimeout: time.Second})

	require.NoError(t, b.Allow())
	b.Done(false)
	clock.advance(time.Second)
	require.NoError(t, b.Allow())
	b.Done(false)

	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 1})
	require.NoError(t, b.Allow())
	b.Done(false)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestCountsAsFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("boom"), want: true},
		{name: "upstream", err: &llm.Error{Code: llm.ErrUpstreamError}, want: true},
		{name: "rate limited", err: &llm.Error{Code: llm.ErrRateLimited}, want: true},
		{name: "invalid request", err: &llm.Error{Code: llm.ErrInvalidRequest}, want: false},
		{name: "unauthorized", err: &llm.Error{Code: llm.ErrUnauthorized}, want: false},
		{name: "forbidden", err: &llm.Error{Code: llm.ErrForbidden}, want: false},
		{name: "quota", err: &llm.Error{Code: llm.ErrQuotaExceeded}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, countsAsFailure(tt.err))
		})
	}
}

func TestProvider_ShortCircuitsWhenOpen(t *testing.T) {
	upstream := mocks.NewMockProvider().
		WithName("openai").
		WithError(&llm.Error{Code: llm.ErrUpstreamError, Message: "bad gateway", Retryable: true})
	p := NewProvider(upstream, Config{Threshold: 2, ResetTimeout: time.Hour}, zap.NewNop())
	req := &llm.ChatRequest{Messages: []llm.Message{llm.UserMessage("hi")}}

	for i := 0; i < 2; i++ {
		_, err := p.Completion(context.Background(), req)
		require.Error(t, err)
	}
	require.Equal(t, StateOpen, p.State())

	_, err := p.Completion(context.Background(), req)
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrProviderUnavailable, llmErr.Code)
	assert.Equal(t, 503, llmErr.HTTPStatus)
	assert.False(t, llmErr.Retryable)
	assert.Equal(t, "openai", llmErr.Provider)
	assert.Equal(t, 2, upstream.CallCount())

	status, err := p.HealthCheck(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, status.Healthy)
	assert.Equal(t, "openai", p.Name())
}

func TestProvider_ClientErrorsDoNotTrip(t *testing.T) {
	upstream := mocks.NewMockProvider().WithError(&llm.Error{Code: llm.ErrUnauthorized, Message: "bad key"})
	p := NewProvider(upstream, Config{Threshold: 1}, nil)

	for i := 0; i < 3; i++ {
		_, err := p.Completion(context.Background(), &llm.ChatRequest{})
		require.Error(t, err)
	}
	assert.Equal(t, StateClosed, p.State())
	assert.Equal(t, 3, upstream.CallCount())
}

func TestProvider_PassesThroughSuccess(t *testing.T) {
	upstream := mocks.NewMockProvider().WithScript("first", "second")
	p := NewProvider(upstream, Config{}, nil)

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Text())

	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

func TestProvider_CanceledCallReleasesProbe(t *testing.T) {
	calls := 0
	upstream := mocks.NewMockProvider().WithCompletionFunc(func(ctx context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset")
		}
		return nil, context.Canceled
	})
	p := NewProvider(upstream, Config{Threshold: 1, ResetTimeout: time.Second}, nil)
	clock := &fakeClock{t: time.Now()}
	p.breaker.now = clock.now

	_, err := p.Completion(context.Background(), &llm.ChatRequest{})
	require.Error(t, err)
	require.Equal(t, StateOpen, p.State())

	clock.advance(time.Second)
	_, err = p.Completion(context.Background(), &llm.ChatRequest{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateHalfOpen, p.State())

	// 名额已归还，下一次试探仍可放行
	assert.NoError(t, p.breaker.Allow())
}
