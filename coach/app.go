package coach

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/snehaltandel/process-map-agent/dataset"
	"github.com/snehaltandel/process-map-agent/llm"
	"github.com/snehaltandel/process-map-agent/llm/tokenizer"
	"github.com/snehaltandel/process-map-agent/workflow"
	"go.uber.org/zap"
)

// FallbackResponse 本轮没有教练作答时返回
const FallbackResponse = "Let me know how else I can help."

// 默认参数
const (
	DefaultModel        = "gpt-4o-mini"
	DefaultTemperature  = 0.1
	DefaultArtifactsDir = "artifacts"
)

// Observer 接收 LLM 调用、节点执行与路由决策的观测数据
type Observer interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
	RecordNodeExecution(node, status string, duration time.Duration)
	RecordRouteDecision(route string)
}

type nopObserver struct{}

func (nopObserver) RecordLLMRequest(string, string, string, time.Duration, int, int) {}
func (nopObserver) RecordNodeExecution(string, string, time.Duration)               {}
func (nopObserver) RecordRouteDecision(string)                                      {}

// StateStore 按会话 ID 持久化状态
type StateStore interface {
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, id string, state *State) error
}

type options struct {
	logger         *zap.Logger
	observer       Observer
	model          string
	temperature    float32
	maxTokens      int
	requestTimeout time.Duration
	artifactsDir   string
	maxSteps       int
	historyBudget  int
	tokenizer      tokenizer.Tokenizer
}

// Option 配置 Coach
type Option func(*options)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver 设置指标观测
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithModel 设置模型名
func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

// WithTemperature 设置教练节点的采样温度（supervisor 固定为 0）
func WithTemperature(t float32) Option {
	return func(o *options) { o.temperature = t }
}

// WithMaxTokens 设置单次回复的 token 上限
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

// WithRequestTimeout 设置单次模型请求超时
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithArtifactsDir 设置图表与流程图的输出目录
func WithArtifactsDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.artifactsDir = dir
		}
	}
}

// WithMaxSteps 设置单轮最多执行的节点数
func WithMaxSteps(n int) Option {
	return func(o *options) { o.maxSteps = n }
}

// WithHistoryBudget 设置历史消息的 token 预算，<=0 不裁剪
func WithHistoryBudget(tokens int) Option {
	return func(o *options) { o.historyBudget = tokens }
}

// WithTokenizer 覆盖按模型选择的分词器
func WithTokenizer(tok tokenizer.Tokenizer) Option {
	return func(o *options) { o.tokenizer = tok }
}

// Coach 一个会话的教练门面，串行处理消息
type Coach struct {
	mu       sync.Mutex
	state    *State
	graph    *workflow.Graph[*State]
	provider llm.Provider
	opts     *options
	logger   *zap.Logger
}

// New 创建 Coach
func New(provider llm.Provider, opts ...Option) (*Coach, error) {
	if provider == nil {
		return nil, errors.New("coach: provider is required")
	}
	o := &options{
		logger:       zap.NewNop(),
		observer:     nopObserver{},
		model:        DefaultModel,
		temperature:  DefaultTemperature,
		artifactsDir: DefaultArtifactsDir,
		maxSteps:     workflow.DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tokenizer == nil && o.historyBudget > 0 {
		o.tokenizer = tokenizer.ForModel(o.model)
	}

	graph, err := buildGraph(newNodes(provider, o), o)
	if err != nil {
		return nil, fmt.Errorf("coach: build graph: %w", err)
	}

	return &Coach{
		state:    NewState(),
		graph:    graph,
		provider: provider,
		opts:     o,
		logger:   o.logger.With(zap.String("component", "coach")),
	}, nil
}

// Send 处理一条用户消息并返回助手回复。
// 任一节点失败时本轮作废，会话状态保持不变。
func (c *Coach) Send(ctx context.Context, message string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	working := c.state.Clone()
	working.AppendMessage(RoleUser, message)
	working.LatestUserMessage = &message
	working.PendingResponse = nil
	c.ingestDatasets(working, message)

	// 以 map 形式进入图，与持久化形式一致
	entry, err := FromMap(working.ToMap())
	if err != nil {
		return "", err
	}

	start := time.Now()
	result, err := c.graph.Invoke(ctx, entry)
	if err != nil {
		c.logger.Warn("turn failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return "", fmt.Errorf("coach: %w", err)
	}
	c.state = result

	c.logger.Debug("turn completed",
		zap.String("route", deref(result.RouterDecision)),
		zap.Duration("duration", time.Since(start)))

	if result.PendingResponse != nil {
		return *result.PendingResponse, nil
	}
	return FallbackResponse, nil
}

// ingestDatasets 解析消息中的数据集，重名时追加 _2、_3 后缀
func (c *Coach) ingestDatasets(state *State, message string) {
	for _, found := range dataset.Extract(message) {
		id := found.Name
		for counter := 2; ; counter++ {
			if _, exists := state.Datasets[id]; !exists {
				break
			}
			id = found.Name + "_" + strconv.Itoa(counter)
		}
		state.Datasets[id] = found.Table
		state.DatasetOrder = append(state.DatasetOrder, id)
		state.AuditLog = append(state.AuditLog, AuditEntry{
			"node":    "dataset_ingest",
			"dataset": id,
			"preview": found.Table.Preview(dataset.DefaultPreviewRows),
		})
		c.logger.Debug("dataset ingested",
			zap.String("dataset", id),
			zap.Int("rows", found.Table.Len()),
			zap.Int("columns", len(found.Table.Columns)))
	}
}

// Reset 清空会话状态
func (c *Coach) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = NewState()
}

// State 返回当前状态的副本
func (c *Coach) State() *State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// ExportState 返回当前状态的 map 形式
func (c *Coach) ExportState() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ToMap()
}

// Restore 用给定状态替换当前会话
func (c *Coach) Restore(state *State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state == nil {
		c.state = NewState()
		return
	}
	c.state = state.Clone()
}

// Load 从存储恢复会话
func (c *Coach) Load(ctx context.Context, store StateStore, id string) error {
	state, err := store.Load(ctx, id)
	if err != nil {
		return err
	}
	c.Restore(state)
	return nil
}

// Save 将当前会话写入存储
// 写入期间持有锁，并发轮次的保存顺序与执行顺序一致
func (c *Coach) Save(ctx context.Context, store StateStore, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return store.Save(ctx, id, c.state.Clone())
}

// Provider 返回底层模型提供商
func (c *Coach) Provider() llm.Provider {
	return c.provider
}
