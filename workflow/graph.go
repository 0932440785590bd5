package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// END 终止节点标识
const END = "__end__"

// DefaultMaxSteps 单次 Invoke 允许执行的最大节点数
const DefaultMaxSteps = 25

var (
	// ErrMaxStepsExceeded 节点执行次数超过上限
	ErrMaxStepsExceeded = errors.New("workflow: max steps exceeded")
	// ErrNodeNotFound 引用了未注册的节点
	ErrNodeNotFound = errors.New("workflow: node not found")
	// ErrNoEntryPoint 未设置入口节点
	ErrNoEntryPoint = errors.New("workflow: entry point not set")
)

// NodeFunc 图节点：接收当前状态并返回更新后的状态
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// NodeMiddleware 包装节点执行（指标、追踪等）
type NodeMiddleware[S any] func(name string, next NodeFunc[S]) NodeFunc[S]

// ExecutionError 节点执行失败时携带路径信息
type ExecutionError struct {
	Node string
	Path []string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("workflow: node %q failed (path: %s): %v", e.Node, strings.Join(e.Path, " -> "), e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Graph 有状态的有向图，节点之间通过固定边或条件边连接，可包含环
type Graph[S any] struct {
	mu          sync.RWMutex
	nodes       map[string]NodeFunc[S]
	order       []string
	edges       map[string]string
	conditional map[string]*ConditionalEdge[S]
	entry       string
	maxSteps    int
	middleware  []NodeMiddleware[S]
}

// NewGraph 创建空图
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:       make(map[string]NodeFunc[S]),
		edges:       make(map[string]string),
		conditional: make(map[string]*ConditionalEdge[S]),
		maxSteps:    DefaultMaxSteps,
	}
}

// AddNode 注册节点
func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if name == "" || name == END {
		return fmt.Errorf("workflow: invalid node name %q", name)
	}
	if fn == nil {
		return fmt.Errorf("workflow: node %q has nil func", name)
	}
	if _, exists := g.nodes[name]; exists {
		return fmt.Errorf("workflow: node %q already registered", name)
	}
	g.nodes[name] = fn
	g.order = append(g.order, name)
	return nil
}

// AddEdge 添加固定边 from -> to
func (g *Graph[S]) AddEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.conditional[from]; ok {
		return fmt.Errorf("workflow: node %q already has conditional edges", from)
	}
	g.edges[from] = to
	return nil
}

// AddConditionalEdges 为 from 节点添加条件边
func (g *Graph[S]) AddConditionalEdges(from string, edge *ConditionalEdge[S]) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.edges[from]; ok {
		return fmt.Errorf("workflow: node %q already has a fixed edge", from)
	}
	if edge == nil || edge.router == nil {
		return fmt.Errorf("workflow: conditional edge for %q has no router", from)
	}
	g.conditional[from] = edge
	return nil
}

// SetEntryPoint 设置入口节点
func (g *Graph[S]) SetEntryPoint(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entry = name
}

// SetMaxSteps 设置单次执行的节点数上限，<=0 时使用默认值
func (g *Graph[S]) SetMaxSteps(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n <= 0 {
		n = DefaultMaxSteps
	}
	g.maxSteps = n
}

// Use 追加节点中间件，先注册的在最外层
func (g *Graph[S]) Use(mw ...NodeMiddleware[S]) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.middleware = append(g.middleware, mw...)
}

// Nodes 按注册顺序返回节点名
func (g *Graph[S]) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Validate 检查入口和所有边的目标均已注册
func (g *Graph[S]) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error
	if g.entry == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, ok := g.nodes[g.entry]; !ok {
		errs = append(errs, fmt.Errorf("%w: entry %q", ErrNodeNotFound, g.entry))
	}

	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("%w: edge source %q", ErrNodeNotFound, from))
		}
		if to != END {
			if _, ok := g.nodes[to]; !ok {
				errs = append(errs, fmt.Errorf("%w: edge target %q", ErrNodeNotFound, to))
			}
		}
	}
	for from, edge := range g.conditional {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("%w: conditional source %q", ErrNodeNotFound, from))
		}
		for _, to := range edge.targets() {
			if to == END {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				errs = append(errs, fmt.Errorf("%w: conditional target %q", ErrNodeNotFound, to))
			}
		}
	}
	return errors.Join(errs...)
}

// Invoke 从入口开始执行直到到达 END
func (g *Graph[S]) Invoke(ctx context.Context, state S) (S, error) {
	if err := g.Validate(); err != nil {
		return state, err
	}

	g.mu.RLock()
	entry := g.entry
	maxSteps := g.maxSteps
	g.mu.RUnlock()

	current := entry
	path := make([]string, 0, 8)

	for step := 0; current != END; step++ {
		if err := ctx.Err(); err != nil {
			return state, &ExecutionError{Node: current, Path: path, Err: err}
		}
		if step >= maxSteps {
			return state, &ExecutionError{Node: current, Path: path, Err: ErrMaxStepsExceeded}
		}

		path = append(path, current)
		fn := g.wrapped(current)

		next, err := fn(ctx, state)
		if err != nil {
			return state, &ExecutionError{Node: current, Path: path, Err: err}
		}
		state = next

		current, err = g.nextNode(current, state)
		if err != nil {
			return state, &ExecutionError{Node: path[len(path)-1], Path: path, Err: err}
		}
	}
	return state, nil
}

func (g *Graph[S]) wrapped(name string) NodeFunc[S] {
	g.mu.RLock()
	defer g.mu.RUnlock()

	fn := g.nodes[name]
	for i := len(g.middleware) - 1; i >= 0; i-- {
		fn = g.middleware[i](name, fn)
	}
	return fn
}

func (g *Graph[S]) nextNode(from string, state S) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if edge, ok := g.conditional[from]; ok {
		return edge.resolve(state)
	}
	if to, ok := g.edges[from]; ok {
		return to, nil
	}
	// 没有出边的节点视为终点
	return END, nil
}
