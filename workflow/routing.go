package workflow

import (
	"fmt"
	"sort"
)

// Router 根据状态给出路由标签
type Router[S any] interface {
	Route(state S) string
}

// RouterFunc 路由函数类型
type RouterFunc[S any] func(state S) string

// Route implements Router.
func (f RouterFunc[S]) Route(state S) string {
	return f(state)
}

// ConditionalEdge 路由标签到目标节点的映射
// 未知标签落到 defaultRoute；没有 defaultRoute 时返回错误
type ConditionalEdge[S any] struct {
	router       Router[S]
	mapping      map[string]string
	defaultRoute string
}

// NewConditionalEdge 创建条件边
func NewConditionalEdge[S any](router Router[S], mapping map[string]string) *ConditionalEdge[S] {
	m := make(map[string]string, len(mapping))
	for label, target := range mapping {
		m[label] = target
	}
	return &ConditionalEdge[S]{router: router, mapping: m}
}

// WithDefault 设置未知标签的兜底目标
func (e *ConditionalEdge[S]) WithDefault(target string) *ConditionalEdge[S] {
	e.defaultRoute = target
	return e
}

// Labels 返回已映射的标签（排序）
func (e *ConditionalEdge[S]) Labels() []string {
	labels := make([]string, 0, len(e.mapping))
	for label := range e.mapping {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func (e *ConditionalEdge[S]) resolve(state S) (string, error) {
	label := e.router.Route(state)
	if target, ok := e.mapping[label]; ok {
		return target, nil
	}
	if e.defaultRoute != "" {
		return e.defaultRoute, nil
	}
	return "", fmt.Errorf("workflow: no route for label %q", label)
}

func (e *ConditionalEdge[S]) targets() []string {
	out := make([]string, 0, len(e.mapping)+1)
	for _, t := range e.mapping {
		out = append(out, t)
	}
	if e.defaultRoute != "" {
		out = append(out, e.defaultRoute)
	}
	return out
}
