package coach

import (
	"context"
	"time"

	"github.com/snehaltandel/process-map-agent/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/snehaltandel/process-map-agent/coach"

var validRoutes = func() map[string]bool {
	m := map[string]bool{RouteIdle: true}
	for _, name := range CoachNodes {
		m[name] = true
	}
	return m
}()

// Route 返回 supervisor 的路由标签；空或未知标签路由到 problem
func Route(state *State) string {
	decision := deref(state.RouterDecision)
	if decision == "" || !validRoutes[decision] {
		return NodeProblem
	}
	return decision
}

// buildGraph 组装 supervisor 循环：supervisor → 教练 → supervisor，idle 结束
func buildGraph(n *nodes, opts *options) (*workflow.Graph[*State], error) {
	g := workflow.NewGraph[*State]()
	g.SetMaxSteps(opts.maxSteps)

	table := n.table()
	for _, name := range append([]string{NodeSupervisor}, CoachNodes...) {
		if err := g.AddNode(name, adapt(table[name])); err != nil {
			return nil, err
		}
	}
	g.SetEntryPoint(NodeSupervisor)

	mapping := make(map[string]string, len(CoachNodes)+1)
	for _, name := range CoachNodes {
		mapping[name] = name
	}
	mapping[RouteIdle] = workflow.END

	router := workflow.RouterFunc[*State](func(s *State) string {
		route := Route(s)
		opts.observer.RecordRouteDecision(route)
		return route
	})
	if err := g.AddConditionalEdges(NodeSupervisor, workflow.NewConditionalEdge[*State](router, mapping).WithDefault(NodeProblem)); err != nil {
		return nil, err
	}
	for _, name := range CoachNodes {
		if err := g.AddEdge(name, NodeSupervisor); err != nil {
			return nil, err
		}
	}

	g.Use(tracingMiddleware(), observerMiddleware(opts.observer, opts.logger))
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// adapt 把返回部分更新的节点包装成图节点
func adapt(fn NodeFunc) workflow.NodeFunc[*State] {
	return func(ctx context.Context, state *State) (*State, error) {
		update, err := fn(ctx, state)
		if err != nil {
			return state, err
		}
		return Merge(state, update), nil
	}
}

func tracingMiddleware() workflow.NodeMiddleware[*State] {
	tracer := otel.Tracer(tracerName)
	return func(name string, next workflow.NodeFunc[*State]) workflow.NodeFunc[*State] {
		return func(ctx context.Context, state *State) (*State, error) {
			ctx, span := tracer.Start(ctx, "coach.node."+name,
				trace.WithAttributes(attribute.String("coach.node", name)))
			defer span.End()

			out, err := next(ctx, state)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return out, err
			}
			if name == NodeSupervisor {
				span.SetAttributes(attribute.String("coach.route", Route(out)))
			}
			return out, nil
		}
	}
}

func observerMiddleware(obs Observer, logger *zap.Logger) workflow.NodeMiddleware[*State] {
	return func(name string, next workflow.NodeFunc[*State]) workflow.NodeFunc[*State] {
		return func(ctx context.Context, state *State) (*State, error) {
			start := time.Now()
			out, err := next(ctx, state)
			duration := time.Since(start)

			status := "success"
			if err != nil {
				status = "error"
			}
			obs.RecordNodeExecution(name, status, duration)
			logger.Debug("node executed",
				zap.String("node", name),
				zap.String("status", status),
				zap.Duration("duration", duration))
			return out, err
		}
	}
}
