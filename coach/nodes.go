package coach

import (
	"context"
	"fmt"
	"time"

	"github.com/snehaltandel/process-map-agent/llm"
	"github.com/snehaltandel/process-map-agent/render"
	"go.uber.org/zap"
)

// 节点名称，同时也是 supervisor 的路由标签
const (
	NodeSupervisor = "supervisor"
	NodeProblem    = "problem"
	NodeValueProp  = "value_prop"
	NodeProcessMap = "process_map"
	NodeSIPOC      = "sipoc"
	NodeFishbone   = "fishbone"
	NodeFiveWhys   = "five_whys"
	NodeA3         = "a3"
	NodeKaizen     = "kaizen"
	NodeCharts     = "charts"

	// RouteIdle 结束本轮
	RouteIdle = "idle"
)

const noDatasetMessage = "I didn't detect a dataset. Please paste a CSV in a code block."

// CoachNodes 可被 supervisor 选中的教练节点，按注册顺序
var CoachNodes = []string{
	NodeProblem,
	NodeValueProp,
	NodeProcessMap,
	NodeSIPOC,
	NodeFishbone,
	NodeFiveWhys,
	NodeA3,
	NodeKaizen,
	NodeCharts,
}

// NodeFunc 节点读取状态并返回部分更新
type NodeFunc func(ctx context.Context, state *State) (*StateUpdate, error)

// nodes 持有节点共享的依赖
type nodes struct {
	opts     *options
	provider llm.Provider
	diagrams *render.DiagramRenderer
	logger   *zap.Logger
}

func newNodes(provider llm.Provider, opts *options) *nodes {
	return &nodes{
		opts:     opts,
		provider: provider,
		diagrams: render.NewDiagramRenderer(opts.artifactsDir),
		logger:   opts.logger.With(zap.String("component", "coach_nodes")),
	}
}

func (n *nodes) table() map[string]NodeFunc {
	return map[string]NodeFunc{
		NodeSupervisor: n.supervisor,
		NodeProblem:    n.problem,
		NodeValueProp:  n.valueProp,
		NodeProcessMap: n.processMap,
		NodeSIPOC:      n.sipoc,
		NodeFishbone:   n.fishbone,
		NodeFiveWhys:   n.fiveWhys,
		NodeA3:         n.a3,
		NodeKaizen:     n.kaizen,
		NodeCharts:     n.charts,
	}
}

// complete 渲染提示词、调用模型并解析 JSON
func (n *nodes) complete(ctx context.Context, prompt Prompt, state *State, temperature float32) (map[string]any, error) {
	summary := BuildStateSummary(state)
	latest := deref(state.LatestUserMessage)
	history := FitHistory(n.opts.tokenizer, n.opts.historyBudget,
		prompt.Render(summary, nil, latest), ToChatMessages(state))

	req := &llm.ChatRequest{
		Model:       n.opts.model,
		Messages:    prompt.Render(summary, history, latest),
		Temperature: temperature,
		MaxTokens:   n.opts.maxTokens,
		Timeout:     n.opts.requestTimeout,
		Metadata:    map[string]string{"node": prompt.Name},
	}

	start := time.Now()
	resp, err := n.provider.Completion(ctx, req)
	duration := time.Since(start)
	if err != nil {
		n.opts.observer.RecordLLMRequest(n.provider.Name(), n.opts.model, "error", duration, 0, 0)
		return nil, fmt.Errorf("%s: completion failed: %w", prompt.Name, err)
	}
	n.opts.observer.RecordLLMRequest(n.provider.Name(), resp.Model, "success", duration,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	data, err := llm.ExtractJSON(resp.Text())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", prompt.Name, err)
	}
	n.logger.Debug("node response parsed",
		zap.String("node", prompt.Name),
		zap.Int("keys", len(data)),
		zap.Duration("latency", duration))
	return data, nil
}

func (n *nodes) supervisor(ctx context.Context, state *State) (*StateUpdate, error) {
	// 没有新消息，或本轮已有教练作答
	if deref(state.LatestUserMessage) == "" || state.PendingResponse != nil {
		return &StateUpdate{RouterDecision: strPtr(RouteIdle)}, nil
	}

	data, err := n.complete(ctx, supervisorPrompt, state, 0)
	if err != nil {
		return nil, err
	}

	intent := stringOr(data, "updated_intent", state.Intent)
	mode := stringOr(data, "mode", state.Mode)
	decision := stringOr(data, "next_node", NodeProblem)
	suggested := stringList(data, "suggested_next")

	u := &StateUpdate{
		Intent:             &intent,
		Mode:               &mode,
		RouterDecision:     &decision,
		SuggestedNextSteps: &suggested,
	}
	u.Audit(AuditEntry{
		"node":              NodeSupervisor,
		"decision":          decision,
		"intent":            intent,
		"assistant_message": data["assistant_message"],
	})
	n.logger.Debug("supervisor routed", zap.String("decision", decision), zap.String("mode", mode))
	return u, nil
}

func (n *nodes) problem(ctx context.Context, state *State) (*StateUpdate, error) {
	data, err := n.complete(ctx, problemPrompt, state, n.opts.temperature)
	if err != nil {
		return nil, err
	}

	u := &StateUpdate{
		ProblemMetrics:  ptr(recordList(data, "metrics", state.ProblemMetrics)),
		ProblemScope:    ptr(recordOr(data, "scope", state.ProblemScope)),
		CIOpportunities: ptr(recordList(data, "ci_opportunities", state.CIOpportunities)),
	}
	if v, ok := data["problem_statement"].(string); ok {
		u.ProblemStatement = &v
	}
	u.Say(stringOr(data, "message", "Here is the refreshed problem statement."))
	return u, nil
}

func (n *nodes) valueProp(ctx context.Context, state *State) (*StateUpdate, error) {
	data, err := n.complete(ctx, valuePropPrompt, state, n.opts.temperature)
	if err != nil {
		return nil, err
	}

	u := &StateUpdate{ValueProposition: ptr(map[string]any{
		"stakeholders": valueOr(data, "stakeholders", []any{}),
		"impact":       valueOr(data, "impact", map[string]any{}),
		"requirements": valueOr(data, "requirements", map[string]any{}),
	})}
	u.Say(stringOr(data, "message", "Value proposition updated."))
	return u, nil
}

func (n *nodes) sipoc(ctx context.Context, state *State) (*StateUpdate, error) {
	data, err := n.complete(ctx, sipocPrompt, state, n.opts.temperature)
	if err != nil {
		return nil, err
	}

	u := &StateUpdate{SIPOC: ptr(map[string]any{
		"suppliers":     valueOr(data, "suppliers", []any{}),
		"inputs":        valueOr(data, "inputs", []any{}),
		"process_steps": valueOr(data, "process_steps", []any{}),
		"outputs":       valueOr(data, "outputs", []any{}),
		"customers":     valueOr(data, "customers", []any{}),
	})}
	u.Say(stringOr(data, "message", "SIPOC drafted."))
	return u, nil
}

func (n *nodes) processMap(ctx context.Context, state *State) (*StateUpdate, error) {
	data, err := n.complete(ctx, processMapPrompt, state, n.opts.temperature)
	if err != nil {
		return nil, err
	}

	def := map[string]any{
		"roles":   valueOr(data, "roles", []any{}),
		"steps":   valueOr(data, "steps", []any{}),
		"edges":   valueOr(data, "edges", []any{}),
		"systems": valueOr(data, "systems", []any{}),
	}
	u := &StateUpdate{ProcessMap: &def}
	message := stringOr(data, "message", "Process map drafted.")

	path, err := n.diagrams.RenderProcessMap(def)
	if err != nil {
		n.logger.Warn("process map rendering failed", zap.Error(err))
		u.Audit(AuditEntry{"node": NodeProcessMap, "error": err.Error()})
	} else {
		u.Diagrams = []string{path}
		message += fmt.Sprintf("\nProcess map diagram exported to %s.", path)
	}
	u.Say(message)
	return u, nil
}

func (n *nodes) fishbone(ctx context.Context, state *State) (*StateUpdate, error) {
	data, err := n.complete(ctx, fishbonePrompt, state, n.opts.temperature)
	if err != nil {
		return nil, err
	}

	effect := "Problem"
	if ps := deref(state.ProblemStatement); ps != "" {
		effect = ps
	}
	def := map[string]any{
		"categories": valueOr(data, "categories", []any{}),
		"effect":     valueOr(data, "effect", effect),
	}
	u := &StateUpdate{Fishbone: &def}
	message := stringOr(data, "message", "Fishbone diagram drafted.")

	path, err := n.diagrams.RenderFishbone(def)
	if err != nil {
		n.logger.Warn("fishbone rendering failed", zap.Error(err))
		u.Audit(AuditEntry{"node": NodeFishbone, "error": err.Error()})
	} else {
		u.Diagrams = []string{path}
		message += fmt.Sprintf("\nFishbone diagram exported to %s.", path)
	}
	u.Say(message)
	return u, nil
}

func (n *nodes) fiveWhys(ctx context.Context, state *State) (*StateUpdate, error) {
	data, err := n.complete(ctx, fiveWhysPrompt, state, n.opts.temperature)
	if err != nil {
		return nil, err
	}

	u := &StateUpdate{FiveWhys: ptr(recordList(data, "chains", state.FiveWhys))}
	u.Say(stringOr(data, "message", "5-Whys analysis drafted."))
	return u, nil
}

func (n *nodes) a3(ctx context.Context, state *State) (*StateUpdate, error) {
	data, err := n.complete(ctx, a3Prompt, state, n.opts.temperature)
	if err != nil {
		return nil, err
	}

	sections := []string{"summary", "background", "current_state", "analysis", "countermeasures", "plan", "follow_up"}
	doc := make(map[string]any, len(sections))
	for _, key := range sections {
		doc[key] = data[key]
	}
	u := &StateUpdate{A3: &doc}
	u.Say(stringOr(data, "message", "A3 composed."))
	return u, nil
}

func (n *nodes) kaizen(ctx context.Context, state *State) (*StateUpdate, error) {
	data, err := n.complete(ctx, kaizenPrompt, state, n.opts.temperature)
	if err != nil {
		return nil, err
	}

	u := &StateUpdate{KaizenPlan: ptr(recordList(data, "backlog", state.KaizenPlan))}
	u.Audit(AuditEntry{"node": NodeKaizen, "pilot_plan": data["pilot_plan"]})
	u.Say(stringOr(data, "message", "Kaizen backlog drafted."))
	return u, nil
}

func (n *nodes) charts(ctx context.Context, state *State) (*StateUpdate, error) {
	u := &StateUpdate{}
	names := state.DatasetNames()
	if len(names) == 0 {
		u.Say(noDatasetMessage)
		return u, nil
	}

	data, err := n.complete(ctx, chartPrompt, state, n.opts.temperature)
	if err != nil {
		return nil, err
	}

	spec := render.ChartSpec{
		DatasetName:     stringOr(data, "dataset_name", names[0]),
		ChartType:       stringOr(data, "chart_type", "histogram"),
		ValueColumn:     stringOr(data, "value_column", ""),
		CategoryColumn:  stringOr(data, "category_column", ""),
		SecondaryColumn: stringOr(data, "secondary_column", ""),
		Title:           stringOr(data, "title", "CI Chart"),
	}

	renderer := render.NewChartRenderer(n.opts.artifactsDir, state.Datasets)
	path, err := renderer.Render(spec)
	if err != nil {
		n.logger.Warn("chart rendering failed",
			zap.String("chart_type", spec.ChartType),
			zap.String("dataset", spec.DatasetName),
			zap.Error(err))
		u.Audit(AuditEntry{"node": NodeCharts, "error": err.Error()})
		u.Say(fmt.Sprintf("Unable to render chart: %v", err))
		return u, nil
	}

	u.Charts = []string{path}
	message := stringOr(data, "message", fmt.Sprintf("Chart created at %s.", path))
	u.Say(message + fmt.Sprintf("\nChart saved to %s.", path))
	return u, nil
}

// =============================================================================
// JSON 字段读取
// =============================================================================

// stringOr 键存在且为字符串时返回其值，否则返回 def
func stringOr(data map[string]any, key, def string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// valueOr 键存在且非 null 时返回原值
func valueOr(data map[string]any, key string, def any) any {
	if v, ok := data[key]; ok && v != nil {
		return v
	}
	return def
}

func recordOr(data map[string]any, key string, def map[string]any) map[string]any {
	if m, ok := data[key].(map[string]any); ok {
		return m
	}
	return def
}

// recordList 读取对象数组；非对象元素以 {"value": x} 保留
func recordList(data map[string]any, key string, def []map[string]any) []map[string]any {
	items, ok := data[key].([]any)
	if !ok {
		return def
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
			continue
		}
		out = append(out, map[string]any{"value": item})
	}
	return out
}

func stringList(data map[string]any, key string) []string {
	items, ok := data[key].([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
			continue
		}
		out = append(out, fmt.Sprint(item))
	}
	return out
}
