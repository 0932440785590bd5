package coach

import (
	"sort"

	"github.com/snehaltandel/process-map-agent/dataset"
	"github.com/snehaltandel/process-map-agent/workflow"
)

// StateUpdate 节点返回的部分状态。nil 字段表示不修改。
//
// 标量和产物记录取最后写入值；Messages、AuditLog、Charts、Diagrams 追加；
// Datasets 按名称合并。
type StateUpdate struct {
	Intent             *string
	Mode               *string
	UserRole           *string
	ProblemStatement   *string
	ValueProposition   *map[string]any
	ProblemMetrics     *[]map[string]any
	ProblemScope       *map[string]any
	SIPOC              *map[string]any
	ProcessMap         *map[string]any
	VSM                *map[string]any
	Fishbone           *map[string]any
	FiveWhys           *[]map[string]any
	A3                 *map[string]any
	KaizenPlan         *[]map[string]any
	CIOpportunities    *[]map[string]any
	Datasets           map[string]*dataset.Table
	Charts             []string
	Diagrams           []string
	Messages           []Message
	AuditLog           []AuditEntry
	PendingResponse    *string
	RouterDecision     *string
	SuggestedNextSteps *[]string
}

// Say 记录助手回复：写入历史与审计并设为待返回响应
func (u *StateUpdate) Say(content string) {
	u.Messages = append(u.Messages, Message{Role: RoleAssistant, Content: content})
	u.AuditLog = append(u.AuditLog, AuditEntry{"role": RoleAssistant, "content": content})
	u.PendingResponse = &content
}

// Audit 追加一条审计记录
func (u *StateUpdate) Audit(entry AuditEntry) {
	u.AuditLog = append(u.AuditLog, entry)
}

// Merge 将 update 合并进 state 的副本并返回，原 state 不变
func Merge(state *State, update *StateUpdate) *State {
	next := state.Clone()
	if update == nil {
		return next
	}

	last := workflow.LastValueReducer[string]()
	lastRecord := workflow.LastValueReducer[map[string]any]()
	lastList := workflow.LastValueReducer[[]map[string]any]()
	lastOptional := workflow.LastValueReducer[*string]()

	next.Intent = workflow.Apply(next.Intent, update.Intent, last)
	next.Mode = workflow.Apply(next.Mode, update.Mode, last)
	next.UserRole = workflow.Apply(next.UserRole, update.UserRole, last)
	next.ProblemStatement = workflow.Apply(next.ProblemStatement, optional(update.ProblemStatement), lastOptional)
	next.PendingResponse = workflow.Apply(next.PendingResponse, optional(update.PendingResponse), lastOptional)
	next.RouterDecision = workflow.Apply(next.RouterDecision, optional(update.RouterDecision), lastOptional)

	next.ValueProposition = workflow.Apply(next.ValueProposition, update.ValueProposition, lastRecord)
	next.ProblemScope = workflow.Apply(next.ProblemScope, update.ProblemScope, lastRecord)
	next.SIPOC = workflow.Apply(next.SIPOC, update.SIPOC, lastRecord)
	next.ProcessMap = workflow.Apply(next.ProcessMap, update.ProcessMap, lastRecord)
	next.VSM = workflow.Apply(next.VSM, update.VSM, lastRecord)
	next.Fishbone = workflow.Apply(next.Fishbone, update.Fishbone, lastRecord)
	next.A3 = workflow.Apply(next.A3, update.A3, lastRecord)

	next.ProblemMetrics = workflow.Apply(next.ProblemMetrics, update.ProblemMetrics, lastList)
	next.FiveWhys = workflow.Apply(next.FiveWhys, update.FiveWhys, lastList)
	next.KaizenPlan = workflow.Apply(next.KaizenPlan, update.KaizenPlan, lastList)
	next.CIOpportunities = workflow.Apply(next.CIOpportunities, update.CIOpportunities, lastList)
	next.SuggestedNextSteps = workflow.Apply(next.SuggestedNextSteps, update.SuggestedNextSteps, workflow.LastValueReducer[[]string]())

	next.Messages = workflow.Apply(next.Messages, present(update.Messages), workflow.AppendReducer[Message]())
	next.AuditLog = workflow.Apply(next.AuditLog, present(update.AuditLog), workflow.AppendReducer[AuditEntry]())
	next.Charts = workflow.Apply(next.Charts, present(update.Charts), workflow.AppendReducer[string]())
	next.Diagrams = workflow.Apply(next.Diagrams, present(update.Diagrams), workflow.AppendReducer[string]())

	if len(update.Datasets) > 0 {
		names := make([]string, 0, len(update.Datasets))
		for name := range update.Datasets {
			if _, exists := next.Datasets[name]; !exists {
				names = append(names, name)
			}
		}
		next.Datasets = workflow.Apply(next.Datasets, &update.Datasets, workflow.MergeMapReducer[string, *dataset.Table]())
		next.DatasetOrder = reconcileOrder(append(next.DatasetOrder, sortedCopy(names)...), next.Datasets)
	}

	next.normalize()
	return next
}

// optional 把“设置为 v”的指针包装成 Apply 需要的形式
func optional(v *string) **string {
	if v == nil {
		return nil
	}
	return &v
}

// present 空切片视为未更新
func present[T any](vs []T) *[]T {
	if len(vs) == 0 {
		return nil
	}
	return &vs
}

func ptr[T any](v T) *T { return &v }

func sortedCopy(vs []string) []string {
	out := append([]string(nil), vs...)
	sort.Strings(out)
	return out
}
