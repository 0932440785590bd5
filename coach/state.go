package coach

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/snehaltandel/process-map-agent/dataset"
)

// 对话角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// 默认字段值
const (
	DefaultMode     = "guided"
	DefaultUserRole = "operator"
)

// Message 对话历史中的一条消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AuditEntry 审计日志条目（node / decision / error / dataset / preview ...）
type AuditEntry map[string]any

// State 在图节点之间共享的会话状态
type State struct {
	Intent             string
	Mode               string
	UserRole           string
	ProblemStatement   *string
	ValueProposition   map[string]any
	ProblemMetrics     []map[string]any
	ProblemScope       map[string]any
	SIPOC              map[string]any
	ProcessMap         map[string]any
	VSM                map[string]any
	Fishbone           map[string]any
	FiveWhys           []map[string]any
	A3                 map[string]any
	KaizenPlan         []map[string]any
	Datasets           map[string]*dataset.Table
	DatasetOrder       []string
	Charts             []string
	Diagrams           []string
	CIOpportunities    []map[string]any
	Messages           []Message
	AuditLog           []AuditEntry
	LatestUserMessage  *string
	PendingResponse    *string
	RouterDecision     *string
	SuggestedNextSteps []string
}

// NewState 返回带默认值的空状态，所有集合字段非 nil
func NewState() *State {
	s := &State{Mode: DefaultMode, UserRole: DefaultUserRole}
	s.normalize()
	return s
}

// record 是状态的序列化形式，指针字段用于区分缺失与零值
type record struct {
	Intent             *string                   `json:"intent"`
	Mode               *string                   `json:"mode"`
	UserRole           *string                   `json:"user_role"`
	ProblemStatement   *string                   `json:"problem_statement"`
	ValueProposition   map[string]any            `json:"value_proposition"`
	ProblemMetrics     []map[string]any          `json:"problem_metrics"`
	ProblemScope       map[string]any            `json:"problem_scope"`
	SIPOC              map[string]any            `json:"sipoc"`
	ProcessMap         map[string]any            `json:"process_map"`
	VSM                map[string]any            `json:"vsm"`
	Fishbone           map[string]any            `json:"fishbone"`
	FiveWhys           []map[string]any          `json:"five_whys"`
	A3                 map[string]any            `json:"a3"`
	KaizenPlan         []map[string]any          `json:"kaizen_plan"`
	Datasets           map[string]*dataset.Table `json:"datasets"`
	DatasetOrder       []string                  `json:"dataset_order"`
	Charts             []string                  `json:"charts"`
	Diagrams           []string                  `json:"diagrams"`
	CIOpportunities    []map[string]any          `json:"ci_opportunities"`
	Messages           []Message                 `json:"messages"`
	AuditLog           []AuditEntry              `json:"audit_log"`
	LatestUserMessage  *string                   `json:"latest_user_message"`
	PendingResponse    *string                   `json:"pending_response"`
	RouterDecision     *string                   `json:"router_decision"`
	SuggestedNextSteps []string                  `json:"suggested_next_steps"`
}

func (s *State) toRecord() record {
	c := *s
	c.normalize()
	return record{
		Intent:             &c.Intent,
		Mode:               &c.Mode,
		UserRole:           &c.UserRole,
		ProblemStatement:   c.ProblemStatement,
		ValueProposition:   c.ValueProposition,
		ProblemMetrics:     c.ProblemMetrics,
		ProblemScope:       c.ProblemScope,
		SIPOC:              c.SIPOC,
		ProcessMap:         c.ProcessMap,
		VSM:                c.VSM,
		Fishbone:           c.Fishbone,
		FiveWhys:           c.FiveWhys,
		A3:                 c.A3,
		KaizenPlan:         c.KaizenPlan,
		Datasets:           c.Datasets,
		DatasetOrder:       c.DatasetOrder,
		Charts:             c.Charts,
		Diagrams:           c.Diagrams,
		CIOpportunities:    c.CIOpportunities,
		Messages:           c.Messages,
		AuditLog:           c.AuditLog,
		LatestUserMessage:  c.LatestUserMessage,
		PendingResponse:    c.PendingResponse,
		RouterDecision:     c.RouterDecision,
		SuggestedNextSteps: c.SuggestedNextSteps,
	}
}

func fromRecord(r record) *State {
	s := &State{
		Mode:               DefaultMode,
		UserRole:           DefaultUserRole,
		ProblemStatement:   r.ProblemStatement,
		ValueProposition:   r.ValueProposition,
		ProblemMetrics:     r.ProblemMetrics,
		ProblemScope:       r.ProblemScope,
		SIPOC:              r.SIPOC,
		ProcessMap:         r.ProcessMap,
		VSM:                r.VSM,
		Fishbone:           r.Fishbone,
		FiveWhys:           r.FiveWhys,
		A3:                 r.A3,
		KaizenPlan:         r.KaizenPlan,
		Datasets:           r.Datasets,
		DatasetOrder:       r.DatasetOrder,
		Charts:             r.Charts,
		Diagrams:           r.Diagrams,
		CIOpportunities:    r.CIOpportunities,
		Messages:           r.Messages,
		AuditLog:           r.AuditLog,
		LatestUserMessage:  r.LatestUserMessage,
		PendingResponse:    r.PendingResponse,
		RouterDecision:     r.RouterDecision,
		SuggestedNextSteps: r.SuggestedNextSteps,
	}
	if r.Intent != nil {
		s.Intent = *r.Intent
	}
	if r.Mode != nil {
		s.Mode = *r.Mode
	}
	if r.UserRole != nil {
		s.UserRole = *r.UserRole
	}
	s.normalize()
	return s
}

// normalize 补齐 nil 集合，并让 DatasetOrder 与 Datasets 保持一致
func (s *State) normalize() {
	if s.ValueProposition == nil {
		s.ValueProposition = map[string]any{}
	}
	if s.ProblemMetrics == nil {
		s.ProblemMetrics = []map[string]any{}
	}
	if s.ProblemScope == nil {
		s.ProblemScope = map[string]any{}
	}
	if s.SIPOC == nil {
		s.SIPOC = map[string]any{}
	}
	if s.ProcessMap == nil {
		s.ProcessMap = map[string]any{}
	}
	if s.VSM == nil {
		s.VSM = map[string]any{}
	}
	if s.Fishbone == nil {
		s.Fishbone = map[string]any{}
	}
	if s.FiveWhys == nil {
		s.FiveWhys = []map[string]any{}
	}
	if s.A3 == nil {
		s.A3 = map[string]any{}
	}
	if s.KaizenPlan == nil {
		s.KaizenPlan = []map[string]any{}
	}
	if s.Datasets == nil {
		s.Datasets = map[string]*dataset.Table{}
	}
	if s.Charts == nil {
		s.Charts = []string{}
	}
	if s.Diagrams == nil {
		s.Diagrams = []string{}
	}
	if s.CIOpportunities == nil {
		s.CIOpportunities = []map[string]any{}
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	if s.AuditLog == nil {
		s.AuditLog = []AuditEntry{}
	}
	if s.SuggestedNextSteps == nil {
		s.SuggestedNextSteps = []string{}
	}
	s.DatasetOrder = reconcileOrder(s.DatasetOrder, s.Datasets)
}

// reconcileOrder 去掉已不存在的名字，未登记的数据集按名称排序追加
func reconcileOrder(order []string, tables map[string]*dataset.Table) []string {
	out := make([]string, 0, len(tables))
	seen := make(map[string]bool, len(tables))
	for _, name := range order {
		if _, ok := tables[name]; ok && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range tables {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// ToMap 返回状态的普通 map 形式，每个字段都存在
func (s *State) ToMap() map[string]any {
	raw, err := json.Marshal(s.toRecord())
	if err != nil {
		// record 只包含 JSON 可编码的值
		panic(fmt.Sprintf("coach: encode state: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("coach: decode state map: %v", err))
	}
	return out
}

// FromMap 从普通 map 构造状态；缺失字段取默认值，未知键忽略
func FromMap(data map[string]any) (*State, error) {
	if data == nil {
		return NewState(), nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("coach: encode state map: %w", err)
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("coach: decode state map: %w", err)
	}
	return fromRecord(r), nil
}

// MarshalJSON 与 ToMap 的形式保持一致
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toRecord())
}

// UnmarshalJSON 按 FromMap 的默认值规则解码
func (s *State) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*s = *fromRecord(r)
	return nil
}

// Clone 经由 map 形式深拷贝
func (s *State) Clone() *State {
	raw, err := json.Marshal(s.toRecord())
	if err != nil {
		panic(fmt.Sprintf("coach: clone state: %v", err))
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		panic(fmt.Sprintf("coach: clone state: %v", err))
	}
	return fromRecord(r)
}

// AppendMessage 追加到对话历史，同时写入审计日志
func (s *State) AppendMessage(role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
	s.AuditLog = append(s.AuditLog, AuditEntry{"role": role, "content": content})
}

// DatasetNames 按加入顺序返回数据集名
func (s *State) DatasetNames() []string {
	return reconcileOrder(s.DatasetOrder, s.Datasets)
}

func strPtr(v string) *string { return &v }

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
