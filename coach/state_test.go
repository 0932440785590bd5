package coach

import (
	"encoding/json"
	"testing"

	"github.com/snehaltandel/process-map-agent/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stateKeys = []string{
	"intent", "mode", "user_role", "problem_statement", "value_proposition",
	"problem_metrics", "problem_scope", "sipoc", "process_map", "vsm", "fishbone",
	"five_whys", "a3", "kaizen_plan", "datasets", "dataset_order", "charts", "diagrams",
	"ci_opportunities", "messages", "audit_log", "latest_user_message",
	"pending_response", "router_decision", "suggested_next_steps",
}

func TestNewState_Defaults(t *testing.T) {
	s := NewState()

	assert.Equal(t, "", s.Intent)
	assert.Equal(t, "guided", s.Mode)
	assert.Equal(t, "operator", s.UserRole)
	assert.Nil(t, s.ProblemStatement)
	assert.NotNil(t, s.ValueProposition)
	assert.NotNil(t, s.Datasets)
	assert.NotNil(t, s.Messages)
	assert.NotNil(t, s.AuditLog)
	assert.Empty(t, s.Charts)
}

func TestState_ToMapHasEveryField(t *testing.T) {
	m := NewState().ToMap()
	for _, key := range stateKeys {
		assert.Contains(t, m, key)
	}
	assert.Len(t, m, len(stateKeys))
	assert.Nil(t, m["problem_statement"])
	assert.Equal(t, map[string]any{}, m["sipoc"])
	assert.Equal(t, []any{}, m["messages"])
}

func TestFromMap_DefaultsAndUnknownKeys(t *testing.T) {
	s, err := FromMap(map[string]any{
		"intent":   "cut cycle time",
		"bogus":    42,
		"messages": []any{map[string]any{"role": "user", "content": "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "cut cycle time", s.Intent)
	assert.Equal(t, "guided", s.Mode)
	assert.Equal(t, "operator", s.UserRole)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, Message{Role: "user", Content: "hi"}, s.Messages[0])
	assert.NotNil(t, s.KaizenPlan)
}

func TestFromMap_Nil(t *testing.T) {
	s, err := FromMap(nil)
	require.NoError(t, err)
	assert.Equal(t, NewState().ToMap(), s.ToMap())
}

func TestFromMap_RejectsWrongTypes(t *testing.T) {
	_, err := FromMap(map[string]any{"charts": "not-a-list"})
	assert.Error(t, err)
}

func TestState_MapRoundTrip(t *testing.T) {
	s := NewState()
	s.Intent = "reduce defects"
	s.ProblemStatement = strPtr("Defects are 4% vs 1% target.")
	s.SIPOC = map[string]any{"suppliers": []any{"HR"}}
	s.Charts = []string{"artifacts/chart_pareto_dataset_1.png"}
	s.Datasets["dataset_1"] = &dataset.Table{Columns: []string{"a"}, Rows: [][]string{{"1"}}}
	s.DatasetOrder = []string{"dataset_1"}
	s.AppendMessage(RoleUser, "hello")

	back, err := FromMap(s.ToMap())
	require.NoError(t, err)
	assert.Equal(t, s.ToMap(), back.ToMap())
	assert.Equal(t, "Defects are 4% vs 1% target.", *back.ProblemStatement)
	assert.Equal(t, []string{"a"}, back.Datasets["dataset_1"].Columns)
}

func TestState_JSONMatchesMapForm(t *testing.T) {
	s := NewState()
	s.AppendMessage(RoleAssistant, "SIPOC drafted.")

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var viaJSON map[string]any
	require.NoError(t, json.Unmarshal(raw, &viaJSON))
	assert.Equal(t, s.ToMap(), viaJSON)

	var decoded State
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, s.ToMap(), decoded.ToMap())
}

func TestState_AppendMessageAudits(t *testing.T) {
	s := NewState()
	s.AppendMessage(RoleUser, "map my process")

	require.Len(t, s.Messages, 1)
	require.Len(t, s.AuditLog, 1)
	assert.Equal(t, AuditEntry{"role": "user", "content": "map my process"}, s.AuditLog[0])
}

func TestState_CloneIsDeep(t *testing.T) {
	s := NewState()
	s.SIPOC = map[string]any{"inputs": []any{"form"}}
	s.Charts = []string{"a.png"}

	c := s.Clone()
	c.SIPOC["inputs"] = []any{"changed"}
	c.Charts[0] = "b.png"
	c.AppendMessage(RoleUser, "x")

	assert.Equal(t, []any{"form"}, s.SIPOC["inputs"])
	assert.Equal(t, "a.png", s.Charts[0])
	assert.Empty(t, s.Messages)
}

func TestState_DatasetNamesKeepInsertionOrder(t *testing.T) {
	s := NewState()
	for _, name := range []string{"dataset_2", "dataset_10", "dataset_1"} {
		s.Datasets[name] = &dataset.Table{Columns: []string{"x"}}
		s.DatasetOrder = append(s.DatasetOrder, name)
	}
	s.Datasets["dataset_zz"] = &dataset.Table{Columns: []string{"x"}}

	assert.Equal(t, []string{"dataset_2", "dataset_10", "dataset_1", "dataset_zz"}, s.DatasetNames())

	back, err := FromMap(s.ToMap())
	require.NoError(t, err)
	assert.Equal(t, s.DatasetNames(), back.DatasetNames())
}
