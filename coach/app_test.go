package coach

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/snehaltandel/process-map-agent/llm"
	"github.com/snehaltandel/process-map-agent/llm/tokenizer"
	"github.com/snehaltandel/process-map-agent/testutil"
	"github.com/snehaltandel/process-map-agent/testutil/fixtures"
	"github.com/snehaltandel/process-map-agent/testutil/mocks"
	"github.com/snehaltandel/process-map-agent/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func zapNop() *zap.Logger { return zap.NewNop() }

const paretoCSV = "```csv\ncause,count\nLate approval,12\nMissing form,7\nSystem down,3\n```"

func newTestCoach(t *testing.T, provider *mocks.MockProvider, opts ...Option) *Coach {
	t.Helper()
	opts = append([]Option{WithArtifactsDir(testutil.ArtifactsDir(t))}, opts...)
	c, err := New(provider, opts...)
	require.NoError(t, err)
	return c
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestSend_RoutesToCoachThenIdles(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(fixtures.Supervisor("sipoc"), fixtures.SIPOC())
	c := newTestCoach(t, provider)

	reply, err := c.Send(testutil.TestContext(t), "Help me scope onboarding")
	require.NoError(t, err)

	assert.Equal(t, "SIPOC ready for review.", reply)
	assert.Equal(t, 2, provider.CallCount())

	s := c.State()
	assert.Equal(t, "Reduce onboarding cycle time.", s.Intent)
	assert.Equal(t, "guided", s.Mode)
	assert.Len(t, s.SuggestedNextSteps, 3)
	assert.Equal(t, []any{"HR"}, s.SIPOC["suppliers"])
	assert.Equal(t, "Help me scope onboarding", deref(s.LatestUserMessage))
	assert.Equal(t, RouteIdle, deref(s.RouterDecision))

	require.Len(t, s.Messages, 2)
	assert.Equal(t, Message{Role: RoleUser, Content: "Help me scope onboarding"}, s.Messages[0])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "SIPOC ready for review."}, s.Messages[1])

	require.Len(t, s.AuditLog, 3)
	assert.Equal(t, NodeSupervisor, s.AuditLog[1]["node"])
	assert.Equal(t, "sipoc", s.AuditLog[1]["decision"])
	assert.Equal(t, "Routing to the sipoc coach.", s.AuditLog[1]["assistant_message"])
}

func TestSend_RequestShape(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(fixtures.Supervisor("problem"), fixtures.Problem())
	c := newTestCoach(t, provider, WithModel("gpt-4o"))

	_, err := c.Send(testutil.TestContext(t), "Our onboarding is slow")
	require.NoError(t, err)

	calls := provider.Calls()
	require.Len(t, calls, 2)

	sup := calls[0].Request
	assert.Equal(t, "gpt-4o", sup.Model)
	assert.Equal(t, float32(0), sup.Temperature)
	assert.Equal(t, "supervisor", sup.Metadata["node"])
	assert.Contains(t, sup.Messages[0].Content, "Supervisor for the Unified Continuous Improvement Coach")
	assert.Equal(t, "Context summary:\nNo artifacts captured yet.", sup.Messages[1].Content)
	assert.Equal(t, llm.UserMessage("Our onboarding is slow"), sup.Messages[2])
	assert.Equal(t, "Latest user message: Our onboarding is slow", sup.Messages[3].Content)

	coachReq := calls[1].Request
	assert.Equal(t, float32(DefaultTemperature), coachReq.Temperature)
	assert.Equal(t, "problem", coachReq.Metadata["node"])
	assert.Equal(t, "Latest user message: Our onboarding is slow", coachReq.Messages[len(coachReq.Messages)-2].Content)
}

func TestSend_IdleReturnsFallback(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(fixtures.Idle())
	c := newTestCoach(t, provider)

	reply, err := c.Send(testutil.TestContext(t), "thanks, that's all")
	require.NoError(t, err)
	assert.Equal(t, FallbackResponse, reply)
	assert.Equal(t, 1, provider.CallCount())
}

func TestSend_UnknownLabelRoutesToProblem(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(fixtures.Supervisor("banana"), fixtures.Problem())
	c := newTestCoach(t, provider)

	reply, err := c.Send(testutil.TestContext(t), "hmm")
	require.NoError(t, err)
	assert.Equal(t, "Here is a SMART problem statement.", reply)

	s := c.State()
	require.NotNil(t, s.ProblemStatement)
	assert.Equal(t, "Onboarding takes 14 days against a 5 day target.", *s.ProblemStatement)
	require.Len(t, s.ProblemMetrics, 1)
	assert.Equal(t, "cycle_time_days", s.ProblemMetrics[0]["name"])
	assert.Equal(t, []any{"account setup"}, s.ProblemScope["in_scope"])
	require.Len(t, s.CIOpportunities, 1)
}

func TestSend_ToleratesProseAroundJSON(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(
		fixtures.Wrapped(fixtures.Supervisor("sipoc")),
		fixtures.Wrapped(fixtures.SIPOC()),
	)
	c := newTestCoach(t, provider)

	reply, err := c.Send(testutil.TestContext(t), "sipoc please")
	require.NoError(t, err)
	assert.Equal(t, "SIPOC ready for review.", reply)
}

func TestSend_MissingMessageUsesDefault(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(fixtures.Supervisor("five_whys"), `{"chains": [{"problem": "late", "whys": []}]}`)
	c := newTestCoach(t, provider)

	reply, err := c.Send(testutil.TestContext(t), "why?")
	require.NoError(t, err)
	assert.Equal(t, "5-Whys analysis drafted.", reply)
	assert.Len(t, c.State().FiveWhys, 1)
}

func TestSend_SpecialistNodes(t *testing.T) {
	tests := []struct {
		name   string
		script []string
		check  func(t *testing.T, s *State, reply string)
	}{
		{
			name:   "value_prop stores model output",
			script: []string{fixtures.Supervisor(NodeValueProp), fixtures.ValueProp()},
			check: func(t *testing.T, s *State, reply string) {
				assert.Equal(t, "Value proposition framed.", reply)
				assert.Equal(t, map[string]any{"cycle_time": "-40%"}, s.ValueProposition["impact"])
				assert.Len(t, s.ValueProposition["stakeholders"], 1)
			},
		},
		{
			name:   "value_prop defaults missing sections",
			script: []string{fixtures.Supervisor(NodeValueProp), `{"stakeholders": null}`},
			check: func(t *testing.T, s *State, reply string) {
				assert.Equal(t, "Value proposition updated.", reply)
				assert.Equal(t, map[string]any{
					"stakeholders": []any{},
					"impact":       map[string]any{},
					"requirements": map[string]any{},
				}, s.ValueProposition)
			},
		},
		{
			name: "five_whys keeps previous chains when absent",
			script: []string{
				fixtures.Supervisor(NodeFiveWhys), fixtures.FiveWhys(),
				fixtures.Supervisor(NodeFiveWhys), `{"message": "Nothing new to add."}`,
			},
			check: func(t *testing.T, s *State, reply string) {
				assert.Equal(t, "Nothing new to add.", reply)
				require.Len(t, s.FiveWhys, 1)
				assert.Equal(t, "No owner", s.FiveWhys[0]["root_cause"])
			},
		},
		{
			name:   "a3 writes every section",
			script: []string{fixtures.Supervisor(NodeA3), fixtures.A3()},
			check: func(t *testing.T, s *State, reply string) {
				assert.Equal(t, "A3 assembled.", reply)
				require.Len(t, s.A3, 7)
				assert.Equal(t, "Onboarding takes 9 days.", s.A3["summary"])
				for _, key := range []string{"current_state", "analysis", "countermeasures", "follow_up"} {
					v, ok := s.A3[key]
					assert.True(t, ok, key)
					assert.Nil(t, v, key)
				}
				assert.NotContains(t, s.A3, "message")
			},
		},
		{
			name:   "kaizen audits the pilot plan",
			script: []string{fixtures.Supervisor(NodeKaizen), fixtures.Kaizen()},
			check: func(t *testing.T, s *State, reply string) {
				assert.Equal(t, "Kaizen backlog ready.", reply)
				require.Len(t, s.KaizenPlan, 2)
				assert.Equal(t, "Single intake form", s.KaizenPlan[0]["idea"])

				var audited AuditEntry
				for _, entry := range s.AuditLog {
					if entry["node"] == NodeKaizen {
						audited = entry
					}
				}
				require.NotNil(t, audited)
				assert.Equal(t, map[string]any{"scope": "Sales hires", "weeks": float64(4)}, audited["pilot_plan"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoach(t, mocks.NewMockProvider().WithScript(tt.script...))
			ctx := testutil.TestContext(t)

			var reply string
			for i := 0; i < len(tt.script)/2; i++ {
				var err error
				reply, err = c.Send(ctx, "next step please")
				require.NoError(t, err)
			}
			tt.check(t, c.State(), reply)
		})
	}
}

func TestSend_ProcessMapRendersDiagram(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(fixtures.Supervisor("process_map"), fixtures.ProcessMap())
	c := newTestCoach(t, provider)

	reply, err := c.Send(testutil.TestContext(t), "map it")
	require.NoError(t, err)

	s := c.State()
	require.Len(t, s.Diagrams, 1)
	assert.True(t, strings.HasSuffix(s.Diagrams[0], "process_map.dot"))
	assert.Equal(t, "Swimlane map drafted.\nProcess map diagram exported to "+s.Diagrams[0]+".", reply)
	_, err = os.Stat(s.Diagrams[0])
	assert.NoError(t, err)
}

func TestSend_ProcessMapRenderFailureIsAudited(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(fixtures.Supervisor("process_map"), fixtures.EmptyProcessMap())
	c := newTestCoach(t, provider)

	reply, err := c.Send(testutil.TestContext(t), "map it")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to map yet.", reply)

	s := c.State()
	assert.Empty(t, s.Diagrams)
	var found bool
	for _, entry := range s.AuditLog {
		if entry["node"] == NodeProcessMap {
			found = true
			assert.Equal(t, "No steps found in process map definition.", entry["error"])
		}
	}
	assert.True(t, found)
}

func TestSend_FishboneUsesProblemStatementAsEffect(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(
		fixtures.Supervisor("problem"), fixtures.Problem(),
		fixtures.Supervisor("fishbone"), fixtures.Fishbone(),
	)
	c := newTestCoach(t, provider)
	ctx := testutil.TestContext(t)

	_, err := c.Send(ctx, "frame it")
	require.NoError(t, err)
	reply, err := c.Send(ctx, "causes?")
	require.NoError(t, err)

	s := c.State()
	assert.Equal(t, "Onboarding takes 14 days against a 5 day target.", s.Fishbone["effect"])
	require.Len(t, s.Diagrams, 1)
	assert.Contains(t, reply, "Fishbone diagram exported to")
}

func TestSend_ChartsWithoutDataset(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(fixtures.Supervisor("charts"))
	c := newTestCoach(t, provider)

	reply, err := c.Send(testutil.TestContext(t), "make a chart")
	require.NoError(t, err)
	assert.Equal(t, "I didn't detect a dataset. Please paste a CSV in a code block.", reply)
	assert.Equal(t, 1, provider.CallCount())
}

func TestSend_ChartsRendersPareto(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(
		fixtures.Supervisor("charts"),
		fixtures.Chart("dataset_1", "pareto", "count", "cause"),
	)
	c := newTestCoach(t, provider)

	reply, err := c.Send(testutil.TestContext(t), "Pareto of these please\n"+paretoCSV)
	require.NoError(t, err)

	s := c.State()
	require.Len(t, s.Charts, 1)
	assert.True(t, strings.HasSuffix(s.Charts[0], "chart_pareto_dataset_1.png"))
	assert.Equal(t, "Here is your chart.\nChart saved to "+s.Charts[0]+".", reply)
	_, err = os.Stat(s.Charts[0])
	assert.NoError(t, err)

	// 规划请求的上下文摘要里能看到数据集
	planner := provider.Calls()[1].Request
	assert.Contains(t, planner.Messages[1].Content, "Datasets available: dataset_1")
}

func TestSend_ChartFailureIsReported(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(
		fixtures.Supervisor("charts"),
		fixtures.Chart("dataset_1", "pie", "count", ""),
	)
	c := newTestCoach(t, provider)

	reply, err := c.Send(testutil.TestContext(t), paretoCSV)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply, "Unable to render chart: unsupported chart type"), reply)

	s := c.State()
	assert.Empty(t, s.Charts)
	last := s.AuditLog[len(s.AuditLog)-2]
	assert.Equal(t, NodeCharts, last["node"])
}

func TestSend_ChartDefaultsToFirstDataset(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(
		fixtures.Supervisor("charts"),
		`{"chart_type": "histogram", "value_column": "count"}`,
	)
	c := newTestCoach(t, provider)

	reply, err := c.Send(testutil.TestContext(t), paretoCSV)
	require.NoError(t, err)

	s := c.State()
	require.Len(t, s.Charts, 1)
	assert.True(t, strings.HasSuffix(s.Charts[0], "chart_histogram_dataset_1.png"))
	assert.Equal(t, "Chart created at "+s.Charts[0]+".\nChart saved to "+s.Charts[0]+".", reply)
}

func TestSend_DatasetNamesAreDeduplicated(t *testing.T) {
	provider := mocks.NewMockProvider().WithResponse(fixtures.Idle())
	c := newTestCoach(t, provider)
	ctx := testutil.TestContext(t)

	for i := 0; i < 3; i++ {
		_, err := c.Send(ctx, paretoCSV)
		require.NoError(t, err)
	}

	s := c.State()
	assert.Equal(t, []string{"dataset_1", "dataset_1_2", "dataset_1_3"}, s.DatasetNames())

	var previews int
	for _, entry := range s.AuditLog {
		if entry["node"] == "dataset_ingest" {
			previews++
			assert.Contains(t, entry["preview"], "| cause | count |")
		}
	}
	assert.Equal(t, 3, previews)
}

func TestSend_ErrorLeavesStateUntouched(t *testing.T) {
	tests := []struct {
		name     string
		provider *mocks.MockProvider
		target   error
	}{
		{
			name:     "provider error",
			provider: mocks.NewMockProvider().WithError(&llm.Error{Code: llm.ErrUpstreamError, Message: "boom"}),
		},
		{
			name:     "no json",
			provider: mocks.NewMockProvider().WithScript("I cannot decide."),
			target:   llm.ErrNoJSON,
		},
		{
			name:     "coach fails after routing",
			provider: mocks.NewMockProvider().WithScript(fixtures.Supervisor("sipoc")),
			target:   mocks.ErrScriptExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoach(t, tt.provider)
			before := c.ExportState()

			_, err := c.Send(testutil.TestContext(t), "hello\n"+paretoCSV)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			var execErr *workflow.ExecutionError
			assert.True(t, errors.As(err, &execErr))
			assert.Equal(t, before, c.ExportState())
		})
	}
}

func TestSend_MaxStepsGuard(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(fixtures.Supervisor("sipoc"), fixtures.SIPOC())
	c := newTestCoach(t, provider, WithMaxSteps(1))

	_, err := c.Send(testutil.TestContext(t), "go")
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrMaxStepsExceeded)
}

func TestSend_ContextCancelled(t *testing.T) {
	provider := mocks.NewMockProvider().WithResponse(fixtures.Idle())
	c := newTestCoach(t, provider)

	_, err := c.Send(testutil.CancelledContext(), "hi")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, provider.CallCount())
}

func TestReset(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(fixtures.Supervisor("sipoc"), fixtures.SIPOC())
	c := newTestCoach(t, provider)

	_, err := c.Send(testutil.TestContext(t), "go")
	require.NoError(t, err)
	require.NotEmpty(t, c.State().Messages)

	c.Reset()
	assert.Equal(t, NewState().ToMap(), c.ExportState())
}

type memoryStore struct {
	mu     sync.Mutex
	states map[string]*State
}

func (m *memoryStore) Load(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return s.Clone(), nil
}

func (m *memoryStore) Save(_ context.Context, id string, s *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = s.Clone()
	return nil
}

func TestSaveAndLoad(t *testing.T) {
	store := &memoryStore{states: map[string]*State{}}
	ctx := testutil.TestContext(t)

	first := newTestCoach(t, mocks.NewMockProvider().WithScript(fixtures.Supervisor("sipoc"), fixtures.SIPOC()))
	_, err := first.Send(ctx, "go")
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, store, "s-1"))

	second := newTestCoach(t, mocks.NewMockProvider())
	require.NoError(t, second.Load(ctx, store, "s-1"))
	assert.Equal(t, first.ExportState(), second.ExportState())

	assert.Error(t, second.Load(ctx, store, "missing"))
}

type recordingObserver struct {
	mu     sync.Mutex
	llm    []string
	nodes  []string
	routes []string
	tokens int
}

func (r *recordingObserver) RecordLLMRequest(provider, model, status string, _ time.Duration, prompt, completion int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm = append(r.llm, provider+"/"+status)
	r.tokens += prompt + completion
}

func (r *recordingObserver) RecordNodeExecution(node, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, node+":"+status)
}

func (r *recordingObserver) RecordRouteDecision(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func TestSend_ReportsToObserver(t *testing.T) {
	obs := &recordingObserver{}
	provider := mocks.NewMockProvider().
		WithScript(fixtures.Supervisor("sipoc"), fixtures.SIPOC()).
		WithTokenUsage(7, 3)
	c := newTestCoach(t, provider, WithObserver(obs), WithLogger(zap.NewNop()))

	_, err := c.Send(testutil.TestContext(t), "go")
	require.NoError(t, err)

	assert.Equal(t, []string{"mock/success", "mock/success"}, obs.llm)
	assert.Equal(t, []string{"supervisor:success", "sipoc:success", "supervisor:success"}, obs.nodes)
	assert.Equal(t, []string{"sipoc", "idle"}, obs.routes)
	assert.Equal(t, 20, obs.tokens)
	assert.Zero(t, provider.Remaining())
}

func TestSend_HistoryBudgetTrimsOldMessages(t *testing.T) {
	provider := mocks.NewMockProvider().WithResponse(fixtures.Idle())
	c := newTestCoach(t, provider, WithHistoryBudget(200),
		WithTokenizer(tokenizer.NewEstimatorTokenizer("test", 0)))
	ctx := testutil.TestContext(t)

	long := strings.Repeat("lorem ipsum ", 100)
	for i := 0; i < 3; i++ {
		_, err := c.Send(ctx, long)
		require.NoError(t, err)
	}

	req := provider.LastRequest()
	require.NotNil(t, req)
	// 指令、摘要、最新消息和 JSON 约束始终保留；历史被裁掉
	assert.Len(t, req.Messages, 4)
}
