package coach

import (
	"strings"
	"testing"

	"github.com/snehaltandel/process-map-agent/dataset"
	"github.com/snehaltandel/process-map-agent/llm"
	"github.com/snehaltandel/process-map-agent/llm/tokenizer"
	"github.com/snehaltandel/process-map-agent/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToChatMessages(t *testing.T) {
	s := NewState()
	s.Messages = []Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "tool", Content: "odd"},
	}

	got := ToChatMessages(s)
	require.Len(t, got, 4)
	assert.Equal(t, llm.RoleSystem, got[0].Role)
	assert.Equal(t, llm.RoleUser, got[1].Role)
	assert.Equal(t, llm.RoleAssistant, got[2].Role)
	assert.Equal(t, llm.RoleUser, got[3].Role)
	assert.Equal(t, "odd", got[3].Content)
}

func TestBuildStateSummary_Empty(t *testing.T) {
	assert.Equal(t, "No artifacts captured yet.", BuildStateSummary(NewState()))
}

func TestBuildStateSummary_Order(t *testing.T) {
	s := NewState()
	s.Diagrams = []string{"artifacts/fishbone.dot"}
	s.Charts = []string{"artifacts/chart_histogram_dataset_1.png"}
	s.Datasets["dataset_2"] = &dataset.Table{}
	s.Datasets["dataset_1"] = &dataset.Table{}
	s.DatasetOrder = []string{"dataset_2", "dataset_1"}
	s.KaizenPlan = []map[string]any{{"idea": "kanban"}}
	s.A3 = map[string]any{"summary": "x"}
	s.FiveWhys = []map[string]any{{"problem": "late"}}
	s.Fishbone = map[string]any{"effect": "late"}
	s.ProcessMap = map[string]any{"steps": []any{}}
	s.SIPOC = map[string]any{"inputs": []any{"form"}}
	s.ValueProposition = map[string]any{"impact": "high"}
	s.ProblemStatement = strPtr("Onboarding is slow.")

	lines := strings.Split(BuildStateSummary(s), "\n")
	require.Len(t, lines, 11)

	prefixes := []string{
		"Problem Statement: Onboarding is slow.",
		"Value Proposition: ",
		"SIPOC: ",
		"Process Map: ",
		"Fishbone: ",
		"5-Whys: ",
		"A3: ",
		"Kaizen Plan: ",
		"Datasets available: dataset_2, dataset_1",
		"Charts generated: ",
		"Diagrams generated: ",
	}
	for i, prefix := range prefixes {
		assert.True(t, strings.HasPrefix(lines[i], prefix), "line %d = %q", i, lines[i])
	}
	assert.Contains(t, lines[2], `"inputs":["form"]`)
}

func TestPromptRender(t *testing.T) {
	history := []llm.Message{llm.UserMessage("earlier")}
	msgs := sipocPrompt.Render("No artifacts captured yet.", history, "map it")

	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "SIPOC Coach")
	assert.Equal(t, "Context summary:\nNo artifacts captured yet.", msgs[1].Content)
	testutil.AssertMessagesEqual(t, []llm.Message{
		llm.UserMessage("earlier"),
		llm.UserMessage("Latest user message: map it"),
		llm.SystemMessage("Return only JSON with the specified keys."),
	}, msgs[2:])

	sup := supervisorPrompt.Render("s", nil, "x")
	assert.Equal(t, "Respond ONLY with the JSON body and no extra commentary.", sup[len(sup)-1].Content)
}

func TestPrompts_CoverEveryNode(t *testing.T) {
	prompts := Prompts()
	assert.Len(t, prompts, 10)
	for _, name := range append([]string{NodeSupervisor}, CoachNodes...) {
		p, ok := prompts[name]
		require.True(t, ok, name)
		assert.Equal(t, name, p.Name)
		assert.NotEmpty(t, p.Instructions)
	}
}

func TestFitHistory(t *testing.T) {
	tok := tokenizer.NewEstimatorTokenizer("test", 0)
	// 每条 40 个字符：10 token + 4 开销
	msg := strings.Repeat("a", 40)
	history := []llm.Message{
		llm.UserMessage("first " + msg[6:]),
		llm.AssistantMessage(msg),
		llm.UserMessage(msg),
	}

	t.Run("no budget keeps everything", func(t *testing.T) {
		assert.Equal(t, history, FitHistory(tok, 0, nil, history))
		assert.Equal(t, history, FitHistory(nil, 10, nil, history))
	})

	t.Run("drops oldest first", func(t *testing.T) {
		fixed := []llm.Message{llm.SystemMessage(msg)}
		// fixed 17 + 每条历史 17
		got := FitHistory(tok, 17+2*17, fixed, history)
		require.Len(t, got, 2)
		assert.Equal(t, history[1:], got)
	})

	t.Run("budget below fixed drops all history", func(t *testing.T) {
		got := FitHistory(tok, 1, []llm.Message{llm.SystemMessage(msg)}, history)
		assert.Empty(t, got)
	})
}
