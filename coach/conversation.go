package coach

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/snehaltandel/process-map-agent/llm"
	"github.com/snehaltandel/process-map-agent/llm/tokenizer"
)

const noArtifacts = "No artifacts captured yet."

// ToChatMessages 将对话历史转换为 LLM 消息；未知角色按用户消息处理
func ToChatMessages(state *State) []llm.Message {
	out := make([]llm.Message, 0, len(state.Messages))
	for _, m := range state.Messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, llm.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, llm.AssistantMessage(m.Content))
		default:
			out = append(out, llm.UserMessage(m.Content))
		}
	}
	return out
}

// BuildStateSummary 返回已捕获产物的文本摘要，用于提示词上下文
func BuildStateSummary(state *State) string {
	var sections []string
	add := func(label string, v any) {
		sections = append(sections, label+": "+formatValue(v))
	}

	if state.ProblemStatement != nil && *state.ProblemStatement != "" {
		sections = append(sections, "Problem Statement: "+*state.ProblemStatement)
	}
	if len(state.ValueProposition) > 0 {
		add("Value Proposition", state.ValueProposition)
	}
	if len(state.SIPOC) > 0 {
		add("SIPOC", state.SIPOC)
	}
	if len(state.ProcessMap) > 0 {
		add("Process Map", state.ProcessMap)
	}
	if len(state.Fishbone) > 0 {
		add("Fishbone", state.Fishbone)
	}
	if len(state.FiveWhys) > 0 {
		add("5-Whys", state.FiveWhys)
	}
	if len(state.A3) > 0 {
		add("A3", state.A3)
	}
	if len(state.KaizenPlan) > 0 {
		add("Kaizen Plan", state.KaizenPlan)
	}
	if len(state.Datasets) > 0 {
		sections = append(sections, "Datasets available: "+strings.Join(state.DatasetNames(), ", "))
	}
	if len(state.Charts) > 0 {
		add("Charts generated", state.Charts)
	}
	if len(state.Diagrams) > 0 {
		add("Diagrams generated", state.Diagrams)
	}

	if len(sections) == 0 {
		return noArtifacts
	}
	return strings.Join(sections, "\n")
}

func formatValue(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// FitHistory 从最旧的消息开始丢弃，直到 fixed 与 history 的总 token 数不超过 budget。
// budget <= 0 或计数失败时原样返回。
func FitHistory(tok tokenizer.Tokenizer, budget int, fixed, history []llm.Message) []llm.Message {
	if tok == nil || budget <= 0 {
		return history
	}

	fixedTokens, err := tok.CountMessages(toTokenizerMessages(fixed))
	if err != nil {
		return history
	}

	costs := make([]int, len(history))
	total := fixedTokens
	for i, m := range history {
		n, err := tok.CountMessages(toTokenizerMessages([]llm.Message{m}))
		if err != nil {
			return history
		}
		costs[i] = n
		total += n
	}

	start := 0
	for total > budget && start < len(history) {
		total -= costs[start]
		start++
	}
	return history[start:]
}

func toTokenizerMessages(msgs []llm.Message) []tokenizer.Message {
	out := make([]tokenizer.Message, len(msgs))
	for i, m := range msgs {
		out[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}
