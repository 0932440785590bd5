// =============================================================================
// 📦 测试数据工厂 - 教练节点响应
// =============================================================================
// 提供各节点的模型 JSON 输出样例，用于脚本化 MockProvider
// =============================================================================
package fixtures

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// 🎯 Supervisor
// =============================================================================

// Supervisor 返回路由到 next 的 supervisor 输出
func Supervisor(next string) string {
	return mustJSON(map[string]any{
		"next_node":         next,
		"assistant_message": "Routing to the " + next + " coach.",
		"updated_intent":    "Reduce onboarding cycle time.",
		"suggested_next":    []string{"Draft a SIPOC", "Map the process", "Collect cycle time data"},
		"mode":              "guided",
	})
}

// Idle 返回结束本轮的 supervisor 输出
func Idle() string {
	return Supervisor("idle")
}

// =============================================================================
// 🧭 Coaches
// =============================================================================

// Problem 返回问题陈述教练输出
func Problem() string {
	return mustJSON(map[string]any{
		"problem_statement": "Onboarding takes 14 days against a 5 day target.",
		"metrics": []map[string]any{
			{"name": "cycle_time_days", "current": 14, "target": 5},
		},
		"scope": map[string]any{
			"in_scope":     []string{"account setup"},
			"out_of_scope": []string{"hardware"},
		},
		"ci_opportunities": []map[string]any{
			{"title": "Automate provisioning", "description": "Remove manual ticket hand-offs."},
		},
		"message": "Here is a SMART problem statement.",
	})
}

// SIPOC 返回 SIPOC 教练输出
func SIPOC() string {
	return mustJSON(map[string]any{
		"suppliers":     []string{"HR"},
		"inputs":        []string{"Offer letter"},
		"process_steps": []string{"Request", "Approve", "Provision", "Verify", "Close"},
		"outputs":       []string{"Ready account"},
		"customers":     []string{"New hire"},
		"message":       "SIPOC ready for review.",
	})
}

// ProcessMap 返回流程图教练输出
func ProcessMap() string {
	return mustJSON(map[string]any{
		"roles": []map[string]any{{"id": "r1", "name": "Intake"}, {"id": "r2", "name": "IT"}},
		"steps": []map[string]any{
			{"id": "s1", "name": "Submit request", "role_id": "r1", "description": "Form", "metric": "1d"},
			{"id": "s2", "name": "Provision", "role_id": "r2", "description": "Create account", "metric": "3d"},
		},
		"edges":   []map[string]any{{"from": "s1", "to": "s2", "note": "ticket"}},
		"systems": []map[string]any{{"name": "ServiceDesk", "purpose": "tickets"}},
		"message": "Swimlane map drafted.",
	})
}

// EmptyProcessMap 返回没有步骤的流程图输出，渲染会失败
func EmptyProcessMap() string {
	return mustJSON(map[string]any{"roles": []any{}, "steps": []any{}, "message": "Nothing to map yet."})
}

// Fishbone 返回鱼骨图教练输出
func Fishbone() string {
	return mustJSON(map[string]any{
		"categories": []map[string]any{
			{"name": "Methods", "causes": []map[string]any{{"statement": "Manual approvals", "evidence": "3 hand-offs"}}},
		},
		"message": "Fishbone drafted.",
	})
}

// ValueProp 返回价值主张教练输出
func ValueProp() string {
	return mustJSON(map[string]any{
		"stakeholders": []map[string]any{{"name": "New hires", "need": "Day-one access"}},
		"impact":       map[string]any{"cycle_time": "-40%"},
		"requirements": map[string]any{"must": []string{"Single intake form"}},
		"message":      "Value proposition framed.",
	})
}

// FiveWhys 返回 5-Whys 教练输出
func FiveWhys() string {
	return mustJSON(map[string]any{
		"chains": []map[string]any{
			{"problem": "Accounts arrive late", "whys": []string{"Ticket waits", "No owner"}, "root_cause": "No owner"},
		},
		"message": "Root cause traced.",
	})
}

// A3 返回只含部分章节的 A3 输出
func A3() string {
	return mustJSON(map[string]any{
		"summary":    "Onboarding takes 9 days.",
		"background": "Complaints from hiring managers.",
		"plan":       []string{"Pilot single intake form"},
		"message":    "A3 assembled.",
	})
}

// Kaizen 返回改善待办与试点计划
func Kaizen() string {
	return mustJSON(map[string]any{
		"backlog": []map[string]any{
			{"idea": "Single intake form", "effort": "low", "impact": "high"},
			{"idea": "Auto-provision accounts", "effort": "high", "impact": "high"},
		},
		"pilot_plan": map[string]any{"scope": "Sales hires", "weeks": 4},
		"message":    "Kaizen backlog ready.",
	})
}

// Chart 返回图表规划输出
func Chart(dataset, chartType, value, category string) string {
	return mustJSON(map[string]any{
		"dataset_name":    dataset,
		"chart_type":      chartType,
		"value_column":    value,
		"category_column": category,
		"title":           "Defects by cause",
		"message":         "Here is your chart.",
	})
}

// Wrapped 在 JSON 外包裹自由文本，模拟不守规矩的模型输出
func Wrapped(body string) string {
	return fmt.Sprintf("Sure! Here is the result:\n%s\nLet me know if you need more.", body)
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
