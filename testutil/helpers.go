package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/snehaltandel/process-map-agent/llm"
)

// TestContext 返回 30 秒超时的测试上下文，测试结束时自动取消
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// AssertMessagesEqual 逐条比较角色与内容，输出第一处差异的下标
func AssertMessagesEqual(t *testing.T, expected, actual []llm.Message) {
	t.Helper()

	if len(expected) != len(actual) {
		t.Errorf("message count mismatch: expected %d, got %d", len(expected), len(actual))
		return
	}
	for i := range expected {
		if expected[i].Role != actual[i].Role {
			t.Errorf("message[%d] role mismatch: expected %q, got %q", i, expected[i].Role, actual[i].Role)
		}
		if expected[i].Content != actual[i].Content {
			t.Errorf("message[%d] content mismatch: expected %q, got %q", i, expected[i].Content, actual[i].Content)
		}
	}
}

// ArtifactsDir 返回测试专用的产物目录（图表与流程图输出）
func ArtifactsDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}
