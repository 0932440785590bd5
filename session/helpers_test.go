package session

import (
	"context"
	"errors"
	"os"

	"github.com/snehaltandel/process-map-agent/llm"
)

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o644)
}

// noopProvider 满足 llm.Provider，不应被调用
type noopProvider struct{}

func (noopProvider) Completion(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("unexpected completion")
}

func (noopProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (noopProvider) Name() string { return "noop" }
