package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/snehaltandel/process-map-agent/llm"
	"github.com/snehaltandel/process-map-agent/llm/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Defaults(t *testing.T) {
	p := New(Config{ProviderName: "openai"}, nil)
	require.NotNil(t, p)
	assert.Equal(t, "/v1/chat/completions", p.Cfg.EndpointPath)
	assert.Equal(t, "/v1/models", p.Cfg.ModelsEndpoint)
	assert.Equal(t, "openai", p.Name())
	assert.NotNil(t, p.Client)
	assert.NotNil(t, p.Logger)
}

func TestCompletion_Success(t *testing.T) {
	var captured providers.OpenAICompatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-4o-mini",
			Choices: []providers.OpenAICompatChoice{{
				Index:        0,
				FinishReason: "stop",
				Message:      providers.OpenAICompatMessage{Role: "assistant", Content: `{"next_node":"sipoc"}`},
			}},
			Usage:   &providers.OpenAICompatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			Created: 1700000000,
		})
	}))
	defer server.Close()

	p := New(Config{
		ProviderName: "openai",
		APIKey:       "sk-test",
		BaseURL:      server.URL,
		DefaultModel: "gpt-4o-mini",
		JSONMode:     true,
	}, zap.NewNop())

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages:    []llm.Message{llm.SystemMessage("route"), llm.UserMessage("hello")},
		Temperature: 0,
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)

	assert.Equal(t, `{"next_node":"sipoc"}`, resp.Text())
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "openai", resp.Provider)
	assert.False(t, resp.CreatedAt.IsZero())
}

func TestCompletion_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  llm.ErrorCode
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"auth"}}`, llm.ErrUnauthorized, false},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, llm.ErrRateLimited, true},
		{"quota", http.StatusBadRequest, `{"error":{"message":"quota exceeded"}}`, llm.ErrQuotaExceeded, false},
		{"bad gateway", http.StatusBadGateway, `upstream`, llm.ErrUpstreamError, true},
		{"overloaded", 529, `busy`, llm.ErrModelOverloaded, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := New(Config{ProviderName: "openai", BaseURL: server.URL}, nil)
			_, err := p.Completion(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.UserMessage("x")}})

			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.wantCode, llmErr.Code)
			assert.Equal(t, tt.retryable, llmErr.Retryable)
			assert.Equal(t, tt.status, llmErr.HTTPStatus)
		})
	}
}

func TestCompletion_RejectsEmptyMessages(t *testing.T) {
	p := New(Config{ProviderName: "openai"}, nil)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{})

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrInvalidRequest, llmErr.Code)
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p := New(Config{ProviderName: "openai", BaseURL: server.URL}, nil)
	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)

	p.Cfg.ModelsEndpoint = "/missing"
	status, err = p.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.False(t, status.Healthy)
}
