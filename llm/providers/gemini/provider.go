package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/snehaltandel/process-map-agent/llm"
	"github.com/snehaltandel/process-map-agent/llm/providers"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.0-flash"

// GeminiProvider 基于 google.golang.org/genai SDK 的 Gemini 实现
type GeminiProvider struct {
	cfg    providers.GeminiConfig
	client *genai.Client
	logger *zap.Logger
}

// NewGeminiProvider 创建 Gemini Provider
func NewGeminiProvider(ctx context.Context, cfg providers.GeminiConfig, logger *zap.Logger) (*GeminiProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" || cfg.Timeout > 0 {
		opts := genai.HTTPOptions{BaseURL: cfg.BaseURL}
		if cfg.Timeout > 0 {
			timeout := cfg.Timeout
			opts.Timeout = &timeout
		}
		cc.HTTPOptions = opts
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiProvider{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("provider", "gemini")),
	}, nil
}

var _ llm.Provider = (*GeminiProvider)(nil)

func (p *GeminiProvider) Name() string { return "gemini" }

// HealthCheck 通过查询模型元数据探活
func (p *GeminiProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.client.Models.Get(ctx, p.cfg.Model, nil)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, mapGeminiError(err)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// Completion 调用 GenerateContent；system 消息合并为 SystemInstruction
func (p *GeminiProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &llm.Error{
			Code: llm.ErrInvalidRequest, Message: "messages are required",
			HTTPStatus: http.StatusBadRequest, Provider: p.Name(),
		}
	}

	system, contents := convertToGeminiContents(req.Messages)
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(req.Temperature),
		ResponseMIMEType: "application/json",
	}
	if system != nil {
		config.SystemInstruction = system
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	model := providers.ChooseModel(req, p.cfg.Model, defaultModel)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, mapGeminiError(err)
	}

	out := &llm.ChatResponse{
		ID:        resp.ResponseID,
		Provider:  p.Name(),
		Model:     model,
		CreatedAt: time.Now(),
		Choices: []llm.ChatChoice{{
			Index:   0,
			Message: llm.AssistantMessage(resp.Text()),
		}},
	}
	if len(resp.Candidates) > 0 {
		out.Choices[0].FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.ChatUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// convertToGeminiContents 拆分出 system 指令，assistant 映射为 model 角色
func convertToGeminiContents(msgs []llm.Message) (*genai.Content, []*genai.Content) {
	var (
		systemParts []string
		contents    = make([]*genai.Content, 0, len(msgs))
	)
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, m.Content)
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(systemParts) == 0 {
		return nil, contents
	}
	return genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser), contents
}

func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return providers.MapHTTPError(apiErr.Code, apiErr.Message, "gemini")
	}
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    err.Error(),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   "gemini",
	}
}
