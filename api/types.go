package api

import "time"

// CreateSessionRequest 创建会话请求，SessionID 为空时由服务端生成
type CreateSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// SessionResponse 会话元信息
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SendMessageRequest 发送一条用户消息
type SendMessageRequest struct {
	Message string `json:"message"`
}

// TurnResponse 一轮对话的结果
type TurnResponse struct {
	SessionID          string   `json:"session_id"`
	Reply              string   `json:"reply"`
	Route              string   `json:"route,omitempty"`
	Intent             string   `json:"intent,omitempty"`
	Mode               string   `json:"mode,omitempty"`
	SuggestedNextSteps []string `json:"suggested_next_steps"`
	Charts             []string `json:"charts"`
	Diagrams           []string `json:"diagrams"`
	Datasets           []string `json:"datasets"`
	DurationMs         int64    `json:"duration_ms"`
}

// StateResponse 导出的会话状态
type StateResponse struct {
	SessionID string         `json:"session_id"`
	State     map[string]any `json:"state"`
}

// SessionListResponse 会话 ID 列表
type SessionListResponse struct {
	Sessions []string `json:"sessions"`
	Total    int      `json:"total"`
}

// WebSocket 帧类型
const (
	FrameMessage = "message"
	FrameReply   = "reply"
	FrameError   = "error"
	FrameReset   = "reset"
	FrameState   = "state"
)

// Frame 是 WebSocket 上双向传输的 JSON 帧。
// 客户端发送 message / reset / state；服务端回复 reply / state / error。
type Frame struct {
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Turn    *TurnResponse   `json:"turn,omitempty"`
	State   map[string]any  `json:"state,omitempty"`
	Error   *FrameErrorBody `json:"error,omitempty"`
}

// FrameErrorBody WebSocket 错误帧内容
type FrameErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}
