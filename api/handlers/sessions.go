package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/snehaltandel/process-map-agent/api"
	"github.com/snehaltandel/process-map-agent/coach"
	"github.com/snehaltandel/process-map-agent/internal/ctxkeys"
	"github.com/snehaltandel/process-map-agent/llm"
	"github.com/snehaltandel/process-map-agent/session"
	"github.com/snehaltandel/process-map-agent/types"
	"github.com/snehaltandel/process-map-agent/workflow"
	"go.uber.org/zap"
)

// DefaultMaxLiveSessions 内存中保留的 Coach 实例上限
const DefaultMaxLiveSessions = 1000

// CoachFactory 为指定会话创建新的 Coach；产物目录应按会话隔离
type CoachFactory func(sessionID string) (*coach.Coach, error)

// TurnHook 每轮对话结束后调用，status 为 success 或错误码
type TurnHook func(ctx context.Context, route, status string, d time.Duration)

// =============================================================================
// 💬 会话 Handler
// =============================================================================

// SessionHandler 提供会话的 REST 与 WebSocket 接口。
// 活跃会话的 Coach 缓存在内存中，每轮结束后状态写回 Store。
type SessionHandler struct {
	newCoach CoachFactory
	store    session.Store
	logger   *zap.Logger

	turnHook   TurnHook
	liveGauge  func(int)
	maxLive    int
	now        func() time.Time
	wsMaxBytes int64

	mu   sync.Mutex
	live map[string]*liveSession
}

type liveSession struct {
	coach    *coach.Coach
	lastUsed time.Time
}

// SessionOption 配置 SessionHandler
type SessionOption func(*SessionHandler)

// WithTurnHook 设置每轮回调（指标、追踪）
func WithTurnHook(hook TurnHook) SessionOption {
	return func(h *SessionHandler) { h.turnHook = hook }
}

// WithLiveSessionsGauge 在活跃会话数变化时回调
func WithLiveSessionsGauge(fn func(int)) SessionOption {
	return func(h *SessionHandler) { h.liveGauge = fn }
}

// WithMaxLiveSessions 设置内存缓存上限，超出时淘汰最久未用的会话
func WithMaxLiveSessions(n int) SessionOption {
	return func(h *SessionHandler) {
		if n > 0 {
			h.maxLive = n
		}
	}
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(newCoach CoachFactory, store session.Store, logger *zap.Logger, opts ...SessionOption) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &SessionHandler{
		newCoach:   newCoach,
		store:      store,
		logger:     logger.With(zap.String("component", "session_handler")),
		maxLive:    DefaultMaxLiveSessions,
		now:        time.Now,
		wsMaxBytes: maxBodyBytes,
		live:       make(map[string]*liveSession),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 在 mux 上注册全部会话路由
func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/sessions", h.HandleList)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.HandleDelete)
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", h.HandleSend)
	mux.HandleFunc("POST /api/v1/sessions/{id}/reset", h.HandleReset)
	mux.HandleFunc("GET /api/v1/sessions/{id}/ws", h.HandleWebSocket)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleCreate 创建会话并写入初始状态
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if err := DecodeJSONBody(w, r, &req, true, h.logger); err != nil {
		return
	}
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = uuid.NewString()
	}
	if err := session.ValidateID(id); err != nil {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, err.Error()), h.logger)
		return
	}

	ctx := r.Context()
	if _, err := h.store.Load(ctx, id); err == nil {
		WriteError(w, r, types.NewError(types.ErrSessionExists, "session already exists: "+id), h.logger)
		return
	} else if !errors.Is(err, session.ErrNotFound) {
		WriteError(w, r, storeError(err), h.logger)
		return
	}

	c, err := h.newCoach(id)
	if err != nil {
		WriteError(w, r, types.WrapError(err, types.ErrInternalError, "failed to create coach"), h.logger)
		return
	}
	if err := c.Save(ctx, h.store, id); err != nil {
		WriteError(w, r, storeError(err), h.logger)
		return
	}
	h.remember(id, c)

	h.logger.Info("session created", zap.String("session_id", id))
	WriteStatus(w, r, http.StatusCreated, api.SessionResponse{SessionID: id, CreatedAt: h.now().UTC()})
}

// HandleList 列出未过期的会话
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.List(r.Context())
	if err != nil {
		WriteError(w, r, storeError(err), h.logger)
		return
	}
	WriteSuccess(w, r, api.SessionListResponse{Sessions: ids, Total: len(ids)})
}

// HandleGet 导出会话状态
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, apiErr := h.coachFor(r.Context(), id)
	if apiErr != nil {
		WriteError(w, r, apiErr, h.logger)
		return
	}
	WriteSuccess(w, r, api.StateResponse{SessionID: id, State: c.ExportState()})
}

// HandleSend 处理一条用户消息
func (h *SessionHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.SendMessageRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}

	turn, apiErr := h.Turn(r.Context(), r.PathValue("id"), req.Message)
	if apiErr != nil {
		WriteError(w, r, apiErr, h.logger)
		return
	}
	WriteSuccess(w, r, turn)
}

// HandleReset 清空会话状态
func (h *SessionHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, apiErr := h.reset(r.Context(), id)
	if apiErr != nil {
		WriteError(w, r, apiErr, h.logger)
		return
	}
	WriteSuccess(w, r, api.StateResponse{SessionID: id, State: state})
}

// HandleDelete 删除会话
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := session.ValidateID(id); err != nil {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, err.Error()), h.logger)
		return
	}
	h.forget(id)
	if err := h.store.Delete(r.Context(), id); err != nil {
		WriteError(w, r, storeError(err), h.logger)
		return
	}
	h.logger.Info("session deleted", zap.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// 🔁 会话操作
// =============================================================================

// Turn 向会话发送一条消息并持久化结果状态
func (h *SessionHandler) Turn(ctx context.Context, id, message string) (*api.TurnResponse, *types.Error) {
	if strings.TrimSpace(message) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "message is required")
	}
	c, apiErr := h.coachFor(ctx, id)
	if apiErr != nil {
		return nil, apiErr
	}
	ctx = ctxkeys.WithSessionID(ctx, id)

	start := h.now()
	reply, err := c.Send(ctx, message)
	duration := h.now().Sub(start)
	if err != nil {
		apiErr := coachError(err)
		h.observeTurn(ctx, "", string(apiErr.Code), duration)
		h.logger.Warn("turn failed",
			zap.String("session_id", id),
			zap.String("code", string(apiErr.Code)),
			zap.Error(err))
		return nil, apiErr
	}

	if err := c.Save(ctx, h.store, id); err != nil {
		h.observeTurn(ctx, "", string(types.ErrStoreFailure), duration)
		return nil, storeError(err)
	}

	state := c.State()
	route := turnRoute(state)
	h.observeTurn(ctx, route, "success", duration)

	return &api.TurnResponse{
		SessionID:          id,
		Reply:              reply,
		Route:              route,
		Intent:             state.Intent,
		Mode:               state.Mode,
		SuggestedNextSteps: state.SuggestedNextSteps,
		Charts:             state.Charts,
		Diagrams:           state.Diagrams,
		Datasets:           state.DatasetNames(),
		DurationMs:         duration.Milliseconds(),
	}, nil
}

func (h *SessionHandler) reset(ctx context.Context, id string) (map[string]any, *types.Error) {
	c, apiErr := h.coachFor(ctx, id)
	if apiErr != nil {
		return nil, apiErr
	}
	c.Reset()
	if err := c.Save(ctx, h.store, id); err != nil {
		return nil, storeError(err)
	}
	h.logger.Info("session reset", zap.String("session_id", id))
	return c.ExportState(), nil
}

func (h *SessionHandler) observeTurn(ctx context.Context, route, status string, d time.Duration) {
	if h.turnHook != nil {
		h.turnHook(ctx, route, status, d)
	}
}

// turnRoute 返回本轮 supervisor 选择的教练（未知标签按 problem 处理）
func turnRoute(state *coach.State) string {
	for i := len(state.AuditLog) - 1; i >= 0; i-- {
		entry := state.AuditLog[i]
		if node, _ := entry["node"].(string); node != coach.NodeSupervisor {
			continue
		}
		decision, _ := entry["decision"].(string)
		return coach.Route(&coach.State{RouterDecision: &decision})
	}
	return coach.RouteIdle
}

// =============================================================================
// 🗃️ 活跃会话缓存
// =============================================================================

// coachFor 返回会话的 Coach，不在内存时从 Store 恢复
func (h *SessionHandler) coachFor(ctx context.Context, id string) (*coach.Coach, *types.Error) {
	if err := session.ValidateID(id); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, err.Error())
	}

	h.mu.Lock()
	if ls, ok := h.live[id]; ok {
		ls.lastUsed = h.now()
		h.mu.Unlock()
		return ls.coach, nil
	}
	h.mu.Unlock()

	c, err := h.newCoach(id)
	if err != nil {
		return nil, types.WrapError(err, types.ErrInternalError, "failed to create coach")
	}
	if err := c.Load(ctx, h.store, id); err != nil {
		return nil, storeError(err)
	}
	return h.remember(id, c), nil
}

// remember 缓存 Coach；并发恢复同一会话时保留先到者
func (h *SessionHandler) remember(id string, c *coach.Coach) *coach.Coach {
	h.mu.Lock()
	if existing, ok := h.live[id]; ok {
		existing.lastUsed = h.now()
		h.mu.Unlock()
		return existing.coach
	}
	h.live[id] = &liveSession{coach: c, lastUsed: h.now()}
	h.evictLocked()
	n := len(h.live)
	h.mu.Unlock()

	if h.liveGauge != nil {
		h.liveGauge(n)
	}
	return c
}

func (h *SessionHandler) forget(id string) {
	h.mu.Lock()
	delete(h.live, id)
	n := len(h.live)
	h.mu.Unlock()

	if h.liveGauge != nil {
		h.liveGauge(n)
	}
}

// evictLocked 淘汰最久未用的会话直到不超过上限；状态已在每轮后持久化
func (h *SessionHandler) evictLocked() {
	if len(h.live) <= h.maxLive {
		return
	}
	type entry struct {
		id       string
		lastUsed time.Time
	}
	entries := make([]entry, 0, len(h.live))
	for id, ls := range h.live {
		entries = append(entries, entry{id, ls.lastUsed})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].lastUsed.Before(entries[j].lastUsed) })
	for _, e := range entries[:len(h.live)-h.maxLive] {
		delete(h.live, e.id)
	}
}

// LiveSessions 返回内存中的会话数
func (h *SessionHandler) LiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// =============================================================================
// 🔄 错误映射
// =============================================================================

func storeError(err error) *types.Error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return types.NewError(types.ErrSessionNotFound, "session not found")
	case errors.Is(err, session.ErrInvalidID):
		return types.NewError(types.ErrInvalidRequest, err.Error())
	default:
		return types.NewError(types.ErrStoreFailure, "session store failure").WithCause(err)
	}
}

// coachError 把一轮对话的失败映射为 API 错误
func coachError(err error) *types.Error {
	var node string
	var execErr *workflow.ExecutionError
	if errors.As(err, &execErr) {
		node = execErr.Node
	}

	var apiErr *types.Error
	var llmErr *llm.Error
	switch {
	case errors.As(err, &llmErr):
		apiErr = fromLLMError(llmErr)
	case errors.Is(err, llm.ErrNoJSON), errors.Is(err, llm.ErrEmptyResponse):
		apiErr = types.NewError(types.ErrMalformedResponse, "model response did not contain JSON").WithRetryable(true)
	case errors.Is(err, llm.ErrInvalidJSON):
		apiErr = types.NewError(types.ErrMalformedResponse, "model response contained malformed JSON").WithRetryable(true)
	case errors.Is(err, workflow.ErrMaxStepsExceeded):
		apiErr = types.NewError(types.ErrRoutingLoop, "coach exceeded the step limit for one turn")
	case errors.Is(err, context.DeadlineExceeded):
		apiErr = types.NewError(types.ErrServiceTimeout, "turn timed out").WithRetryable(true)
	case errors.Is(err, context.Canceled):
		apiErr = types.NewError(types.ErrServiceTimeout, "request cancelled")
	default:
		apiErr = types.NewError(types.ErrInternalError, "coach turn failed")
	}
	return apiErr.WithCause(err).WithNode(node)
}

func fromLLMError(e *llm.Error) *types.Error {
	var code types.ErrorCode
	switch e.Code {
	case llm.ErrRateLimited:
		code = types.ErrRateLimited
	case llm.ErrUpstreamTimeout:
		code = types.ErrUpstreamTimeout
	case llm.ErrModelOverloaded, llm.ErrProviderUnavailable:
		code = types.ErrProviderUnavailable
	default:
		code = types.ErrUpstreamError
	}
	return types.NewError(code, "model provider error: "+e.Message).WithRetryable(e.Retryable)
}
