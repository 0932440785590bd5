package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/snehaltandel/process-map-agent/api"
	"github.com/snehaltandel/process-map-agent/types"
	"go.uber.org/zap"
)

// HandleWebSocket 在一个 WebSocket 连接上进行多轮对话。
// 每个客户端帧按顺序处理；Coach 本身串行执行，同一连接不会并发写。
func (h *SessionHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	// 升级前先确认会话存在，失败时仍可返回普通 JSON 错误
	if _, apiErr := h.coachFor(r.Context(), id); apiErr != nil {
		WriteError(w, r, apiErr, h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.wsMaxBytes)

	logger := h.logger.With(zap.String("session_id", id))
	logger.Debug("websocket connected")

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// 正常关闭时 status 为 1000/1001，其余为 -1
			logger.Debug("websocket closed",
				zap.Int("status", int(websocket.CloseStatus(err))),
				zap.Error(err))
			return
		}

		var reply api.Frame
		var frame api.Frame
		switch {
		case typ != websocket.MessageText:
			reply = errorFrame(types.NewError(types.ErrInvalidRequest, "binary frames are not supported"))
		case json.Unmarshal(data, &frame) != nil:
			reply = errorFrame(types.NewError(types.ErrInvalidRequest, "frame is not valid JSON"))
		default:
			reply = h.handleFrame(ctx, id, frame)
		}

		if err := wsjson.Write(ctx, conn, reply); err != nil {
			logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

// handleFrame 处理一个客户端帧并返回响应帧
func (h *SessionHandler) handleFrame(ctx context.Context, id string, frame api.Frame) api.Frame {
	switch frame.Type {
	case api.FrameMessage, "":
		turn, apiErr := h.Turn(ctx, id, frame.Message)
		if apiErr != nil {
			return errorFrame(apiErr)
		}
		return api.Frame{Type: api.FrameReply, Turn: turn}
	case api.FrameReset:
		state, apiErr := h.reset(ctx, id)
		if apiErr != nil {
			return errorFrame(apiErr)
		}
		return api.Frame{Type: api.FrameState, State: state}
	case api.FrameState:
		c, apiErr := h.coachFor(ctx, id)
		if apiErr != nil {
			return errorFrame(apiErr)
		}
		return api.Frame{Type: api.FrameState, State: c.ExportState()}
	default:
		return errorFrame(types.NewError(types.ErrInvalidRequest, "unknown frame type: "+frame.Type))
	}
}

func errorFrame(err *types.Error) api.Frame {
	return api.Frame{
		Type: api.FrameError,
		Error: &api.FrameErrorBody{
			Code:      string(err.Code),
			Message:   err.Message,
			Retryable: err.Retryable,
		},
	}
}
