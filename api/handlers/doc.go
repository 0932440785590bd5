/*
Package handlers 提供 CI Coach HTTP API 的请求处理器实现。

# 概述

handlers 包实现会话管理、对话轮次、WebSocket 多轮对话与健康检查端点，
以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口，
路由使用 Go 1.22 ServeMux 的方法 + 路径模式注册。

# 核心类型

  - SessionHandler: 会话 CRUD、发送消息、重置与 WebSocket 对话
  - HealthHandler: 存活探针、就绪检查（/health, /ready）与版本信息
  - Response: 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo: 结构化错误信息，含 code、node、retryable 标记
  - ResponseWriter: 包装 http.ResponseWriter 以捕获状态码，支持 Hijack
  - HealthCheck: 可插拔健康检查接口（模型提供商、会话存储等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - 错误映射：模型提供商错误、JSON 解析失败、路由循环映射到 types.ErrorCode
  - 活跃会话缓存：按最近使用时间淘汰，淘汰后从 session.Store 恢复
  - 轮次观测：TurnHook 回调上报路由、状态与耗时
*/
package handlers
