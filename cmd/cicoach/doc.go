/*
Package main 提供 CI Coach 的命令行入口。

# 概述

cicoach 基于 cobra 组织子命令：chat 在终端进行多轮对话，serve 启动
HTTP / WebSocket API 与 Prometheus 指标服务，migrate 管理会话表的
数据库迁移，health 与 version 用于运维检查。

# 子命令

  - chat: 交互式对话；:reset、:state、:quit，--transcript 保存状态，
    --session 从会话存储恢复并在每轮后保存
  - serve: API 与 Metrics 双端口，errgroup 管理生命周期，
    配置文件变更时热更新日志级别
  - migrate: up / down / steps / force / status / version
  - health: 请求 /health 或 /ready
  - version: 构建信息（Version、BuildTime、GitCommit 通过 ldflags 注入）

# 中间件链

Recovery → RequestID → SecurityHeaders → OTelTracing → RequestLogger →
MetricsMiddleware → CORS → APIKeyAuth → JWTAuth（可选）→ RateLimiter。
所有包装均复用 handlers.ResponseWriter，WebSocket 升级可穿透整条链。
*/
package main
