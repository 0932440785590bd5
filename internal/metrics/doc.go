/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、LLM、
教练图执行、会话存储与数据库连接池。

# 概述

Collector 把全部指标注册到自己的 prometheus.Registry，并通过
Handler 暴露 /metrics。它同时实现 coach.Observer（模型调用、节点执行、
路由决策）与 session.Recorder（存储操作），可直接传给两者。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - LLM 指标：请求总数、耗时、Token 用量（prompt/completion），按 provider/model 分组。
  - 教练图指标：节点执行次数与耗时、supervisor 路由分布、对话轮次、活跃会话数。
  - 会话存储指标：按 backend/operation/status 分组的操作计数与耗时。
  - 数据库指标：连接池打开/空闲连接数。
*/
package metrics
