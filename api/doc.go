// Package api 定义 cicoach HTTP API 的请求与响应结构。
//
// # 端点
//
//	POST   /api/v1/sessions                 创建会话
//	GET    /api/v1/sessions                 列出会话
//	GET    /api/v1/sessions/{id}            导出会话状态
//	POST   /api/v1/sessions/{id}/messages   发送消息，返回教练回复
//	POST   /api/v1/sessions/{id}/reset      重置会话
//	DELETE /api/v1/sessions/{id}            删除会话
//	GET    /api/v1/sessions/{id}/ws         WebSocket 对话
//
// # 认证
//
// 配置了 API Key 时，请求需携带 X-API-Key 头；启用 JWT 时需携带
// Authorization: Bearer <token>。健康检查与 /version 不需要认证。
package api
