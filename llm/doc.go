/*
包 llm 提供统一的大语言模型接入层。

# Provider 抽象

核心接口是 [Provider]：Completion 发起同步聊天请求，HealthCheck 做轻量探活，
Name 返回提供商标识。具体实现位于 providers 子包，由 factory 按名称创建并
按配置叠加重试（retry）与熔断（circuitbreaker）。

# 错误模型

上游失败统一表示为 [*Error]，携带 [ErrorCode]、HTTP 状态与是否可重试，
调用方据此映射 API 错误码或决定是否重试。

# 结构化输出

模型返回的文本往往在 JSON 前后夹带说明文字。[ExtractJSON] 截取第一个 '{'
到最后一个 '}' 之间的片段并解析为对象，[DecodeJSON] 按同样规则解码到结构体。
*/
package llm
