/*
Package types 提供 CI Coach 服务的共享类型定义。

types 是最底层的公共包，不依赖任何内部包，为 llm、coach、session、api
等上层模块提供统一的结构化错误契约（Error / ErrorCode），包括 HTTP 状态
码映射、Retryable 标记以及出错的图节点名称。
*/
package types
