// Package config 提供 CI Coach 的配置管理功能。
//
// 配置来源依次为默认值、YAML 文件、带 CICOACH 前缀的环境变量，
// 以及 OPENAI_API_KEY 等兼容变量。Reloader 轮询配置文件，
// 变更时重新加载并通知订阅者。
package config
