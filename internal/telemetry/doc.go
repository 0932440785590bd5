// Package telemetry 封装 OpenTelemetry SDK 初始化，为 cicoach 提供
// TracerProvider、MeterProvider 与对话轮次指标。
// 遥测禁用时保留全局 noop 实现，不连接任何外部服务。
package telemetry
