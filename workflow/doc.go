/*
Package workflow 提供带条件路由的泛型状态图执行器。

# 概述

Graph[S] 由命名节点、固定边与条件边组成。Invoke 从入口节点开始依次执行，
每个节点返回新的状态，随后按出边决定下一个节点，直到路由到 END 或超过
最大步数。节点错误被包装为 *ExecutionError 并携带节点名。

# 核心类型

  - NodeFunc / NodeMiddleware: 节点函数与节点级中间件（日志、审计、追踪）
  - ConditionalEdge: 路由标签到目标节点的映射，可设置兜底目标
  - Reducer: 状态字段合并策略（覆盖、追加、按键合并）
*/
package workflow
