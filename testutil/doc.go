/*
Package testutil 提供 CI Coach 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup 防止泄漏
  - 断言工具: AssertMessagesEqual
  - 产物目录: ArtifactsDir

# 子包

  - testutil/mocks: MockProvider（LLM Provider），支持脚本化响应与错误注入
  - testutil/fixtures: 各教练节点的 JSON 响应样例

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().WithScript(fixtures.Supervisor("sipoc"), fixtures.SIPOC())
	reply, err := coach.New(provider).Send(ctx, "map my intake process")
	require.NoError(t, err)
*/
package testutil
