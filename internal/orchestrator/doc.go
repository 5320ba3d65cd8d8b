// Package orchestrator 驱动“生成、扫描、分发、再生成”的工具编排循环。
//
// 每次查询都会根据引擎的工具清单重新构建系统提示，模型回复中的
// [TOOL_CALL]name:{json}[/TOOL_CALL] 标记按从左到右的顺序分发给引擎，
// 工具结果写回对话后再进行一次生成。每个查询只有一轮分发。
package orchestrator
