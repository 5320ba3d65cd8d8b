// Package script 在受限的 Starlark 解释器中执行分析脚本。
//
// 脚本只能访问已注册的数据集句柄以及策略允许的模块（math、json、stats、time），
// 不具备文件、网络或进程访问能力。每次执行都受墙钟超时与步数上限约束，
// 标准输出被完整捕获并作为结果返回。
package script
