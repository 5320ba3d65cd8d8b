// Package engine 将数据集注册表与脚本执行器组合为一个串行化的执行引擎，
// 并通过 MCP 协议以 load、describe、list、run_script 四个工具对外提供服务。
//
// 引擎的所有操作都返回文本：失败同样被渲染为结果文本，而不会以错误的形式
// 抛给调用方，这样对话中的模型可以读取并对失败作出反应。
package engine
