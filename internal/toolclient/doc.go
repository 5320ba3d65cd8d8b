// Package toolclient 连接执行引擎并以流的形式返回工具结果。
//
// 连接建立时会一次性获取引擎的工具清单；获取失败是编排流程中唯一的致命错误。
package toolclient
