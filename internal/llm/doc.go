// Package llm 定义了与大模型交互的统一契约。
//
// 具体提供商位于子包中（openai、ollama、anthropic、gemini），由 providers 包
// 根据配置选择。本包同时提供图片转 CSV 的提取器。
package llm
