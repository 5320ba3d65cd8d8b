// Package providers 根据配置构造具体的大模型客户端。
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"SmartBI-Agent/internal/config"
	"SmartBI-Agent/internal/llm"
	"SmartBI-Agent/internal/llm/anthropic"
	"SmartBI-Agent/internal/llm/gemini"
	"SmartBI-Agent/internal/llm/ollama"
	"SmartBI-Agent/internal/llm/openai"
)

// New 按 provider 选择实现：groq 与 openai 共用 OpenAI 兼容客户端。
func New(ctx context.Context, cfg config.LLMConfig, observer llm.Observer, logger *slog.Logger) (llm.Client, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	var (
		client llm.Client
		err    error
	)
	switch cfg.Provider {
	case "groq", "openai":
		client, err = openai.NewClient(openai.Config{
			APIKey:  cfg.APIKey(),
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.Model,
			Timeout: timeout,
		})
	case "ollama":
		client, err = ollama.NewClient(ollama.Config{
			Host:    cfg.Ollama.Host,
			Model:   cfg.Model,
			Timeout: timeout,
		})
	case "anthropic":
		client, err = anthropic.NewClient(anthropic.Config{
			APIKey:     cfg.APIKey(),
			Model:      cfg.Model,
			MaxRetries: 2,
		})
	case "gemini":
		client, err = gemini.NewClient(ctx, gemini.Config{
			APIKey: cfg.APIKey(),
			Model:  cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s client: %w", cfg.Provider, err)
	}
	return llm.Instrument(client, cfg.Provider, observer, logger), nil
}

// Vision 构造视觉提取使用的客户端，提供商与模型取自 vision 配置。
func Vision(ctx context.Context, cfg config.Config, observer llm.Observer, logger *slog.Logger) (*llm.CSVExtractor, error) {
	llmCfg := cfg.LLM
	llmCfg.Provider = cfg.Vision.Provider
	llmCfg.Model = cfg.Vision.Model
	client, err := New(ctx, llmCfg, observer, logger)
	if err != nil {
		return nil, err
	}
	return llm.NewCSVExtractor(client, cfg.Vision.Model), nil
}
