package main

import (
	"context"

	"SmartBI-Agent/internal/config"
	"SmartBI-Agent/internal/llm"
	"SmartBI-Agent/internal/llm/providers"
	"SmartBI-Agent/internal/observability/metrics"
	"SmartBI-Agent/internal/orchestrator"
	"SmartBI-Agent/internal/toolclient"
	"SmartBI-Agent/pkg/logger"
)

// newLLMClient 创建带指标的大模型客户端。
func newLLMClient(ctx context.Context, cfg *config.Config, reg *metrics.Registry) (llm.Client, error) {
	return providers.New(ctx, cfg.LLM, reg, logger.Named("llm"))
}

// connectOrchestrator 启动引擎子进程并完成握手。
func connectOrchestrator(ctx context.Context, cfg *config.Config, client llm.Client, extra ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	transport := toolclient.NewCommandTransport(toolclient.Command{
		Path:           toolclient.ResolvePath(cfg.Engine.WorkDir, cfg.Engine.Command),
		Args:           cfg.Engine.Args,
		WorkDir:        cfg.Engine.WorkDir,
		TerminateAfter: seconds(5),
	})
	opts := []orchestrator.Option{
		orchestrator.WithModel(cfg.LLM.Model),
		orchestrator.WithTemperature(cfg.LLM.Temperature),
		orchestrator.WithMaxTokens(cfg.LLM.MaxTokens),
		orchestrator.WithLLMTimeout(seconds(cfg.LLM.TimeoutSeconds)),
		orchestrator.WithCallTimeout(seconds(cfg.Engine.CallTimeoutSeconds)),
	}
	opts = append(opts, extra...)
	return orchestrator.Connect(ctx, transport, client, opts...)
}
