package llm

import (
	"context"
	"log/slog"
	"time"
)

// Observer 接收每次生成的结果类别与耗时。
type Observer interface {
	ObserveGeneration(provider, outcome string, elapsed time.Duration)
}

type instrumented struct {
	next     Client
	provider string
	observer Observer
	logger   *slog.Logger
}

// Instrument 为 Client 增加指标与日志。observer 为空时只记录日志。
func Instrument(next Client, provider string, observer Observer, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &instrumented{next: next, provider: provider, observer: observer, logger: logger}
}

func (c *instrumented) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.next.Generate(ctx, req)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.logger.Warn("generation failed",
			slog.String("provider", c.provider),
			slog.String("model", req.Model),
			slog.String("error", err.Error()),
		)
	} else {
		c.logger.Debug("generation completed",
			slog.String("provider", c.provider),
			slog.String("model", resp.Model),
			slog.Duration("elapsed", elapsed),
		)
	}
	if c.observer != nil {
		c.observer.ObserveGeneration(c.provider, outcome, elapsed)
	}
	return resp, err
}
