package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"SmartBI-Agent/internal/engine"
	"SmartBI-Agent/internal/observability/metrics"
	"SmartBI-Agent/internal/script"
	"SmartBI-Agent/pkg/logger"
)

func newEngineCommand(root *rootOptions) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "以 MCP stdio 方式运行数据集引擎",
		Long:  "标准输出承载协议流，日志写入 engine.log_path 指定的文件。",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := initLogger(cfg, cfg.Engine.LogPath); err != nil {
				return err
			}
			defer logger.Sync()

			policy, err := script.LoadPolicy(cfg.Engine.PolicyFile)
			if err != nil {
				return err
			}
			log := logger.Named("engine")
			reg := metrics.Default()
			runner := script.NewRunner(
				script.WithPolicy(policy),
				script.WithTimeout(seconds(cfg.Engine.ScriptTimeoutSeconds)),
				script.WithMaxSteps(cfg.Engine.MaxSteps),
				script.WithLogger(log),
			)
			eng := engine.New(
				engine.WithRunner(runner),
				engine.WithObserver(reg),
				engine.WithLogger(log),
			)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)
			if metricsAddr != "" {
				g.Go(func() error {
					return ignoreCanceled(metrics.StartServer(ctx, metricsAddr, reg.Handler()))
				})
			}
			g.Go(func() error {
				// 客户端关闭标准输入后引擎退出，同时停止指标服务。
				defer cancel()
				log.Info("engine started", slog.String("version", version), slog.Any("modules", policy.AllowedModules))
				return ignoreCanceled(engine.Serve(ctx, eng, version, &mcp.StdioTransport{}))
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-address", "", "引擎指标的监听地址，为空时不启动")
	return cmd
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
