package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"SmartBI-Agent/internal/observability/metrics"
	"SmartBI-Agent/internal/storage"
	"SmartBI-Agent/pkg/logger"
)

func newAskCommand(root *rootOptions) *cobra.Command {
	var (
		loads  []string
		record bool
	)
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "单次提问并输出回答",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := initLogger(cfg, "stderr"); err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			client, err := newLLMClient(ctx, cfg, metrics.Default())
			if err != nil {
				return err
			}
			orch, err := connectOrchestrator(ctx, cfg, client)
			if err != nil {
				return err
			}
			defer orch.Close()

			out := cmd.OutOrStdout()
			for _, path := range loads {
				// 引擎子进程的工作目录可能不同，统一传绝对路径。
				if abs, err := filepath.Abs(path); err == nil {
					path = abs
				}
				text, err := orch.Call(ctx, "load", map[string]any{"path": path})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), text)
			}

			answer, err := orch.Answer(ctx, strings.Join(args, " "), nil)
			if err != nil {
				return err
			}
			if record {
				store, err := storage.Open(ctx, storage.Config{
					Driver:  cfg.Storage.Driver,
					DSN:     cfg.Storage.DSN,
					DataDir: cfg.Runtime.DataDir,
				})
				if err != nil {
					return err
				}
				defer store.Close()
				if err := storage.NewRecorder(store).RecordAnswer(ctx, answer); err != nil {
					return err
				}
			}
			fmt.Fprintln(out, answer.Text)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&loads, "load", nil, "提问前加载的 CSV 文件")
	cmd.Flags().BoolVar(&record, "record", false, "把问答写入交互记录")
	return cmd
}
