package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"SmartBI-Agent/internal/config"
	"SmartBI-Agent/pkg/logger"
)

type rootOptions struct {
	configPath string
	envFiles   []string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "smartbid",
		Short:         "SmartBI 数据分析助手",
		Long:          "通过自然语言对 CSV 数据集进行加载、描述与脚本分析，并提供 REST 接口。",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("SMARTBI_CONFIG")
	if defaultConfig == "" {
		defaultConfig = filepath.Join("configs", "smartbi.yaml")
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfig, "配置文件路径 (JSON 或 YAML)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "启动前加载的 .env 文件")

	cmd.AddCommand(
		newServeCommand(opts),
		newEngineCommand(opts),
		newChatCommand(opts),
		newAskCommand(opts),
		newExtractCommand(opts),
	)
	return cmd
}

// loadConfig 加载 .env 与配置文件。
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return nil, err
	}
	return config.LoadOrDefault(o.configPath)
}

// initLogger 按配置初始化全局日志，outputs 非空时覆盖配置中的输出。
func initLogger(cfg *config.Config, outputs ...string) error {
	if len(outputs) == 0 {
		outputs = cfg.Logging.Outputs
	}
	return logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
		Rotation: logger.RotationConfig{
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	})
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
