package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"SmartBI-Agent/internal/api"
	"SmartBI-Agent/internal/config"
	xerrors "SmartBI-Agent/internal/errors"
	"SmartBI-Agent/internal/llm"
	"SmartBI-Agent/internal/llm/providers"
	"SmartBI-Agent/internal/observability/alerting"
	"SmartBI-Agent/internal/observability/metrics"
	"SmartBI-Agent/internal/orchestrator"
	"SmartBI-Agent/internal/storage"
	"SmartBI-Agent/internal/task"
	"SmartBI-Agent/pkg/logger"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 REST 服务与异步查询处理器",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := initLogger(cfg); err != nil {
				return err
			}
			defer logger.Sync()
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("serve")
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	reg := metrics.Default()

	store, err := storage.Open(ctx, storage.Config{
		Driver:          cfg.Storage.Driver,
		DSN:             cfg.Storage.DSN,
		DataDir:         cfg.Runtime.DataDir,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: seconds(cfg.Storage.ConnMaxLifetimeSeconds),
		ConnMaxIdleTime: seconds(cfg.Storage.ConnMaxIdleTimeSeconds),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := newLLMClient(ctx, cfg, reg)
	if err != nil {
		return err
	}

	// 引擎握手失败是致命错误。
	orch, err := connectOrchestrator(ctx, cfg, client,
		orchestrator.WithRecorder(storage.NewRecorder(store)),
		orchestrator.WithLogger(logger.Named("orchestrator")),
	)
	if err != nil {
		return err
	}
	defer orch.Close()
	log.Info("engine connected", slog.Int("tools", len(orch.Tools())))

	taskStore, err := openTaskStore(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer taskStore.Close()

	queue, err := openTaskQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("close task queue failed", slog.Any("error", err))
		}
	}()

	service := task.NewService(taskStore, queue, cfg.TaskQueue.MaxRetries)
	processor := task.NewProcessor(orch, taskStore, queue, queue,
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithProcessorLogger(logger.Named("task")),
		task.WithRecoveryHandler(task.ErrorTextRecovery{}),
		task.WithAlertDispatcher(newAlertDispatcher(cfg)),
		task.WithObserver(reg),
	)

	opts := []api.Option{
		api.WithStore(store),
		api.WithAnswerer(orch),
		api.WithPrompter(llm.NewPrompter(client, cfg.LLM.Model)),
		api.WithTaskService(service),
		api.WithMetrics(reg),
		api.WithDataDir(cfg.Runtime.DataDir),
	}
	if extractor, err := providers.Vision(ctx, *cfg, reg, logger.Named("vision")); err != nil {
		log.Warn("image extraction disabled", slog.Any("error", err))
	} else {
		opts = append(opts, api.WithExtractor(extractor))
	}
	server := api.NewServer(cfg.Server.Address, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(processor.Start(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(server.Start(gctx))
	})
	if cfg.Metrics.Address != "" {
		g.Go(func() error {
			return ignoreCanceled(metrics.StartServer(gctx, cfg.Metrics.Address, reg.Handler()))
		})
	}
	return g.Wait()
}

// openTaskStore 优先复用存储层的数据库连接。
func openTaskStore(ctx context.Context, cfg *config.Config, store storage.Store) (task.Store, error) {
	switch cfg.Storage.TaskStore {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql", "sqlite":
		if sqlStore, ok := store.(*storage.SQLStore); ok && string(sqlStore.Dialect()) == cfg.Storage.TaskStore {
			return task.NewSQLStore(ctx, sqlStore.DB(), cfg.Storage.TaskStore)
		}
		if cfg.Storage.TaskStore == "mysql" {
			return task.NewMySQLStore(cfg.Storage.DSN)
		}
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "sqlite task store requires the sqlite storage driver")
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unsupported task store %q", cfg.Storage.TaskStore))
	}
}

func openTaskQueue(cfg *config.Config) (task.Queue, error) {
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.TaskQueue.Buffer), nil
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: seconds(cfg.TaskQueue.Redis.BlockWait),
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的队列驱动: %s", cfg.TaskQueue.Driver))
	}
}

func newAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL, 5*time.Second))
	}
	return alerting.NewFanout(notifiers...).WithMinSeverity(alerting.ParseSeverity(cfg.Alerting.MinSeverity))
}
