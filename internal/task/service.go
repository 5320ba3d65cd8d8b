package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "SmartBI-Agent/internal/errors"
	"SmartBI-Agent/pkg/logger"
)

// Service 负责任务的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一个新的查询任务并按优先级推送到队列。
// 指定 ID 的重复提交返回已有任务，不会再次入队。
func (s *Service) Submit(ctx context.Context, req Request) (*Task, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, xerrors.New(CodeTaskValidation, "查询内容不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	priority, err := ParsePriority(req.Priority)
	if err != nil {
		return nil, xerrors.Wrap(CodeTaskValidation, err, "")
	}

	taskID := strings.TrimSpace(req.ID)
	if taskID == "" {
		taskID = uuid.NewString()
	} else if existing, err := s.existing(ctx, taskID); existing != nil || err != nil {
		return existing, err
	}

	task := &Task{
		ID:         taskID,
		Query:      req.Query,
		History:    cloneHistory(req.History),
		Metadata:   cloneMetadata(req.Metadata),
		Priority:   priority,
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, task); err != nil {
		// 并发提交同一 ID 时以先写入者为准。
		if stdErrors.Is(err, ErrTaskConflict) {
			if existing, getErr := s.existing(ctx, taskID); existing != nil || getErr != nil {
				return existing, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, messageFor(task)); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("task_id", taskID))
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, taskID, CodeTaskPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("task_id", taskID),
		slog.String("priority", string(priority)),
		slog.Int("query_len", len(task.Query)),
		slog.Int("history_len", len(task.History)),
		slog.Int("max_retries", task.MaxRetries),
	)
	return task, nil
}

// existing 返回已存在的任务；不存在时两个返回值都为 nil。
func (s *Service) existing(ctx context.Context, id string) (*Task, error) {
	task, err := s.store.Get(ctx, id)
	if stdErrors.Is(err, ErrTaskNotFound) {
		return nil, nil
	}
	return task, err
}

func (s *Service) readyStore() (Store, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	store, err := s.readyStore()
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	store, err := s.readyStore()
	if err != nil {
		return nil, err
	}
	return store.List(ctx, buildListOptions(opts))
}

// Stats 返回与 List 相同过滤条件下的汇总，分页参数不影响统计。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	store, err := s.readyStore()
	if err != nil {
		return TaskStats{}, err
	}
	return store.Stats(ctx, buildListOptions(opts))
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 在指定超时时间内轮询任务状态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Done() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
