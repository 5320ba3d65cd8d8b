package task

import (
	"context"

	xerrors "SmartBI-Agent/internal/errors"
)

// RecoveryHandler 定义了在任务执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试根据失败原因进行补偿或降级。
	// 返回的 Result 将作为降级结果写入任务；若返回 nil 则继续按照失败流程处理。
	Recover(ctx context.Context, task *Task, cause error) (*Result, error)
}

// ErrorTextRecovery 把不可重试的失败转成 "Error: ..." 文本回答，与同步问答保持一致。
type ErrorTextRecovery struct{}

// Recover 实现 RecoveryHandler。
func (ErrorTextRecovery) Recover(_ context.Context, _ *Task, cause error) (*Result, error) {
	if cause == nil {
		return nil, nil
	}
	return &Result{Response: "Error: " + xerrors.Text(cause)}, nil
}
