package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "SmartBI-Agent/internal/errors"
	"SmartBI-Agent/internal/observability/alerting"
	"SmartBI-Agent/internal/orchestrator"
	"SmartBI-Agent/pkg/logger"
)

// Executor 定义了处理器所需的问答能力，*orchestrator.Orchestrator 满足该接口。
type Executor interface {
	Answer(ctx context.Context, query string, history []orchestrator.Message) (*orchestrator.Answer, error)
}

// Processor 负责从队列消费任务并交给编排器回答。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
	observer    Observer
}

// Outcome 标记一次投递的处理结果。
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	// OutcomeDegraded 表示不可重试的失败被补偿策略转成了文本回答。
	OutcomeDegraded Outcome = "degraded"
	OutcomeRetried  Outcome = "retried"
	OutcomeFailed   Outcome = "failed"
)

// Observer 接收每次执行的结果与耗时，*metrics.Registry 满足该接口。
type Observer interface {
	ObserveQuery(priority, outcome string, elapsed time.Duration)
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。编排器串行处理查询，默认一个协程。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithObserver 配置查询指标的接收方。
func WithObserver(observer Observer) ProcessorOption {
	return func(p *Processor) {
		p.observer = observer
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

// skippable 判断领取失败是否只是重复或过期的投递。
func skippable(err error) bool {
	for _, target := range []error{ErrTaskNotFound, ErrTaskCompleted, ErrTaskExhausted, ErrTaskConflict} {
		if stdErrors.Is(err, target) {
			return true
		}
	}
	return false
}

func (p *Processor) handle(ctx context.Context, msg Message) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, msg.TaskID)
	switch {
	case err == nil:
	case skippable(err):
		p.logDebug("跳过任务", slog.String("task_id", msg.TaskID), slog.String("reason", xerrors.Text(err)))
		return nil
	default:
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("task_id", msg.TaskID))
		p.emitAlert(ctx, &Task{ID: msg.TaskID, Priority: msg.Priority}, CodeTaskProcessing, err, "claim")
		return err
	}
	if msg.Attempt > 0 {
		p.logDebug("重投任务开始执行", slog.String("task_id", task.ID), slog.Int("previous_attempts", msg.Attempt))
	}

	started := time.Now()
	var outcome Outcome
	if answer, execErr := p.executor.Answer(ctx, task.Query, cloneHistory(task.History)); execErr != nil {
		outcome, err = p.fail(ctx, task, execErr)
	} else {
		outcome, err = p.complete(ctx, task, resultOf(answer))
	}
	if p.observer != nil {
		p.observer.ObserveQuery(string(task.Priority), string(outcome), time.Since(started))
	}
	return err
}

func resultOf(answer *orchestrator.Answer) Result {
	if answer == nil {
		return Result{}
	}
	return Result{
		Response:    answer.Text,
		ToolResults: append([]string(nil), answer.Results...),
		Model:       answer.Model,
		ElapsedMS:   answer.ElapsedMS(),
	}
}

// complete 写入回答。写入失败时任务回到可重试状态并重新入队。
func (p *Processor) complete(ctx context.Context, task *Task, result Result) (Outcome, error) {
	if err := p.store.MarkSucceeded(ctx, task.ID, result); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return OutcomeRetried, p.requeue(ctx, task, CodeTaskProcessing, err)
	}
	logger.AuditEvent("task.processed",
		slog.String("task_id", task.ID),
		slog.String("priority", string(task.Priority)),
		slog.Int("attempts", task.Attempts),
		slog.Int("tool_results", len(result.ToolResults)),
		slog.String("model", result.Model),
		slog.Int64("elapsed_ms", result.ElapsedMS),
	)
	return OutcomeAnswered, nil
}

// fail 处理编排器返回的错误：可重试且仍有次数时重投，
// 不可重试时先尝试降级，其余情况终止任务。
func (p *Processor) fail(ctx context.Context, task *Task, execErr error) (Outcome, error) {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)

	if retryable && task.Attempts < task.MaxRetries {
		p.auditFailure(task, code, execErr, false)
		err := p.requeue(ctx, task, code, execErr)
		p.emitAlert(ctx, task, code, execErr, string(OutcomeRetried))
		return OutcomeRetried, err
	}
	if !retryable {
		if outcome, handled, err := p.degrade(ctx, task, code, execErr); handled {
			return outcome, err
		}
	}

	if err := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), true); err != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		return OutcomeFailed, err
	}
	p.auditFailure(task, code, execErr, true)
	stage := "terminal"
	if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, task, code, execErr, stage)
	return OutcomeFailed, nil
}

// degrade 用补偿策略给出的结果结束任务。handled 为假时调用方按终止失败处理。
func (p *Processor) degrade(ctx context.Context, task *Task, code xerrors.Code, cause error) (Outcome, bool, error) {
	if p.recovery == nil {
		return "", false, nil
	}
	fallback, err := p.recovery.Recover(ctx, task, cause)
	if err != nil {
		wrapped := xerrors.Wrap(CodeTaskCompensate, err, "任务补偿失败")
		logger.L().Error("执行补偿逻辑失败", append(xerrors.LogArgs(wrapped), slog.String("task_id", task.ID))...)
		p.emitAlert(ctx, task, CodeTaskCompensate, wrapped, "compensate")
		return "", false, nil
	}
	if fallback == nil {
		return "", false, nil
	}
	if fallback.Response == "" {
		fallback.Response = "Error: " + xerrors.Text(cause)
	}
	if err := p.store.MarkSucceeded(ctx, task.ID, *fallback); err != nil {
		logger.L().Error("记录降级结果失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return OutcomeRetried, true, p.requeue(ctx, task, code, err)
	}
	logger.Audit().Warn("任务降级完成",
		slog.String("task_id", task.ID),
		slog.String("response", fallback.Response),
	)
	p.emitAlert(ctx, task, code, cause, string(OutcomeDegraded))
	return OutcomeDegraded, true, nil
}

// requeue 把任务写回可重试的失败状态，再投递到原车道。
func (p *Processor) requeue(ctx context.Context, task *Task, code xerrors.Code, cause error) error {
	if err := p.store.MarkFailed(ctx, task.ID, code, cause.Error(), false); err != nil {
		logger.L().Error("回写失败状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	if err := p.producer.Publish(ctx, messageFor(task)); err != nil {
		return xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("任务 %s 重投失败", task.ID))
	}
	p.logDebug("任务已重新排队",
		slog.String("task_id", task.ID),
		slog.String("priority", string(task.Priority)),
		slog.Int("attempts", task.Attempts))
	return nil
}

func (p *Processor) auditFailure(task *Task, code xerrors.Code, cause error, terminal bool) {
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", cause.Error()),
		slog.String("error_code", string(code)),
		slog.String("error_stage", string(xerrors.StageOf(cause))),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

// emitAlert 把失败派发给告警通道，stage 取 retried、terminal、degraded 等值。
func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:       code,
		Message:    attrs.Message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   map[string]string{"stage": stage, "priority": string(task.Priority)},
		OccurredAt: time.Now(),
	}
	if cause != nil {
		event.Message = cause.Error()
		event.Metadata["cause"] = cause.Error()
		event.Metadata["error_stage"] = string(xerrors.StageOf(cause))
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
