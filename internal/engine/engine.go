package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"SmartBI-Agent/internal/dataset"
	xerrors "SmartBI-Agent/internal/errors"
	"SmartBI-Agent/internal/script"
	"SmartBI-Agent/pkg/logger"
)

// NoOutputSentinel 是脚本既无输出也未设置 _return_value 时的结果。
const NoOutputSentinel = "Script executed successfully (no output)"

// EmptyRegistryMessage 是注册表为空时 list 的结果。
const EmptyRegistryMessage = "No DataFrames are currently loaded."

// Outcome 描述一次工具调用的结果类别，用于指标统计。
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// Observer 接收每次工具调用的耗时与结果。
type Observer interface {
	ObserveTool(tool string, outcome Outcome, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveTool(string, Outcome, time.Duration) {}

// Engine 串行执行数据集操作。同一时刻最多只有一个操作（包括脚本）在运行。
type Engine struct {
	mu       sync.Mutex
	registry *dataset.Registry
	runner   *script.Runner
	observer Observer
	logger   *slog.Logger
}

// Option 自定义 Engine。
type Option func(*Engine)

// WithRegistry 指定数据集注册表。
func WithRegistry(r *dataset.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithRunner 指定脚本执行器。
func WithRunner(r *script.Runner) Option {
	return func(e *Engine) {
		if r != nil {
			e.runner = r
		}
	}
}

// WithObserver 注册指标观察者。
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New 创建执行引擎。
func New(opts ...Option) *Engine {
	e := &Engine{observer: nopObserver{}}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.registry == nil {
		e.registry = dataset.NewRegistry()
	}
	if e.logger == nil {
		e.logger = logger.Named("engine")
	}
	if e.runner == nil {
		e.runner = script.NewRunner(script.WithLogger(e.logger))
	}
	return e
}

// Registry 返回底层注册表。
func (e *Engine) Registry() *dataset.Registry { return e.registry }

// Load 读取 CSV 并注册，返回摘要或加载失败文本。
func (e *Engine) Load(_ context.Context, path, name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	entry, err := e.registry.Load(path, name)
	if err != nil {
		e.logger.Error("load dataset failed",
			slog.String("path", path),
			slog.String("dataset", entry.Name),
			slog.String("error", err.Error()),
		)
		e.observer.ObserveTool(ToolLoad, OutcomeError, time.Since(start))
		return "Error loading CSV: " + dataset.Detail(err)
	}

	e.logger.Info("dataset loaded",
		slog.String("path", path),
		slog.String("dataset", entry.Name),
		slog.Int("rows", entry.Rows()),
		slog.Int("cols", entry.Cols()),
	)
	logger.AuditEvent("dataset.loaded",
		slog.String("dataset", entry.Name),
		slog.String("path", path),
	)
	e.observer.ObserveTool(ToolLoad, OutcomeOK, time.Since(start))

	return fmt.Sprintf("Successfully loaded %s as '%s'.\nShape: %d rows x %d columns\nColumns: %s\nFirst 5 rows preview available in memory.",
		path, entry.Name, entry.Rows(), entry.Cols(), strings.Join(entry.Frame.Names(), ", "))
}

// Describe 返回结构报告、描述性统计，以及数值列多于一个时的相关系数矩阵。
func (e *Engine) Describe(_ context.Context, name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	entry, err := e.registry.Get(name)
	if err != nil {
		e.logger.Warn("dataset not found", slog.String("dataset", name))
		e.observer.ObserveTool(ToolDescribe, OutcomeError, time.Since(start))
		return "Error: " + xerrors.Text(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "DataFrame '%s' Information:\n\n", entry.Name)
	b.WriteString(dataset.Info(entry.Frame))
	b.WriteString("\n\nDescriptive Statistics:\n")
	b.WriteString(dataset.DescribeTable(entry.Frame))
	if corr, ok := dataset.CorrelationTable(entry.Frame); ok {
		b.WriteString("\n\nCorrelation Matrix:\n")
		b.WriteString(corr)
	}
	e.observer.ObserveTool(ToolDescribe, OutcomeOK, time.Since(start))
	return b.String()
}

// List 按注册顺序列出全部数据集。
func (e *Engine) List(_ context.Context) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()
	defer func() { e.observer.ObserveTool(ToolList, OutcomeOK, time.Since(start)) }()

	entries := e.registry.Entries()
	if len(entries) == 0 {
		return EmptyRegistryMessage
	}
	var b strings.Builder
	b.WriteString("Loaded DataFrames:\n")
	for _, entry := range entries {
		fmt.Fprintf(&b, "- %s: %d rows × %d columns\n", entry.Name, entry.Rows(), entry.Cols())
	}
	return b.String()
}

// RunScript 在受限解释器中执行脚本。失败被渲染为带调用栈的结果文本。
func (e *Engine) RunScript(ctx context.Context, code string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	preview := code
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	e.logger.Info("executing script", slog.String("script", preview))

	res, err := e.runner.Run(ctx, code, e.registry.Entries())
	if err != nil {
		e.observer.ObserveTool(ToolRunScript, OutcomeError, res.Duration)
		logger.AuditEvent("script.executed",
			slog.String("outcome", string(xerrors.CodeOf(err))),
			slog.Duration("duration", res.Duration),
		)
		var execErr *script.ExecError
		if errors.As(err, &execErr) {
			return fmt.Sprintf("Error executing script: %s\n%s", execErr.Message, execErr.Traceback)
		}
		return fmt.Sprintf("Error executing script: %s\n", xerrors.Text(err))
	}

	e.observer.ObserveTool(ToolRunScript, OutcomeOK, res.Duration)
	logger.AuditEvent("script.executed",
		slog.String("outcome", "ok"),
		slog.Duration("duration", res.Duration),
	)
	if text := res.Text(); text != "" {
		return text
	}
	return NoOutputSentinel
}
