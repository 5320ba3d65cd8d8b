package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"SmartBI-Agent/internal/dataset"
	xerrors "SmartBI-Agent/internal/errors"
	"SmartBI-Agent/pkg/logger"
)

// ReturnValueName 是脚本未打印任何内容时用作结果的全局变量名。
const ReturnValueName = "_return_value"

// DatasetsName 是以字典形式暴露全部数据集的预声明名称，便于访问非标识符名称。
const DatasetsName = "datasets"

const scriptFilename = "<script>"

// Result 是一次成功执行的产物。
type Result struct {
	Output      string
	ReturnValue string
	HasReturn   bool
	Steps       uint64
	Duration    time.Duration
}

// Text 返回面向调用方的文本：优先使用标准输出，其次是 _return_value。
// 两者都为空时返回空串，由调用方决定占位文本。
func (r Result) Text() string {
	if r.Output != "" {
		return r.Output
	}
	if r.HasReturn {
		return r.ReturnValue
	}
	return ""
}

// Runner 在受限解释器中执行脚本。
type Runner struct {
	policy     Policy
	timeout    time.Duration
	timeoutSet bool
	logger     *slog.Logger
}

// Option 自定义 Runner。
type Option func(*Runner)

// WithPolicy 指定能力策略。
func WithPolicy(p Policy) Option {
	return func(r *Runner) {
		r.policy = p.Merge(DefaultPolicy())
	}
}

// WithTimeout 指定单次执行的墙钟超时，优先于策略中的 timeout_seconds。
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
			r.timeoutSet = true
		}
	}
}

// WithMaxSteps 覆盖策略中的步数上限。
func WithMaxSteps(n uint64) Option {
	return func(r *Runner) {
		if n > 0 {
			r.policy.MaxSteps = n
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// DefaultTimeout 是未配置时的单次执行时限。
const DefaultTimeout = 30 * time.Second

// NewRunner 创建脚本执行器。
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		policy:  DefaultPolicy(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.policy.TimeoutSeconds > 0 && !r.timeoutSet {
		r.timeout = time.Duration(r.policy.TimeoutSeconds) * time.Second
	}
	if r.logger == nil {
		r.logger = logger.Named("script")
	}
	return r
}

// Policy 返回当前生效的策略。
func (r *Runner) Policy() Policy { return r.policy }

// Timeout 返回当前生效的超时。
func (r *Runner) Timeout() time.Duration { return r.timeout }

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Run 执行脚本。frames 按名称绑定为预声明变量，同时收录在 datasets 字典中。
// 脚本失败时返回的错误可通过 errors.As 取出 *ExecError。
func (r *Runner) Run(ctx context.Context, code string, frames []dataset.Entry) (Result, error) {
	start := time.Now()

	var out strings.Builder
	thread := &starlark.Thread{
		Name: "run_script",
		Print: func(_ *starlark.Thread, msg string) {
			out.WriteString(msg)
			out.WriteByte('\n')
		},
		Load: r.load,
	}
	if r.policy.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(r.policy.MaxSteps)
	}

	// 步骤 1：超时或上游取消时中断解释器。
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-runCtx.Done():
			thread.Cancel(runCtx.Err().Error())
		case <-done:
		}
	}()

	// 步骤 2：执行。
	globals, err := starlark.ExecFileOptions(fileOptions, thread, scriptFilename, code, r.predeclared(frames))
	elapsed := time.Since(start)
	if err != nil {
		failure := r.classify(runCtx, thread, err)
		r.logger.Info("script failed",
			slog.String("error", failure.Error()),
			slog.Duration("duration", elapsed),
			slog.Uint64("steps", thread.ExecutionSteps()),
		)
		return Result{Output: out.String(), Steps: thread.ExecutionSteps(), Duration: elapsed}, failure
	}

	// 步骤 3：收集结果。
	result := Result{
		Output:   out.String(),
		Steps:    thread.ExecutionSteps(),
		Duration: elapsed,
	}
	if v, ok := globals[ReturnValueName]; ok && v != nil {
		result.HasReturn = true
		result.ReturnValue = str(v)
	}
	r.logger.Debug("script executed",
		slog.Duration("duration", elapsed),
		slog.Uint64("steps", result.Steps),
		slog.Int("output_bytes", len(result.Output)),
	)
	return result, nil
}

func (r *Runner) classify(ctx context.Context, thread *starlark.Thread, err error) error {
	failure := &ExecError{Message: err.Error(), cause: err}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		failure.Message = evalErr.Msg
		failure.Traceback = evalErr.Backtrace()
	} else {
		failure.Traceback = "Traceback (most recent call last):\n  " + scriptFilename + ": in <toplevel>\nError: " + err.Error()
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		failure.Message = fmt.Sprintf("script exceeded time limit of %s", r.timeout)
		return xerrors.Wrap(CodeScriptTimeout, failure, "")
	case r.policy.MaxSteps > 0 && thread.ExecutionSteps() >= r.policy.MaxSteps:
		failure.Message = fmt.Sprintf("script exceeded step limit of %d", r.policy.MaxSteps)
		return xerrors.Wrap(CodeScriptTimeout, failure, "")
	case ctx.Err() != nil:
		failure.Message = "script cancelled: " + ctx.Err().Error()
		return xerrors.Wrap(CodeScriptTimeout, failure, "")
	}
	return xerrors.Wrap(CodeScript, failure, "")
}

// predeclared 构造脚本可见的全部名称：允许的模块、数据集句柄以及 datasets 字典。
func (r *Runner) predeclared(frames []dataset.Entry) starlark.StringDict {
	env := starlark.StringDict{}
	for _, name := range KnownModules() {
		if r.policy.Allows(name) {
			env[name] = modules[name]
		}
	}
	all := starlark.NewDict(len(frames))
	for _, entry := range frames {
		frame := NewFrame(entry.Name, entry.Frame)
		_ = all.SetKey(starlark.String(entry.Name), frame)
		if isIdentifier(entry.Name) {
			env[entry.Name] = frame
		}
	}
	all.Freeze()
	env[DatasetsName] = all
	return env
}

// load 实现 load("math", "sqrt") 语句，仅放行策略允许的模块。
func (r *Runner) load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	if err := r.policy.Check(module); err != nil {
		return nil, err
	}
	m, ok := modules[module]
	if !ok {
		return nil, fmt.Errorf("module %q not found", module)
	}
	return m.Members, nil
}

// str 模拟 Python 的 str()：字符串不加引号，其余值使用其字面表示。
func str(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

var keywords = map[string]bool{
	"and": true, "break": true, "continue": true, "def": true, "elif": true,
	"else": true, "for": true, "if": true, "in": true, "lambda": true,
	"load": true, "not": true, "or": true, "pass": true, "return": true,
	"while": true, "None": true, "True": true, "False": true,
}

func isIdentifier(name string) bool {
	if name == "" || keywords[name] || name == DatasetsName {
		return false
	}
	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	if _, known := modules[name]; known {
		return false
	}
	return true
}
