// Package errors 定义 SmartBI 内部统一的错误码体系。
//
// 分析链路的错误分类集中在 codes.go，任务、上传等外围模块在 init 阶段
// 通过 Register 补充自身的错误码。调用方使用 CodeOf、Text 等辅助函数
// 把错误转换为日志字段或面向对话的文本。
package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
	"maps"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Error 是系统内统一的错误类型。创建时从注册表取一份属性快照，
// 选项在快照上覆盖。
type Error struct {
	code     Code
	message  string
	cause    error
	attr     Attributes
	metadata map[string]string
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，同名键后写覆盖先写。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.attr.Retryable = retryable }
}

func WithAlert(alert bool) Option {
	return func(e *Error) { e.attr.Alert = alert }
}

func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.attr.Severity = sev }
}

// New 创建一个新的错误实例，message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	attr := AttributesOf(code)
	if message == "" {
		message = attr.Message
	}
	e := &Error{code: code, message: message, attr: attr}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 让 errors.Is 按错误码匹配。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

// Attributes 返回应用选项后的属性。
func (e *Error) Attributes() Attributes {
	if e == nil {
		return AttributesOf(CodeUnknown)
	}
	return e.attr
}

func (e *Error) Retryable() bool   { return e != nil && e.attr.Retryable }
func (e *Error) ShouldAlert() bool { return e != nil && e.attr.Alert }

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.attr.Severity
}

// From 尝试从 error 链中取出统一错误类型。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码，普通错误归为 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// attributesOf 返回 err 的有效属性；普通错误使用 UNKNOWN 的默认值，
// 但不可重试。
func attributesOf(err error) Attributes {
	if e, ok := From(err); ok {
		return e.attr
	}
	attr := AttributesOf(CodeUnknown)
	attr.Retryable = false
	attr.Alert = false
	return attr
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool { return err != nil && attributesOf(err).Retryable }

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool { return err != nil && attributesOf(err).Alert }

func SeverityOf(err error) Severity { return attributesOf(err).Severity }

// StageOf 返回错误所属的处理阶段。
func StageOf(err error) Stage { return attributesOf(err).Stage }

// Text 返回不带错误码前缀的可读文本，用于写回对话或工具结果。
func Text(err error) string {
	if err == nil {
		return ""
	}
	e, ok := From(err)
	if !ok {
		return err.Error()
	}
	switch {
	case e.cause == nil:
		return e.message
	case e.message == "":
		return Text(e.cause)
	default:
		return e.message + ": " + Text(e.cause)
	}
}

// LogAttrs 将错误展开为结构化日志字段。
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}
	attrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("code", string(CodeOf(err))),
		slog.String("stage", string(StageOf(err))),
		slog.String("severity", string(SeverityOf(err))),
	}
	if e, ok := From(err); ok {
		for k, v := range e.metadata {
			attrs = append(attrs, slog.String(k, v))
		}
	}
	return attrs
}

// LogArgs 与 LogAttrs 相同，但可直接展开到 slog 的可变参数中。
func LogArgs(err error) []any {
	attrs := LogAttrs(err)
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}
