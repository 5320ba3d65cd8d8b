package script

import (
	"fmt"

	xerrors "SmartBI-Agent/internal/errors"
)

const (
	// CodeScript 表示脚本语法或运行期错误。
	CodeScript = xerrors.CodeScript
	// CodeScriptTimeout 表示脚本超过墙钟时间或步数上限。
	CodeScriptTimeout = xerrors.CodeScriptTimeout
	// CodePolicy 表示能力策略文件无效。
	CodePolicy = xerrors.CodeScriptPolicy
)

// ExecError 描述一次失败的脚本执行，包含错误信息与调用栈。
type ExecError struct {
	Message   string
	Traceback string
	cause     error
}

func (e *ExecError) Error() string {
	return e.Message
}

func (e *ExecError) Unwrap() error {
	return e.cause
}

// Report 渲染为 "消息\n调用栈" 形式。
func (e *ExecError) Report() string {
	return fmt.Sprintf("%s\n%s", e.Message, e.Traceback)
}
