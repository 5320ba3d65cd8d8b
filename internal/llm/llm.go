package llm

import (
	"context"
	"strings"
	"time"

	xerrors "SmartBI-Agent/internal/errors"
)

// CodeGeneration 表示一次大模型调用失败。
const CodeGeneration = xerrors.CodeGeneration

// Role 标识对话轮次的发言方。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image 是随某个轮次发送的图片。
type Image struct {
	Data []byte
	MIME string
}

// Turn 是对话中的一轮。
type Turn struct {
	Role   Role
	Text   string
	Images []Image
}

// Request 描述一次生成请求。零值字段由提供商使用各自的默认值。
type Request struct {
	Turns       []Turn
	Model       string
	Temperature float64
	MaxTokens   int
}

// Response 是生成结果，Model 为实际生效的模型名。
type Response struct {
	Text    string
	Model   string
	Elapsed time.Duration
}

// ElapsedMS 返回以毫秒计的处理时长。
func (r Response) ElapsedMS() int64 {
	return r.Elapsed.Milliseconds()
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// SplitSystem 把系统轮次与其余轮次分开，供只接受独立系统提示的提供商使用。
func SplitSystem(turns []Turn) (string, []Turn) {
	var system []string
	rest := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == RoleSystem {
			system = append(system, t.Text)
			continue
		}
		rest = append(rest, t)
	}
	return strings.Join(system, "\n\n"), rest
}

// GenerationError 把提供商错误包装为统一错误码。
func GenerationError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(CodeGeneration, err, provider+" request failed", xerrors.WithMetadata("provider", provider))
}
