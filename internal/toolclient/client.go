package toolclient

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	xerrors "SmartBI-Agent/internal/errors"
	"SmartBI-Agent/pkg/logger"
)

// ClientName 是客户端在握手中声明的名称。
const ClientName = "smartbi-orchestrator"

// Tool 是工具清单中的一项。
type Tool struct {
	Name        string
	Description string
	Args        []string
}

// Fragment 是工具结果流中的一个文本片段。Err 非空时表示调用失败，且是流中最后一个元素。
type Fragment struct {
	Text string
	Err  error
}

// Session 表示与一个引擎实例的连接。
type Session struct {
	session *mcp.ClientSession
	tools   []Tool
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Option 自定义 Session。
type Option func(*options)

type options struct {
	version string
	logger  *slog.Logger
}

// WithVersion 指定握手时声明的客户端版本。
func WithVersion(v string) Option {
	return func(o *options) {
		if v != "" {
			o.version = v
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Connect 建立会话并获取工具清单。任一步失败都返回 CONNECT_ERROR。
func Connect(ctx context.Context, transport mcp.Transport, opts ...Option) (*Session, error) {
	cfg := options{version: "dev"}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = logger.Named("toolclient")
	}
	if transport == nil {
		return nil, xerrors.New(CodeConnect, "transport is required")
	}

	client := mcp.NewClient(&mcp.Implementation{Name: ClientName, Version: cfg.version}, nil)
	cs, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, xerrors.Wrap(CodeConnect, err, "connect to engine")
	}

	res, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		_ = cs.Close()
		return nil, xerrors.Wrap(CodeConnect, err, "fetch tool manifest")
	}

	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		if t == nil {
			continue
		}
		tools = append(tools, Tool{Name: t.Name, Description: t.Description, Args: argNames(t.InputSchema)})
	}
	cfg.logger.Info("connected to engine", slog.Int("tools", len(tools)))
	return &Session{session: cs, tools: tools, logger: cfg.logger}, nil
}

// Tools 返回连接时获取的工具清单。
func (s *Session) Tools() []Tool {
	out := make([]Tool, len(s.tools))
	copy(out, s.tools)
	return out
}

// Stream 调用工具并以通道逐段返回结果。通道在结果结束后关闭。
func (s *Session) Stream(ctx context.Context, name string, args map[string]any) <-chan Fragment {
	ch := make(chan Fragment)
	go func() {
		defer close(ch)
		send := func(f Fragment) bool {
			select {
			case ch <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if args == nil {
			args = map[string]any{}
		}
		res, err := s.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			s.logger.Warn("tool dispatch failed", slog.String("tool", name), slog.String("error", err.Error()))
			send(Fragment{Err: xerrors.Wrap(CodeDispatch, err, "", xerrors.WithMetadata("tool", name))})
			return
		}
		for _, content := range res.Content {
			text, ok := content.(*mcp.TextContent)
			if !ok {
				continue
			}
			if !send(Fragment{Text: text.Text}) {
				return
			}
		}
	}()
	return ch
}

// Call 调用工具并拼接全部片段。
func (s *Session) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	return Collect(s.Stream(ctx, name, args))
}

// Close 关闭会话。重复调用是安全的。
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.session.Close()
}

// Collect 按到达顺序拼接片段，遇到错误片段时返回该错误。
func Collect(ch <-chan Fragment) (string, error) {
	var b strings.Builder
	for f := range ch {
		if f.Err != nil {
			// 排空剩余片段，避免生产者阻塞。
			for range ch {
			}
			return b.String(), f.Err
		}
		b.WriteString(f.Text)
	}
	return b.String(), nil
}

// argNames 从 JSON Schema 中提取参数名，必填参数在前。
func argNames(schema any) []string {
	m, ok := schema.(map[string]any)
	if !ok {
		return nil
	}
	props, _ := m["properties"].(map[string]any)
	required := map[string]bool{}
	var names []string
	if list, ok := m["required"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok && !required[s] {
				required[s] = true
				names = append(names, s)
			}
		}
	}
	optional := make([]string, 0, len(props))
	for name := range props {
		if !required[name] {
			optional = append(optional, name)
		}
	}
	sort.Strings(optional)
	return append(names, optional...)
}

// String 实现 fmt.Stringer，便于日志输出。
func (t Tool) String() string {
	return fmt.Sprintf("%s(%s)", t.Name, strings.Join(t.Args, ", "))
}
