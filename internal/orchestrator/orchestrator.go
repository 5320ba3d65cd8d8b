package orchestrator

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	xerrors "SmartBI-Agent/internal/errors"
	"SmartBI-Agent/internal/llm"
	"SmartBI-Agent/internal/toolclient"
	"SmartBI-Agent/pkg/logger"
)

// CodeParse 表示调用标记中的参数不是合法的 JSON 对象。
const CodeParse = xerrors.CodeParse

// Dispatcher 是编排器所需的引擎能力。
type Dispatcher interface {
	Tools() []toolclient.Tool
	Stream(ctx context.Context, name string, args map[string]any) <-chan toolclient.Fragment
}

// Recorder 持久化已完成的问答。
type Recorder interface {
	RecordAnswer(ctx context.Context, answer *Answer) error
}

// ToolCall 是一次分发的结果。
type ToolCall struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Output string         `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Failed 判断调用是否失败。
func (c ToolCall) Failed() bool { return c.Error != "" }

// Answer 汇总一次查询的全部产物。
type Answer struct {
	Query   string        `json:"query"`
	Text    string        `json:"text"`
	First   string        `json:"first"`
	Final   string        `json:"final,omitempty"`
	Calls   []ToolCall    `json:"calls,omitempty"`
	Results []string      `json:"results,omitempty"`
	Model   string        `json:"model"`
	Elapsed time.Duration `json:"elapsed"`
}

// ElapsedMS 返回以毫秒计的耗时。
func (a *Answer) ElapsedMS() int64 { return a.Elapsed.Milliseconds() }

// Orchestrator 串行执行查询：同一实例同一时刻只处理一个查询。
type Orchestrator struct {
	mu sync.Mutex

	llm         llm.Client
	tools       Dispatcher
	closer      io.Closer
	model       string
	temperature float64
	maxTokens   int
	llmTimeout  time.Duration
	callTimeout time.Duration
	recorder    Recorder
	logger      *slog.Logger
}

// Option 定义可选的编排器配置。
type Option func(*Orchestrator)

// 与原有聊天客户端一致的生成参数。
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// WithModel 指定生成使用的模型。
func WithModel(model string) Option {
	return func(o *Orchestrator) {
		o.model = model
	}
}

// WithTemperature 设置采样温度。
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) {
		if t >= 0 {
			o.temperature = t
		}
	}
}

// WithMaxTokens 设置单次生成的最大 token 数。
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout <= 0 {
			o.llmTimeout = 0
			return
		}
		o.llmTimeout = timeout
	}
}

// WithCallTimeout 设置单次工具分发的超时时间。
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.callTimeout = timeout
		}
	}
}

// WithRecorder 注册问答记录器。
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New 创建编排器。
func New(client llm.Client, tools Dispatcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llm:         client,
		tools:       tools,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.logger == nil {
		o.logger = logger.Named("orchestrator")
	}
	return o
}

// Connect 连接引擎并获取工具清单后创建编排器。连接失败是致命错误。
func Connect(ctx context.Context, transport mcp.Transport, client llm.Client, opts ...Option) (*Orchestrator, error) {
	session, err := toolclient.Connect(ctx, transport)
	if err != nil {
		return nil, err
	}
	o := New(client, session, opts...)
	o.closer = session
	return o, nil
}

// Tools 返回工具清单。
func (o *Orchestrator) Tools() []toolclient.Tool {
	if o.tools == nil {
		return nil
	}
	return o.tools.Tools()
}

// Close 关闭由 Connect 建立的引擎会话。
func (o *Orchestrator) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}

// Call 直接调用单个工具，与 Answer 共用同一把锁。
func (o *Orchestrator) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	if o.tools == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "orchestrator is not configured")
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	callCtx := ctx
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}
	output, err := toolclient.Collect(o.tools.Stream(callCtx, name, args))
	if err == nil && callCtx.Err() != nil {
		err = xerrors.Wrap(toolclient.CodeDispatch, callCtx.Err(), "tool call interrupted")
	}
	return output, err
}

// Answer 处理一次查询。除参数校验外，所有失败都以文本形式写入结果。
func (o *Orchestrator) Answer(ctx context.Context, query string, history []Message) (*Answer, error) {
	// 验证必要的组件是否已配置。
	if o.llm == nil || o.tools == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "orchestrator is not configured")
	}
	if strings.TrimSpace(query) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "query must not be empty")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	start := time.Now()

	// 构建提示：系统提示始终位于第一轮，且每次查询重新生成。
	turns := make([]llm.Turn, 0, len(history)+2)
	turns = append(turns, llm.Turn{Role: llm.RoleSystem, Text: BuildSystemPrompt(o.tools.Tools())})
	for _, msg := range history {
		turns = append(turns, llm.Turn{Role: normalizeRole(msg.Role), Text: msg.Content.Text()})
	}
	turns = append(turns, llm.Turn{Role: llm.RoleUser, Text: query})

	// 第一次生成。
	first, model := o.generate(ctx, turns)
	answer := &Answer{Query: query, First: first, Model: model}

	// 扫描并按顺序分发。
	invocations := Scan(first)
	if len(invocations) == 0 {
		answer.Text = first
		return o.finish(ctx, answer, start), nil
	}

	for _, inv := range invocations {
		call := o.dispatch(ctx, inv)
		answer.Calls = append(answer.Calls, call)
		if call.Failed() {
			msg := fmt.Sprintf("Error executing tool %s: %s", call.Name, call.Error)
			answer.Results = append(answer.Results, msg)
			turns = append(turns, llm.Turn{Role: llm.RoleUser, Text: "Error: " + msg})
			continue
		}
		answer.Results = append(answer.Results, fmt.Sprintf("[Tool Result: %s] %s", call.Name, call.Output))
		turns = append(turns,
			llm.Turn{Role: llm.RoleAssistant, Text: fmt.Sprintf("I'll use the %s tool.", call.Name)},
			llm.Turn{Role: llm.RoleUser, Text: "Tool result: " + call.Output},
		)
	}

	// 第二次生成，结果与中间输出拼接后返回。
	final, finalModel := o.generate(ctx, turns)
	if finalModel != "" {
		answer.Model = finalModel
	}
	answer.Final = final
	answer.Text = first + "\n\n" + strings.Join(answer.Results, "") + "\n\n" + final
	return o.finish(ctx, answer, start), nil
}

// generate 调用大模型；失败时返回 "Error: ..." 作为替代回复。
func (o *Orchestrator) generate(ctx context.Context, turns []llm.Turn) (string, string) {
	llmCtx := ctx
	if o.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, o.llmTimeout)
		defer cancel()
	}

	resp, err := o.llm.Generate(llmCtx, llm.Request{
		Turns:       turns,
		Model:       o.model,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			err = xerrors.Wrap(xerrors.CodeTimeout, err, "language model timed out")
		}
		o.logger.Warn("generation failed", xerrors.LogArgs(err)...)
		return "Error: " + xerrors.Text(err), o.model
	}
	return resp.Text, resp.Model
}

// dispatch 解析参数并调用工具，按到达顺序拼接结果片段。
func (o *Orchestrator) dispatch(ctx context.Context, inv Invocation) ToolCall {
	call := ToolCall{Name: inv.Name}

	args, err := inv.Args()
	if err != nil {
		parseErr := xerrors.Wrap(CodeParse, err, "", xerrors.WithMetadata("tool", inv.Name))
		o.logger.Info("tool call arguments rejected", xerrors.LogArgs(parseErr)...)
		call.Error = err.Error()
		return call
	}
	call.Args = args

	callCtx := ctx
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}

	o.logger.Info("calling tool", slog.String("tool", inv.Name))
	output, err := toolclient.Collect(o.tools.Stream(callCtx, inv.Name, args))
	if err == nil && callCtx.Err() != nil {
		err = xerrors.Wrap(toolclient.CodeDispatch, callCtx.Err(), "tool call interrupted")
	}
	if err != nil {
		o.logger.Warn("tool call failed", xerrors.LogArgs(err)...)
		call.Error = xerrors.Text(err)
		return call
	}
	call.Output = output
	return call
}

func (o *Orchestrator) finish(ctx context.Context, answer *Answer, start time.Time) *Answer {
	answer.Elapsed = time.Since(start)
	logger.AuditEvent("query.answered",
		slog.Int("tool_calls", len(answer.Calls)),
		slog.String("model", answer.Model),
		slog.Duration("elapsed", answer.Elapsed),
	)
	if o.recorder != nil {
		if err := o.recorder.RecordAnswer(ctx, answer); err != nil {
			o.logger.Warn("record answer failed", xerrors.LogArgs(err)...)
		}
	}
	return answer
}
