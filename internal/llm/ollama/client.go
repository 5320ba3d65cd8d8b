package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"SmartBI-Agent/internal/llm"
)

const (
	defaultHost    = "http://127.0.0.1:11434"
	defaultTimeout = 120 * time.Second
	providerName   = "ollama"
)

// Config 描述本地 Ollama 服务。
type Config struct {
	Host       string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client 通过 Ollama 的 /api/chat 接口生成回复。
type Client struct {
	api   *api.Client
	model string
}

// NewClient 创建 Ollama 客户端。
func NewClient(cfg Config) (*Client, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = defaultHost
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("未指定 Ollama 模型")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{api: api.NewClient(base, httpClient), model: cfg.Model}, nil
}

// Generate 以非流式方式调用 chat 接口。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	stream := false
	options := map[string]any{"temperature": req.Temperature, "top_p": 1}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: buildMessages(req.Turns),
		Stream:   &stream,
		Options:  options,
	}

	start := time.Now()
	var (
		text     strings.Builder
		resolved = model
	)
	err := c.api.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		text.WriteString(r.Message.Content)
		if r.Model != "" {
			resolved = r.Model
		}
		return nil
	})
	if err != nil {
		return nil, llm.GenerationError(providerName, err)
	}
	return &llm.Response{Text: text.String(), Model: resolved, Elapsed: time.Since(start)}, nil
}

func buildMessages(turns []llm.Turn) []api.Message {
	messages := make([]api.Message, 0, len(turns))
	for _, turn := range turns {
		msg := api.Message{Role: string(turn.Role), Content: turn.Text}
		for _, img := range turn.Images {
			msg.Images = append(msg.Images, api.ImageData(img.Data))
		}
		messages = append(messages, msg)
	}
	return messages
}
