package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"SmartBI-Agent/internal/llm"
)

const (
	defaultModelName = "claude-3-5-sonnet-latest"
	defaultMaxTokens = 1024
	providerName     = "anthropic"
)

// Config 描述 Anthropic Messages API 的接入参数。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	HTTPClient *http.Client
}

// Client 通过官方 SDK 调用 Messages API。
type Client struct {
	api   sdk.Client
	model string
}

// NewClient 创建客户端。
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("未提供 Anthropic API Key")
	}
	opts := []option.RequestOption{option.WithAPIKey(key), option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	return &Client{api: sdk.NewClient(opts...), model: model}, nil
}

// Generate 调用 Messages API。系统轮次合并为独立的 system 参数。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	system, turns := llm.SplitSystem(req.Turns)
	params := sdk.MessageNewParams{
		Model:       sdk.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    buildMessages(turns),
		Temperature: sdk.Float(req.Temperature),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, llm.GenerationError(providerName, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(sdk.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	resolved := string(msg.Model)
	if resolved == "" {
		resolved = model
	}
	return &llm.Response{Text: b.String(), Model: resolved, Elapsed: time.Since(start)}, nil
}

func buildMessages(turns []llm.Turn) []sdk.MessageParam {
	messages := make([]sdk.MessageParam, 0, len(turns))
	for _, turn := range turns {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(turn.Images)+1)
		for _, img := range turn.Images {
			mime := img.MIME
			if mime == "" {
				mime = "image/jpeg"
			}
			blocks = append(blocks, sdk.NewImageBlockBase64(mime, base64.StdEncoding.EncodeToString(img.Data)))
		}
		blocks = append(blocks, sdk.NewTextBlock(turn.Text))
		if turn.Role == llm.RoleAssistant {
			messages = append(messages, sdk.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, sdk.NewUserMessage(blocks...))
		}
	}
	return messages
}
