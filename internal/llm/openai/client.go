package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"SmartBI-Agent/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
	providerName     = "openai"
)

// Config 描述了调用 OpenAI 兼容 Chat Completions API 所需的信息。Groq 等兼容服务只需替换 BaseURL。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client 通过 go-openai 调用 OpenAI 兼容的大模型服务。
type Client struct {
	api   *goopenai.Client
	model string
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	conf := goopenai.DefaultConfig(apiKey)
	conf.BaseURL = strings.TrimRight(baseURL, "/")
	conf.HTTPClient = httpClient

	return &Client{api: goopenai.NewClientWithConfig(conf), model: model}, nil
}

// Generate 调用 Chat Completions 接口。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	start := time.Now()

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    buildMessages(req.Turns),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		TopP:        1,
	})
	if err != nil {
		return nil, llm.GenerationError(providerName, err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.GenerationError(providerName, errors.New("OpenAI 响应中没有有效的 choices"))
	}

	resolved := resp.Model
	if resolved == "" {
		resolved = model
	}
	return &llm.Response{
		Text:    resp.Choices[0].Message.Content,
		Model:   resolved,
		Elapsed: time.Since(start),
	}, nil
}

func buildMessages(turns []llm.Turn) []goopenai.ChatCompletionMessage {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		msg := goopenai.ChatCompletionMessage{Role: role(turn.Role)}
		if len(turn.Images) == 0 {
			msg.Content = turn.Text
			messages = append(messages, msg)
			continue
		}
		msg.MultiContent = append(msg.MultiContent, goopenai.ChatMessagePart{
			Type: goopenai.ChatMessagePartTypeText,
			Text: turn.Text,
		})
		for _, img := range turn.Images {
			msg.MultiContent = append(msg.MultiContent, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", mimeOrDefault(img.MIME), base64.StdEncoding.EncodeToString(img.Data)),
					Detail: goopenai.ImageURLDetailAuto,
				},
			})
		}
		messages = append(messages, msg)
	}
	return messages
}

func role(r llm.Role) string {
	switch r {
	case llm.RoleSystem:
		return goopenai.ChatMessageRoleSystem
	case llm.RoleAssistant:
		return goopenai.ChatMessageRoleAssistant
	default:
		return goopenai.ChatMessageRoleUser
	}
}

func mimeOrDefault(m string) string {
	if m == "" {
		return "image/jpeg"
	}
	return m
}
