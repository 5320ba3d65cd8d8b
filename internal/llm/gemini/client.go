package gemini

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"SmartBI-Agent/internal/llm"
)

const (
	defaultModelName = "gemini-1.5-flash"
	providerName     = "gemini"
)

// Config 描述 Gemini 接入参数。
type Config struct {
	APIKey string
	Model  string
}

// Client 通过 generative-ai-go 调用 Gemini。
type Client struct {
	api   *genai.Client
	model string
}

// NewClient 创建客户端，使用结束后需调用 Close。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("未提供 Gemini API Key")
	}
	api, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, llm.GenerationError(providerName, err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	return &Client{api: api, model: model}, nil
}

// Close 释放底层连接。
func (c *Client) Close() error {
	return c.api.Close()
}

// Generate 以聊天会话的方式发送：除最后一轮外的轮次作为历史。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	name := req.Model
	if name == "" {
		name = c.model
	}
	model := c.api.GenerativeModel(name)
	model.SetTemperature(float32(req.Temperature))
	model.SetTopP(1)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	system, turns := llm.SplitSystem(req.Turns)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	history, last := splitLast(turns)
	if last == nil {
		return nil, llm.GenerationError(providerName, errors.New("no user turn to send"))
	}

	chat := model.StartChat()
	chat.History = history

	start := time.Now()
	resp, err := chat.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, llm.GenerationError(providerName, err)
	}
	text := responseText(resp)
	return &llm.Response{Text: text, Model: name, Elapsed: time.Since(start)}, nil
}

func splitLast(turns []llm.Turn) ([]*genai.Content, *genai.Content) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		contents = append(contents, toContent(turn))
	}
	if len(contents) == 0 {
		return nil, nil
	}
	return contents[:len(contents)-1], contents[len(contents)-1]
}

func toContent(turn llm.Turn) *genai.Content {
	role := "user"
	if turn.Role == llm.RoleAssistant {
		role = "model"
	}
	parts := []genai.Part{genai.Text(turn.Text)}
	for _, img := range turn.Images {
		format := strings.TrimPrefix(img.MIME, "image/")
		if format == "" {
			format = "jpeg"
		}
		parts = append(parts, genai.ImageData(format, img.Data))
	}
	return &genai.Content{Role: role, Parts: parts}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}
