package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// 提示类型，与交互记录中的 prompt_type 一致。
const (
	PromptTextOnly     = "text_only"
	PromptTextAndImage = "text_and_image"
	PromptImageOnly    = "image_only"
)

// DefaultImagePrompt 是只上传图片时使用的提示。
const DefaultImagePrompt = "What can you see in this image? Provide a detailed description."

// PromptResult 是一次直接提示的结果。失败时 Response 为 "Error: ..." 且耗时为 0。
type PromptResult struct {
	Prompt     string
	Response   string
	PromptType string
	Model      string
	ElapsedMS  int64
	Failed     bool
}

// Prompter 处理不经过工具编排的直接提示。
type Prompter struct {
	client       Client
	defaultModel string
	now          func() time.Time
}

// NewPrompter 创建 Prompter。
func NewPrompter(client Client, defaultModel string) *Prompter {
	return &Prompter{client: client, defaultModel: defaultModel, now: time.Now}
}

// Text 处理纯文本提示。
func (p *Prompter) Text(ctx context.Context, prompt, model string) PromptResult {
	model = p.model(model)
	return p.run(ctx, PromptTextOnly, model, Turn{Role: RoleUser, Text: prompt})
}

// Multimodal 处理带图片的提示，prompt 为空时使用默认描述提示。模型名必须包含 vision。
func (p *Prompter) Multimodal(ctx context.Context, prompt string, image []byte, filename, model string) PromptResult {
	model = p.model(model)
	kind := PromptTextAndImage
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultImagePrompt
		kind = PromptImageOnly
	}
	if !strings.Contains(model, "vision") {
		return PromptResult{
			Prompt:     prompt,
			Response:   "Error: The specified model does not support vision capabilities",
			PromptType: kind,
			Model:      model,
			Failed:     true,
		}
	}
	mime := MIMEFromFilename(filename)
	if filename == "" {
		mime = DetectImageMIME(image)
	}
	return p.run(ctx, kind, model, Turn{
		Role:   RoleUser,
		Text:   prompt,
		Images: []Image{{Data: image, MIME: mime}},
	})
}

func (p *Prompter) run(ctx context.Context, kind, model string, turn Turn) PromptResult {
	result := PromptResult{Prompt: turn.Text, PromptType: kind, Model: model}
	start := p.now()
	resp, err := p.client.Generate(ctx, Request{
		Turns:       []Turn{turn},
		Model:       model,
		Temperature: 0.7,
		MaxTokens:   4000,
	})
	if err != nil {
		result.Response = fmt.Sprintf("Error: %v", err)
		result.Failed = true
		return result
	}
	result.Response = resp.Text
	if resp.Model != "" {
		result.Model = resp.Model
	}
	result.ElapsedMS = p.now().Sub(start).Milliseconds()
	return result
}

func (p *Prompter) model(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return p.defaultModel
}
