package llm

import (
	"context"
	"strings"
)

// ExtractionPrompt 是图片转 CSV 时发送给视觉模型的固定指令。
const ExtractionPrompt = "Extract the table from this image and convert it to CSV format. Only provide the raw CSV data without any explanations, markdown formatting, or code blocks."

// ExtractionFailure 是回复中找不到 CSV 内容时返回的文本。
const ExtractionFailure = "Error: Could not extract CSV data from the image"

// CSVExtractor 借助视觉模型把表格图片转换为 CSV 文本。
type CSVExtractor struct {
	client Client
	model  string
}

// NewCSVExtractor 创建提取器。model 为空时使用提供商默认模型。
func NewCSVExtractor(client Client, model string) *CSVExtractor {
	return &CSVExtractor{client: client, model: model}
}

// Extract 返回 CSV 文本，失败时返回以 "Error: " 开头的文本而不是错误。
func (e *CSVExtractor) Extract(ctx context.Context, image []byte) string {
	resp, err := e.client.Generate(ctx, Request{
		Model:       e.model,
		Temperature: 0,
		MaxTokens:   4000,
		Turns: []Turn{{
			Role:   RoleUser,
			Text:   ExtractionPrompt,
			Images: []Image{{Data: image, MIME: DetectImageMIME(image)}},
		}},
	})
	if err != nil {
		return "Error: " + err.Error()
	}
	return CleanCSV(resp.Text)
}

// CleanCSV 从模型回复中剥离代码围栏，取第一段看起来像 CSV 的内容。
func CleanCSV(reply string) string {
	content := reply
	if strings.Contains(content, "```") {
		for _, part := range strings.Split(content, "```") {
			if !strings.Contains(part, "csv") && strings.Contains(part, ",") && strings.Contains(part, "\n") {
				content = strings.TrimSpace(part)
				break
			}
		}
	}
	if content == "" || !strings.Contains(content, ",") {
		return ExtractionFailure
	}
	return content
}

// IsExtractionError 判断 Extract 的结果是否是错误文本。
func IsExtractionError(text string) bool {
	return strings.HasPrefix(text, "Error: ")
}

// DetectImageMIME 根据文件头推断图片类型，无法识别时按 JPEG 处理。
func DetectImageMIME(data []byte) string {
	switch {
	case len(data) >= 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n":
		return "image/png"
	case len(data) >= 6 && (string(data[:6]) == "GIF87a" || string(data[:6]) == "GIF89a"):
		return "image/gif"
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// MIMEFromFilename 按扩展名推断图片类型，默认 JPEG。
func MIMEFromFilename(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
