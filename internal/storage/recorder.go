package storage

import (
	"context"

	"SmartBI-Agent/internal/llm"
	"SmartBI-Agent/internal/orchestrator"
)

// PromptToolChat 标记经过工具编排的问答。
const PromptToolChat = "tool_chat"

// Recorder 把问答与直接提示写入交互仓库。
type Recorder struct {
	repo InteractionRepository
}

// NewRecorder 创建记录器。
func NewRecorder(repo InteractionRepository) *Recorder {
	return &Recorder{repo: repo}
}

// RecordAnswer 实现 orchestrator.Recorder。
func (r *Recorder) RecordAnswer(ctx context.Context, answer *orchestrator.Answer) error {
	if r == nil || r.repo == nil || answer == nil {
		return nil
	}
	return r.repo.CreateInteraction(ctx, &Interaction{
		Prompt:           answer.Query,
		Response:         answer.Text,
		PromptType:       PromptToolChat,
		ModelUsed:        answer.Model,
		ProcessingTimeMS: answer.ElapsedMS(),
	})
}

// RecordPrompt 记录一次直接提示，image 可为空。
func (r *Recorder) RecordPrompt(ctx context.Context, result llm.PromptResult, image []byte, filename string) (*Interaction, error) {
	rec := &Interaction{
		Prompt:           result.Prompt,
		Response:         result.Response,
		PromptType:       result.PromptType,
		ImageData:        image,
		ImageFilename:    filename,
		ModelUsed:        result.Model,
		ProcessingTimeMS: result.ElapsedMS,
	}
	if err := r.repo.CreateInteraction(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
