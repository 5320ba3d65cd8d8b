package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	xerrors "SmartBI-Agent/internal/errors"
	"SmartBI-Agent/internal/llm"
	"SmartBI-Agent/internal/orchestrator"
	"SmartBI-Agent/internal/storage"
	"SmartBI-Agent/internal/task"
)

type chatRequest struct {
	Query   string                 `json:"query"`
	History []orchestrator.Message `json:"history,omitempty"`
}

type chatResponse struct {
	Response    string   `json:"response"`
	ToolResults []string `json:"tool_results,omitempty"`
	Model       string   `json:"model"`
	ElapsedMS   int64    `json:"elapsed_ms"`
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

// handleChat 同步执行一次带工具的问答。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.answerer == nil {
		s.writeError(w, unavailable("orchestrator"))
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	answer, err := s.answerer.Answer(r.Context(), req.Query, req.History)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Response:    answer.Text,
		ToolResults: answer.Results,
		Model:       answer.Model,
		ElapsedMS:   answer.ElapsedMS(),
	})
}

func (s *Server) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		s.writeError(w, unavailable("task service"))
		return
	}
	var req task.Request
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	t, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

type listQueriesResponse struct {
	Tasks []*task.Task   `json:"tasks"`
	Stats task.TaskStats `json:"stats"`
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		s.writeError(w, unavailable("task service"))
		return
	}
	opts := []task.ListOption{
		task.WithLimit(queryInt(r, "limit", 20)),
		task.WithOffset(queryInt(r, "offset", 0)),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				writeDetail(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "unknown status "+string(status))
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := r.URL.Query().Get("priority"); raw != "" {
		priority, err := task.ParsePriority(raw)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, err.Error())
			return
		}
		opts = append(opts, task.WithPriorities(priority))
	}
	if model := strings.TrimSpace(r.URL.Query().Get("model")); model != "" {
		opts = append(opts, task.WithModel(model))
	}
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		opts = append(opts, task.WithQuery(q))
	}

	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, listQueriesResponse{Tasks: tasks, Stats: stats})
}

func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		s.writeError(w, unavailable("task service"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeDetail(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "缺少任务 ID")
		return
	}
	t, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type promptRequest struct {
	Prompt    string `json:"prompt"`
	ModelName string `json:"model_name,omitempty"`
	Model     string `json:"model,omitempty"`
}

func (s *Server) handlePromptText(w http.ResponseWriter, r *http.Request) {
	if s.prompter == nil {
		s.writeError(w, unavailable("prompter"))
		return
	}
	var req promptRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeDetail(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "prompt must not be empty")
		return
	}
	model := req.ModelName
	if model == "" {
		model = req.Model
	}
	result := s.prompter.Text(r.Context(), req.Prompt, model)
	s.respondPrompt(w, r, result, nil, "")
}

func (s *Server) handlePromptImage(w http.ResponseWriter, r *http.Request) {
	s.handleMultimodal(w, r, true)
}

func (s *Server) handlePromptImageOnly(w http.ResponseWriter, r *http.Request) {
	s.handleMultimodal(w, r, false)
}

func (s *Server) handleMultimodal(w http.ResponseWriter, r *http.Request, withPrompt bool) {
	if s.prompter == nil {
		s.writeError(w, unavailable("prompter"))
		return
	}
	image, filename, err := readFormFile(r, "image")
	if err != nil {
		s.writeError(w, err)
		return
	}
	prompt := ""
	if withPrompt {
		prompt = r.FormValue("prompt")
		if strings.TrimSpace(prompt) == "" {
			writeDetail(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "prompt must not be empty")
			return
		}
	}
	result := s.prompter.Multimodal(r.Context(), prompt, image, filename, r.FormValue("model_name"))
	s.respondPrompt(w, r, result, image, filename)
}

// respondPrompt 记录交互并返回不含图片字节的视图。
func (s *Server) respondPrompt(w http.ResponseWriter, r *http.Request, result llm.PromptResult, image []byte, filename string) {
	rec := &storage.Interaction{
		Prompt:           result.Prompt,
		Response:         result.Response,
		PromptType:       result.PromptType,
		ImageFilename:    filename,
		ModelUsed:        result.Model,
		ProcessingTimeMS: result.ElapsedMS,
	}
	if s.store != nil {
		stored, err := storage.NewRecorder(s.store).RecordPrompt(r.Context(), result, image, filename)
		if err != nil {
			s.logger.Warn("record interaction failed", xerrors.LogArgs(err)...)
		} else {
			rec = stored
		}
	}
	if result.Failed {
		s.logger.Info("prompt failed", slog.String("type", result.PromptType), slog.String("model", result.Model))
	}
	writeJSON(w, http.StatusOK, interactionView(rec))
}
