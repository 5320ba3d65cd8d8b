package api

import (
	"net/http"
	"strconv"
	"time"

	xerrors "SmartBI-Agent/internal/errors"
	"SmartBI-Agent/internal/llm"
	"SmartBI-Agent/internal/storage"
)

// interactionResponse 是交互记录对外的视图，不包含图片字节。
type interactionResponse struct {
	ID             int64  `json:"id"`
	Prompt         string `json:"prompt"`
	Response       string `json:"response"`
	PromptType     string `json:"prompt_type"`
	Timestamp      string `json:"timestamp"`
	ImageFilename  string `json:"image_filename,omitempty"`
	HasImage       bool   `json:"has_image"`
	ModelUsed      string `json:"model_used"`
	ProcessingTime int64  `json:"processing_time"`
}

func interactionView(rec *storage.Interaction) interactionResponse {
	view := interactionResponse{
		ID:             rec.ID,
		Prompt:         rec.Prompt,
		Response:       rec.Response,
		PromptType:     rec.PromptType,
		ImageFilename:  rec.ImageFilename,
		HasImage:       rec.HasImage(),
		ModelUsed:      rec.ModelUsed,
		ProcessingTime: rec.ProcessingTimeMS,
	}
	if rec.CreatedAt > 0 {
		view.Timestamp = time.Unix(rec.CreatedAt, 0).UTC().Format(time.RFC3339)
	}
	return view
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, unavailable("storage"))
		return
	}
	records, err := s.store.ListInteractions(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]interactionResponse, 0, len(records))
	for i := range records {
		views = append(views, interactionView(&records[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) lookupInteraction(w http.ResponseWriter, r *http.Request) (*storage.Interaction, bool) {
	if s.store == nil {
		s.writeError(w, unavailable("storage"))
		return nil, false
	}
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusNotFound, xerrors.CodeNotFound, "Interaction not found")
		return nil, false
	}
	rec, err := s.store.GetInteraction(r.Context(), id)
	if storage.IsNotFound(err) {
		writeDetail(w, http.StatusNotFound, xerrors.CodeNotFound, "Interaction not found")
		return nil, false
	}
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return rec, true
}

func (s *Server) handleGetInteraction(w http.ResponseWriter, r *http.Request) {
	if rec, ok := s.lookupInteraction(w, r); ok {
		writeJSON(w, http.StatusOK, interactionView(rec))
	}
}

// handleInteractionImage 返回原始图片，类型按扩展名推断。
func (s *Server) handleInteractionImage(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupInteraction(w, r)
	if !ok {
		return
	}
	if !rec.HasImage() {
		writeDetail(w, http.StatusNotFound, xerrors.CodeNotFound, "No image associated with this interaction")
		return
	}
	w.Header().Set("Content-Type", llm.MIMEFromFilename(rec.ImageFilename))
	w.Header().Set("Content-Length", strconv.Itoa(len(rec.ImageData)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.ImageData)
}
