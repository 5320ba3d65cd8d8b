package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"SmartBI-Agent/internal/dataset"
	xerrors "SmartBI-Agent/internal/errors"
	"SmartBI-Agent/internal/llm"
	"SmartBI-Agent/internal/storage"
)

type uploadResponse struct {
	ID         int64  `json:"id"`
	Filename   string `json:"filename"`
	SourceType string `json:"source_type"`
	CreatedAt  int64  `json:"created_at,omitempty"`
}

func uploadView(u *storage.Upload) uploadResponse {
	return uploadResponse{ID: u.ID, Filename: u.Filename, SourceType: u.SourceType, CreatedAt: u.CreatedAt}
}

// readFormFile 读取表单中的单个文件。
func readFormFile(r *http.Request, field string) ([]byte, string, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", xerrors.Wrap(CodeUploadInvalid, err, "invalid multipart form")
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", xerrors.Wrap(CodeUploadInvalid, err, fmt.Sprintf("missing form field %q", field))
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", xerrors.Wrap(CodeUploadInvalid, err, "read upload")
	}
	return data, header.Filename, nil
}

// validateCSV 检查上传内容是合法的 UTF-8 CSV。
func validateCSV(data []byte) error {
	if !utf8.Valid(data) {
		return errors.New("file is not valid UTF-8")
	}
	_, err := dataset.ReadCSV(bytes.NewReader(data))
	if err != nil {
		return errors.New(dataset.Detail(err))
	}
	return nil
}

func (s *Server) handleUploadCSV(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, unavailable("storage"))
		return
	}
	data, filename, err := readFormFile(r, "file")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := validateCSV(data); err != nil {
		writeDetail(w, http.StatusBadRequest, CodeUploadInvalid, "Invalid CSV file: "+err.Error())
		return
	}

	upload := &storage.Upload{Filename: filename, Content: string(data), SourceType: storage.SourceDirectUpload}
	if err := s.store.CreateUpload(r.Context(), upload); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("csv uploaded", slog.Int64("id", upload.ID), slog.String("filename", filename))
	writeJSON(w, http.StatusOK, uploadView(upload))
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || s.extractor == nil {
		s.writeError(w, unavailable("image extraction"))
		return
	}
	image, filename, err := readFormFile(r, "image")
	if err != nil {
		s.writeError(w, err)
		return
	}

	text := s.extractor.Extract(r.Context(), image)
	if strings.TrimSpace(text) == "" {
		writeDetail(w, http.StatusBadRequest, CodeUploadExtraction, "Failed to extract CSV data from the image")
		return
	}
	if llm.IsExtractionError(text) {
		writeDetail(w, http.StatusBadRequest, CodeUploadExtraction, text)
		return
	}

	upload := &storage.Upload{
		Filename:   filename + "_extracted.csv",
		Content:    text,
		SourceType: storage.SourceImageConversion,
	}
	if err := s.store.CreateUpload(r.Context(), upload); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadView(upload))
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, unavailable("storage"))
		return
	}
	uploads, err := s.store.ListUploads(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]uploadResponse, 0, len(uploads))
	for i := range uploads {
		views = append(views, uploadView(&uploads[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// lookupUpload 读取路径中的上传记录，失败时已写出响应。
func (s *Server) lookupUpload(w http.ResponseWriter, r *http.Request) (*storage.Upload, bool) {
	if s.store == nil {
		s.writeError(w, unavailable("storage"))
		return nil, false
	}
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusNotFound, CodeUploadNotFound, "CSV data not found")
		return nil, false
	}
	upload, err := s.store.GetUpload(r.Context(), id)
	if storage.IsNotFound(err) {
		writeDetail(w, http.StatusNotFound, CodeUploadNotFound, "CSV data not found")
		return nil, false
	}
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return upload, true
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	if upload, ok := s.lookupUpload(w, r); ok {
		writeJSON(w, http.StatusOK, uploadView(upload))
	}
}

func (s *Server) handleUploadContent(w http.ResponseWriter, r *http.Request) {
	if upload, ok := s.lookupUpload(w, r); ok {
		writeJSON(w, http.StatusOK, map[string]string{"content": upload.Content})
	}
}

type loadResponse struct {
	UploadID int64  `json:"upload_id"`
	Path     string `json:"path"`
	Result   string `json:"result"`
}

// handleLoadUpload 把上传内容写入数据目录并交给引擎加载。
func (s *Server) handleLoadUpload(w http.ResponseWriter, r *http.Request) {
	if s.answerer == nil {
		s.writeError(w, unavailable("engine"))
		return
	}
	upload, ok := s.lookupUpload(w, r)
	if !ok {
		return
	}

	path, err := s.materialize(upload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	args := map[string]any{"path": path}
	if name := strings.TrimSpace(r.URL.Query().Get("name")); name != "" {
		args["name"] = name
	}
	result, err := s.answerer.Call(r.Context(), "load", args)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if strings.HasPrefix(result, "Error loading CSV") {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, loadResponse{UploadID: upload.ID, Path: path, Result: result})
}

func (s *Server) materialize(upload *storage.Upload) (string, error) {
	dir := filepath.Join(s.dataDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "create upload directory")
	}
	name := filepath.Base(upload.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "upload.csv"
	}
	path, err := filepath.Abs(filepath.Join(dir, fmt.Sprintf("%d_%s", upload.ID, name)))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "resolve upload path")
	}
	if err := os.WriteFile(path, []byte(upload.Content), 0o644); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "write upload file")
	}
	return path, nil
}
