package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	xerrors "SmartBI-Agent/internal/errors"
	"SmartBI-Agent/internal/llm"
	"SmartBI-Agent/internal/observability/metrics"
	"SmartBI-Agent/internal/orchestrator"
	"SmartBI-Agent/internal/storage"
	"SmartBI-Agent/internal/task"
	"SmartBI-Agent/pkg/logger"
)

// 上传相关的错误码。
const (
	CodeUploadInvalid    xerrors.Code = "UPLOAD_INVALID"
	CodeUploadNotFound   xerrors.Code = "UPLOAD_NOT_FOUND"
	CodeUploadExtraction xerrors.Code = "UPLOAD_EXTRACTION_FAILED"
)

func init() {
	xerrors.Register(CodeUploadInvalid, xerrors.Attributes{
		Message:  "invalid upload",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeUploadNotFound, xerrors.Attributes{
		Message:  "CSV data not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeUploadExtraction, xerrors.Attributes{
		Message:  "Failed to extract CSV data from the image",
		Severity: xerrors.SeverityWarning,
	})
}

// maxUploadBytes 限制单次表单上传的大小。
const maxUploadBytes = 32 << 20

// Answerer 是 API 需要的编排能力。
type Answerer interface {
	Answer(ctx context.Context, query string, history []orchestrator.Message) (*orchestrator.Answer, error)
	Call(ctx context.Context, name string, args map[string]any) (string, error)
}

// PromptRunner 处理不经过工具的直接提示。
type PromptRunner interface {
	Text(ctx context.Context, prompt, model string) llm.PromptResult
	Multimodal(ctx context.Context, prompt string, image []byte, filename, model string) llm.PromptResult
}

// Extractor 把表格图片转换为 CSV 文本。
type Extractor interface {
	Extract(ctx context.Context, image []byte) string
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr      string
	store     storage.Store
	answerer  Answerer
	prompter  PromptRunner
	extractor Extractor
	tasks     *task.Service
	metrics   *metrics.Registry
	dataDir   string
	logger    *slog.Logger
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithStore 注册上传与交互仓库。
func WithStore(store storage.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithAnswerer 注册编排器。
func WithAnswerer(a Answerer) Option {
	return func(s *Server) { s.answerer = a }
}

// WithPrompter 注册直接提示处理器。
func WithPrompter(p PromptRunner) Option {
	return func(s *Server) { s.prompter = p }
}

// WithExtractor 注册图片转 CSV 的提取器。
func WithExtractor(e Extractor) Option {
	return func(s *Server) { s.extractor = e }
}

// WithTaskService 注册异步查询服务。
func WithTaskService(svc *task.Service) Option {
	return func(s *Server) { s.tasks = svc }
}

// WithMetrics 指定指标注册表。
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Server) { s.metrics = reg }
}

// WithDataDir 指定上传文件落盘的目录，引擎从这里加载。
func WithDataDir(dir string) Option {
	return func(s *Server) { s.dataDir = dir }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{addr: addr, dataDir: "data"}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.metrics == nil {
		s.metrics = metrics.Default()
	}
	s.logger = logger.Named("api")
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("api server listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /{$}", "welcome", s.handleWelcome)
	s.route(mux, "GET /api/health", "health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	s.route(mux, "POST /api/v1/uploads/csv", "upload_csv", s.handleUploadCSV)
	s.route(mux, "POST /api/v1/uploads/image", "upload_image", s.handleUploadImage)
	s.route(mux, "GET /api/v1/uploads", "list_uploads", s.handleListUploads)
	s.route(mux, "GET /api/v1/uploads/{id}", "get_upload", s.handleGetUpload)
	s.route(mux, "GET /api/v1/uploads/{id}/content", "upload_content", s.handleUploadContent)
	s.route(mux, "POST /api/v1/uploads/{id}/load", "load_upload", s.handleLoadUpload)

	s.route(mux, "POST /api/v1/chat", "chat", s.handleChat)
	s.route(mux, "POST /api/v1/queries", "submit_query", s.handleSubmitQuery)
	s.route(mux, "GET /api/v1/queries", "list_queries", s.handleListQueries)
	s.route(mux, "GET /api/v1/queries/{id}", "get_query", s.handleGetQuery)
	s.route(mux, "POST /api/v1/prompt", "prompt_text", s.handlePromptText)
	s.route(mux, "POST /api/v1/prompt/image", "prompt_image", s.handlePromptImage)
	s.route(mux, "POST /api/v1/prompt/image-only", "prompt_image_only", s.handlePromptImageOnly)

	s.route(mux, "GET /api/v1/interactions", "list_interactions", s.handleListInteractions)
	s.route(mux, "GET /api/v1/interactions/{id}", "get_interaction", s.handleGetInteraction)
	s.route(mux, "GET /api/v1/interactions/{id}/image", "interaction_image", s.handleInteractionImage)
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, fn http.HandlerFunc) {
	mux.Handle(pattern, s.metrics.Middleware(name, fn))
}

func (s *Server) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the API! The server is running."})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type errorResponse struct {
	Detail string       `json:"detail"`
	Code   xerrors.Code `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeDetail 输出带固定文案的错误。
func writeDetail(w http.ResponseWriter, status int, code xerrors.Code, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail, Code: code})
}

// writeError 按错误码映射 HTTP 状态。
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", xerrors.LogArgs(err)...)
	}
	writeDetail(w, status, code, xerrors.Text(err))
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeNotFound, xerrors.CodeDatasetNotFound, CodeUploadNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation, CodeUploadInvalid, CodeUploadExtraction:
		return http.StatusBadRequest
	case xerrors.CodeConflict, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	}
	// 其余错误按所属阶段归类：模型与引擎故障属于上游。
	switch xerrors.AttributesOf(code).Stage {
	case xerrors.StageInput:
		return http.StatusBadRequest
	case xerrors.StageModel, xerrors.StageEngine:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

func unavailable(what string) error {
	return xerrors.New(xerrors.CodeInitializationFailure, what+" is not configured")
}
