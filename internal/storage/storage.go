package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	xerrors "SmartBI-Agent/internal/errors"
)

// 上传来源。
const (
	SourceDirectUpload    = "direct_upload"
	SourceImageConversion = "image_conversion"
)

// Upload 表示一份上传或由图片转换得到的 CSV 文本。
type Upload struct {
	ID         int64  `json:"id"`
	Filename   string `json:"filename"`
	Content    string `json:"content"`
	SourceType string `json:"source_type"`
	CreatedAt  int64  `json:"created_at"`
}

// Interaction 记录一次与模型的交互。
type Interaction struct {
	ID               int64  `json:"id"`
	Prompt           string `json:"prompt"`
	Response         string `json:"response"`
	PromptType       string `json:"prompt_type"`
	ImageData        []byte `json:"image_data,omitempty"`
	ImageFilename    string `json:"image_filename,omitempty"`
	ModelUsed        string `json:"model_used,omitempty"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
	CreatedAt        int64  `json:"created_at"`
}

// HasImage 判断交互是否附带图片。
func (i *Interaction) HasImage() bool { return len(i.ImageData) > 0 }

// UploadRepository 抽象上传文件的持久化接口。
type UploadRepository interface {
	CreateUpload(ctx context.Context, upload *Upload) error
	GetUpload(ctx context.Context, id int64) (*Upload, error)
	// ListUploads 按创建顺序返回全部上传。
	ListUploads(ctx context.Context) ([]Upload, error)
}

// InteractionRepository 抽象交互记录的持久化接口。
type InteractionRepository interface {
	CreateInteraction(ctx context.Context, interaction *Interaction) error
	GetInteraction(ctx context.Context, id int64) (*Interaction, error)
	// ListInteractions 返回最近的交互，按时间倒序排列。
	ListInteractions(ctx context.Context, limit int) ([]Interaction, error)
}

// Store 组合两类仓库。
type Store interface {
	UploadRepository
	InteractionRepository
	Close() error
}

// Config 描述存储驱动与连接池配置。
type Config struct {
	Driver          string
	DSN             string
	DataDir         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open 根据驱动创建存储。
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemoryStore(cfg.DataDir)
	case "mysql":
		return NewSQLStore(ctx, DialectMySQL, cfg)
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.DSN) == "" {
			dir := cfg.DataDir
			if dir == "" {
				dir = "."
			}
			cfg.DSN = filepath.Join(dir, "smartbi.db")
		}
		return NewSQLStore(ctx, DialectSQLite, cfg)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unsupported storage driver %q", cfg.Driver))
	}
}

func uploadNotFound(id int64) error {
	return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("upload %d not found", id),
		xerrors.WithMetadata("upload_id", fmt.Sprint(id)))
}

func interactionNotFound(id int64) error {
	return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("interaction %d not found", id),
		xerrors.WithMetadata("interaction_id", fmt.Sprint(id)))
}

// IsNotFound 判断错误是否表示记录不存在。
func IsNotFound(err error) bool {
	return xerrors.CodeOf(err) == xerrors.CodeNotFound
}
