package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore 使用关系型数据库存储上传与交互记录。
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore 创建连接池并执行迁移。
func NewSQLStore(ctx context.Context, dialect Dialect, cfg Config) (*SQLStore, error) {
	db, err := openDatabase(ctx, dialect, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// Dialect 返回当前使用的方言。
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// CreateUpload 写入上传并回填自增 ID。
func (s *SQLStore) CreateUpload(ctx context.Context, upload *Upload) error {
	if upload == nil {
		return fmt.Errorf("upload 不能为空")
	}
	if upload.CreatedAt == 0 {
		upload.CreatedAt = time.Now().Unix()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO uploads (filename, content, source_type, created_at) VALUES (?, ?, ?, ?)`,
		upload.Filename, upload.Content, upload.SourceType, upload.CreatedAt)
	if err != nil {
		return fmt.Errorf("写入上传记录失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("获取上传 ID 失败: %w", err)
	}
	upload.ID = id
	return nil
}

// GetUpload 根据 ID 查询上传。
func (s *SQLStore) GetUpload(ctx context.Context, id int64) (*Upload, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, filename, content, source_type, created_at FROM uploads WHERE id = ?`, id)
	var u Upload
	if err := row.Scan(&u.ID, &u.Filename, &u.Content, &u.SourceType, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, uploadNotFound(id)
		}
		return nil, fmt.Errorf("查询上传记录失败: %w", err)
	}
	return &u, nil
}

// ListUploads 按 ID 升序返回全部上传。
func (s *SQLStore) ListUploads(ctx context.Context) ([]Upload, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, filename, content, source_type, created_at FROM uploads ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("查询上传记录失败: %w", err)
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		var u Upload
		if err := rows.Scan(&u.ID, &u.Filename, &u.Content, &u.SourceType, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析上传记录失败: %w", err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历上传记录失败: %w", err)
	}
	return uploads, nil
}

// CreateInteraction 写入交互并回填自增 ID。
func (s *SQLStore) CreateInteraction(ctx context.Context, interaction *Interaction) error {
	if interaction == nil {
		return fmt.Errorf("interaction 不能为空")
	}
	if interaction.CreatedAt == 0 {
		interaction.CreatedAt = time.Now().Unix()
	}
	var image any
	if len(interaction.ImageData) > 0 {
		image = interaction.ImageData
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO interactions
        (prompt, response, prompt_type, image_data, image_filename, model_used, processing_time_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		interaction.Prompt,
		interaction.Response,
		interaction.PromptType,
		image,
		interaction.ImageFilename,
		interaction.ModelUsed,
		interaction.ProcessingTimeMS,
		interaction.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入交互记录失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("获取交互 ID 失败: %w", err)
	}
	interaction.ID = id
	return nil
}

const interactionColumns = `id, prompt, response, prompt_type, image_data, image_filename, model_used, processing_time_ms, created_at`

// GetInteraction 根据 ID 查询交互。
func (s *SQLStore) GetInteraction(ctx context.Context, id int64) (*Interaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id)
	rec, err := scanInteraction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interactionNotFound(id)
		}
		return nil, fmt.Errorf("查询交互记录失败: %w", err)
	}
	return rec, nil
}

// ListInteractions 查询最近的若干条交互。
func (s *SQLStore) ListInteractions(ctx context.Context, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+interactionColumns+` FROM interactions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询交互记录失败: %w", err)
	}
	defer rows.Close()

	var records []Interaction
	for rows.Next() {
		rec, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("解析交互记录失败: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历交互记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row scanner) (*Interaction, error) {
	var rec Interaction
	if err := row.Scan(
		&rec.ID,
		&rec.Prompt,
		&rec.Response,
		&rec.PromptType,
		&rec.ImageData,
		&rec.ImageFilename,
		&rec.ModelUsed,
		&rec.ProcessingTimeMS,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DB 暴露底层连接池，供同库的其他仓库复用。
func (s *SQLStore) DB() *sql.DB { return s.db }
