package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	uploadsLog      = "uploads.log"
	interactionsLog = "interactions.log"
)

// MemoryStore 使用本地 JSON 行文件模拟数据库，方便迭代开发。
type MemoryStore struct {
	mu           sync.RWMutex
	dataDir      string
	uploads      []Upload
	interactions []Interaction
	nextUpload   int64
	nextInteract int64
}

// NewMemoryStore 创建内存存储并从数据目录恢复历史记录。
func NewMemoryStore(dataDir string) (*MemoryStore, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	m := &MemoryStore{dataDir: dataDir, nextUpload: 1, nextInteract: 1}
	if err := restore(filepath.Join(dataDir, uploadsLog), func(u Upload) {
		m.uploads = append(m.uploads, u)
		if u.ID >= m.nextUpload {
			m.nextUpload = u.ID + 1
		}
	}); err != nil {
		return nil, err
	}
	if err := restore(filepath.Join(dataDir, interactionsLog), func(i Interaction) {
		m.interactions = append(m.interactions, i)
		if i.ID >= m.nextInteract {
			m.nextInteract = i.ID + 1
		}
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// CreateUpload 以追加写的方式记录上传。
func (m *MemoryStore) CreateUpload(_ context.Context, upload *Upload) error {
	if upload == nil {
		return fmt.Errorf("upload 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	record := *upload
	record.ID = m.nextUpload
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	if err := m.appendLine(uploadsLog, record); err != nil {
		return err
	}
	m.nextUpload++
	m.uploads = append(m.uploads, record)
	*upload = record
	return nil
}

// GetUpload 根据 ID 查询上传。
func (m *MemoryStore) GetUpload(_ context.Context, id int64) (*Upload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.uploads {
		if m.uploads[i].ID == id {
			u := m.uploads[i]
			return &u, nil
		}
	}
	return nil, uploadNotFound(id)
}

// ListUploads 返回全部上传。
func (m *MemoryStore) ListUploads(_ context.Context) ([]Upload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]Upload, len(m.uploads))
	copy(results, m.uploads)
	return results, nil
}

// CreateInteraction 以追加写的方式记录交互。
func (m *MemoryStore) CreateInteraction(_ context.Context, interaction *Interaction) error {
	if interaction == nil {
		return fmt.Errorf("interaction 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	record := *interaction
	record.ID = m.nextInteract
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	if err := m.appendLine(interactionsLog, record); err != nil {
		return err
	}
	m.nextInteract++
	m.interactions = append(m.interactions, record)
	*interaction = record
	return nil
}

// GetInteraction 根据 ID 查询交互。
func (m *MemoryStore) GetInteraction(_ context.Context, id int64) (*Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.interactions {
		if m.interactions[i].ID == id {
			rec := m.interactions[i]
			return &rec, nil
		}
	}
	return nil, interactionNotFound(id)
}

// ListInteractions 返回最近的交互，按时间倒序排列。
func (m *MemoryStore) ListInteractions(_ context.Context, limit int) ([]Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := len(m.interactions)
	if limit <= 0 || limit > total {
		limit = total
	}
	results := make([]Interaction, 0, limit)
	for i := total - 1; i >= 0 && len(results) < limit; i-- {
		results = append(results, m.interactions[i])
	}
	return results, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) appendLine(name string, record any) error {
	file, err := os.OpenFile(filepath.Join(m.dataDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入日志文件失败: %w", err)
	}
	return nil
}

func restore[T any](path string, apply func(T)) error {
	file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取日志文件失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	// 上传内容可能较大。
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		var record T
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		apply(record)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析日志文件失败: %w", err)
	}
	return nil
}
