package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Entry 描述一个已注册的数据集。
type Entry struct {
	Name     string
	Path     string
	Frame    dataframe.DataFrame
	LoadedAt time.Time
}

// Rows 返回行数。
func (e Entry) Rows() int { return e.Frame.Nrow() }

// Cols 返回列数。
func (e Entry) Cols() int { return e.Frame.Ncol() }

// Registry 保存名称到数据集的映射，并记录首次注册的顺序。
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Entry
	counter int
	now     func() time.Time
}

// NewRegistry 创建空的数据集注册表。
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// NextName 分配下一个自动名称 df_N。序号只增不减，即便后续加载失败也不会回收；
// 已被显式占用的名称会被跳过。
func (r *Registry) NextName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		r.counter++
		name := fmt.Sprintf("df_%d", r.counter)
		if _, taken := r.entries[name]; !taken {
			return name
		}
	}
}

// Load 读取 CSV 文件并以 name 注册；name 为空时自动分配名称。
// 返回最终使用的名称，加载失败时名称依然有效以便上层报告。
func (r *Registry) Load(path, name string) (Entry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = r.NextName()
	}

	df, err := ReadFile(path)
	if err != nil {
		return Entry{Name: name, Path: path}, err
	}

	entry := Entry{Name: name, Path: path, Frame: df, LoadedAt: r.now()}
	r.Put(entry)
	return entry, nil
}

// Put 注册或覆盖数据集。覆盖时保留原有的排列位置。
func (r *Registry) Put(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.Name]; !exists {
		r.order = append(r.order, entry.Name)
	}
	if entry.LoadedAt.IsZero() {
		entry.LoadedAt = r.now()
	}
	r.entries[entry.Name] = entry
}

// Get 查找数据集，不存在时返回 NotFound 错误，错误信息列出当前全部名称。
func (r *Registry) Get(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return Entry{}, newNotFoundError(name, append([]string(nil), r.order...))
	}
	return entry, nil
}

// Names 按注册顺序返回全部名称。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Entries 按注册顺序返回全部数据集的快照。
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// Len 返回已注册数据集数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ReadFile 从磁盘读取 CSV。
func ReadFile(path string) (dataframe.DataFrame, error) {
	if strings.TrimSpace(path) == "" {
		return dataframe.DataFrame{}, newLoadError(path, fmt.Errorf("empty file path"))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return dataframe.DataFrame{}, newLoadError(path, err)
	}
	return parse(path, bytes.NewReader(raw))
}

// ReadCSV 从任意 reader 解析 CSV，主要供上传校验使用。
func ReadCSV(r io.Reader) (dataframe.DataFrame, error) {
	return parse("", r)
}

func parse(path string, r io.Reader) (dataframe.DataFrame, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return dataframe.DataFrame{}, newLoadError(path, err)
	}
	df := dataframe.ReadCSV(bytes.NewReader(raw),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(true),
		dataframe.NaNValues(nanValues),
		dataframe.WithLazyQuotes(true),
	)
	if df.Err != nil {
		if header, ok := headerOnly(raw); ok {
			return emptyFrame(path, header)
		}
		return dataframe.DataFrame{}, newLoadError(path, df.Err)
	}
	return df, nil
}

// headerOnly 判断输入是否只有表头行。
func headerOnly(raw []byte) ([]string, bool) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil || len(records) != 1 || len(records[0]) == 0 {
		return nil, false
	}
	return records[0], true
}

// emptyFrame 构造 0 行的数据集，列类型为 object。
func emptyFrame(path string, header []string) (dataframe.DataFrame, error) {
	columns := make([]series.Series, len(header))
	for i, name := range header {
		columns[i] = series.New([]string{}, series.String, strings.TrimSpace(name))
	}
	df := dataframe.New(columns...)
	if df.Err != nil {
		return dataframe.DataFrame{}, newLoadError(path, df.Err)
	}
	return df, nil
}

// 与常见表格工具保持一致的缺失值写法。
var nanValues = []string{"", "NA", "N/A", "NaN", "nan", "null", "NULL", "None", "<nil>"}
