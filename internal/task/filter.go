package task

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// SortOrder 决定任务列表的排序方式。
type SortOrder int

const (
	// SortByUpdatedDesc 按更新时间倒序，默认值。
	SortByUpdatedDesc SortOrder = iota
	SortByUpdatedAsc
)

// compare 按 updated_at、created_at 排序，同一时刻的任务按 ID 升序，
// 与 SQL 存储的 ORDER BY 一致。
func (o SortOrder) compare(a, b *Task) int {
	c := cmp.Or(cmp.Compare(a.UpdatedAt, b.UpdatedAt), cmp.Compare(a.CreatedAt, b.CreatedAt))
	if o != SortByUpdatedAsc {
		c = -c
	}
	return cmp.Or(c, cmp.Compare(a.ID, b.ID))
}

// ListOptions 描述查询任务列表与统计时的过滤条件。
//
// Query 对提问、回答正文、工具输出、模型名与失败原因做不区分大小写的子串匹配，
// 用于在历史查询中找回"哪次分析算过这个指标"。
type ListOptions struct {
	Limit        int
	Offset       int
	Statuses     []Status
	Priorities   []Priority
	Model        string
	UpdatedGTE   int64
	UpdatedLTE   int64
	HasAnswer    *bool
	MinToolCalls int
	Order        SortOrder
	Query        string
}

func (opts *ListOptions) applyDefaults() {
	opts.Limit = min(max(opts.Limit, 0), 100)
	if opts.Limit == 0 {
		opts.Limit = 20
	}
	opts.Offset = max(opts.Offset, 0)
	opts.MinToolCalls = max(opts.MinToolCalls, 0)
	if opts.Statuses != nil {
		opts.Statuses = dedupe(opts.Statuses, IsValidStatus)
	}
	if opts.Priorities != nil {
		opts.Priorities = dedupe(opts.Priorities, func(p Priority) bool {
			return p == PriorityInteractive || p == PriorityBatch
		})
	}
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.Model = strings.TrimSpace(opts.Model)
	opts.Query = strings.TrimSpace(opts.Query)
}

// matches 是内存存储使用的过滤实现，SQL 存储在 buildFilterClause 中表达相同条件。
func (opts *ListOptions) matches(task *Task) bool {
	if len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, task.Status) {
		return false
	}
	if len(opts.Priorities) > 0 && !slices.Contains(opts.Priorities, task.Priority) {
		return false
	}
	if opts.UpdatedGTE > 0 && task.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && task.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasAnswer != nil && !task.Result.empty() != *opts.HasAnswer {
		return false
	}
	if opts.Model != "" && (task.Result == nil || task.Result.Model != opts.Model) {
		return false
	}
	if opts.MinToolCalls > 0 && task.Result.toolCalls() < opts.MinToolCalls {
		return false
	}
	if opts.Query == "" {
		return true
	}
	needle := strings.ToLower(opts.Query)
	for _, field := range []string{task.ID, task.Query, task.LastError, task.Result.model(), task.Result.searchText()} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func dedupe[T comparable](input []T, valid func(T) bool) []T {
	var out []T
	for _, v := range input {
		if valid(v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回数量，超过 100 按 100 处理。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 只保留给定状态的任务，未知状态被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) { opts.Statuses = append(opts.Statuses[:0], statuses...) }
}

// WithPriorities 只保留给定车道的任务。
func WithPriorities(priorities ...Priority) ListOption {
	return func(opts *ListOptions) { opts.Priorities = append(opts.Priorities[:0], priorities...) }
}

// WithModel 只保留由指定模型回答的任务。
func WithModel(model string) ListOption {
	return func(opts *ListOptions) { opts.Model = model }
}

// WithUpdatedSince 只保留在 ts 之后（含）更新的任务，零值表示不限。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedGTE = unixOrZero(ts) }
}

func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedLTE = unixOrZero(ts) }
}

// WithAnswerPresence 按是否已有回答过滤。降级结果也算作回答。
func WithAnswerPresence(has bool) ListOption {
	return func(opts *ListOptions) { opts.HasAnswer = &has }
}

// WithMinToolCalls 只保留回答过程中至少调用了 n 次工具的任务。
func WithMinToolCalls(n int) ListOption {
	return func(opts *ListOptions) { opts.MinToolCalls = n }
}

func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// WithQuery 在提问、回答、工具输出、模型与失败原因中搜索子串。
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) { opts.Query = query }
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

// TaskStats 汇总一组查询任务，供仪表盘展示排队情况与回答开销。
type TaskStats struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Running     int `json:"running"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Interactive int `json:"interactive"`
	Batch       int `json:"batch"`
	// ToolCalls 是已完成回答中工具调用的总次数。
	ToolCalls int `json:"tool_calls"`
	// AvgElapsedMS 只统计成功的任务。
	AvgElapsedMS    int64 `json:"avg_elapsed_ms"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// statsAccumulator 逐个累加任务，最后求平均耗时。
type statsAccumulator struct {
	stats     TaskStats
	elapsed   int64
	succeeded int64
}

func (a *statsAccumulator) add(task *Task) {
	s := &a.stats
	s.Total++
	switch task.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
		if task.Result != nil {
			a.elapsed += task.Result.ElapsedMS
			a.succeeded++
		}
	case StatusFailed:
		s.Failed++
	}
	if task.Priority == PriorityBatch {
		s.Batch++
	} else {
		s.Interactive++
	}
	s.ToolCalls += task.Result.toolCalls()
	if task.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = task.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (task.UpdatedAt != 0 && task.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = task.UpdatedAt
	}
}

func (a *statsAccumulator) result() TaskStats {
	if a.succeeded > 0 {
		a.stats.AvgElapsedMS = a.elapsed / a.succeeded
	}
	return a.stats
}
