package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	xerrors "SmartBI-Agent/internal/errors"
	"SmartBI-Agent/internal/orchestrator"
)

// 支持的 SQL 方言。
const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite"
)

var schemas = map[string][]string{
	DialectMySQL: {`CREATE TABLE IF NOT EXISTS query_tasks (
        id VARCHAR(64) PRIMARY KEY,
        query_text TEXT NOT NULL,
        history MEDIUMTEXT,
        metadata TEXT,
        priority VARCHAR(16) NOT NULL DEFAULT 'interactive',
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 3,
        last_error TEXT NOT NULL,
        error_code VARCHAR(64) NOT NULL DEFAULT '',
        result MEDIUMTEXT,
        answer_text MEDIUMTEXT,
        model VARCHAR(128) NOT NULL DEFAULT '',
        tool_calls INT NOT NULL DEFAULT 0,
        elapsed_ms BIGINT NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_query_task_status (status),
        INDEX idx_query_task_priority (priority),
        INDEX idx_query_task_updated (updated_at)
)`},
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS query_tasks (
        id TEXT PRIMARY KEY,
        query_text TEXT NOT NULL,
        history TEXT,
        metadata TEXT,
        priority TEXT NOT NULL DEFAULT 'interactive',
        status TEXT NOT NULL,
        attempts INTEGER NOT NULL DEFAULT 0,
        max_retries INTEGER NOT NULL DEFAULT 3,
        last_error TEXT NOT NULL DEFAULT '',
        error_code TEXT NOT NULL DEFAULT '',
        result TEXT,
        answer_text TEXT,
        model TEXT NOT NULL DEFAULT '',
        tool_calls INTEGER NOT NULL DEFAULT 0,
        elapsed_ms INTEGER NOT NULL DEFAULT 0,
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_query_task_status ON query_tasks (status)`,
		`CREATE INDEX IF NOT EXISTS idx_query_task_updated ON query_tasks (updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_query_task_priority ON query_tasks (priority)`,
	},
}

// answer_text、model、tool_calls 与 elapsed_ms 由 result 派生，只用于过滤与统计。
const taskColumns = `id, query_text, history, metadata, priority, status, attempts, max_retries, last_error, error_code, result, created_at, updated_at`

// SQLStore 使用关系型数据库记录任务状态。
type SQLStore struct {
	db      *sql.DB
	dialect string
	owned   bool
}

// NewMySQLStore 根据 DSN 创建独立连接池的 MySQL 任务存储。
func NewMySQLStore(dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store, err := NewSQLStore(ctx, db, DialectMySQL)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// NewSQLStore 在已有连接池上创建任务存储，连接池由调用方负责关闭。
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	statements, ok := schemas[dialect]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的 SQL 方言 %q", dialect))
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 query_tasks 表失败")
		}
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// Create 插入新的任务记录。
func (s *SQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	if task.Priority == "" {
		task.Priority = PriorityInteractive
	}
	now := time.Now().Unix()
	task.CreatedAt = now
	task.UpdatedAt = now

	history, err := marshalJSON(task.History, len(task.History) == 0)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务 history 失败")
	}
	metadata, err := marshalJSON(task.Metadata, len(task.Metadata) == 0)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务 metadata 失败")
	}

	const stmt = `INSERT INTO query_tasks
        (id, query_text, history, metadata, priority, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		task.ID,
		task.Query,
		history,
		metadata,
		string(task.Priority),
		string(task.Status),
		task.Attempts,
		task.MaxRetries,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *SQLStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM query_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return task, nil
}

// Claim 将任务标记为运行中并返回最新状态。
func (s *SQLStore) Claim(ctx context.Context, id string) (*Task, error) {
	const updateStmt = `UPDATE query_tasks SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, updateStmt,
		string(StatusRunning),
		time.Now().Unix(),
		id,
		string(StatusPending),
		string(StatusFailed),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		switch {
		case task.Status == StatusSucceeded:
			return task, ErrTaskCompleted
		case task.Status == StatusRunning:
			return task, ErrTaskConflict
		case task.Attempts >= task.MaxRetries:
			return task, ErrTaskExhausted
		default:
			return task, ErrTaskConflict
		}
	}
	return task, nil
}

// MarkSucceeded 将任务标记为成功。
func (s *SQLStore) MarkSucceeded(ctx context.Context, id string, result Result) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务结果失败")
	}
	const stmt = `UPDATE query_tasks SET status = ?, result = ?, answer_text = ?, model = ?, tool_calls = ?, elapsed_ms = ?,
        updated_at = ?, last_error = '', error_code = '' WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusSucceeded),
		string(encoded),
		result.searchText(),
		result.Model,
		len(result.ToolResults),
		result.ElapsedMS,
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// MarkFailed 将任务标记为失败，terminal 为真时不再允许重试。
func (s *SQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	stmt := `UPDATE query_tasks SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`
	if terminal {
		stmt = `UPDATE query_tasks SET status = ?, last_error = ?, error_code = ?, updated_at = ?,
        attempts = CASE WHEN attempts < max_retries THEN max_retries ELSE attempts END WHERE id = ?`
	}
	res, err := s.db.ExecContext(ctx, stmt, string(StatusFailed), lastError, string(code), time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// List 返回符合过滤条件的任务。
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()

	query := `SELECT ` + taskColumns + ` FROM query_tasks`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id ASC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	tasks := make([]*Task, 0, opts.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return tasks, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *SQLStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN priority = ? THEN 1 ELSE 0 END), 0) AS batch,
        COALESCE(SUM(tool_calls), 0) AS tool_calls,
        COALESCE(AVG(CASE WHEN status = ? AND result IS NOT NULL THEN elapsed_ms END), 0) AS avg_elapsed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM query_tasks`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{
		string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed),
		string(PriorityBatch), string(StatusSucceeded),
	}
	args = append(args, filterArgs...)

	var (
		stats      TaskStats
		avgElapsed float64
	)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.Batch,
		&stats.ToolCalls,
		&avgElapsed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	stats.Interactive = stats.Total - stats.Batch
	stats.AvgElapsedMS = int64(avgElapsed)
	return stats, nil
}

// Close 关闭自行创建的数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil || !s.owned {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task     Task
		priority string
		status   string
		history  sql.NullString
		metadata sql.NullString
		result   sql.NullString
	)
	if err := row.Scan(
		&task.ID,
		&task.Query,
		&history,
		&metadata,
		&priority,
		&status,
		&task.Attempts,
		&task.MaxRetries,
		&task.LastError,
		&task.ErrorCode,
		&result,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Status = Status(status)
	task.Priority = Priority(priority)
	if history.Valid && history.String != "" {
		var decoded []orchestrator.Message
		if err := json.Unmarshal([]byte(history.String), &decoded); err != nil {
			return nil, fmt.Errorf("解析任务 history 失败: %w", err)
		}
		task.History = decoded
	}
	if metadata.Valid && metadata.String != "" {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(metadata.String), &decoded); err != nil {
			return nil, fmt.Errorf("解析任务 metadata 失败: %w", err)
		}
		task.Metadata = decoded
	}
	if result.Valid && result.String != "" {
		var decoded Result
		if err := json.Unmarshal([]byte(result.String), &decoded); err != nil {
			return nil, fmt.Errorf("解析任务结果失败: %w", err)
		}
		task.Result = &decoded
	}
	return &task, nil
}

func marshalJSON(value any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var sqliteErr *sqlite.Error
	if stdErrors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// buildFilterClause 与 ListOptions.matches 表达相同的过滤语义。
func buildFilterClause(opts ListOptions) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	in := func(column string, values []string) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		conditions = append(conditions, fmt.Sprintf("%s IN (%s)", column, placeholders))
		for _, v := range values {
			args = append(args, v)
		}
	}

	if len(opts.Statuses) > 0 {
		values := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			values[i] = string(status)
		}
		in("status", values)
	}
	if len(opts.Priorities) > 0 {
		values := make([]string, len(opts.Priorities))
		for i, p := range opts.Priorities {
			values[i] = string(p)
		}
		in("priority", values)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasAnswer != nil {
		if *opts.HasAnswer {
			conditions = append(conditions, "(answer_text IS NOT NULL AND answer_text <> '')")
		} else {
			conditions = append(conditions, "(answer_text IS NULL OR answer_text = '')")
		}
	}
	if opts.Model != "" {
		conditions = append(conditions, "model = ?")
		args = append(args, opts.Model)
	}
	if opts.MinToolCalls > 0 {
		conditions = append(conditions, "tool_calls >= ?")
		args = append(args, opts.MinToolCalls)
	}
	if opts.Query != "" {
		pattern := "%" + strings.ToLower(opts.Query) + "%"
		conditions = append(conditions, "(LOWER(id) LIKE ? OR LOWER(query_text) LIKE ? OR LOWER(last_error) LIKE ? OR LOWER(model) LIKE ? OR LOWER(answer_text) LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern, pattern)
	}

	return strings.Join(conditions, " AND "), args
}

var _ Store = (*SQLStore)(nil)
