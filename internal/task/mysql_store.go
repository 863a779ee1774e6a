package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "github.com/afredojala/agent-demo/internal/errors"
)

// DefaultMySQLTable 是未配置表名时使用的任务表。
const DefaultMySQLTable = "goal_tasks"

const (
	mysqlErrDuplicateColumn = 1060
	mysqlErrDuplicateEntry  = 1062
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// MySQLStore 使用 MySQL 记录任务状态，适用于多实例共享任务。
type MySQLStore struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

var _ Store = (*MySQLStore)(nil)

// NewMySQLStore 连接数据库并确保任务表存在。
func NewMySQLStore(dsn, table string) (*MySQLStore, error) {
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

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	store, err := newMySQLStore(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func newMySQLStore(db *sql.DB, table string) (*MySQLStore, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		table = DefaultMySQLTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的表名 %q", table))
	}
	return &MySQLStore{db: db, table: table, now: time.Now}, nil
}

func (s *MySQLStore) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
        id VARCHAR(64) PRIMARY KEY,
        goal TEXT NOT NULL,
        metadata TEXT,
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_attempts INT NOT NULL DEFAULT 1,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        result TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_%[1]s_status (status),
        INDEX idx_%[1]s_updated (updated_at)
)`, s.table)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化任务表失败")
	}
	// 早期版本的表没有 result 列。
	alter := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN result TEXT AFTER error_code`, s.table)
	if _, err := s.db.ExecContext(ctx, alter); err != nil {
		var mysqlErr *mysql.MySQLError
		if !(stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateColumn) {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扩展任务表 result 列失败")
		}
	}
	return nil
}

const taskColumns = `id, goal, metadata, status, attempts, max_attempts, last_error, error_code, result, created_at, updated_at`

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil || strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	now := s.now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	metadata, err := marshalNullable(task.Metadata, len(task.Metadata) == 0)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务 metadata 失败")
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, '', '', NULL, ?, ?)`, s.table, taskColumns)
	_, err = s.db.ExecContext(ctx, stmt,
		task.ID,
		task.Goal,
		metadata,
		task.Status,
		task.Attempts,
		task.MaxAttempts,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, taskColumns, s.table)
	task, err := scanTask(s.db.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return task, nil
}

// Claim 以条件更新保证同一任务只会被一个工作协程领取。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Task, error) {
	stmt := fmt.Sprintf(`UPDATE %s SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status = ? AND attempts < max_attempts`, s.table)
	res, err := s.db.ExecContext(ctx, stmt, StatusRunning, s.now().Unix(), id, StatusPending)
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
	if affected > 0 {
		return task, nil
	}
	switch {
	case task.Status == StatusSucceeded:
		return task, ErrTaskCompleted
	case task.Status == StatusRunning:
		return task, ErrTaskConflict
	default:
		return task, ErrTaskExhausted
	}
}

// MarkSucceeded 保存运行结果。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error {
	encoded, err := marshalNullable(result, false)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码任务结果失败")
	}
	stmt := fmt.Sprintf(`UPDATE %s SET status = ?, result = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`, s.table)
	return s.update(ctx, id, "标记任务成功失败", stmt, StatusSucceeded, encoded, s.now().Unix())
}

// MarkFailed 记录失败原因。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, retry bool) error {
	stmt := fmt.Sprintf(`UPDATE %s SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`, s.table)
	return s.update(ctx, id, "标记任务失败状态出错", stmt, failureStatus(retry), lastError, string(code), s.now().Unix())
}

// update 执行以 id 结尾的更新语句。MySQL 对未改变的行返回 0，因此需再确认任务是否存在。
func (s *MySQLStore) update(ctx context.Context, id, failure, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, append(args, id)...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, failure)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		_, err := s.Get(ctx, id)
		return err
	}
	return nil
}

// List 返回符合条件的任务。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.normalize()
	query := fmt.Sprintf(`SELECT %s FROM %s`, taskColumns, s.table)
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

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

// Stats 返回符合条件的任务聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	opts.normalize()
	query := fmt.Sprintf(`SELECT
        COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(MIN(updated_at), 0),
        COALESCE(MAX(updated_at), 0)
        FROM %s`, s.table)
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := append([]any{StatusPending, StatusRunning, StatusSucceeded, StatusFailed}, filterArgs...)

	var stats TaskStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	)
	if err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task      Task
		metadata  sql.NullString
		lastError sql.NullString
		errorCode sql.NullString
		result    sql.NullString
	)
	if err := row.Scan(
		&task.ID,
		&task.Goal,
		&metadata,
		&task.Status,
		&task.Attempts,
		&task.MaxAttempts,
		&lastError,
		&errorCode,
		&result,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.LastError = lastError.String
	task.ErrorCode = errorCode.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &task.Metadata); err != nil {
			return nil, fmt.Errorf("解析 metadata 失败: %w", err)
		}
	}
	if result.Valid && result.String != "" {
		task.Result = &ExecutionResult{}
		if err := json.Unmarshal([]byte(result.String), task.Result); err != nil {
			return nil, fmt.Errorf("解析任务结果失败: %w", err)
		}
	}
	return &task, nil
}

func marshalNullable(value any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if len(opts.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opts.Statuses)), ",")
		conditions = append(conditions, "status IN ("+placeholders+")")
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "result IS NOT NULL")
		} else {
			conditions = append(conditions, "result IS NULL")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(goal LIKE ? OR result LIKE ?)")
		args = append(args, pattern, pattern)
	}
	return strings.Join(conditions, " AND "), args
}
