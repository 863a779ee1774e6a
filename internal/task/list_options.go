package task

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// SortOrder 控制任务列表的排序方式。
type SortOrder int

const (
	// SortByUpdatedDesc 按更新时间倒序，最新的任务在前。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 按更新时间正序。
	SortByUpdatedAsc
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ListOptions 描述查询任务时的过滤与分页条件。
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	UpdatedGTE int64
	UpdatedLTE int64
	HasResult  *bool
	Order      SortOrder
	// Query 对目标与回复做不区分大小写的子串匹配。
	Query string
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回数量，超出上限时截断为 100。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset 跳过前 n 条匹配的任务。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 按状态过滤，未知状态会被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) { opts.Statuses = append([]Status(nil), statuses...) }
}

// WithUpdatedSince 只保留在 ts 之后（含）更新的任务。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedGTE = unixOrZero(ts) }
}

// WithUpdatedUntil 只保留在 ts 之前（含）更新的任务。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedLTE = unixOrZero(ts) }
}

// WithResultPresence 按是否已有执行结果过滤。
func WithResultPresence(hasResult bool) ListOption {
	return func(opts *ListOptions) { opts.HasResult = &hasResult }
}

// WithSortOrder 修改排序方式。
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// WithQuery 设置模糊匹配关键字。
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
	var options ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.normalize()
	return options
}

func (opts *ListOptions) normalize() {
	switch {
	case opts.Limit <= 0:
		opts.Limit = defaultListLimit
	case opts.Limit > maxListLimit:
		opts.Limit = maxListLimit
	}
	opts.Offset = max(opts.Offset, 0)
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.Query = strings.TrimSpace(opts.Query)

	var statuses []Status
	for _, status := range opts.Statuses {
		if IsValidStatus(status) && !slices.Contains(statuses, status) {
			statuses = append(statuses, status)
		}
	}
	opts.Statuses = statuses
}

// matches 在内存中应用与 SQL 过滤等价的条件。
func (opts ListOptions) matches(task *Task) bool {
	if len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, task.Status) {
		return false
	}
	if opts.UpdatedGTE > 0 && task.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && task.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasResult != nil && (task.Result != nil) != *opts.HasResult {
		return false
	}
	if opts.Query != "" {
		q := strings.ToLower(opts.Query)
		inGoal := strings.Contains(strings.ToLower(task.Goal), q)
		inReply := task.Result != nil && strings.Contains(strings.ToLower(task.Result.Reply), q)
		if !inGoal && !inReply {
			return false
		}
	}
	return true
}

// compare 给出与 SQL ORDER BY updated_at, created_at, id 一致的顺序。
func (opts ListOptions) compare(a, b *Task) int {
	c := cmp.Or(
		cmp.Compare(a.UpdatedAt, b.UpdatedAt),
		cmp.Compare(a.CreatedAt, b.CreatedAt),
		strings.Compare(a.ID, b.ID),
	)
	if opts.Order == SortByUpdatedDesc {
		return -c
	}
	return c
}
