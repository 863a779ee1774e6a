package task

import (
	"context"

	xerrors "github.com/afredojala/agent-demo/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Claim 把 pending 任务标记为 running 并增加执行次数。
	Claim(ctx context.Context, id string) (*Task, error)
	MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error
	// MarkFailed 记录失败原因。retry 为 true 时任务回到 pending 等待重新领取。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, retry bool) error
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}
