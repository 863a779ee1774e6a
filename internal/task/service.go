package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/afredojala/agent-demo/internal/errors"
	"github.com/afredojala/agent-demo/pkg/logger"
)

// SubmitRequest 描述一次异步目标提交。
type SubmitRequest struct {
	// ID 可选，重复提交相同 ID 时返回已有任务。
	ID       string         `json:"id,omitempty"`
	Goal     string         `json:"goal"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Service 负责任务的创建与查询。
type Service struct {
	store       Store
	producer    Producer
	maxAttempts int
}

// NewService 构造任务服务，maxAttempts 不大于 0 时每个任务只执行一次。
func NewService(store Store, producer Producer, maxAttempts int) *Service {
	return &Service{store: store, producer: producer, maxAttempts: max(maxAttempts, 1)}
}

// Submit 保存任务并投递到队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Task, error) {
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return nil, xerrors.New(CodeTaskValidation, "任务目标不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	taskID := strings.TrimSpace(req.ID)
	if taskID == "" {
		taskID = uuid.NewString()
	} else if existing, err := s.store.Get(ctx, taskID); err == nil {
		return existing, nil
	} else if !stdErrors.Is(err, ErrTaskNotFound) {
		return nil, err
	}

	task := &Task{
		ID:          taskID,
		Goal:        goal,
		Metadata:    maps.Clone(req.Metadata),
		Status:      StatusPending,
		MaxAttempts: s.maxAttempts,
	}
	if err := s.store.Create(ctx, task); err != nil {
		if stdErrors.Is(err, ErrTaskConflict) {
			return s.store.Get(ctx, taskID)
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, taskID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("task_id", taskID))
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, taskID, CodeTaskPublish, wrapped.Error(), false)
		return nil, wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("task_id", taskID),
		slog.String("goal", goal),
		slog.Int("max_attempts", task.MaxAttempts),
	)
	return task, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// WaitUntilCompleted 轮询任务直到进入终态或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.IsTerminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放存储与队列资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}
