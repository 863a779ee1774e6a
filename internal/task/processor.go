package task

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"github.com/afredojala/agent-demo/internal/agent"
	xerrors "github.com/afredojala/agent-demo/internal/errors"
	"github.com/afredojala/agent-demo/internal/observability/metrics"
	"github.com/afredojala/agent-demo/pkg/logger"
)

// Processor 从队列消费任务并交给编排器执行。
type Processor struct {
	runner      agent.Runner
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	log         *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// NewProcessor 构造 Processor。producer 用于重新投递可重试的任务，可与 consumer 为同一个队列。
func NewProcessor(runner agent.Runner, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		runner:      runner,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		log:         logger.Named("task"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 阻塞消费任务直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 执行单个任务。任务已完成、正在运行或次数耗尽时直接跳过。
func (p *Processor) Handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.runner == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) ||
			stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.log.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.log.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		return err
	}

	res, runErr := p.runner.Run(ctx, task.Goal)
	switch {
	case runErr != nil:
		return p.fail(ctx, task, runErr)
	case res.Outcome == agent.OutcomeTransportErr:
		// 补全接口不可用属于瞬时故障，剩余次数内重新排队。
		return p.fail(ctx, task, xerrors.New(xerrors.CodeCompletionTransport, res.Reply, xerrors.WithRetryable(true)))
	}

	record := ExecutionResult{
		Reply:      res.Reply,
		ViewChange: res.ViewChange,
		Iterations: res.Iterations,
		ToolCalls:  res.ToolCalls,
		Outcome:    res.Outcome,
	}
	if err := p.store.MarkSucceeded(ctx, task.ID, record); err != nil {
		p.log.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	metrics.ObserveGoalTask(string(StatusSucceeded))
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("outcome", record.Outcome),
		slog.Int("iterations", record.Iterations),
		slog.Int("attempts", task.Attempts),
	)
	return nil
}

func (p *Processor) fail(ctx context.Context, task *Task, cause error) error {
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retry := xerrors.RetryableError(cause) && task.Attempts < task.MaxAttempts && p.producer != nil

	if err := p.store.MarkFailed(ctx, task.ID, code, xerrors.PublicMessage(cause), retry); err != nil {
		p.log.Error("标记任务失败状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	if !retry {
		metrics.ObserveGoalTask(string(StatusFailed))
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("error_code", string(code)),
		slog.String("error", cause.Error()),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_attempts", task.MaxAttempts),
		slog.Bool("retry", retry),
	)
	if !retry {
		return nil
	}
	if err := p.producer.Publish(ctx, task.ID); err != nil {
		_ = p.store.MarkFailed(ctx, task.ID, CodeTaskPublish, err.Error(), false)
		return xerrors.Wrap(CodeTaskPublish, err, "任务重投失败")
	}
	p.log.Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	return nil
}
