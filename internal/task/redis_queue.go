package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "github.com/afredojala/agent-demo/internal/errors"
	"github.com/afredojala/agent-demo/pkg/logger"
)

// DefaultRedisQueueKey 是未配置前缀时使用的 list 键。
const DefaultRedisQueueKey = "agent:tasks"

// RedisQueueOptions 描述 Redis 队列的连接参数。
type RedisQueueOptions struct {
	Addr      string
	Password  string
	DB        int
	Key       string
	BlockWait time.Duration
	// RetryDelay 是处理失败后重新入队前的等待时间。
	RetryDelay time.Duration
}

// RedisQueue 基于 LPUSH/BRPOP 的 Redis list 队列。
type RedisQueue struct {
	client     redis.UniversalClient
	key        string
	wait       time.Duration
	retryDelay time.Duration
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue 连接 Redis 并校验可用性。
func NewRedisQueue(ctx context.Context, opts RedisQueueOptions) (*RedisQueue, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis 地址不能为空")
	}
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewRedisQueueWithClient(client, opts), nil
}

// NewRedisQueueWithClient 复用已有的 Redis 客户端，opts 中的连接参数被忽略。
func NewRedisQueueWithClient(client redis.UniversalClient, opts RedisQueueOptions) *RedisQueue {
	q := &RedisQueue{client: client, key: opts.Key, wait: opts.BlockWait, retryDelay: opts.RetryDelay}
	if q.key == "" {
		q.key = DefaultRedisQueueKey
	}
	if q.wait <= 0 {
		q.wait = 5 * time.Second
	}
	if q.retryDelay <= 0 {
		q.retryDelay = time.Second
	}
	return q
}

// Publish 将任务 ID 推入 list 头部。
func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.key, taskID).Err(); err != nil {
		return xerrors.Wrap(CodeTaskPublish, err, "Redis 发布任务失败")
	}
	return nil
}

// Consume 通过 BRPOP 拉取任务。处理失败的任务等待 RetryDelay 后放回队尾重新消费，
// 等待期间 ctx 结束也会放回，避免丢失。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	log := logger.Named("task.redis")
	var wg sync.WaitGroup
	for range max(workerCount, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				values, err := q.client.BRPop(ctx, q.wait, q.key).Result()
				switch {
				case stdErrors.Is(err, redis.Nil):
					continue
				case stdErrors.Is(err, redis.ErrClosed), ctx.Err() != nil:
					return
				case err != nil:
					log.Warn("Redis 取任务失败", slog.Any("error", err))
					sleepCtx(ctx, time.Second)
					continue
				}
				if len(values) != 2 {
					continue
				}
				if err := handler(ctx, values[1]); err != nil {
					q.requeue(ctx, values[1], err, log)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *RedisQueue) requeue(ctx context.Context, taskID string, cause error, log *slog.Logger) {
	log.Warn("任务处理失败，稍后重新入队",
		slog.String("task_id", taskID),
		slog.Duration("delay", q.retryDelay),
		slog.Any("error", cause),
	)
	sleepCtx(ctx, q.retryDelay)
	if err := q.client.RPush(context.WithoutCancel(ctx), q.key, taskID).Err(); err != nil {
		log.Error("任务重新入队失败", slog.String("task_id", taskID), slog.Any("error", err))
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
