package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/afredojala/agent-demo/internal/config"
)

// Handler 处理从队列取出的任务 ID。返回错误表示该次投递未被处理。
type Handler func(ctx context.Context, taskID string) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 负责从队列中消费任务，阻塞直到 ctx 结束。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// OpenQueue 根据配置选择队列实现。
func OpenQueue(ctx context.Context, cfg config.TaskQueueConfig) (Queue, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return NewRedisQueue(ctx, RedisQueueOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.KeyPrefix,
		})
	case "rabbitmq":
		return NewRabbitMQQueue(RabbitMQOptions{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.Workers,
		})
	default:
		return nil, fmt.Errorf("不支持的任务队列驱动: %s", cfg.Driver)
	}
}

// OpenStore 根据配置选择任务存储实现。
func OpenStore(cfg config.TaskStoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "mysql":
		return NewMySQLStore(cfg.DSN, cfg.Table)
	default:
		return nil, fmt.Errorf("不支持的任务存储驱动: %s", cfg.Driver)
	}
}
