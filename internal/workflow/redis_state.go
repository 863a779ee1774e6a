package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	xerrors "github.com/afredojala/agent-demo/internal/errors"
)

// RedisStateStore 把工作流状态以 JSON 保存在 Redis 中，供多个进程共享。
type RedisStateStore struct {
	client redis.UniversalClient
	prefix string
}

var _ StateStore = (*RedisStateStore)(nil)

// RedisStateOptions 描述 Redis 连接参数。
type RedisStateOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStateStore 连接 Redis 并校验可用性。
func NewRedisStateStore(ctx context.Context, opts RedisStateOptions) (*RedisStateStore, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis 地址不能为空")
	}
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewRedisStateStoreWithClient(client, opts.KeyPrefix), nil
}

// NewRedisStateStoreWithClient 复用已有的 Redis 客户端。
func NewRedisStateStoreWithClient(client redis.UniversalClient, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = "agent:workflow_state:"
	}
	return &RedisStateStore{client: client, prefix: prefix}
}

// Set 实现 StateStore。
func (r *RedisStateStore) Set(ctx context.Context, key string, value map[string]any) error {
	if value == nil {
		value = map[string]any{}
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "状态无法序列化")
	}
	if err := r.client.Set(ctx, r.prefix+key, encoded, 0).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入工作流状态失败")
	}
	return nil
}

// Get 实现 StateStore。
func (r *RedisStateStore) Get(ctx context.Context, key string) (map[string]any, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取工作流状态失败")
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "工作流状态已损坏")
	}
	return out, nil
}

// Close 关闭 Redis 连接。
func (r *RedisStateStore) Close() error {
	return r.client.Close()
}
