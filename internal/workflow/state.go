package workflow

import (
	"context"
	"encoding/json"
	"sync"
)

// StateStore 是进程内共享的工作流状态。Set 总是覆盖旧值，
// Get 在 key 不存在时返回空 map 而不是错误。
type StateStore interface {
	Set(ctx context.Context, key string, value map[string]any) error
	Get(ctx context.Context, key string) (map[string]any, error)
}

// MemoryStateStore 以互斥锁保护的 map 保存状态，读写都复制值。
type MemoryStateStore struct {
	mu     sync.RWMutex
	values map[string]map[string]any
}

var _ StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore 创建内存状态存储。
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{values: make(map[string]map[string]any)}
}

// Set 实现 StateStore。
func (m *MemoryStateStore) Set(_ context.Context, key string, value map[string]any) error {
	cloned := cloneValue(value)
	m.mu.Lock()
	m.values[key] = cloned
	m.mu.Unlock()
	return nil
}

// Get 实现 StateStore。
func (m *MemoryStateStore) Get(_ context.Context, key string) (map[string]any, error) {
	m.mu.RLock()
	value, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return map[string]any{}, nil
	}
	return cloneValue(value), nil
}

// cloneValue 通过 JSON 往返做深拷贝，调用方持有的引用不会影响已存储的状态。
func cloneValue(value map[string]any) map[string]any {
	if value == nil {
		return map[string]any{}
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		shallow := make(map[string]any, len(value))
		for k, v := range value {
			shallow[k] = v
		}
		return shallow
	}
	out := map[string]any{}
	_ = json.Unmarshal(encoded, &out)
	return out
}
