package workflow

import (
	"maps"
	"sort"
	"sync"
	"time"
)

// Status 表示一次工作流运行的状态。运行只会从 running 进入 completed 或 error。
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Run 记录一次工作流运行。Steps 只追加，离开 running 后不再修改。
type Run struct {
	ID         string         `json:"id"`
	Workflow   string         `json:"workflow"`
	Status     Status         `json:"status"`
	Steps      []string       `json:"steps"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
}

// Clone 返回一份独立副本。
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Steps = append([]string(nil), r.Steps...)
	c.Result = maps.Clone(r.Result)
	return &c
}

// Payload 返回供模型阅读的结构化结果。
func (r *Run) Payload() map[string]any {
	out := map[string]any{
		"run_id":   r.ID,
		"workflow": r.Workflow,
		"status":   string(r.Status),
		"steps":    append([]string(nil), r.Steps...),
	}
	if r.Result != nil {
		out["result"] = r.Result
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return out
}

// RunHistory 保存最近完成的若干次运行，超出容量时丢弃最旧的记录。
type RunHistory struct {
	mu    sync.RWMutex
	limit int
	order []string
	runs  map[string]*Run
}

// NewRunHistory 创建运行历史。
func NewRunHistory(limit int) *RunHistory {
	if limit <= 0 {
		limit = 100
	}
	return &RunHistory{limit: limit, runs: make(map[string]*Run)}
}

// Add 保存运行副本。
func (h *RunHistory) Add(run *Run) {
	if run == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.runs[run.ID]; !ok {
		h.order = append(h.order, run.ID)
	}
	h.runs[run.ID] = run.Clone()
	for len(h.order) > h.limit {
		delete(h.runs, h.order[0])
		h.order = h.order[1:]
	}
}

// Get 按 ID 读取运行。
func (h *RunHistory) Get(id string) (*Run, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	run, ok := h.runs[id]
	if !ok {
		return nil, false
	}
	return run.Clone(), true
}

// List 按开始时间倒序返回运行记录，workflow 为空时不过滤。
func (h *RunHistory) List(workflow string, limit int) []*Run {
	h.mu.RLock()
	out := make([]*Run, 0, len(h.runs))
	for _, run := range h.runs {
		if workflow != "" && run.Workflow != workflow {
			continue
		}
		out = append(out, run.Clone())
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
