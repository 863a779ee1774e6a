package task

// TaskStats 汇总符合条件的任务数量，供 API 与健康检查使用。
type TaskStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *TaskStats) add(status Status, updatedAt int64) {
	s.Total++
	switch status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	}
	if updatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = updatedAt
	}
	if s.OldestUpdatedAt == 0 || updatedAt < s.OldestUpdatedAt {
		s.OldestUpdatedAt = updatedAt
	}
}
