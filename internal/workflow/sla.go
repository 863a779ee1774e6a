package workflow

import (
	"math"
	"strings"
	"time"

	"github.com/afredojala/agent-demo/internal/crm"
)

// SLA 状态。
const (
	SLAOK       = "ok"
	SLAAtRisk   = "at_risk"
	SLABreached = "breached"
)

// SLAStatus 描述工单相对 SLA 的状态。
type SLAStatus struct {
	TicketID string `json:"ticket_id"`
	DaysOld  int    `json:"days_old"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
	Breached bool   `json:"sla_breach"`
}

var ticketTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// EvaluateSLA 根据工单创建时间计算工单年龄与 SLA 状态。
// 超过 7 天或已被标记违约视为 breached，超过 3 天视为 at_risk。
func EvaluateSLA(t crm.Ticket, now time.Time) SLAStatus {
	days := 0
	if created, ok := parseTicketTime(t.CreatedAt); ok {
		days = int(math.Floor(now.Sub(created).Hours() / 24))
		if days < 0 {
			days = 0
		}
	}
	status := SLAOK
	switch {
	case days > 7 || t.SLABreach:
		status = SLABreached
	case days > 3:
		status = SLAAtRisk
	}
	priority := t.Priority
	if priority == "" {
		priority = "medium"
	}
	return SLAStatus{
		TicketID: t.ID,
		DaysOld:  days,
		Priority: priority,
		Status:   status,
		Breached: status == SLABreached,
	}
}

// DecisionData 把 SLA 状态转换为 sla_critical 决策点的输入。
func (s SLAStatus) DecisionData() map[string]any {
	return map[string]any{"days_old": s.DaysOld, "priority": s.Priority}
}

func parseTicketTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range ticketTimeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
