package tools

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/afredojala/agent-demo/internal/crm"
	"github.com/afredojala/agent-demo/internal/workflow"
)

var (
	statsMetrics     = []string{"ticket_count", "activity", "status_summary", "all"}
	bulkOperations   = []string{"close", "reopen", "update_status"}
	reportTypes      = []string{"summary", "revenue", "support"}
	bulkCriteriaKeys = []string{"customer_id", "status", "priority", "older_than_days"}

	// bulkCriteria 约束 criteria 内部各键的类型，类型不符的过滤条件不能被静默忽略。
	bulkCriteria = []ParamSpec{
		{Name: "customer_id", Type: TypeString},
		{Name: "status", Type: TypeString},
		{Name: "priority", Type: TypeString},
		{Name: "older_than_days", Type: TypeInteger},
	}
)

const defaultDateRange = "last_30_days"

// customerTickets 是一个客户及其全部工单。
type customerTickets struct {
	customer crm.Customer
	tickets  []crm.Ticket
}

func loadCustomerTickets(ctx context.Context, c CRM) ([]customerTickets, error) {
	customers, err := c.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]customerTickets, 0, len(customers))
	for _, cust := range customers {
		tickets, err := c.ListTickets(ctx, cust.ID, "")
		if err != nil {
			return nil, err
		}
		out = append(out, customerTickets{customer: cust, tickets: tickets})
	}
	return out, nil
}

type customerStats struct{ deps Deps }

func (t *customerStats) Definition() Definition {
	return Definition{
		Name:        "tool_get_customer_stats",
		Description: "Get customer statistics: ticket counts per customer, recent activity, ticket status summary, or all of them.",
		Params: []ParamSpec{
			{Name: "metric", Type: TypeString, Required: true, Enum: statsMetrics},
		},
	}
}

func (t *customerStats) Execute(ctx context.Context, args Args) (any, error) {
	data, err := loadCustomerTickets(ctx, t.deps.CRM)
	if err != nil {
		return nil, err
	}
	metric := args.String("metric")
	var result any
	switch metric {
	case "ticket_count":
		result = ticketCounts(data)
	case "activity":
		result = activity(data)
	case "status_summary":
		result = statusSummary(data)
	default:
		result = map[string]any{
			"ticket_count":   ticketCounts(data),
			"activity":       activity(data),
			"status_summary": statusSummary(data),
		}
	}
	return map[string]any{"metric": metric, "data": result}, nil
}

func ticketCounts(data []customerTickets) []map[string]any {
	out := make([]map[string]any, 0, len(data))
	for _, d := range data {
		open := 0
		for _, tk := range d.tickets {
			if tk.Status == "open" {
				open++
			}
		}
		out = append(out, map[string]any{
			"customer_id":  d.customer.ID,
			"name":         d.customer.Name,
			"ticket_count": len(d.tickets),
			"open_tickets": open,
		})
	}
	return out
}

func activity(data []customerTickets) []map[string]any {
	out := make([]map[string]any, 0, len(data))
	for _, d := range data {
		last := d.customer.LastActivity
		for _, tk := range d.tickets {
			if ts := latest(tk.UpdatedAt, tk.CreatedAt); ts > last {
				last = ts
			}
		}
		out = append(out, map[string]any{
			"customer_id":   d.customer.ID,
			"name":          d.customer.Name,
			"last_activity": last,
			"health_score":  d.customer.Health(),
			"health_band":   workflow.HealthBand(d.customer.Health()),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i]["last_activity"].(string) > out[j]["last_activity"].(string)
	})
	return out
}

func latest(a, b string) string {
	if a > b {
		return a
	}
	return b
}

func statusSummary(data []customerTickets) map[string]int {
	out := map[string]int{}
	for _, d := range data {
		for _, tk := range d.tickets {
			out[tk.Status]++
		}
	}
	return out
}

type bulkUpdateTickets struct{ deps Deps }

func (t *bulkUpdateTickets) Definition() Definition {
	return Definition{
		Name:        "tool_bulk_update_tickets",
		Description: "Close, reopen or change the status of every ticket matching the criteria (customer_id, status, priority, older_than_days).",
		Params: []ParamSpec{
			{Name: "operation", Type: TypeString, Required: true, Enum: bulkOperations},
			{Name: "criteria", Type: TypeObject, Required: true, Description: "Filter with keys customer_id, status, priority, older_than_days."},
			{Name: "new_status", Type: TypeString, Enum: ticketStatuses, Description: "Required for update_status."},
		},
	}
}

func (t *bulkUpdateTickets) Execute(ctx context.Context, args Args) (any, error) {
	name := t.Definition().Name
	var target string
	switch args.String("operation") {
	case "close":
		target = "closed"
	case "reopen":
		target = "open"
	default:
		target = args.String("new_status")
		if target == "" {
			return nil, invalidArgs(name, "new_status is required for update_status")
		}
	}

	criteria := Args(args.Object("criteria"))
	if len(criteria) == 0 {
		return nil, invalidArgs(name, "criteria must contain at least one of %s", strings.Join(bulkCriteriaKeys, ", "))
	}
	if err := validateCriteria(name, criteria); err != nil {
		return nil, err
	}

	candidates, err := t.candidates(ctx, criteria)
	if err != nil {
		return nil, err
	}
	now := t.deps.now()
	priority := criteria.String("priority")
	olderThan := criteria.Int("older_than_days", -1)
	updated := []string{}
	for _, tk := range candidates {
		if tk.Status == target {
			continue
		}
		if priority != "" && tk.Priority != priority {
			continue
		}
		if olderThan >= 0 && workflow.EvaluateSLA(tk, now).DaysOld <= olderThan {
			continue
		}
		if _, err := t.deps.CRM.UpdateTicket(ctx, tk.ID, crm.TicketPatch{Status: target}); err != nil {
			return nil, fmt.Errorf("updated %d ticket(s) before failing on %s: %w", len(updated), tk.ID, err)
		}
		updated = append(updated, tk.ID)
	}
	return map[string]any{
		"operation":     args.String("operation"),
		"new_status":    target,
		"updated_count": len(updated),
		"ticket_ids":    updated,
	}, nil
}

func validateCriteria(tool string, criteria Args) error {
	keys := make([]string, 0, len(criteria))
	for key := range criteria {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !slices.Contains(bulkCriteriaKeys, key) {
			return invalidArgs(tool, "unknown criteria %q", key)
		}
		if criteria[key] == nil {
			return invalidArgs(tool, "criteria %q must not be null", key)
		}
	}
	if err := (Definition{Name: tool, Params: bulkCriteria}).Validate(criteria); err != nil {
		return err
	}
	if criteria.Int("older_than_days", 0) < 0 {
		return invalidArgs(tool, "criteria %q must not be negative", "older_than_days")
	}
	return nil
}

func (t *bulkUpdateTickets) candidates(ctx context.Context, criteria Args) ([]crm.Ticket, error) {
	status := criteria.String("status")
	if id := criteria.String("customer_id"); id != "" {
		return t.deps.CRM.ListTickets(ctx, id, status)
	}
	customers, err := t.deps.CRM.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	var out []crm.Ticket
	for _, c := range customers {
		tickets, err := t.deps.CRM.ListTickets(ctx, c.ID, status)
		if err != nil {
			return nil, err
		}
		out = append(out, tickets...)
	}
	return out, nil
}

type generateReport struct{ deps Deps }

func (t *generateReport) Definition() Definition {
	return Definition{
		Name:        "tool_generate_report",
		Description: "Generate a summary, revenue or support report from CRM analytics.",
		Params: []ParamSpec{
			{Name: "report_type", Type: TypeString, Required: true, Enum: reportTypes},
			{Name: "date_range", Type: TypeString, Description: "Free-form range label, defaults to last_30_days."},
		},
	}
}

func (t *generateReport) Execute(ctx context.Context, args Args) (any, error) {
	kind := args.String("report_type")
	data, err := t.deps.CRM.Analytics(ctx, kind)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"report_type":  kind,
		"date_range":   args.StringOr("date_range", defaultDateRange),
		"generated_at": t.deps.now().UTC().Format(time.RFC3339),
		"data":         data,
	}, nil
}
