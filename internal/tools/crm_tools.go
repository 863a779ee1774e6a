package tools

import (
	"context"
	"strings"

	"github.com/afredojala/agent-demo/internal/crm"
	"github.com/afredojala/agent-demo/internal/workflow"
)

// 工单与跟进的取值范围。
var (
	ticketListStatuses = []string{"open", "closed"}
	ticketStatuses     = []string{"open", "in_progress", "waiting_customer", "resolved", "closed"}
	followupTypes      = []string{"call", "email", "review", "health_check", "check_in"}
	customerPriorities = []string{"standard", "high", "enterprise"}
)

type searchCustomers struct{ deps Deps }

func (t *searchCustomers) Definition() Definition {
	return Definition{
		Name:        "tool_search_customers",
		Description: "Search customers by (partial) name, free-text criteria or location. Provide at least name or criteria.",
		Params: []ParamSpec{
			{Name: "name", Type: TypeString, Description: "Partial customer name."},
			{Name: "location", Type: TypeString, Description: "Region the customer is located in."},
			{Name: "criteria", Type: TypeString, Description: "Free-text match against industry, plan, region or lifecycle stage."},
		},
	}
}

func (t *searchCustomers) Execute(ctx context.Context, args Args) (any, error) {
	name, criteria, location := args.String("name"), args.String("criteria"), args.String("location")
	if name == "" && criteria == "" {
		return nil, invalidArgs(t.Definition().Name, "name or criteria is required")
	}
	customers, err := t.deps.CRM.SearchCustomers(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]crm.Customer, 0, len(customers))
	for _, c := range customers {
		if criteria != "" && !matchesCriteria(c, criteria) {
			continue
		}
		if location != "" && !containsFold(c.Region, location) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func matchesCriteria(c crm.Customer, criteria string) bool {
	for _, field := range []string{c.Name, c.Industry, c.PlanType, c.Region, c.LifecycleStage, c.ContactPerson} {
		if containsFold(field, criteria) {
			return true
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

type listTickets struct{ deps Deps }

func (t *listTickets) Definition() Definition {
	return Definition{
		Name:        "tool_list_tickets",
		Description: "List tickets for a given customer id and status.",
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "status", Type: TypeString, Enum: ticketListStatuses, Description: "Defaults to open."},
		},
	}
}

func (t *listTickets) Execute(ctx context.Context, args Args) (any, error) {
	tickets, err := t.deps.CRM.ListTickets(ctx, args.String("customer_id"), args.StringOr("status", "open"))
	if err != nil {
		return nil, err
	}
	if tickets == nil {
		tickets = []crm.Ticket{}
	}
	return tickets, nil
}

type createNote struct{ deps Deps }

func (t *createNote) Definition() Definition {
	return Definition{
		Name:        "tool_create_note",
		Description: "Create a note on a ticket.",
		Params: []ParamSpec{
			{Name: "ticket_id", Type: TypeString, Required: true},
			{Name: "body", Type: TypeString, Required: true},
		},
	}
}

func (t *createNote) Execute(ctx context.Context, args Args) (any, error) {
	return t.deps.CRM.CreateNote(ctx, args.String("ticket_id"), args.String("body"))
}

type sendEmail struct{ deps Deps }

func (t *sendEmail) Definition() Definition {
	return Definition{
		Name:        "tool_send_email",
		Description: "Send an email with subject and body.",
		Params: []ParamSpec{
			{Name: "to", Type: TypeString, Required: true},
			{Name: "subject", Type: TypeString, Required: true},
			{Name: "body", Type: TypeString, Required: true},
		},
	}
}

func (t *sendEmail) Execute(ctx context.Context, args Args) (any, error) {
	return t.deps.CRM.SendEmail(ctx, crm.Email{
		To:      args.String("to"),
		Subject: args.String("subject"),
		Body:    args.String("body"),
	})
}

type createCustomer struct{ deps Deps }

func (t *createCustomer) Definition() Definition {
	return Definition{
		Name:        "tool_create_customer",
		Description: "Create a new customer record.",
		Params: []ParamSpec{
			{Name: "name", Type: TypeString, Required: true},
			{Name: "email", Type: TypeString, Required: true},
			{Name: "priority", Type: TypeString, Enum: customerPriorities, Description: "Plan tier, defaults to standard."},
		},
	}
}

func (t *createCustomer) Execute(ctx context.Context, args Args) (any, error) {
	return t.deps.CRM.CreateCustomer(ctx, crm.NewCustomer{
		Name:     args.String("name"),
		Email:    args.String("email"),
		PlanType: args.StringOr("priority", "standard"),
	})
}

type scheduleFollowup struct{ deps Deps }

func (t *scheduleFollowup) Definition() Definition {
	return Definition{
		Name:        "tool_schedule_followup",
		Description: "Schedule a follow-up task for a customer a number of days from today.",
		Params: []ParamSpec{
			{Name: "customer_id", Type: TypeString, Required: true},
			{Name: "days", Type: TypeInteger, Required: true, Description: "Days from today."},
			{Name: "task_type", Type: TypeString, Required: true, Enum: followupTypes},
			{Name: "description", Type: TypeString},
		},
	}
}

func (t *scheduleFollowup) Execute(ctx context.Context, args Args) (any, error) {
	days := args.Int("days", 0)
	if days < 0 {
		return nil, invalidArgs(t.Definition().Name, "days must not be negative")
	}
	return t.deps.CRM.ScheduleFollowup(ctx, crm.Followup{
		CustomerID:  args.String("customer_id"),
		TaskType:    args.String("task_type"),
		DueDate:     t.deps.now().AddDate(0, 0, days).Format("2006-01-02"),
		Description: args.String("description"),
	})
}

// slaReport 是 tool_check_sla_status 的结果。
type slaReport struct {
	workflow.SLAStatus
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

type checkSLAStatus struct{ deps Deps }

func (t *checkSLAStatus) Definition() Definition {
	return Definition{
		Name:        "tool_check_sla_status",
		Description: "Check a ticket's age against the SLA and recommend escalate, monitor or continue.",
		Params: []ParamSpec{
			{Name: "ticket_id", Type: TypeString, Required: true},
		},
	}
}

func (t *checkSLAStatus) Execute(ctx context.Context, args Args) (any, error) {
	ticket, err := t.deps.CRM.GetTicket(ctx, args.String("ticket_id"))
	if err != nil {
		return nil, err
	}
	status := workflow.EvaluateSLA(*ticket, t.deps.now())
	d := workflow.Decide("sla_critical", status.DecisionData(), nil)
	return slaReport{SLAStatus: status, Decision: d.Decision, Reason: d.Reason}, nil
}

type assignTicket struct{ deps Deps }

func (t *assignTicket) Definition() Definition {
	return Definition{
		Name:        "tool_assign_ticket",
		Description: "Assign a ticket to a person or team.",
		Params: []ParamSpec{
			{Name: "ticket_id", Type: TypeString, Required: true},
			{Name: "assignee", Type: TypeString, Required: true},
		},
	}
}

func (t *assignTicket) Execute(ctx context.Context, args Args) (any, error) {
	return t.deps.CRM.UpdateTicket(ctx, args.String("ticket_id"), crm.TicketPatch{AssignedTo: args.String("assignee")})
}
