package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afredojala/agent-demo/internal/crm"
)

var fixedNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu        sync.Mutex
	customers []crm.Customer
	tickets   map[string][]crm.Ticket
	emails    []crm.Email
	followups []crm.Followup
	updates   map[string]crm.TicketPatch
	notes     []string
	failOn    string
	panicOn   string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{tickets: map[string][]crm.Ticket{}, updates: map[string]crm.TicketPatch{}}
}

func (f *fakeBackend) check(op string) error {
	if f.panicOn == op {
		panic("unexpected nil in " + op)
	}
	if f.failOn == op {
		return fmt.Errorf("%s failed", op)
	}
	return nil
}

func (f *fakeBackend) CreateCustomer(_ context.Context, in crm.NewCustomer) (*crm.Customer, error) {
	if err := f.check("create_customer"); err != nil {
		return nil, err
	}
	return &crm.Customer{ID: "cust-" + in.Name, Name: in.Name, Email: in.Email}, nil
}

func (f *fakeBackend) ListCustomers(context.Context) ([]crm.Customer, error) {
	if err := f.check("list_customers"); err != nil {
		return nil, err
	}
	return f.customers, nil
}

func (f *fakeBackend) ListTickets(_ context.Context, customerID, status string) ([]crm.Ticket, error) {
	if err := f.check("list_tickets"); err != nil {
		return nil, err
	}
	var out []crm.Ticket
	for _, t := range f.tickets[customerID] {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeBackend) UpdateTicket(_ context.Context, id string, patch crm.TicketPatch) (*crm.Ticket, error) {
	if err := f.check("update_ticket"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[id] = patch
	return &crm.Ticket{ID: id, AssignedTo: patch.AssignedTo}, nil
}

func (f *fakeBackend) CreateNote(_ context.Context, ticketID, body string) (*crm.Note, error) {
	if err := f.check("create_note"); err != nil {
		return nil, err
	}
	f.notes = append(f.notes, ticketID+":"+body)
	return &crm.Note{ID: "n1", TicketID: ticketID, Body: body}, nil
}

func (f *fakeBackend) SendEmail(_ context.Context, email crm.Email) (map[string]any, error) {
	if err := f.check("send_email"); err != nil {
		return nil, err
	}
	f.emails = append(f.emails, email)
	return map[string]any{"status": "sent"}, nil
}

func (f *fakeBackend) ScheduleFollowup(_ context.Context, fu crm.Followup) (*crm.Followup, error) {
	if err := f.check("schedule_followup"); err != nil {
		return nil, err
	}
	f.followups = append(f.followups, fu)
	return &fu, nil
}

func (f *fakeBackend) Analytics(_ context.Context, kind string) (map[string]any, error) {
	if err := f.check("analytics"); err != nil {
		return nil, err
	}
	return map[string]any{"report": kind}, nil
}

func score(n int) *int { return &n }

func daysAgo(n int) string { return fixedNow.AddDate(0, 0, -n).Format(time.RFC3339) }

func newEngine(b *fakeBackend, opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewEngine(b, opts...)
}

func stepsContain(steps []string, marker string) bool {
	for _, s := range steps {
		if strings.Contains(strings.ToLower(s), marker) {
			return true
		}
	}
	return false
}

func TestOnboardingCorpDomainTakesPremiumPath(t *testing.T) {
	b := newFakeBackend()
	engine := newEngine(b)

	run := engine.Execute(context.Background(), "customer_onboarding", map[string]any{"customer_email": "x@acmecorp.com"})

	require.Equal(t, StatusCompleted, run.Status, run.Error)
	assert.Equal(t, "premium", run.Result["path"])
	assert.True(t, stepsContain(run.Steps, "premium path"))
	assert.False(t, stepsContain(run.Steps, "standard"))
	assert.Empty(t, b.emails)

	require.Len(t, b.followups, 2)
	assert.Equal(t, "call", b.followups[0].TaskType)
	assert.Equal(t, "2024-06-11", b.followups[0].DueDate)
	assert.Equal(t, "health_check", b.followups[1].TaskType)
	assert.Equal(t, "2024-06-17", b.followups[1].DueDate)

	note, err := engine.State().Get(context.Background(), "onboarding:cust-x")
	require.NoError(t, err)
	assert.Equal(t, "premium", note["priority"])
}

func TestOnboardingStandardPath(t *testing.T) {
	b := newFakeBackend()
	run := newEngine(b).Execute(context.Background(), "customer_onboarding", map[string]any{
		"customer_name":  "Jane",
		"customer_email": "jane@example.org",
	})

	require.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, "standard", run.Result["path"])
	assert.True(t, stepsContain(run.Steps, "standard path"))
	assert.False(t, stepsContain(run.Steps, "premium path"))
	require.Len(t, b.emails, 1)
	assert.Equal(t, "jane@example.org", b.emails[0].To)
	require.Len(t, b.followups, 2)
	assert.Equal(t, "2024-06-13", b.followups[0].DueDate)
}

func TestOnboardingPremiumWithTicketAddsNote(t *testing.T) {
	b := newFakeBackend()
	run := newEngine(b).Execute(context.Background(), "customer_onboarding", map[string]any{
		"customer_email": "ceo@example.com",
		"ticket_count":   5,
		"ticket_id":      "t-9",
	})

	require.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, "premium", run.Result["path"])
	require.Len(t, b.notes, 1)
	assert.True(t, strings.HasPrefix(b.notes[0], "t-9:"))
}

func TestUnknownWorkflow(t *testing.T) {
	engine := newEngine(newFakeBackend())
	run := engine.Execute(context.Background(), "nightly_cleanup", nil)

	assert.Equal(t, StatusError, run.Status)
	assert.Equal(t, "Unknown workflow nightly_cleanup", run.Error)
	assert.Empty(t, engine.History().List("", 0))
}

func TestStepFailurePreservesLog(t *testing.T) {
	b := newFakeBackend()
	b.failOn = "send_email"
	run := newEngine(b).Execute(context.Background(), "customer_onboarding", map[string]any{
		"customer_email": "jane@example.org",
	})

	assert.Equal(t, StatusError, run.Status)
	assert.Contains(t, run.Error, "send_email failed")
	require.Len(t, run.Steps, 2)
	assert.Contains(t, run.Steps[0], "Created customer record")
	assert.Nil(t, run.Result)
	assert.False(t, run.FinishedAt.IsZero())
}

func TestPanicInStepBecomesErrorRun(t *testing.T) {
	b := newFakeBackend()
	b.panicOn = "list_customers"
	run := newEngine(b).Execute(context.Background(), "customer_health_check", nil)

	assert.Equal(t, StatusError, run.Status)
	assert.Contains(t, run.Error, "internal error")
}

func TestTicketEscalationBranches(t *testing.T) {
	b := newFakeBackend()
	b.customers = []crm.Customer{{ID: "c1", Name: "Acme"}}
	b.tickets["c1"] = []crm.Ticket{
		{ID: "old", Status: "open", CreatedAt: daysAgo(10)},
		{ID: "hot", Status: "open", Priority: "high", CreatedAt: daysAgo(1)},
		{ID: "aging", Status: "open", CreatedAt: daysAgo(4)},
		{ID: "fresh", Status: "open", CreatedAt: daysAgo(3)},
		{ID: "done", Status: "closed", CreatedAt: daysAgo(30)},
	}

	run := newEngine(b, WithAssignees(Assignees{Manager: "maria"})).Execute(context.Background(), "ticket_escalation", nil)

	require.Equal(t, StatusCompleted, run.Status, run.Error)
	assert.Equal(t, 2, run.Result["escalated_count"])
	assert.Equal(t, 1, run.Result["monitored_count"])
	assert.Equal(t, "maria", b.updates["old"].AssignedTo)
	assert.Equal(t, "maria", b.updates["hot"].AssignedTo)
	assert.Equal(t, "senior_support", b.updates["aging"].AssignedTo)
	assert.NotContains(t, b.updates, "fresh")
	require.Len(t, b.emails, 1)
	assert.Equal(t, "Ticket escalation summary", b.emails[0].Subject)
}

func TestTicketEscalationNothingToDoSendsNoSummary(t *testing.T) {
	b := newFakeBackend()
	b.tickets["c1"] = []crm.Ticket{{ID: "fresh", Status: "open", CreatedAt: daysAgo(0)}}

	run := newEngine(b).Execute(context.Background(), "ticket_escalation", map[string]any{"customer_id": "c1"})
	require.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, 0, run.Result["escalated_count"])
	assert.Empty(t, b.emails)
}

func TestWeeklyReportActionItems(t *testing.T) {
	b := newFakeBackend()
	b.customers = []crm.Customer{
		{ID: "c1", Name: "Acme", HealthScore: score(80)},
		{ID: "c2", Name: "Globex", HealthScore: score(40)},
	}
	b.tickets["c1"] = []crm.Ticket{{ID: "1", Status: "open"}, {ID: "2", Status: "open"}, {ID: "3", Status: "closed"}}
	b.tickets["c2"] = []crm.Ticket{{ID: "4", Status: "closed"}}

	run := newEngine(b).Execute(context.Background(), "weekly_report", nil)

	require.Equal(t, StatusCompleted, run.Status, run.Error)
	assert.Equal(t, "stable", run.Result["trend"])
	assert.Equal(t, 2, run.Result["action_items"])
	assert.Equal(t, 1, run.Result["at_risk_customers"])
	assert.Len(t, b.followups, 2)
	require.Len(t, b.emails, 1)
	assert.Contains(t, b.emails[0].Body, "Globex")
}

func TestCustomerHealthCheckBands(t *testing.T) {
	b := newFakeBackend()
	b.customers = []crm.Customer{
		{ID: "risk", Name: "Risky", HealthScore: score(30)},
		{ID: "busy", Name: "Busy", HealthScore: score(60)},
		{ID: "calm", Name: "Calm", HealthScore: score(60)},
		{ID: "ok", Name: "Happy", HealthScore: score(90)},
	}
	for i := 0; i < 3; i++ {
		b.tickets["busy"] = append(b.tickets["busy"], crm.Ticket{ID: fmt.Sprint(i), Status: "open"})
	}
	b.tickets["calm"] = []crm.Ticket{{ID: "x", Status: "open"}}

	run := newEngine(b).Execute(context.Background(), "customer_health_check", nil)

	require.Equal(t, StatusCompleted, run.Status, run.Error)
	assert.Equal(t, 1, run.Result["at_risk"])
	assert.Equal(t, 2, run.Result["needs_attention"])
	assert.Equal(t, 1, run.Result["healthy"])
	assert.Equal(t, 2, run.Result["actions_taken"])
	assert.Len(t, b.followups, 3)
	assert.True(t, stepsContain(run.Steps, "happy healthy"))
	assert.Len(t, b.emails, 1)
}

func TestHealthCheckWithoutActionsSendsNothing(t *testing.T) {
	b := newFakeBackend()
	b.customers = []crm.Customer{{ID: "ok", Name: "Happy"}}
	run := newEngine(b).Execute(context.Background(), "customer_health_check", nil)
	require.Equal(t, StatusCompleted, run.Status)
	assert.Empty(t, b.emails)
}

type fakeRecorder struct {
	steps []crm.WorkflowStep
	fail  bool
}

func (r *fakeRecorder) StartWorkflow(_ context.Context, name string) (*crm.WorkflowRecord, error) {
	if r.fail {
		return nil, errors.New("crm down")
	}
	return &crm.WorkflowRecord{ID: "rec-1", Name: name}, nil
}

func (r *fakeRecorder) AppendWorkflowStep(_ context.Context, _ string, step crm.WorkflowStep) error {
	r.steps = append(r.steps, step)
	return nil
}

func TestRunsAreMirroredAndKeptInHistory(t *testing.T) {
	b := newFakeBackend()
	rec := &fakeRecorder{}
	engine := newEngine(b, WithRecorder(rec))

	run := engine.Execute(context.Background(), "customer_health_check", nil)
	require.Equal(t, StatusCompleted, run.Status)

	require.Len(t, rec.steps, len(run.Steps)+1)
	last := rec.steps[len(rec.steps)-1]
	assert.Equal(t, "result", last.Name)
	assert.Equal(t, "completed", last.Status)

	stored, ok := engine.History().Get(run.ID)
	require.True(t, ok)
	assert.Equal(t, run.Steps, stored.Steps)
}

func TestRecorderFailureDoesNotFailRun(t *testing.T) {
	engine := newEngine(newFakeBackend(), WithRecorder(&fakeRecorder{fail: true}))
	run := engine.Execute(context.Background(), "customer_health_check", nil)
	assert.Equal(t, StatusCompleted, run.Status)
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"customer_health_check", "customer_onboarding", "ticket_escalation", "weekly_report"},
		newEngine(newFakeBackend()).Names())
}
