package tools

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/afredojala/agent-demo/internal/crm"
	"github.com/afredojala/agent-demo/internal/intent"
)

type fakeCRM struct {
	mu        sync.Mutex
	customers []crm.Customer
	tickets   []crm.Ticket
	analytics map[string]any
	fail      error

	created   []crm.NewCustomer
	notes     []crm.Note
	emails    []crm.Email
	followups []crm.Followup
	patches   map[string]crm.TicketPatch
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{patches: map[string]crm.TicketPatch{}}
}

func (f *fakeCRM) SearchCustomers(_ context.Context, name string) ([]crm.Customer, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	var out []crm.Customer
	for _, c := range f.customers {
		if name == "" || strings.Contains(strings.ToLower(c.Name), strings.ToLower(name)) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCRM) ListCustomers(ctx context.Context) ([]crm.Customer, error) {
	return f.SearchCustomers(ctx, "")
}

func (f *fakeCRM) CreateCustomer(_ context.Context, in crm.NewCustomer) (*crm.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	return &crm.Customer{ID: "c-new", Name: in.Name, Email: in.Email, PlanType: in.PlanType}, nil
}

func (f *fakeCRM) ListTickets(_ context.Context, customerID, status string) ([]crm.Ticket, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	var out []crm.Ticket
	for _, t := range f.tickets {
		if t.CustomerID != customerID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeCRM) GetTicket(_ context.Context, id string) (*crm.Ticket, error) {
	for _, t := range f.tickets {
		if t.ID == id {
			t := t
			return &t, nil
		}
	}
	return nil, errors.New("ticket not found")
}

func (f *fakeCRM) UpdateTicket(_ context.Context, id string, patch crm.TicketPatch) (*crm.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.patches[id] = patch
	return &crm.Ticket{ID: id, Status: patch.Status, AssignedTo: patch.AssignedTo}, nil
}

func (f *fakeCRM) CreateNote(_ context.Context, ticketID, body string) (*crm.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := crm.Note{ID: "n-1", TicketID: ticketID, Body: body}
	f.notes = append(f.notes, n)
	return &n, nil
}

func (f *fakeCRM) SendEmail(_ context.Context, email crm.Email) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.emails = append(f.emails, email)
	return map[string]any{"status": "queued"}, nil
}

func (f *fakeCRM) ScheduleFollowup(_ context.Context, fu crm.Followup) (*crm.Followup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followups = append(f.followups, fu)
	return &fu, nil
}

func (f *fakeCRM) Analytics(_ context.Context, kind string) (map[string]any, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return map[string]any{"kind": kind, "values": f.analytics}, nil
}

type recordingEmitter struct {
	mu      sync.Mutex
	intents []intent.Intent
}

func (r *recordingEmitter) Emit(_ context.Context, in intent.Intent) (intent.Delivery, error) {
	if err := in.Validate(); err != nil {
		return intent.Delivery{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, in)
	return intent.Delivery{Delivered: 1}, nil
}
