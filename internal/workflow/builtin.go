package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/afredojala/agent-demo/internal/crm"
)

// 健康检查与周报使用的阈值。
const (
	healthAtRiskBelow    = 50
	healthHealthyFrom    = 75
	checkInOpenTickets   = 2
	backlogOpenRatio     = 0.5
	healthAtRisk         = "at_risk"
	healthNeedsAttention = "needs_attention"
	healthHealthy        = "healthy"
)

// HealthBand 把健康分映射为 at_risk、needs_attention 或 healthy。
func HealthBand(score int) string {
	switch {
	case score < healthAtRiskBelow:
		return healthAtRisk
	case score < healthHealthyFrom:
		return healthNeedsAttention
	default:
		return healthHealthy
	}
}

func (e *Engine) customerOnboarding(rc *runContext) (map[string]any, error) {
	email := rc.str("customer_email")
	if email == "" {
		return nil, errors.New("customer_email is required")
	}
	name := rc.str("customer_name")
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}

	customer, err := e.backend.CreateCustomer(rc.ctx, crm.NewCustomer{Name: name, Email: email, PlanType: rc.str("plan_type")})
	if err != nil {
		return nil, rc.fail(err, "create customer %s", name)
	}
	rc.step("✓ Created customer record for %s", name)

	decision := Decide("high_value_customer", map[string]any{
		"email":        email,
		"ticket_count": rc.input["ticket_count"],
	}, []string{DecisionPremium, DecisionStandard})
	rc.step("✓ Decision high_value: %s (%s)", decision.Decision, decision.Reason)

	if decision.Decision == DecisionPremium {
		if err := rc.followup(customer.ID, 1, "call", "Premium welcome call for "+name); err != nil {
			return nil, err
		}
		rc.step("✓ Premium path: scheduled welcome call within 24 hours")

		note := fmt.Sprintf("Priority onboarding for premium customer %s (%s)", name, decision.Reason)
		if ticketID := rc.str("ticket_id"); ticketID != "" {
			if _, err := e.backend.CreateNote(rc.ctx, ticketID, note); err != nil {
				return nil, rc.fail(err, "create priority note")
			}
			rc.step("✓ Premium path: added priority note to ticket %s", ticketID)
		} else {
			if err := e.state.Set(rc.ctx, "onboarding:"+customer.ID, map[string]any{
				"priority": DecisionPremium,
				"note":     note,
			}); err != nil {
				return nil, rc.fail(err, "store priority note")
			}
			rc.step("✓ Premium path: recorded priority onboarding note")
		}
	} else {
		_, err := e.backend.SendEmail(rc.ctx, crm.Email{
			To:      email,
			Subject: "Welcome aboard, " + name,
			Body:    "Thanks for joining us. Your onboarding specialist will reach out in a few days.",
		})
		if err != nil {
			return nil, rc.fail(err, "send welcome email")
		}
		rc.step("✓ Standard path: sent welcome email to %s", email)

		if err := rc.followup(customer.ID, 3, "check_in", "Onboarding follow-up for "+name); err != nil {
			return nil, err
		}
		rc.step("✓ Standard path: scheduled 3-day follow-up")
	}

	if err := rc.followup(customer.ID, 7, "health_check", "7-day health check for "+name); err != nil {
		return nil, err
	}
	rc.step("✓ Scheduled 7-day health check")

	return map[string]any{
		"workflow":    "customer_onboarding",
		"status":      string(StatusCompleted),
		"path":        decision.Decision,
		"customer_id": customer.ID,
		"reason":      decision.Reason,
	}, nil
}

func (e *Engine) customersInScope(rc *runContext) ([]crm.Customer, error) {
	if id := rc.str("customer_id"); id != "" {
		return []crm.Customer{{ID: id, Name: id}}, nil
	}
	customers, err := e.backend.ListCustomers(rc.ctx)
	if err != nil {
		return nil, rc.fail(err, "list customers")
	}
	return customers, nil
}

func (e *Engine) ticketEscalation(rc *runContext) (map[string]any, error) {
	customers, err := e.customersInScope(rc)
	if err != nil {
		return nil, err
	}

	var open []crm.Ticket
	for _, c := range customers {
		tickets, err := e.backend.ListTickets(rc.ctx, c.ID, "open")
		if err != nil {
			return nil, rc.fail(err, "list open tickets for %s", c.ID)
		}
		open = append(open, tickets...)
	}
	rc.step("✓ Retrieved %d open ticket(s) across %d customer(s)", len(open), len(customers))

	var escalated, monitored int
	var summary []string
	now := e.now()
	for _, t := range open {
		sla := EvaluateSLA(t, now)
		decision := Decide("sla_critical", sla.DecisionData(), nil)
		rc.step("✓ Ticket %s: %d days old, %s priority → %s", t.ID, sla.DaysOld, sla.Priority, decision.Decision)

		switch decision.Decision {
		case DecisionEscalate:
			if _, err := e.backend.UpdateTicket(rc.ctx, t.ID, crm.TicketPatch{AssignedTo: e.assignees.Manager}); err != nil {
				return nil, rc.fail(err, "escalate ticket %s", t.ID)
			}
			escalated++
			rc.step("✓ Escalated ticket %s to %s", t.ID, e.assignees.Manager)
			summary = append(summary, fmt.Sprintf("ESCALATED %s %q (%d days, %s)", t.ID, t.Title, sla.DaysOld, decision.Reason))
		case DecisionMonitor:
			if _, err := e.backend.UpdateTicket(rc.ctx, t.ID, crm.TicketPatch{AssignedTo: e.assignees.SeniorSupport}); err != nil {
				return nil, rc.fail(err, "assign ticket %s for monitoring", t.ID)
			}
			monitored++
			rc.step("✓ Assigned ticket %s to %s for monitoring", t.ID, e.assignees.SeniorSupport)
			summary = append(summary, fmt.Sprintf("MONITOR %s %q (%d days)", t.ID, t.Title, sla.DaysOld))
		}
	}

	if escalated > 0 || monitored > 0 {
		lines := append([]string{fmt.Sprintf("%d escalated, %d monitored", escalated, monitored)}, summary...)
		if err := rc.notify("Ticket escalation summary", lines); err != nil {
			return nil, err
		}
		rc.step("✓ Sent escalation summary to management")
	}

	return map[string]any{
		"checked_count":   len(open),
		"escalated_count": escalated,
		"monitored_count": monitored,
	}, nil
}

type customerSnapshot struct {
	customer crm.Customer
	total    int
	open     int
}

func (s customerSnapshot) openRatio() float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.open) / float64(s.total)
}

func (e *Engine) weeklyReport(rc *runContext) (map[string]any, error) {
	summary, err := e.backend.Analytics(rc.ctx, "summary")
	if err != nil {
		return nil, rc.fail(err, "load summary analytics")
	}
	rc.step("✓ Gathered summary analytics")

	customers, err := e.backend.ListCustomers(rc.ctx)
	if err != nil {
		return nil, rc.fail(err, "list customers")
	}
	snapshots := make([]customerSnapshot, 0, len(customers))
	var totalTickets, openTickets int
	for _, c := range customers {
		tickets, err := e.backend.ListTickets(rc.ctx, c.ID, "")
		if err != nil {
			return nil, rc.fail(err, "list tickets for %s", c.ID)
		}
		snap := customerSnapshot{customer: c, total: len(tickets)}
		for _, t := range tickets {
			if t.Status == "open" {
				snap.open++
			}
		}
		totalTickets += snap.total
		openTickets += snap.open
		snapshots = append(snapshots, snap)
	}
	rc.step("✓ Collected ticket and health data for %d customer(s)", len(customers))

	ratio := 0.0
	if totalTickets > 0 {
		ratio = float64(openTickets) / float64(totalTickets)
	}
	options := []string{"stable", "increasing"}
	if ratio > backlogOpenRatio {
		options = []string{"increasing", "stable"}
	}
	trend := Decide("weekly_ticket_trend", map[string]any{"open_ratio": ratio}, options)
	rc.step("✓ Trend analysis: %s (open ratio %.2f)", trend.Decision, ratio)

	var recommendations []string
	var actions []map[string]any
	atRisk := 0
	for _, s := range snapshots {
		if s.total > 0 && s.openRatio() > backlogOpenRatio {
			recommendations = append(recommendations, fmt.Sprintf("Reduce open ticket backlog for %s (%d of %d open)", s.customer.Name, s.open, s.total))
			actions = append(actions, map[string]any{"customer_id": s.customer.ID, "action": "reduce_backlog"})
		}
		if HealthBand(s.customer.Health()) == healthAtRisk {
			atRisk++
			recommendations = append(recommendations, fmt.Sprintf("Run a health intervention for %s (score %d)", s.customer.Name, s.customer.Health()))
			actions = append(actions, map[string]any{"customer_id": s.customer.ID, "action": "health_intervention"})
		}
	}
	rc.step("✓ Identified %d action item(s)", len(actions))

	for _, a := range actions {
		customerID := a["customer_id"].(string)
		if err := rc.followup(customerID, 2, "review", fmt.Sprintf("Weekly report action: %s", a["action"])); err != nil {
			return nil, err
		}
		rc.step("✓ Scheduled %s review for customer %s", a["action"], customerID)
	}

	lines := []string{
		fmt.Sprintf("Customers: %d, tickets: %d (%d open)", len(customers), totalTickets, openTickets),
		fmt.Sprintf("Trend: %s", trend.Decision),
	}
	lines = append(lines, recommendations...)
	if err := rc.notify("Weekly operations report", lines); err != nil {
		return nil, err
	}
	rc.step("✓ Sent weekly report to %s", e.notifyTo)

	return map[string]any{
		"trend":             trend.Decision,
		"open_ratio":        ratio,
		"total_customers":   len(customers),
		"total_tickets":     totalTickets,
		"open_tickets":      openTickets,
		"at_risk_customers": atRisk,
		"recommendations":   recommendations,
		"action_items":      len(actions),
		"analytics":         summary,
	}, nil
}

func (e *Engine) customerHealthCheck(rc *runContext) (map[string]any, error) {
	customers, err := e.backend.ListCustomers(rc.ctx)
	if err != nil {
		return nil, rc.fail(err, "list customers")
	}
	rc.step("✓ Loaded %d customer(s) for health review", len(customers))

	counts := map[string]int{healthAtRisk: 0, healthNeedsAttention: 0, healthHealthy: 0}
	var actions []string
	for _, c := range customers {
		score := c.Health()
		band := HealthBand(score)
		counts[band]++

		switch band {
		case healthAtRisk:
			if err := rc.followup(c.ID, 1, "review", "Urgent account review for "+c.Name); err != nil {
				return nil, err
			}
			if err := rc.followup(c.ID, 2, "call", "Health recovery call with "+c.Name); err != nil {
				return nil, err
			}
			rc.step("⚠ %s at risk (score %d): scheduled urgent review and call", c.Name, score)
			actions = append(actions, fmt.Sprintf("%s: urgent review and call", c.Name))
		case healthNeedsAttention:
			open, err := e.backend.ListTickets(rc.ctx, c.ID, "open")
			if err != nil {
				return nil, rc.fail(err, "list open tickets for %s", c.ID)
			}
			if len(open) > checkInOpenTickets {
				if err := rc.followup(c.ID, 3, "check_in", "Check-in with "+c.Name); err != nil {
					return nil, err
				}
				rc.step("✓ %s needs attention (score %d, %d open tickets): scheduled check-in", c.Name, score, len(open))
				actions = append(actions, fmt.Sprintf("%s: check-in", c.Name))
			} else {
				rc.step("✓ %s stable (score %d, %d open tickets), no action needed", c.Name, score, len(open))
			}
		default:
			rc.step("✓ %s healthy (score %d), no action needed", c.Name, score)
		}
	}

	if len(actions) > 0 {
		if err := rc.notify("Customer health check", actions); err != nil {
			return nil, err
		}
		rc.step("✓ Sent health check summary to %s", e.notifyTo)
	}

	return map[string]any{
		"checked":         len(customers),
		"at_risk":         counts[healthAtRisk],
		"needs_attention": counts[healthNeedsAttention],
		"healthy":         counts[healthHealthy],
		"actions_taken":   len(actions),
	}, nil
}
