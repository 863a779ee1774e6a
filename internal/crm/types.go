package crm

// Customer 是 CRM 中的客户记录。
type Customer struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Email          string  `json:"email,omitempty"`
	Industry       string  `json:"industry,omitempty"`
	PlanType       string  `json:"plan_type,omitempty"`
	Region         string  `json:"region,omitempty"`
	ContactPerson  string  `json:"contact_person,omitempty"`
	HealthScore    *int    `json:"health_score,omitempty"`
	MRR            float64 `json:"mrr,omitempty"`
	LifecycleStage string  `json:"lifecycle_stage,omitempty"`
	CreatedAt      string  `json:"created_at,omitempty"`
	LastActivity   string  `json:"last_activity,omitempty"`
}

// Health 返回客户健康分，缺省为 75。
func (c Customer) Health() int {
	if c.HealthScore == nil {
		return 75
	}
	return *c.HealthScore
}

// NewCustomer 是创建客户时提交的字段。
type NewCustomer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	PlanType string `json:"plan_type,omitempty"`
}

// Ticket 是客户的支持工单。
type Ticket struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Priority   string `json:"priority,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at,omitempty"`
	SLABreach  bool   `json:"sla_breach,omitempty"`
}

// TicketPatch 描述对工单的部分更新，空字段不会提交。
type TicketPatch struct {
	Status     string `json:"status,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`
}

// Note 是附加在工单上的备注。
type Note struct {
	ID        string `json:"id"`
	TicketID  string `json:"ticket_id"`
	Body      string `json:"body"`
	Author    string `json:"author,omitempty"`
	NoteType  string `json:"note_type,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Email 是一封待发送的邮件。
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Followup 是一条排期的跟进任务。
type Followup struct {
	ID          string `json:"id,omitempty"`
	CustomerID  string `json:"customer_id"`
	TaskType    string `json:"task_type"`
	DueDate     string `json:"due_date"`
	Description string `json:"description,omitempty"`
}

// WorkflowRecord 是 CRM 侧的工作流运行记录。
type WorkflowRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// WorkflowStep 是工作流运行中的一步。
type WorkflowStep struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
}
