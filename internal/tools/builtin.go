package tools

import (
	"context"
	"time"

	"github.com/afredojala/agent-demo/internal/crm"
	"github.com/afredojala/agent-demo/internal/intent"
	"github.com/afredojala/agent-demo/internal/workflow"
)

// CRM 是工具直接调用的 CRM 能力，*crm.Client 满足该接口。
type CRM interface {
	workflow.Backend
	SearchCustomers(ctx context.Context, name string) ([]crm.Customer, error)
	GetTicket(ctx context.Context, id string) (*crm.Ticket, error)
}

// Workflows 执行内置工作流，*workflow.Engine 满足该接口。
type Workflows interface {
	Execute(ctx context.Context, name string, input map[string]any) *workflow.Run
	Names() []string
}

// Emitter 向前端推送界面意图，*intent.Broadcaster 满足该接口。
type Emitter interface {
	Emit(ctx context.Context, in intent.Intent) (intent.Delivery, error)
}

var (
	_ CRM       = (*crm.Client)(nil)
	_ Workflows = (*workflow.Engine)(nil)
	_ Emitter   = (*intent.Broadcaster)(nil)
)

// Deps 汇总内置工具的依赖。
type Deps struct {
	CRM       CRM
	Workflows Workflows
	State     workflow.StateStore
	Intents   Emitter
	Now       func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Builtins 按固定顺序构造全部内置工具。
func Builtins(deps Deps) []Tool {
	if deps.State == nil {
		deps.State = workflow.NewMemoryStateStore()
	}
	return []Tool{
		&searchCustomers{deps: deps},
		&listTickets{deps: deps},
		&createNote{deps: deps},
		&sendEmail{deps: deps},
		&emitViewIntent{deps: deps},
		&customerStats{deps: deps},
		&bulkUpdateTickets{deps: deps},
		&generateReport{deps: deps},
		&executeWorkflow{deps: deps},
		&workflowDecision{},
		&setWorkflowState{deps: deps},
		&getWorkflowState{deps: deps},
		&createCustomer{deps: deps},
		&scheduleFollowup{deps: deps},
		&checkSLAStatus{deps: deps},
		&assignTicket{deps: deps},
		&createVisualization{deps: deps},
	}
}

// NewDefaultRegistry 创建包含全部内置工具的注册表。
func NewDefaultRegistry(deps Deps) (*Registry, error) {
	return NewRegistry(Builtins(deps)...)
}
