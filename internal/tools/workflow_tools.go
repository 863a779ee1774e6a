package tools

import (
	"context"

	xerrors "github.com/afredojala/agent-demo/internal/errors"
	"github.com/afredojala/agent-demo/internal/workflow"
)

type executeWorkflow struct{ deps Deps }

func (t *executeWorkflow) Definition() Definition {
	return Definition{
		Name: "tool_execute_workflow",
		Description: "Run a multi-step business workflow with decision points. " +
			"customer_onboarding needs context.customer_email (optional customer_name, ticket_count, ticket_id); " +
			"ticket_escalation and customer_health_check accept an optional context.customer_id.",
		Params: []ParamSpec{
			{Name: "workflow_name", Type: TypeString, Required: true, Enum: workflow.BuiltinNames},
			{Name: "context", Type: TypeObject, Description: "Workflow input."},
		},
	}
}

// Execute 返回运行记录本身。工作流失败不视为工具失败，模型可以从
// status 与 error 字段看到已完成的步骤和失败原因。
func (t *executeWorkflow) Execute(ctx context.Context, args Args) (any, error) {
	run := t.deps.Workflows.Execute(ctx, args.String("workflow_name"), args.Object("context"))
	return run.Payload(), nil
}

type workflowDecision struct{}

func (t *workflowDecision) Definition() Definition {
	return Definition{
		Name:        "tool_workflow_decision",
		Description: "Evaluate a decision point. Known conditions are high_value (ticket_count, email) and sla_critical (days_old, priority); other conditions pick the first option.",
		Params: []ParamSpec{
			{Name: "condition", Type: TypeString, Required: true},
			{Name: "data", Type: TypeObject, Required: true},
			{Name: "options", Type: TypeArray, Items: TypeString},
		},
	}
}

func (t *workflowDecision) Execute(_ context.Context, args Args) (any, error) {
	return workflow.Decide(args.String("condition"), args.Object("data"), args.Strings("options")), nil
}

type setWorkflowState struct{ deps Deps }

func (t *setWorkflowState) Definition() Definition {
	return Definition{
		Name:        "tool_set_workflow_state",
		Description: "Store a JSON object under a key so later steps can read it back.",
		Params: []ParamSpec{
			{Name: "key", Type: TypeString, Required: true},
			{Name: "value", Type: TypeObject, Required: true},
		},
	}
}

func (t *setWorkflowState) Execute(ctx context.Context, args Args) (any, error) {
	key := args.String("key")
	if key == "" {
		return nil, invalidArgs(t.Definition().Name, "key must not be empty")
	}
	if err := t.deps.State.Set(ctx, key, args.Object("value")); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "save workflow state")
	}
	return map[string]any{"status": "stored", "key": key}, nil
}

type getWorkflowState struct{ deps Deps }

func (t *getWorkflowState) Definition() Definition {
	return Definition{
		Name:        "tool_get_workflow_state",
		Description: "Read the JSON object stored under a key. Missing keys return an empty object.",
		Params: []ParamSpec{
			{Name: "key", Type: TypeString, Required: true},
		},
	}
}

func (t *getWorkflowState) Execute(ctx context.Context, args Args) (any, error) {
	key := args.String("key")
	value, err := t.deps.State.Get(ctx, key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load workflow state")
	}
	return map[string]any{"key": key, "value": value}, nil
}
