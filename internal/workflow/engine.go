package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/afredojala/agent-demo/internal/crm"
	xerrors "github.com/afredojala/agent-demo/internal/errors"
	"github.com/afredojala/agent-demo/internal/observability/metrics"
	"github.com/afredojala/agent-demo/pkg/logger"
)

const (
	CodeUnknownWorkflow xerrors.Code = "UNKNOWN_WORKFLOW"
	CodeStepFailed      xerrors.Code = "WORKFLOW_STEP_FAILED"
)

func init() {
	xerrors.Register(CodeUnknownWorkflow, xerrors.Attributes{
		Message:  "unknown workflow",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeStepFailed, xerrors.Attributes{
		Message:     "workflow step failed",
		Severity:    xerrors.SeverityWarning,
		ExposeCause: true,
	})
}

// Backend 是工作流执行动作所依赖的 CRM 能力，*crm.Client 满足该接口。
type Backend interface {
	CreateCustomer(ctx context.Context, in crm.NewCustomer) (*crm.Customer, error)
	ListCustomers(ctx context.Context) ([]crm.Customer, error)
	ListTickets(ctx context.Context, customerID, status string) ([]crm.Ticket, error)
	UpdateTicket(ctx context.Context, id string, patch crm.TicketPatch) (*crm.Ticket, error)
	CreateNote(ctx context.Context, ticketID, body string) (*crm.Note, error)
	SendEmail(ctx context.Context, email crm.Email) (map[string]any, error)
	ScheduleFollowup(ctx context.Context, f crm.Followup) (*crm.Followup, error)
	Analytics(ctx context.Context, kind string) (map[string]any, error)
}

// Recorder 把运行与步骤同步到 CRM 的 /workflows 接口。
type Recorder interface {
	StartWorkflow(ctx context.Context, name string) (*crm.WorkflowRecord, error)
	AppendWorkflowStep(ctx context.Context, workflowID string, step crm.WorkflowStep) error
}

var (
	_ Backend  = (*crm.Client)(nil)
	_ Recorder = (*crm.Client)(nil)
)

// 内置工作流名称。
const (
	CustomerOnboarding  = "customer_onboarding"
	TicketEscalation    = "ticket_escalation"
	WeeklyReport        = "weekly_report"
	CustomerHealthCheck = "customer_health_check"
)

// BuiltinNames 是全部内置工作流，按字母序排列。
var BuiltinNames = []string{CustomerHealthCheck, CustomerOnboarding, TicketEscalation, WeeklyReport}

type workflowFunc func(rc *runContext) (map[string]any, error)

// Engine 按名称执行内置工作流。
type Engine struct {
	backend   Backend
	state     StateStore
	history   *RunHistory
	recorder  Recorder
	now       func() time.Time
	assignees Assignees
	notifyTo  string
	workflows map[string]workflowFunc
	log       *slog.Logger
}

// Assignees 是升级流程中使用的处理人。
type Assignees struct {
	Manager       string
	SeniorSupport string
}

// Option 定义可选配置。
type Option func(*Engine)

// WithStateStore 注入共享状态存储。
func WithStateStore(store StateStore) Option {
	return func(e *Engine) {
		if store != nil {
			e.state = store
		}
	}
}

// WithRunHistory 注入运行历史。
func WithRunHistory(history *RunHistory) Option {
	return func(e *Engine) {
		if history != nil {
			e.history = history
		}
	}
}

// WithRecorder 把运行同步到外部记录。同步失败只记录日志。
func WithRecorder(recorder Recorder) Option {
	return func(e *Engine) {
		e.recorder = recorder
	}
}

// WithClock 替换时间来源，便于测试。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithAssignees 设置升级与监控的处理人。
func WithAssignees(a Assignees) Option {
	return func(e *Engine) {
		if a.Manager != "" {
			e.assignees.Manager = a.Manager
		}
		if a.SeniorSupport != "" {
			e.assignees.SeniorSupport = a.SeniorSupport
		}
	}
}

// WithNotifyEmail 设置汇总通知的收件人。
func WithNotifyEmail(to string) Option {
	return func(e *Engine) {
		if to != "" {
			e.notifyTo = to
		}
	}
}

// NewEngine 创建工作流引擎。
func NewEngine(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:   backend,
		state:     NewMemoryStateStore(),
		history:   NewRunHistory(100),
		now:       time.Now,
		assignees: Assignees{Manager: "manager", SeniorSupport: "senior_support"},
		notifyTo:  "ops@example.com",
		log:       logger.Named("workflow"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.workflows = map[string]workflowFunc{
		CustomerOnboarding:  e.customerOnboarding,
		TicketEscalation:    e.ticketEscalation,
		WeeklyReport:        e.weeklyReport,
		CustomerHealthCheck: e.customerHealthCheck,
	}
	return e
}

// Names 返回内置工作流名称（已排序）。
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.workflows))
	for name := range e.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// State 返回引擎使用的共享状态存储。
func (e *Engine) State() StateStore { return e.state }

// History 返回运行历史。
func (e *Engine) History() *RunHistory { return e.history }

// Execute 执行指定工作流并返回运行记录。未知工作流与步骤失败都体现在
// 返回的 Run 中（status 为 error），不会以 Go 错误或 panic 的形式向上传播。
func (e *Engine) Execute(ctx context.Context, name string, input map[string]any) *Run {
	run := &Run{
		ID:        uuid.NewString(),
		Workflow:  name,
		Status:    StatusRunning,
		Steps:     []string{},
		StartedAt: e.now(),
	}
	log := e.log.With(slog.String("workflow", name), slog.String("run_id", run.ID))

	fn, ok := e.workflows[name]
	if !ok {
		err := xerrors.New(CodeUnknownWorkflow, fmt.Sprintf("Unknown workflow %s", name))
		run.Status = StatusError
		run.Error = err.Message()
		run.FinishedAt = e.now()
		log.Warn("unknown workflow requested")
		return run
	}
	if input == nil {
		input = map[string]any{}
	}

	recordID := e.startRecord(ctx, name, log)
	log.Info("workflow started")

	rc := &runContext{ctx: ctx, engine: e, run: run, input: input, log: log}
	result, err := e.invoke(rc, fn)
	run.FinishedAt = e.now()
	if err != nil {
		run.Status = StatusError
		run.Error = xerrors.PublicMessage(err)
		log.Warn("workflow step failed", slog.Any("error", err), slog.Int("steps", len(run.Steps)))
	} else {
		run.Status = StatusCompleted
		run.Result = result
		log.Info("workflow completed", slog.Int("steps", len(run.Steps)))
	}

	e.history.Add(run)
	e.finishRecord(ctx, recordID, run, log)
	metrics.ObserveWorkflowRun(name, string(run.Status), run.FinishedAt.Sub(run.StartedAt))
	logger.Audit().Info("workflow finished",
		slog.String("workflow", name),
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)),
	)
	return run.Clone()
}

func (e *Engine) invoke(rc *runContext, fn workflowFunc) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			rc.log.Error("workflow panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = xerrors.New(CodeStepFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()
	return fn(rc)
}

func (e *Engine) startRecord(ctx context.Context, name string, log *slog.Logger) string {
	if e.recorder == nil {
		return ""
	}
	record, err := e.recorder.StartWorkflow(ctx, name)
	if err != nil {
		log.Warn("record workflow start failed", slog.Any("error", err))
		return ""
	}
	return record.ID
}

func (e *Engine) finishRecord(ctx context.Context, recordID string, run *Run, log *slog.Logger) {
	if e.recorder == nil || recordID == "" {
		return
	}
	for _, step := range run.Steps {
		if err := e.recorder.AppendWorkflowStep(ctx, recordID, crm.WorkflowStep{Name: step, Status: string(StatusCompleted)}); err != nil {
			log.Warn("record workflow step failed", slog.Any("error", err))
			return
		}
	}
	final := crm.WorkflowStep{Name: "result", Status: string(run.Status), Result: run.Result}
	if run.Status == StatusError {
		final.Result = map[string]any{"error": run.Error}
	}
	if err := e.recorder.AppendWorkflowStep(ctx, recordID, final); err != nil {
		log.Warn("record workflow result failed", slog.Any("error", err))
	}
}

// runContext 是单次运行的上下文，负责追加步骤日志。
type runContext struct {
	ctx    context.Context
	engine *Engine
	run    *Run
	input  map[string]any
	log    *slog.Logger
}

func (rc *runContext) step(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	rc.run.Steps = append(rc.run.Steps, msg)
	rc.log.Debug("workflow step", slog.String("step", msg))
}

func (rc *runContext) str(key string) string {
	return stringValue(rc.input[key])
}

func (rc *runContext) fail(err error, format string, args ...any) error {
	return xerrors.Wrap(CodeStepFailed, err, fmt.Sprintf(format, args...))
}

// followup 以当前时间为基准排期跟进任务。
func (rc *runContext) followup(customerID string, days int, taskType, description string) error {
	due := rc.engine.now().AddDate(0, 0, days).Format("2006-01-02")
	_, err := rc.engine.backend.ScheduleFollowup(rc.ctx, crm.Followup{
		CustomerID:  customerID,
		TaskType:    taskType,
		DueDate:     due,
		Description: description,
	})
	if err != nil {
		return rc.fail(err, "schedule %s follow-up", taskType)
	}
	return nil
}

func (rc *runContext) notify(subject string, lines []string) error {
	_, err := rc.engine.backend.SendEmail(rc.ctx, crm.Email{
		To:      rc.engine.notifyTo,
		Subject: subject,
		Body:    strings.Join(lines, "\n"),
	})
	if err != nil {
		return rc.fail(err, "send %q notification", subject)
	}
	return nil
}
