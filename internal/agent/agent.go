package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	xerrors "github.com/afredojala/agent-demo/internal/errors"
	"github.com/afredojala/agent-demo/internal/llm"
	"github.com/afredojala/agent-demo/internal/observability/metrics"
	"github.com/afredojala/agent-demo/internal/tools"
	"github.com/afredojala/agent-demo/pkg/logger"
)

// 运行结束时返回给用户的固定文本。
const (
	ReplyCompleted     = "Task completed"
	ReplyMaxIterations = "Task execution exceeded maximum iterations"
	replyErrorPrefix   = "Error during task execution: "
)

// 运行的结束原因。
const (
	OutcomeAnswered      = "answered"
	OutcomeMaxIterations = "max_iterations"
	OutcomeTransportErr  = "transport_error"
)

// DefaultMaxIterations 是单次运行允许的补全轮数上限。
const DefaultMaxIterations = 10

// Result 汇总一次运行的结果。
type Result struct {
	Reply string `json:"reply"`
	// ViewChange 是运行中最后一次生效的视图切换，没有切换时为空。
	ViewChange string `json:"view_change,omitempty"`
	Iterations int    `json:"iterations"`
	ToolCalls  int    `json:"tool_calls"`
	Outcome    string `json:"outcome"`
}

// Runner 执行一个自然语言目标。
type Runner interface {
	Run(ctx context.Context, goal string) (*Result, error)
}

// Orchestrator 驱动模型与工具之间的多轮调用，直到模型给出最终答复。
type Orchestrator struct {
	llmClient     llm.Client
	dispatcher    *tools.Dispatcher
	maxIterations int
	llmTimeout    time.Duration
	systemPrompt  string
	log           *slog.Logger
}

var _ Runner = (*Orchestrator)(nil)

// Option 定义可选的编排器配置。
type Option func(*Orchestrator)

// WithMaxIterations 收紧补全轮数上限，超过 DefaultMaxIterations 的值按 DefaultMaxIterations 处理。
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = min(n, DefaultMaxIterations)
		}
	}
}

// WithLLMTimeout 设置单次补全调用的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout <= 0 {
			o.llmTimeout = 0
			return
		}
		o.llmTimeout = timeout
	}
}

// WithSystemPrompt 替换默认系统提示词。
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) {
		if strings.TrimSpace(prompt) != "" {
			o.systemPrompt = prompt
		}
	}
}

// New 创建编排器。
func New(llmClient llm.Client, dispatcher *tools.Dispatcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llmClient:     llmClient,
		dispatcher:    dispatcher,
		maxIterations: DefaultMaxIterations,
		systemPrompt:  DefaultSystemPrompt,
		log:           logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.dispatcher == nil {
		o.dispatcher = tools.NewDispatcher(nil)
	}
	return o
}

// Run 执行用户目标。补全接口失败、工具失败与轮数耗尽都体现在 Reply 中；
// 返回的 error 只用于目标为空或编排器未配置模型的情况。
func (o *Orchestrator) Run(ctx context.Context, goal string) (*Result, error) {
	if o.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if strings.TrimSpace(goal) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务目标不能为空")
	}

	start := time.Now()
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: o.systemPrompt},
		{Role: llm.RoleUser, Content: goal},
	}
	toolDefs := o.dispatcher.Registry().LLMTools()
	result := &Result{}

	for result.Iterations < o.maxIterations {
		result.Iterations++

		resp, err := o.complete(ctx, llm.Request{Messages: messages, Tools: toolDefs})
		if err != nil {
			o.log.Warn("补全接口调用失败",
				slog.Int("iteration", result.Iterations),
				slog.Any("error", o.classify(err)),
			)
			result.Reply = replyErrorPrefix + err.Error()
			result.Outcome = OutcomeTransportErr
			return o.finish(result, start), nil
		}

		msg := resp.Message
		msg.Role = llm.RoleAssistant
		messages = append(messages, msg)

		if len(msg.ToolCalls) == 0 {
			result.Reply = msg.Content
			if result.Reply == "" {
				result.Reply = ReplyCompleted
			}
			result.Outcome = OutcomeAnswered
			return o.finish(result, start), nil
		}

		for _, call := range msg.ToolCalls {
			res := o.dispatcher.Dispatch(ctx, call)
			messages = append(messages, res.Message())
			result.ToolCalls++
			if res.View != "" {
				result.ViewChange = res.View
			}
		}
	}

	result.Reply = ReplyMaxIterations
	result.Outcome = OutcomeMaxIterations
	return o.finish(result, start), nil
}

func (o *Orchestrator) complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	callCtx := ctx
	if o.llmTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.llmTimeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := o.llmClient.Complete(callCtx, req)
	if err == nil && resp == nil {
		err = stdErrors.New("empty completion response")
	}
	metrics.ObserveCompletion(err, time.Since(start))
	return resp, err
}

// classify 为日志附加统一错误码。
func (o *Orchestrator) classify(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
	}
	return xerrors.Wrap(xerrors.CodeCompletionTransport, err, "大模型推理失败")
}

func (o *Orchestrator) finish(result *Result, start time.Time) *Result {
	metrics.ObserveRun(result.Outcome, result.Iterations)
	o.log.Info("任务执行结束",
		slog.String("outcome", result.Outcome),
		slog.Int("iterations", result.Iterations),
		slog.Int("tool_calls", result.ToolCalls),
		slog.String("view_change", result.ViewChange),
		slog.Duration("duration", time.Since(start)),
	)
	logger.Audit().Info("agent run finished",
		slog.String("outcome", result.Outcome),
		slog.Int("iterations", result.Iterations),
	)
	return result
}
