package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	xerrors "github.com/afredojala/agent-demo/internal/errors"
	"github.com/afredojala/agent-demo/internal/llm"
	"github.com/afredojala/agent-demo/internal/observability/metrics"
	"github.com/afredojala/agent-demo/pkg/logger"
)

// ViewChanger 由会改变前端视图的工具结果实现。
type ViewChanger interface {
	ViewChange() string
}

// Result 是一次工具调用的结果，CallID 与请求中的调用 ID 一致。
type Result struct {
	CallID  string
	Name    string
	Payload any
	Err     error
	// View 是本次调用导致的视图切换，未切换时为空。
	View     string
	Duration time.Duration
}

// OK 表示调用成功。
func (r Result) OK() bool { return r.Err == nil }

// Content 返回回传给模型的 JSON 文本。失败时为 {"error": "..."}。
func (r Result) Content() string {
	if r.Err != nil {
		return errorContent(xerrors.PublicMessage(r.Err))
	}
	data, err := json.Marshal(r.Payload)
	if err != nil {
		return errorContent(fmt.Sprintf("encode result: %v", err))
	}
	return string(data)
}

// Message 把结果包装为 tool 角色的会话消息。
func (r Result) Message() llm.Message {
	return llm.Message{Role: llm.RoleTool, ToolCallID: r.CallID, Content: r.Content()}
}

func errorContent(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

// Dispatcher 把模型发起的工具调用路由到注册表中的实现。
type Dispatcher struct {
	registry *Registry
	log      *slog.Logger
}

// NewDispatcher 创建调度器。
func NewDispatcher(registry *Registry) *Dispatcher {
	if registry == nil {
		registry = &Registry{tools: map[string]Tool{}}
	}
	return &Dispatcher{registry: registry, log: logger.Named("tools")}
}

// Registry 返回调度器使用的注册表。
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch 执行一次工具调用。任何失败都以错误结果返回，不会向上 panic。
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.ToolCall) Result {
	name := call.Function.Name
	res := Result{CallID: call.ID, Name: name}
	start := time.Now()
	log := d.log.With(slog.String("tool", name), slog.String("call_id", call.ID))

	defer func() {
		res.Duration = time.Since(start)
		metrics.ObserveToolDispatch(name, res.OK())
	}()

	tool, ok := d.registry.Lookup(name)
	if !ok {
		log.Warn("模型请求了未注册的工具")
		res.Err = xerrors.New(CodeUnknownTool, "Unknown tool "+name)
		return res
	}

	args, err := DecodeArgs(call.Function.Arguments)
	if err != nil {
		log.Warn("工具参数解析失败", slog.Any("error", err))
		res.Err = err
		return res
	}

	if err := tool.Definition().Validate(args); err != nil {
		log.Warn("工具参数校验失败", slog.Any("error", err))
		res.Err = err
		return res
	}

	payload, err := d.execute(ctx, tool, args, log)
	if err != nil {
		log.Warn("工具执行失败", slog.Any("error", err))
		res.Err = err
		return res
	}
	res.Payload = payload
	if vc, ok := payload.(ViewChanger); ok {
		res.View = vc.ViewChange()
	}
	log.Debug("工具执行完成", slog.Duration("duration", time.Since(start)))
	return res
}

func (d *Dispatcher) execute(ctx context.Context, tool Tool, args Args, log *slog.Logger) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("工具执行 panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = xerrors.New(CodeToolFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()
	return tool.Execute(ctx, args)
}
