package tools

import (
	"context"
	"fmt"
	"sync"

	xerrors "github.com/afredojala/agent-demo/internal/errors"
	"github.com/afredojala/agent-demo/internal/llm"
)

const (
	CodeUnknownTool      xerrors.Code = "UNKNOWN_TOOL"
	CodeInvalidArguments xerrors.Code = "INVALID_TOOL_ARGUMENTS"
	CodeToolFailed       xerrors.Code = "TOOL_EXECUTION_FAILED"
)

func init() {
	xerrors.Register(CodeUnknownTool, xerrors.Attributes{
		Message:  "unknown tool",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidArguments, xerrors.Attributes{
		Message:     "invalid tool arguments",
		Severity:    xerrors.SeverityInfo,
		ExposeCause: true,
	})
	xerrors.Register(CodeToolFailed, xerrors.Attributes{
		Message:     "tool execution failed",
		Severity:    xerrors.SeverityWarning,
		ExposeCause: true,
	})
}

// Tool 是可被模型调用的能力。同步与异步实现共用同一契约，
// Execute 返回时结果即已就绪。
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, args Args) (any, error)
}

// Registry 维护工具名到实现的静态映射，保留注册顺序。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry 创建注册表并注册给定工具。
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册工具，名称重复时报错。
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "tool is nil")
	}
	name := t.Definition().Name
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "tool name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("tool %s already registered", name))
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Lookup 按名称查找工具。
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names 按注册顺序返回工具名。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions 按注册顺序返回全部工具契约。
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

// LLMTools 返回随每次补全请求发送的工具列表。
func (r *Registry) LLMTools() []llm.Tool {
	defs := r.Definitions()
	out := make([]llm.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.LLMTool())
	}
	return out
}
