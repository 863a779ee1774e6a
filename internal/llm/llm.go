package llm

import (
	"context"
	"encoding/json"
)

// 会话中的角色。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message 是会话中的一条消息，可以携带工具调用请求或工具结果。
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall 表示模型请求的一次工具调用。
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall 保存被调用的工具名称与 JSON 编码的参数。
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool 是暴露给模型的函数描述。
type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef 描述一个可被调用的函数及其参数的 JSON Schema。
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request 描述一次补全请求。采样温度与 tool_choice 由客户端固定。
type Request struct {
	Messages []Message
	Tools    []Tool
}

// Response 是模型返回的一条 assistant 消息。
type Response struct {
	Message      Message
	FinishReason string
}

// Client 定义了调用补全接口的统一方式。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
