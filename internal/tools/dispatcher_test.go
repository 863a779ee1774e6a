package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afredojala/agent-demo/internal/llm"
)

type stubTool struct {
	def  Definition
	exec func(ctx context.Context, args Args) (any, error)
}

func (s *stubTool) Definition() Definition { return s.def }

func (s *stubTool) Execute(ctx context.Context, args Args) (any, error) {
	return s.exec(ctx, args)
}

func echoTool() *stubTool {
	return &stubTool{
		def: Definition{
			Name: "tool_echo",
			Params: []ParamSpec{
				{Name: "text", Type: TypeString, Required: true},
				{Name: "mode", Type: TypeString, Enum: []string{"loud", "quiet"}},
				{Name: "count", Type: TypeInteger},
				{Name: "tags", Type: TypeArray, Items: TypeString},
			},
		},
		exec: func(_ context.Context, args Args) (any, error) {
			return map[string]any{"echo": args.String("text")}, nil
		},
	}
}

func newTestDispatcher(t *testing.T, tools ...Tool) *Dispatcher {
	t.Helper()
	reg, err := NewRegistry(tools...)
	require.NoError(t, err)
	return NewDispatcher(reg)
}

func call(name, args string) llm.ToolCall {
	return llm.ToolCall{ID: "call-1", Type: "function", Function: llm.FunctionCall{Name: name, Arguments: args}}
}

func errorOf(t *testing.T, res Result) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.Content()), &body))
	return body["error"]
}

func TestDispatchSuccess(t *testing.T) {
	d := newTestDispatcher(t, echoTool())

	res := d.Dispatch(context.Background(), call("tool_echo", `{"text":"hi","count":2}`))

	require.True(t, res.OK())
	assert.Equal(t, "call-1", res.CallID)
	assert.JSONEq(t, `{"echo":"hi"}`, res.Content())

	msg := res.Message()
	assert.Equal(t, llm.RoleTool, msg.Role)
	assert.Equal(t, "call-1", msg.ToolCallID)
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newTestDispatcher(t, echoTool())

	res := d.Dispatch(context.Background(), call("tool_nope", `{}`))

	require.False(t, res.OK())
	assert.JSONEq(t, `{"error":"Unknown tool tool_nope"}`, res.Content())

	// 未知工具优先于参数解析失败。
	res = d.Dispatch(context.Background(), call("tool_nope", `{"a":`))
	assert.JSONEq(t, `{"error":"Unknown tool tool_nope"}`, res.Content())
}

func TestDispatchInvalidJSON(t *testing.T) {
	d := newTestDispatcher(t, echoTool())

	res := d.Dispatch(context.Background(), call("tool_echo", `{"text":`))

	require.False(t, res.OK())
	assert.Contains(t, errorOf(t, res), "arguments are not a valid JSON object")
}

func TestDispatchValidation(t *testing.T) {
	cases := map[string]struct {
		args string
		want string
	}{
		"missing required": {args: `{}`, want: `missing required argument "text"`},
		"wrong type":       {args: `{"text":5}`, want: `argument "text" must be of type string`},
		"enum":             {args: `{"text":"a","mode":"shout"}`, want: `argument "mode" must be one of loud, quiet`},
		"fractional int":   {args: `{"text":"a","count":1.5}`, want: `argument "count" must be of type integer`},
		"array items":      {args: `{"text":"a","tags":["x",1]}`, want: `argument "tags"[1] must be of type string`},
		"unexpected":       {args: `{"text":"a","extra":true}`, want: `unexpected argument "extra"`},
	}
	executed := false
	tool := echoTool()
	tool.exec = func(context.Context, Args) (any, error) {
		executed = true
		return nil, nil
	}
	d := newTestDispatcher(t, tool)

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := d.Dispatch(context.Background(), call("tool_echo", tc.args))
			require.False(t, res.OK())
			assert.Contains(t, errorOf(t, res), tc.want)
		})
	}
	assert.False(t, executed)
}

func TestDispatchEmptyArgumentsAreEmptyObject(t *testing.T) {
	var got Args
	tool := &stubTool{
		def: Definition{Name: "tool_noargs"},
		exec: func(_ context.Context, args Args) (any, error) {
			got = args
			return "ok", nil
		},
	}
	d := newTestDispatcher(t, tool)

	res := d.Dispatch(context.Background(), call("tool_noargs", ""))

	require.True(t, res.OK())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestDispatchHandlerError(t *testing.T) {
	tool := echoTool()
	tool.exec = func(context.Context, Args) (any, error) {
		return nil, errors.New("crm unreachable")
	}
	d := newTestDispatcher(t, tool)

	res := d.Dispatch(context.Background(), call("tool_echo", `{"text":"x"}`))

	assert.JSONEq(t, `{"error":"crm unreachable"}`, res.Content())
}

func TestDispatchRecoversPanic(t *testing.T) {
	tool := echoTool()
	tool.exec = func(context.Context, Args) (any, error) {
		panic("boom")
	}
	d := newTestDispatcher(t, tool)

	var res Result
	require.NotPanics(t, func() {
		res = d.Dispatch(context.Background(), call("tool_echo", `{"text":"x"}`))
	})
	require.False(t, res.OK())
	assert.Contains(t, errorOf(t, res), "boom")
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(echoTool(), echoTool())
	require.Error(t, err)
}

func TestDefinitionSchema(t *testing.T) {
	schema := echoTool().Definition().Schema()

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"text"}, schema["required"])
	props := schema["properties"].(map[string]any)
	mode := props["mode"].(map[string]any)
	assert.Equal(t, []string{"loud", "quiet"}, mode["enum"])
	tags := props["tags"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "string"}, tags["items"])

	tool := echoTool().Definition().LLMTool()
	assert.Equal(t, "function", tool.Type)
	assert.Equal(t, "tool_echo", tool.Function.Name)
	assert.Contains(t, string(tool.Function.Parameters), `"required":["text"]`)
}
