package tools

import (
	"encoding/json"
	"strings"

	xerrors "github.com/afredojala/agent-demo/internal/errors"
)

// Args 是模型传入的工具参数，数值统一为 float64。
type Args map[string]any

// DecodeArgs 解析模型给出的 arguments 字符串，空串视为空对象。
func DecodeArgs(raw string) (Args, error) {
	if strings.TrimSpace(raw) == "" {
		return Args{}, nil
	}
	var args Args
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, xerrors.Wrap(CodeInvalidArguments, err, "arguments are not a valid JSON object")
	}
	if args == nil {
		args = Args{}
	}
	return args, nil
}

// String 返回字符串参数，缺失时为空串。
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// StringOr 返回字符串参数，缺失或为空时返回 def。
func (a Args) StringOr(key, def string) string {
	if s := a.String(key); s != "" {
		return s
	}
	return def
}

// Int 返回整数参数，缺失时返回 def。
func (a Args) Int(key string, def int) int {
	if f, ok := a[key].(float64); ok {
		return int(f)
	}
	return def
}

// Object 返回对象参数，缺失时为 nil。
func (a Args) Object(key string) map[string]any {
	m, _ := a[key].(map[string]any)
	return m
}

// Strings 返回字符串数组参数，忽略非字符串元素。
func (a Args) Strings(key string) []string {
	items, _ := a[key].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
