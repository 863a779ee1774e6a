package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	xerrors "github.com/afredojala/agent-demo/internal/errors"
	"github.com/afredojala/agent-demo/internal/llm"
)

// ParamType 是参数的 JSON 基础类型。
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// ParamSpec 描述工具的一个参数。
type ParamSpec struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
	// Items 仅在 Type 为 array 时生效。
	Items ParamType
}

// Definition 是工具对模型公开的契约。
type Definition struct {
	Name        string
	Description string
	Params      []ParamSpec
}

// Schema 渲染发送给模型的 JSON Schema 对象。
func (d Definition) Schema() map[string]any {
	properties := make(map[string]any, len(d.Params))
	required := make([]string, 0, len(d.Params))
	for _, p := range d.Params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = slices.Clone(p.Enum)
		}
		if p.Type == TypeArray {
			items := p.Items
			if items == "" {
				items = TypeString
			}
			prop["items"] = map[string]any{"type": string(items)}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// LLMTool 转换为补全接口使用的工具描述。
func (d Definition) LLMTool() llm.Tool {
	raw, _ := json.Marshal(d.Schema())
	return llm.Tool{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  raw,
		},
	}
}

// Validate 按契约检查参数：必填、基础类型与枚举，未声明的参数会被拒绝。
func (d Definition) Validate(args Args) error {
	known := make(map[string]ParamSpec, len(d.Params))
	for _, p := range d.Params {
		known[p.Name] = p
		value, ok := args[p.Name]
		if !ok || value == nil {
			if p.Required {
				return invalidArgs(d.Name, "missing required argument %q", p.Name)
			}
			continue
		}
		if !matchesType(value, p.Type) {
			return invalidArgs(d.Name, "argument %q must be of type %s", p.Name, p.Type)
		}
		if len(p.Enum) > 0 {
			s, _ := value.(string)
			if !slices.Contains(p.Enum, s) {
				return invalidArgs(d.Name, "argument %q must be one of %s", p.Name, strings.Join(p.Enum, ", "))
			}
		}
		if p.Type == TypeArray && p.Items != "" {
			for i, item := range value.([]any) {
				if !matchesType(item, p.Items) {
					return invalidArgs(d.Name, "argument %q[%d] must be of type %s", p.Name, i, p.Items)
				}
			}
		}
	}
	var unexpected []string
	for name := range args {
		if _, ok := known[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return invalidArgs(d.Name, "unexpected argument %q", unexpected[0])
	}
	return nil
}

func matchesType(value any, t ParamType) bool {
	switch t {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeInteger:
		f, ok := value.(float64)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case TypeNumber:
		_, ok := value.(float64)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	case TypeArray:
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}

func invalidArgs(tool, format string, args ...any) error {
	return xerrors.New(CodeInvalidArguments, fmt.Sprintf(format, args...), xerrors.WithMetadata("tool", tool))
}
