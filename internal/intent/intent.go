package intent

import (
	"fmt"
	"slices"
	"strings"

	xerrors "github.com/afredojala/agent-demo/internal/errors"
)

// Type 是界面意图的种类。
type Type string

const (
	SetView              Type = "set_view"
	AddPanel             Type = "add_panel"
	RemovePanel          Type = "remove_panel"
	RenderChart          Type = "render_chart"
	AddComponent         Type = "add_component"
	UpdateComponentProps Type = "update_component_props"
	RemoveComponent      Type = "remove_component"
)

// Views 是前端可切换的视图。
var Views = []string{
	"customer-list", "customer-detail", "triage", "dashboard",
	"analytics", "timeline", "calendar", "workflow",
}

// Panels 是可挂载的面板。
var Panels = []string{"NotesPanel"}

// ChartView 是渲染图表后前端自动切换到的视图。
const ChartView = "analytics"

// Intent 是推送给前端的界面控制消息。字段名与前端约定一致，
// 仅 type 必填，其余字段按类型出现。
type Intent struct {
	Type        Type           `json:"type"`
	ViewID      string         `json:"view_id,omitempty"`
	Panel       string         `json:"panel,omitempty"`
	ChartConfig map[string]any `json:"chartConfig,omitempty"`
	ContainerID string         `json:"containerId,omitempty"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Component   string         `json:"component,omitempty"`
	ID          string         `json:"id,omitempty"`
	Props       map[string]any `json:"props,omitempty"`
}

// Validate 检查每种意图所需的字段。
func (i Intent) Validate() error {
	switch i.Type {
	case SetView:
		if !slices.Contains(Views, i.ViewID) {
			return invalid("set_view requires view_id, one of %s", strings.Join(Views, ", "))
		}
	case AddPanel, RemovePanel:
		if !slices.Contains(Panels, i.Panel) {
			return invalid("%s requires panel, one of %s", i.Type, strings.Join(Panels, ", "))
		}
	case RenderChart:
		if i.ChartConfig == nil || i.ContainerID == "" {
			return invalid("render_chart requires chartConfig and containerId")
		}
	case AddComponent:
		if i.Component == "" || i.ID == "" {
			return invalid("add_component requires component and id")
		}
	case UpdateComponentProps:
		if i.ID == "" || i.Props == nil {
			return invalid("update_component_props requires id and props")
		}
	case RemoveComponent:
		if i.ID == "" {
			return invalid("remove_component requires id")
		}
	case "":
		return invalid("intent type is required")
	default:
		return invalid("unknown intent type %q", i.Type)
	}
	return nil
}

// View 返回该意图生效后前端所处的视图；不改变视图时返回空串。
func (i Intent) View() string {
	switch i.Type {
	case SetView:
		return i.ViewID
	case RenderChart:
		return ChartView
	default:
		return ""
	}
}

func invalid(format string, args ...any) error {
	return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf(format, args...))
}
