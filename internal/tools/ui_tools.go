package tools

import (
	"context"
	"sort"

	"github.com/google/uuid"

	xerrors "github.com/afredojala/agent-demo/internal/errors"
	"github.com/afredojala/agent-demo/internal/intent"
)

var (
	viewIntentTypes = []string{string(intent.SetView), string(intent.AddPanel), string(intent.RemovePanel)}
	chartTypes      = []string{"bar", "line", "pie", "doughnut"}
	chartQueries    = []string{"customer_activity", "ticket_status", "ticket_trends", "customer_health"}
	chartPalette    = []string{"#4e79a7", "#f28e2b", "#e15759", "#76b7b2", "#59a14f", "#edc948", "#b07aa1", "#ff9da7"}
)

// Emitted 是推送意图类工具的结果。
type Emitted struct {
	Status    string        `json:"status"`
	Intent    intent.Intent `json:"intent"`
	Delivered int           `json:"delivered"`
	Dropped   int           `json:"dropped"`
}

// ViewChange 实现 ViewChanger。
func (e Emitted) ViewChange() string { return e.Intent.View() }

func emit(ctx context.Context, em Emitter, in intent.Intent) (Emitted, error) {
	if em == nil {
		return Emitted{}, xerrors.New(xerrors.CodeInitializationFailure, "intent channel is not configured")
	}
	d, err := em.Emit(ctx, in)
	if err != nil {
		return Emitted{}, err
	}
	return Emitted{Status: "sent", Intent: in, Delivered: d.Delivered, Dropped: d.Dropped}, nil
}

type emitViewIntent struct{ deps Deps }

func (t *emitViewIntent) Definition() Definition {
	return Definition{
		Name:        "tool_emit_view_intent",
		Description: "Control the UI by setting a view or adding/removing panels.",
		Params: []ParamSpec{
			{Name: "type", Type: TypeString, Required: true, Enum: viewIntentTypes},
			{Name: "view_id", Type: TypeString, Enum: intent.Views},
			{Name: "panel", Type: TypeString, Enum: intent.Panels},
		},
	}
}

func (t *emitViewIntent) Execute(ctx context.Context, args Args) (any, error) {
	return emit(ctx, t.deps.Intents, intent.Intent{
		Type:   intent.Type(args.String("type")),
		ViewID: args.String("view_id"),
		Panel:  args.String("panel"),
	})
}

// Visualization 是 tool_create_visualization 的结果。
type Visualization struct {
	Emitted
	ContainerID string `json:"container_id"`
	ChartType   string `json:"chart_type"`
	DataPoints  int    `json:"data_points"`
}

type createVisualization struct{ deps Deps }

func (t *createVisualization) Definition() Definition {
	return Definition{
		Name:        "tool_create_visualization",
		Description: "Render a chart in the UI from CRM data. Bar for comparisons, line for trends over time, pie or doughnut for distributions.",
		Params: []ParamSpec{
			{Name: "chart_type", Type: TypeString, Required: true, Enum: chartTypes},
			{Name: "data_query", Type: TypeString, Required: true, Enum: chartQueries},
			{Name: "title", Type: TypeString, Required: true},
			{Name: "description", Type: TypeString},
		},
	}
}

func (t *createVisualization) Execute(ctx context.Context, args Args) (any, error) {
	data, err := loadCustomerTickets(ctx, t.deps.CRM)
	if err != nil {
		return nil, err
	}
	points := buildSeries(args.String("data_query"), data)
	chartType, title := args.String("chart_type"), args.String("title")
	containerID := "chart-" + uuid.NewString()

	emitted, err := emit(ctx, t.deps.Intents, intent.Intent{
		Type:        intent.RenderChart,
		ChartConfig: chartConfig(chartType, title, points),
		ContainerID: containerID,
		Title:       title,
		Description: args.String("description"),
	})
	if err != nil {
		return nil, err
	}
	return Visualization{
		Emitted:     emitted,
		ContainerID: containerID,
		ChartType:   chartType,
		DataPoints:  len(points.labels),
	}, nil
}

// series 是单数据集图表的数据。
type series struct {
	label  string
	labels []string
	values []float64
}

func buildSeries(query string, data []customerTickets) series {
	switch query {
	case "ticket_status":
		counts := statusSummary(data)
		return countSeries("Tickets by status", counts)
	case "ticket_trends":
		counts := map[string]int{}
		for _, d := range data {
			for _, tk := range d.tickets {
				if len(tk.CreatedAt) >= 10 {
					counts[tk.CreatedAt[:10]]++
				}
			}
		}
		return countSeries("Tickets created", counts)
	case "customer_health":
		s := series{label: "Health score"}
		for _, d := range data {
			s.labels = append(s.labels, d.customer.Name)
			s.values = append(s.values, float64(d.customer.Health()))
		}
		return s
	default:
		s := series{label: "Tickets"}
		for _, d := range data {
			s.labels = append(s.labels, d.customer.Name)
			s.values = append(s.values, float64(len(d.tickets)))
		}
		return s
	}
}

// countSeries 把计数表按键排序后转换为数据集。
func countSeries(label string, counts map[string]int) series {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := series{label: label, labels: keys, values: make([]float64, 0, len(keys))}
	for _, k := range keys {
		s.values = append(s.values, float64(counts[k]))
	}
	return s
}

// chartConfig 生成前端 Chart.js 使用的配置。
func chartConfig(chartType, title string, s series) map[string]any {
	labels := s.labels
	if labels == nil {
		labels = []string{}
	}
	values := s.values
	if values == nil {
		values = []float64{}
	}
	colors := make([]string, len(labels))
	for i := range colors {
		colors[i] = chartPalette[i%len(chartPalette)]
	}
	dataset := map[string]any{
		"label":           s.label,
		"data":            values,
		"backgroundColor": colors,
	}
	if chartType == "line" {
		dataset["backgroundColor"] = chartPalette[0]
		dataset["borderColor"] = chartPalette[0]
		dataset["fill"] = false
	}
	return map[string]any{
		"type": chartType,
		"data": map[string]any{
			"labels":   labels,
			"datasets": []any{dataset},
		},
		"options": map[string]any{
			"responsive": true,
			"plugins": map[string]any{
				"title": map[string]any{"display": title != "", "text": title},
			},
		},
	}
}
