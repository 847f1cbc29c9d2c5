package chart

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"dario.cat/mergo"

	"github.com/zhouzirui/datachat/backend/internal/model/analyst"
)

const vegaLiteSchema = "https://vega.github.io/schema/vega-lite/v5.json"

// chartHeight matches the fixed height the chat panel reserves for charts.
const chartHeight = 400

var ErrNoChartSource = errors.New("chart has neither spec nor data")

// Palette colours series in order and wraps around after the last entry.
var Palette = []string{"#2563eb", "#16a34a", "#f59e0b", "#dc2626", "#9333ea"}

func defaults() map[string]any {
	return map[string]any{
		"$schema":    vegaLiteSchema,
		"background": "transparent",
		"autosize":   map[string]any{"type": "fit", "contains": "padding"},
		"width":      "container",
	}
}

// ResolveSpec turns a chart into a renderable Vega-Lite specification.
// Top-level keys of a provided spec replace the panel defaults wholesale,
// including empty and null values. Raw data is drawn as grouped bars or a
// multi-series line.
func ResolveSpec(c *analyst.Chart) (map[string]any, error) {
	if c == nil {
		return nil, ErrNoChartSource
	}
	if len(c.Spec) > 0 {
		return fromSpec(c.Spec)
	}
	if c.Data != nil {
		return fromData(c)
	}
	return nil, ErrNoChartSource
}

func fromSpec(raw json.RawMessage) (map[string]any, error) {
	provided := make(map[string]any)
	if err := json.Unmarshal(raw, &provided); err != nil {
		return nil, fmt.Errorf("decode chart spec: %w", err)
	}
	spec := defaults()
	maps.Copy(spec, provided)
	return spec, nil
}

func fromData(c *analyst.Chart) (map[string]any, error) {
	data := c.Data

	// Values past the last label are dropped, missing ones are skipped.
	rows := make([]map[string]any, 0, len(data.Labels)*len(data.Datasets))
	for i, label := range data.Labels {
		for _, ds := range data.Datasets {
			if i >= len(ds.Values) {
				continue
			}
			rows = append(rows, map[string]any{
				"label":  label,
				"series": ds.Name,
				"value":  ds.Values[i],
			})
		}
	}

	mark := map[string]any{"type": "bar", "tooltip": true, "cornerRadiusEnd": 4}
	if c.Type == analyst.ChartLine {
		mark = map[string]any{"type": "line", "tooltip": true, "point": true}
	}

	x := map[string]any{
		"field": "label",
		"type":  "nominal",
		"sort":  nil,
		"axis":  map[string]any{"labelAngle": -30},
	}
	if c.XLabel != "" {
		x["title"] = c.XLabel
	}
	y := map[string]any{"field": "value", "type": "quantitative"}
	if c.YLabel != "" {
		y["title"] = c.YLabel
	}

	encoding := map[string]any{
		"x": x,
		"y": y,
		"color": map[string]any{
			"field":  "series",
			"type":   "nominal",
			"scale":  map[string]any{"range": Palette},
			"legend": map[string]any{"orient": "top"},
		},
	}
	if mark["type"] == "bar" {
		encoding["xOffset"] = map[string]any{"field": "series"}
	}

	spec := map[string]any{
		"height":   chartHeight,
		"data":     map[string]any{"values": rows},
		"mark":     mark,
		"encoding": encoding,
	}
	if c.Title != "" {
		spec["title"] = c.Title
	}
	if err := mergo.Merge(&spec, defaults()); err != nil {
		return nil, fmt.Errorf("apply chart defaults: %w", err)
	}
	return spec, nil
}
