package structured

import (
	"math"

	"github.com/tidwall/gjson"

	"github.com/zhouzirui/datachat/backend/internal/model/analyst"
)

func isStringArray(r gjson.Result) bool {
	if !r.IsArray() {
		return false
	}
	for _, item := range r.Array() {
		if item.Type != gjson.String {
			return false
		}
	}
	return true
}

func isNumberArray(r gjson.Result) bool {
	if !r.IsArray() {
		return false
	}
	for _, item := range r.Array() {
		if item.Type != gjson.Number || math.IsInf(item.Num, 0) || math.IsNaN(item.Num) {
			return false
		}
	}
	return true
}

func isDataset(r gjson.Result) bool {
	return r.IsObject() &&
		r.Get("name").Type == gjson.String &&
		isNumberArray(r.Get("values"))
}

func isChartData(r gjson.Result) bool {
	if !r.IsObject() || !isStringArray(r.Get("labels")) {
		return false
	}
	datasets := r.Get("datasets")
	if !datasets.IsArray() {
		return false
	}
	for _, ds := range datasets.Array() {
		if !isDataset(ds) {
			return false
		}
	}
	return true
}

// isSpec accepts any JSON object. The Vega-Lite schema itself is not checked.
func isSpec(r gjson.Result) bool {
	return r.IsObject()
}

func isChartType(r gjson.Result) bool {
	if r.Type != gjson.String {
		return false
	}
	switch analyst.ChartType(r.Str) {
	case analyst.ChartBar, analyst.ChartLine:
		return true
	default:
		return false
	}
}

func isChart(r gjson.Result) bool {
	if !r.IsObject() {
		return false
	}
	if t := r.Get("type"); t.Exists() && !isChartType(t) {
		return false
	}
	return isChartData(r.Get("data")) || isSpec(r.Get("spec"))
}

func isTable(r gjson.Result) bool {
	if !r.IsObject() || !isStringArray(r.Get("head")) {
		return false
	}
	body := r.Get("body")
	if !body.IsArray() {
		return false
	}
	for _, row := range body.Array() {
		if !isStringArray(row) {
			return false
		}
	}
	return true
}

// buildChart assumes isChart(r). Fields that fail their own check are left
// empty, so a chart accepted for its spec drops malformed data and vice versa.
func buildChart(r gjson.Result) *analyst.Chart {
	chart := &analyst.Chart{
		Title:  stringField(r, "title"),
		XLabel: stringField(r, "xLabel"),
		YLabel: stringField(r, "yLabel"),
	}
	if t := r.Get("type"); isChartType(t) {
		chart.Type = analyst.ChartType(t.Str)
	}
	if data := r.Get("data"); isChartData(data) {
		chart.Data = buildChartData(data)
	}
	if spec := r.Get("spec"); isSpec(spec) {
		chart.Spec = canonicalRaw(spec)
	}
	return chart
}

func buildChartData(r gjson.Result) *analyst.ChartData {
	datasets := r.Get("datasets").Array()
	data := &analyst.ChartData{
		Labels:   stringSlice(r.Get("labels")),
		Datasets: make([]analyst.Dataset, 0, len(datasets)),
	}
	for _, ds := range datasets {
		values := ds.Get("values").Array()
		nums := make([]float64, 0, len(values))
		for _, v := range values {
			nums = append(nums, v.Num)
		}
		data.Datasets = append(data.Datasets, analyst.Dataset{Name: ds.Get("name").Str, Values: nums})
	}
	return data
}

func buildTable(r gjson.Result) *analyst.Table {
	rows := r.Get("body").Array()
	table := &analyst.Table{
		Head: stringSlice(r.Get("head")),
		Body: make([][]string, 0, len(rows)),
	}
	for _, row := range rows {
		table.Body = append(table.Body, stringSlice(row))
	}
	return table
}

func stringSlice(r gjson.Result) []string {
	items := r.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Str)
	}
	return out
}
