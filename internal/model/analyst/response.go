package analyst

import "encoding/json"

// ResponseType discriminates the payload carried by a Response.
type ResponseType string

const (
	TypeText  ResponseType = "text"
	TypeChart ResponseType = "chart"
	TypeTable ResponseType = "table"
)

// Valid reports whether t is one of the recognised response kinds.
func (t ResponseType) Valid() bool {
	switch t {
	case TypeText, TypeChart, TypeTable:
		return true
	default:
		return false
	}
}

// ChartType selects the mark used when a chart is drawn from raw data.
type ChartType string

const (
	ChartBar  ChartType = "bar"
	ChartLine ChartType = "line"
)

// Dataset is one named series. Values line up with ChartData.Labels by index.
type Dataset struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// ChartData is the raw category/series form of a chart.
type ChartData struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Chart carries either a declarative Vega-Lite spec, raw data, or both.
type Chart struct {
	Data   *ChartData      `json:"data,omitempty"`
	Spec   json.RawMessage `json:"spec,omitempty"`
	Title  string          `json:"title,omitempty"`
	XLabel string          `json:"xLabel,omitempty"`
	YLabel string          `json:"yLabel,omitempty"`
	Type   ChartType       `json:"type,omitempty"`
}

// HasSource reports whether the chart can be rendered at all.
func (c *Chart) HasSource() bool {
	return c != nil && (c.Data != nil || len(c.Spec) > 0)
}

// Table is a header row plus string cells.
type Table struct {
	Head []string   `json:"head"`
	Body [][]string `json:"body"`
}

// Response is the structured reply of the data analyst. Chart is set only for
// TypeChart and Table only for TypeTable.
type Response struct {
	ID             string       `json:"id,omitempty"`
	ConversationID string       `json:"conversationId,omitempty"`
	Message        string       `json:"message"`
	Type           ResponseType `json:"type"`
	Chart          *Chart       `json:"chart,omitempty"`
	Table          *Table       `json:"table,omitempty"`
}

// Classified is a reply together with how it was read. Unstructured replies
// carry their text as a TextResponse and the reason they were not recognised.
type Classified struct {
	Response   *Response `json:"response"`
	Structured bool      `json:"structured"`
	Reason     string    `json:"reason,omitempty"`
}

// TextResponse wraps plain text so callers can render unstructured replies
// through the same path as structured ones.
func TextResponse(message string) *Response {
	return &Response{Message: message, Type: TypeText}
}

func (r *Response) IsChart() bool { return r != nil && r.Type == TypeChart && r.Chart != nil }

func (r *Response) IsTable() bool { return r != nil && r.Type == TypeTable && r.Table != nil }
