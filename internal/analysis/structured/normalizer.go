// Package structured classifies replies of the data-analyst service into
// text, chart or table responses.
//
// Replies arrive either as raw JSON text or as values that were already
// decoded by a caller. Both are inspected through gjson so that shape checks
// operate on JSON types rather than on whatever Go types a decoder produced.
package structured

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/zhouzirui/datachat/backend/internal/model/analyst"
)

var (
	ErrMalformedJSON = errors.New("malformed json")
	ErrShapeMismatch = errors.New("not a structured analyst response")
)

// Options tunes validation. The zero value is the lenient mode the analyst
// service has always been held to.
type Options struct {
	// Strict requires every dataset to carry one value per label and every
	// table row to be as wide as the header.
	Strict bool
}

// Normalizer validates and reshapes analyst replies. It holds no mutable
// state and is safe for concurrent use.
type Normalizer struct {
	strict bool
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	return &Normalizer{strict: opts.Strict}
}

var lenient = New(Options{})

// Parse returns the structured response carried by input, or nil when input
// is not one. Callers treat nil as "render the payload as plain text".
func Parse(input any) *analyst.Response {
	resp, err := lenient.Normalize(input)
	if err != nil {
		return nil
	}
	return resp
}

// Normalize is Parse with the reason for rejection. The returned error wraps
// ErrMalformedJSON or ErrShapeMismatch.
func (n *Normalizer) Normalize(input any) (*analyst.Response, error) {
	raw, err := encode(input)
	if err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, mismatch("top-level value is not an object")
	}

	message := root.Get("message")
	if message.Type != gjson.String {
		return nil, mismatch("message must be a string")
	}

	kind := root.Get("type")
	if kind.Type != gjson.String || !analyst.ResponseType(kind.Str).Valid() {
		return nil, mismatch(fmt.Sprintf("unsupported type %s", kind.Raw))
	}

	resp := &analyst.Response{
		ID:             stringField(root, "id"),
		ConversationID: stringField(root, "conversationId"),
		Message:        message.Str,
		Type:           analyst.ResponseType(kind.Str),
	}

	switch resp.Type {
	case analyst.TypeChart:
		chart, err := n.chart(root)
		if err != nil {
			return nil, err
		}
		resp.Chart = chart
	case analyst.TypeTable:
		table, err := n.table(root.Get("table"))
		if err != nil {
			return nil, err
		}
		resp.Table = table
	}

	return resp, nil
}

func (n *Normalizer) chart(root gjson.Result) (*analyst.Chart, error) {
	if chart, ok := flattenedChart(root); ok {
		if !chart.HasSource() {
			return nil, mismatch("flattened chart has neither a usable spec nor usable data")
		}
		return n.checkChart(chart)
	}

	node := root.Get("chart")
	if !isChart(node) {
		return nil, mismatch("chart payload is missing or malformed")
	}
	return n.checkChart(buildChart(node))
}

func (n *Normalizer) checkChart(chart *analyst.Chart) (*analyst.Chart, error) {
	if !n.strict || chart.Data == nil {
		return chart, nil
	}
	for _, ds := range chart.Data.Datasets {
		if len(ds.Values) != len(chart.Data.Labels) {
			return nil, mismatch(fmt.Sprintf("dataset %q has %d values for %d labels", ds.Name, len(ds.Values), len(chart.Data.Labels)))
		}
	}
	return chart, nil
}

func (n *Normalizer) table(node gjson.Result) (*analyst.Table, error) {
	if !isTable(node) {
		return nil, mismatch("table payload is missing or malformed")
	}
	table := buildTable(node)
	if n.strict {
		for i, row := range table.Body {
			if len(row) != len(table.Head) {
				return nil, mismatch(fmt.Sprintf("row %d has %d cells for %d columns", i, len(row), len(table.Head)))
			}
		}
	}
	return table, nil
}

// flattenedChart lifts the older reply shape, where spec and data sit next to
// message instead of under chart, into a Chart. Each lifted field is checked
// on its own and left empty when it does not fit.
func flattenedChart(root gjson.Result) (*analyst.Chart, bool) {
	if truthy(root.Get("chart")) {
		return nil, false
	}
	spec, data := root.Get("spec"), root.Get("data")
	if !truthy(spec) && !truthy(data) {
		return nil, false
	}

	chart := &analyst.Chart{
		Title:  stringField(root, "title"),
		XLabel: stringField(root, "xLabel"),
		YLabel: stringField(root, "yLabel"),
	}
	if isSpec(spec) {
		chart.Spec = canonicalRaw(spec)
	}
	if isChartData(data) {
		chart.Data = buildChartData(data)
	}
	if t := root.Get("chartType"); isChartType(t) {
		chart.Type = analyst.ChartType(t.Str)
	}
	return chart, true
}

func encode(input any) ([]byte, error) {
	var raw []byte
	switch v := input.(type) {
	case nil:
		return nil, mismatch("input is nil")
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	case gjson.Result:
		raw = []byte(v.Raw)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
		}
		return encoded, nil
	}

	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrMalformedJSON)
	}
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformedJSON
	}
	return lastKeyWins(raw)
}

// lastKeyWins re-encodes raw so that a key repeated within one object keeps
// its final value, the way JSON.parse reads it. gjson alone would return the
// first. Number literals pass through untouched.
func lastKeyWins(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return out, nil
}

func mismatch(reason string) error {
	return fmt.Errorf("%w: %s", ErrShapeMismatch, reason)
}

// truthy mirrors how JSON values read in a boolean context: missing, null,
// false, 0 and "" are false.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	default:
		return true
	}
}

func stringField(obj gjson.Result, key string) string {
	if v := obj.Get(key); v.Type == gjson.String {
		return v.Str
	}
	return ""
}

// canonicalRaw compacts and HTML-escapes an opaque object so that encoding
// the result with encoding/json reproduces the same bytes.
func canonicalRaw(r gjson.Result) json.RawMessage {
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, []byte(r.Raw)); err != nil {
		return json.RawMessage(r.Raw)
	}
	var escaped bytes.Buffer
	json.HTMLEscape(&escaped, compacted.Bytes())
	return escaped.Bytes()
}
