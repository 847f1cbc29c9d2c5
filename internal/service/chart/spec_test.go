package chart

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/datachat/backend/internal/model/analyst"
)

func TestResolveSpecFromProvidedSpec(t *testing.T) {
	t.Run("Should fill panel defaults without overriding provided keys", func(t *testing.T) {
		spec, err := ResolveSpec(&analyst.Chart{
			Spec: json.RawMessage(`{"mark":"bar","width":320}`),
		})
		require.NoError(t, err)

		assert.Equal(t, "bar", spec["mark"])
		assert.Equal(t, float64(320), spec["width"])
		assert.Equal(t, vegaLiteSchema, spec["$schema"])
		assert.Equal(t, "transparent", spec["background"])
		assert.NotNil(t, spec["autosize"])
	})

	t.Run("Should keep empty, null and partial provided values", func(t *testing.T) {
		spec, err := ResolveSpec(&analyst.Chart{
			Spec: json.RawMessage(`{"background":"","autosize":{"type":"none"},"width":null}`),
		})
		require.NoError(t, err)

		assert.Equal(t, "", spec["background"])
		assert.Equal(t, map[string]any{"type": "none"}, spec["autosize"])
		require.Contains(t, spec, "width")
		assert.Nil(t, spec["width"])
		assert.Equal(t, vegaLiteSchema, spec["$schema"])
	})

	t.Run("Should not leak provided values into later defaults", func(t *testing.T) {
		_, err := ResolveSpec(&analyst.Chart{Spec: json.RawMessage(`{"autosize":{"type":"none"}}`)})
		require.NoError(t, err)

		spec, err := ResolveSpec(&analyst.Chart{Spec: json.RawMessage(`{"mark":"bar"}`)})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"type": "fit", "contains": "padding"}, spec["autosize"])
	})

	t.Run("Should prefer the spec when data is also present", func(t *testing.T) {
		spec, err := ResolveSpec(&analyst.Chart{
			Spec: json.RawMessage(`{"mark":"area"}`),
			Data: &analyst.ChartData{Labels: []string{"a"}, Datasets: []analyst.Dataset{{Name: "s", Values: []float64{1}}}},
		})
		require.NoError(t, err)
		assert.Equal(t, "area", spec["mark"])
		assert.Nil(t, spec["data"])
	})
}

func TestResolveSpecFromData(t *testing.T) {
	data := &analyst.ChartData{
		Labels: []string{"Q1", "Q2"},
		Datasets: []analyst.Dataset{
			{Name: "2023", Values: []float64{1, 2}},
			{Name: "2024", Values: []float64{3}},
		},
	}

	t.Run("Should fold datasets into long-form rows", func(t *testing.T) {
		spec, err := ResolveSpec(&analyst.Chart{Data: data, Title: "Revenue", XLabel: "Quarter"})
		require.NoError(t, err)

		rows := spec["data"].(map[string]any)["values"].([]map[string]any)
		require.Len(t, rows, 3)
		assert.Equal(t, map[string]any{"label": "Q1", "series": "2023", "value": float64(1)}, rows[0])
		assert.Equal(t, map[string]any{"label": "Q2", "series": "2023", "value": float64(2)}, rows[2])
		assert.Equal(t, "Revenue", spec["title"])
		assert.Equal(t, "container", spec["width"])
		assert.Equal(t, chartHeight, spec["height"])

		encoding := spec["encoding"].(map[string]any)
		assert.Equal(t, "Quarter", encoding["x"].(map[string]any)["title"])
		assert.NotContains(t, encoding["y"].(map[string]any), "title")
	})

	t.Run("Should draw grouped bars by default", func(t *testing.T) {
		spec, err := ResolveSpec(&analyst.Chart{Data: data})
		require.NoError(t, err)
		assert.Equal(t, "bar", spec["mark"].(map[string]any)["type"])
		assert.Contains(t, spec["encoding"].(map[string]any), "xOffset")
	})

	t.Run("Should draw lines for line charts", func(t *testing.T) {
		spec, err := ResolveSpec(&analyst.Chart{Data: data, Type: analyst.ChartLine})
		require.NoError(t, err)
		assert.Equal(t, "line", spec["mark"].(map[string]any)["type"])
		assert.NotContains(t, spec["encoding"].(map[string]any), "xOffset")
	})
}

func TestResolveSpecWithoutSource(t *testing.T) {
	_, err := ResolveSpec(&analyst.Chart{Title: "empty"})
	require.ErrorIs(t, err, ErrNoChartSource)

	_, err = ResolveSpec(nil)
	require.ErrorIs(t, err, ErrNoChartSource)
}
