package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T, handler http.HandlerFunc) *ChatModel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m, err := NewChatModel(Config{Endpoint: srv.URL, APIKey: "k", Deployment: "gpt-test"})
	require.NoError(t, err)
	return m
}

func TestNewChatModelRequiresDeployment(t *testing.T) {
	_, err := NewChatModel(Config{Endpoint: "http://x", APIKey: "k"})
	require.Error(t, err)
}

func TestWithToolsConvertsSchema(t *testing.T) {
	m, err := NewChatModel(Config{Endpoint: "http://x", APIKey: "k", Deployment: "d"})
	require.NoError(t, err)

	info := &schema.ToolInfo{
		Name: "message_data_analyst",
		Desc: "ask",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"message": {Type: schema.String, Required: true},
		}),
	}
	withTools, err := m.WithTools([]*schema.ToolInfo{info})
	require.NoError(t, err)

	converted := withTools.(*ChatModel).tools
	require.Len(t, converted, 1)
	assert.Equal(t, "message_data_analyst", converted[0].Function.Name)

	raw, ok := converted[0].Function.Parameters.(json.RawMessage)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"message"`)
	assert.Empty(t, m.tools, "original model must stay tool-free")
}

func TestGenerate(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("api-key"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"tool_call_id":"call-1"`)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call-2","type":"function","function":{"name":"message_data_analyst","arguments":"{\"message\":\"hi\"}"}}]}}]}`)
	})

	out, err := m.Generate(context.Background(), []*schema.Message{
		schema.UserMessage("hi"),
		schema.ToolMessage("ok", "call-1"),
	})
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "call-2", out.ToolCalls[0].ID)
	assert.Equal(t, `{"message":"hi"}`, out.ToolCalls[0].Function.Arguments)
}

func TestStream(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Sales ", "grew."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	sr, err := m.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	defer sr.Close()

	var b strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		b.WriteString(chunk.Content)
	}
	assert.Equal(t, "Sales grew.", b.String())
}
