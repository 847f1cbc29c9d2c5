package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/datachat/backend/internal/model/analyst"
	"github.com/zhouzirui/datachat/backend/internal/model/assistant"
	"github.com/zhouzirui/datachat/backend/internal/model/chat"
	aiService "github.com/zhouzirui/datachat/backend/internal/service/ai"
	analystsvc "github.com/zhouzirui/datachat/backend/internal/service/analyst"
	chatService "github.com/zhouzirui/datachat/backend/internal/service/chat"
)

const chartAnswer = `{"id":"r1","conversationId":"conv-1","message":"Revenue by month","type":"chart",
"chart":{"type":"bar","data":{"labels":["Jan","Feb"],"datasets":[{"name":"Revenue","values":[1,2]}]}}}`

// analystOutput runs the message_data_analyst tool against an analyst API
// that answers with answer, and returns what the tool hands the model.
func analystOutput(t *testing.T, answer string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, answer)
	}))
	t.Cleanup(srv.Close)

	client := analystsvc.NewClient(analystsvc.Config{BaseURL: srv.URL})
	out, err := aiService.NewMessageAnalystTool(client).
		InvokableRun(context.Background(), `{"conversationId":"conv-1","message":"q"}`)
	require.NoError(t, err)
	return out
}

type fakeResponder struct {
	events []aiService.Event
	result *aiService.Result
	err    error
	got    aiService.Request
}

func (f *fakeResponder) Respond(_ context.Context, req aiService.Request, emit aiService.Emitter) (*aiService.Result, error) {
	f.got = req
	for _, ev := range f.events {
		if err := emit(ev); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		require.NotEmpty(t, ev.name, "malformed block %q", block)
		out = append(out, ev)
	}
	return out
}

func names(events []sseEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.name
	}
	return out
}

func newRouter(responder Responder, chatSvc *chatService.Service) http.Handler {
	profiles := assistant.NewMemoryStore(assistant.Seed())
	h := New(NewTurn(responder, chatSvc, profiles), chatSvc)
	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)
	return r
}

func TestHandleChatStreamsToolResults(t *testing.T) {
	chatSvc := chatService.NewService(nil)
	responder := &fakeResponder{
		events: []aiService.Event{
			{Type: aiService.EventToolCall, Step: 1, ToolCallID: "call-1", ToolName: assistant.ToolMessageAnalyst, Arguments: `{"conversationId":"conv-1","message":"revenue"}`},
			{Type: aiService.EventToolResult, Step: 1, ToolCallID: "call-1", ToolName: assistant.ToolMessageAnalyst, Output: analystOutput(t, chartAnswer)},
			{Type: aiService.EventDelta, Step: 2, Text: "Revenue doubled."},
		},
		result: &aiService.Result{Text: "Revenue doubled.", Steps: 2},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"revenue by month?","system":"Be brief."}`))
	newRouter(responder, chatSvc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	threadID := rec.Header().Get("X-Thread-Id")
	require.NotEmpty(t, threadID)

	events := parseSSE(t, rec.Body.String())
	assert.Equal(t, []string{EventStart, EventToolCall, EventToolResult, EventDelta, EventMessage, EventEnd}, names(events))

	var result ToolResultPayload
	require.NoError(t, json.Unmarshal([]byte(events[2].data), &result))
	assert.True(t, result.Structured)
	require.True(t, result.Response.IsChart())
	assert.Equal(t, []string{"Jan", "Feb"}, result.Response.Chart.Data.Labels)
	require.NotNil(t, result.VegaLite)
	assert.Equal(t, "container", result.VegaLite["width"])

	assert.Equal(t, assistant.DefaultID, responder.got.Profile.ID)
	assert.Equal(t, "Be brief.", responder.got.System)
	assert.Empty(t, responder.got.History)

	transcript, err := chatSvc.LoadTranscript(context.Background(), threadID)
	require.NoError(t, err)
	require.Len(t, transcript, 3)
	assert.Equal(t, chat.RoleUser, transcript[0].Role)
	assert.Equal(t, chat.RoleTool, transcript[1].Role)
	require.NotNil(t, transcript[1].Structured)
	assert.Equal(t, "conv-1", transcript[1].Structured.ConversationID)
	assert.Equal(t, "Revenue doubled.", transcript[2].Content)
}

func TestHandleChatFallsBackToText(t *testing.T) {
	cases := []struct {
		name       string
		answer     string
		structured bool
		reason     string
	}{
		{name: "Should flag unstructured answers as text fallbacks", answer: "We had 42 orders.", reason: "malformed json"},
		{name: "Should keep structured text answers structured", answer: `{"conversationId":"conv-1","message":"We had 42 orders.","type":"text"}`, structured: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chatSvc := chatService.NewService(nil)
			responder := &fakeResponder{
				events: []aiService.Event{
					{Type: aiService.EventToolResult, Step: 1, ToolCallID: "c", ToolName: assistant.ToolMessageAnalyst, Output: analystOutput(t, tc.answer)},
				},
				result: &aiService.Result{Steps: 2},
			}

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"orders?"}`))
			newRouter(responder, chatSvc).ServeHTTP(rec, req)

			events := parseSSE(t, rec.Body.String())
			require.Equal(t, EventToolResult, events[1].name)

			var result ToolResultPayload
			require.NoError(t, json.Unmarshal([]byte(events[1].data), &result))
			assert.Equal(t, tc.structured, result.Structured)
			assert.Equal(t, analyst.TypeText, result.Response.Type)
			assert.Equal(t, "We had 42 orders.", result.Response.Message)
			assert.Equal(t, "conv-1", result.Response.ConversationID)
			if tc.reason != "" {
				assert.Contains(t, result.Reason, tc.reason)
			} else {
				assert.Empty(t, result.Reason)
			}
			assert.Nil(t, result.VegaLite)
		})
	}
}

func TestToolResultWithUnknownOutput(t *testing.T) {
	payload := toolResult(aiService.Event{ToolName: assistant.ToolMessageAnalyst, Output: "plain words"})
	assert.False(t, payload.Structured)
	assert.Equal(t, "plain words", payload.Response.Message)
}

func TestHandleChatForwardsClientTools(t *testing.T) {
	chatSvc := chatService.NewService(nil)
	responder := &fakeResponder{
		events: []aiService.Event{
			{Type: aiService.EventToolCall, Step: 1, ToolCallID: "c-1", ToolName: "show_toast", Arguments: `{"text":"hi"}`, Client: true},
		},
		result: &aiService.Result{Steps: 1, PendingToolCalls: []string{"c-1"}},
	}

	body := `{"message":"ping me","tools":{
		"show_toast":{"description":"Show a toast","parameters":{"type":"object","properties":{"text":{"type":"string"}}}},
		"copy_text":{"description":"Copy to clipboard"}}}`
	rec := httptest.NewRecorder()
	newRouter(responder, chatSvc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, responder.got.ClientTools, 2)
	assert.Equal(t, "copy_text", responder.got.ClientTools[0].Name)
	assert.Nil(t, responder.got.ClientTools[0].Parameters)
	assert.Equal(t, "show_toast", responder.got.ClientTools[1].Name)
	require.NotNil(t, responder.got.ClientTools[1].Parameters)
	assert.Equal(t, "object", responder.got.ClientTools[1].Parameters.Type)

	events := parseSSE(t, rec.Body.String())
	require.Equal(t, []string{EventStart, EventToolCall, EventMessage, EventEnd}, names(events))

	var call ToolCallPayload
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &call))
	assert.True(t, call.Client)

	var end EndPayload
	require.NoError(t, json.Unmarshal([]byte(events[3].data), &end))
	assert.False(t, end.Finished)
	assert.Equal(t, []string{"c-1"}, end.PendingToolCalls)
}

func TestHandleStreamReportsErrors(t *testing.T) {
	chatSvc := chatService.NewService(nil)
	thread, err := chatSvc.CreateThread(context.Background(), "general")
	require.NoError(t, err)

	responder := &fakeResponder{err: errors.New("model offline")}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stream/"+thread.ID+"?message=hi", nil)
	newRouter(responder, chatSvc).ServeHTTP(rec, req)

	events := parseSSE(t, rec.Body.String())
	require.Equal(t, []string{EventStart, EventError}, names(events))
	assert.Contains(t, events[1].data, "model offline")
}

func TestHandleStreamValidation(t *testing.T) {
	chatSvc := chatService.NewService(nil)
	router := newRouter(&fakeResponder{}, chatSvc)

	cases := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{name: "Should require a message", method: http.MethodPost, target: "/api/chat", body: `{"threadId":""}`, status: http.StatusBadRequest},
		{name: "Should reject unknown assistants", method: http.MethodPost, target: "/api/chat", body: `{"message":"x","assistantId":"nobody"}`, status: http.StatusBadRequest},
		{name: "Should 404 unknown threads", method: http.MethodPost, target: "/api/chat", body: `{"message":"x","threadId":"missing"}`, status: http.StatusNotFound},
		{name: "Should require the message query", method: http.MethodGet, target: "/api/stream/abc", status: http.StatusBadRequest},
		{name: "Should 404 unknown stream threads", method: http.MethodGet, target: "/api/stream/abc?message=hi", status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body)))
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestTurnSkipsDuplicateUserMessage(t *testing.T) {
	ctx := context.Background()
	chatSvc := chatService.NewService(nil)
	thread, err := chatSvc.CreateThread(ctx, "general")
	require.NoError(t, err)
	_, err = chatSvc.SaveMessage(ctx, chat.Message{ThreadID: thread.ID, Role: chat.RoleUser, Content: "hi"})
	require.NoError(t, err)

	responder := &fakeResponder{result: &aiService.Result{Text: "hello", Steps: 1}}
	turn := NewTurn(responder, chatSvc, assistant.NewMemoryStore(assistant.Seed()))
	require.NoError(t, turn.Run(ctx, thread, Input{Message: "hi"}, func(string, any) error { return nil }))

	assert.Empty(t, responder.got.History)
	transcript, err := chatSvc.LoadTranscript(ctx, thread.ID)
	require.NoError(t, err)
	assert.Len(t, transcript, 2)
}
