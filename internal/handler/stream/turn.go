package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/eino-contrib/jsonschema"

	"github.com/zhouzirui/datachat/backend/internal/model/analyst"
	"github.com/zhouzirui/datachat/backend/internal/model/assistant"
	"github.com/zhouzirui/datachat/backend/internal/model/chat"
	aiService "github.com/zhouzirui/datachat/backend/internal/service/ai"
	"github.com/zhouzirui/datachat/backend/internal/service/chart"
	chatService "github.com/zhouzirui/datachat/backend/internal/service/chat"
)

// Event names shared by the SSE and WebSocket transports.
const (
	EventStart      = "start"
	EventDelta      = "delta"
	EventToolCall   = "tool-call"
	EventToolResult = "tool-result"
	EventMessage    = "message"
	EventEnd        = "end"
	EventError      = "error"
)

// ErrAssistantNotFound is returned when a thread names an unknown profile.
var ErrAssistantNotFound = errors.New("assistant not found")

// Responder runs the model side of a chat turn.
type Responder interface {
	Respond(ctx context.Context, req aiService.Request, emit aiService.Emitter) (*aiService.Result, error)
}

// Emit delivers one named event to a transport.
type Emit func(event string, data any) error

// StartPayload opens a turn.
type StartPayload struct {
	ThreadID    string `json:"threadId"`
	AssistantID string `json:"assistantId"`
	Assistant   string `json:"assistant"`
}

// DeltaPayload is a fragment of assistant text.
type DeltaPayload struct {
	Step int    `json:"step"`
	Text string `json:"text"`
}

// ToolCallPayload announces a tool invocation.
type ToolCallPayload struct {
	Step       int    `json:"step"`
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Arguments  string `json:"arguments"`
	Client     bool   `json:"client,omitempty"`
}

// ToolResultPayload carries a tool result. Analyst replies arrive as Response
// with Structured telling a recognised reply from a text fallback; charts
// additionally carry a ready-to-render VegaLite spec.
type ToolResultPayload struct {
	Step       int               `json:"step"`
	ToolCallID string            `json:"toolCallId"`
	ToolName   string            `json:"toolName"`
	IsError    bool              `json:"isError,omitempty"`
	Output     string            `json:"output,omitempty"`
	Response   *analyst.Response `json:"response,omitempty"`
	Structured bool              `json:"structured"`
	Reason     string            `json:"reason,omitempty"`
	VegaLite   map[string]any    `json:"vegaLite,omitempty"`
}

// MessagePayload is the final assistant text of a turn.
type MessagePayload struct {
	MessageID string `json:"messageId,omitempty"`
	Content   string `json:"content"`
}

// EndPayload closes a turn. Finished is false while client tool calls are
// pending.
type EndPayload struct {
	ThreadID         string   `json:"threadId"`
	Steps            int      `json:"steps"`
	Finished         bool     `json:"finished"`
	PendingToolCalls []string `json:"pendingToolCalls,omitempty"`
}

// ErrorPayload reports a failed turn.
type ErrorPayload struct {
	Error string `json:"error"`
}

// ClientToolSpec describes a tool the client runs itself. Requests key these
// by tool name.
type ClientToolSpec struct {
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// Input is one user turn as received by a transport.
type Input struct {
	Message string
	System  string
	Tools   map[string]ClientToolSpec
}

func (in Input) clientTools() []aiService.ClientTool {
	if len(in.Tools) == 0 {
		return nil
	}
	names := make([]string, 0, len(in.Tools))
	for name := range in.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]aiService.ClientTool, 0, len(names))
	for _, name := range names {
		spec := in.Tools[name]
		out = append(out, aiService.ClientTool{Name: name, Description: spec.Description, Parameters: spec.Parameters})
	}
	return out
}

// Turn runs one chat turn against a thread and reports it through emit.
// Both the SSE and WebSocket transports drive it.
type Turn struct {
	ai       Responder
	chatSvc  *chatService.Service
	profiles assistant.Store
}

// NewTurn wires the services a turn needs.
func NewTurn(ai Responder, chatSvc *chatService.Service, profiles assistant.Store) *Turn {
	return &Turn{ai: ai, chatSvc: chatSvc, profiles: profiles}
}

// Profile resolves the assistant bound to thread.
func (t *Turn) Profile(thread chat.Thread) (assistant.Profile, error) {
	profile, ok := t.profiles.FindByID(thread.AssistantID)
	if !ok {
		return assistant.Profile{}, fmt.Errorf("%w: %s", ErrAssistantNotFound, thread.AssistantID)
	}
	return profile, nil
}

// Run executes the turn. Failures after the start event are also reported
// as an error event.
func (t *Turn) Run(ctx context.Context, thread chat.Thread, in Input, emit Emit) error {
	err := t.run(ctx, thread, in, emit)
	if err != nil && ctx.Err() == nil {
		if sendErr := emit(EventError, ErrorPayload{Error: err.Error()}); sendErr != nil {
			log.Debug("failed to deliver error event", "thread", thread.ID, "err", sendErr)
		}
	}
	return err
}

func (t *Turn) run(ctx context.Context, thread chat.Thread, in Input, emit Emit) error {
	profile, err := t.Profile(thread)
	if err != nil {
		return err
	}

	history, err := t.chatSvc.LoadTranscript(ctx, thread.ID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	// Skip saving when the client already stored the message over REST.
	if !hasMatchingUserMessage(history, in.Message) {
		if _, err := t.chatSvc.SaveMessage(ctx, chat.Message{
			ThreadID: thread.ID,
			Role:     chat.RoleUser,
			Content:  in.Message,
		}); err != nil {
			return fmt.Errorf("failed to save user message: %w", err)
		}
	} else {
		history = history[:len(history)-1]
	}

	if err := emit(EventStart, StartPayload{
		ThreadID:    thread.ID,
		AssistantID: profile.ID,
		Assistant:   profile.Name,
	}); err != nil {
		return err
	}

	result, err := t.ai.Respond(ctx, aiService.Request{
		Profile:     profile,
		System:      in.System,
		History:     history,
		Query:       in.Message,
		ClientTools: in.clientTools(),
	}, func(ev aiService.Event) error {
		return t.forward(ctx, thread.ID, ev, emit)
	})
	if err != nil {
		return fmt.Errorf("AI generation failed: %w", err)
	}

	var messageID string
	if strings.TrimSpace(result.Text) != "" {
		saved, err := t.chatSvc.SaveMessage(ctx, chat.Message{
			ThreadID: thread.ID,
			Role:     chat.RoleAssistant,
			Content:  result.Text,
		})
		if err != nil {
			log.Error("failed to save assistant message", "thread", thread.ID, "err", err)
		}
		messageID = saved.ID
	}

	if err := emit(EventMessage, MessagePayload{MessageID: messageID, Content: result.Text}); err != nil {
		return err
	}
	if err := emit(EventEnd, EndPayload{
		ThreadID:         thread.ID,
		Steps:            result.Steps,
		Finished:         len(result.PendingToolCalls) == 0,
		PendingToolCalls: result.PendingToolCalls,
	}); err != nil {
		return err
	}

	log.Info("chat turn completed", "thread", thread.ID, "assistant", profile.ID, "steps", result.Steps)
	return nil
}

func (t *Turn) forward(ctx context.Context, threadID string, ev aiService.Event, emit Emit) error {
	switch ev.Type {
	case aiService.EventDelta:
		return emit(EventDelta, DeltaPayload{Step: ev.Step, Text: ev.Text})
	case aiService.EventToolCall:
		return emit(EventToolCall, ToolCallPayload{
			Step:       ev.Step,
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
			Arguments:  ev.Arguments,
			Client:     ev.Client,
		})
	case aiService.EventToolResult:
		payload := toolResult(ev)
		stored := chat.Message{
			ThreadID:   threadID,
			Role:       chat.RoleTool,
			Content:    ev.Output,
			ToolName:   ev.ToolName,
			ToolCallID: ev.ToolCallID,
			Structured: payload.Response,
		}
		if _, err := t.chatSvc.SaveMessage(ctx, stored); err != nil {
			log.Error("failed to save tool result", "thread", threadID, "tool", ev.ToolName, "err", err)
		}
		return emit(EventToolResult, payload)
	default:
		return nil
	}
}

// toolResult unpacks analyst output. The analyst tool has already classified
// the reply; anything else from it is shown as plain text.
func toolResult(ev aiService.Event) ToolResultPayload {
	payload := ToolResultPayload{
		Step:       ev.Step,
		ToolCallID: ev.ToolCallID,
		ToolName:   ev.ToolName,
		IsError:    ev.IsError,
	}
	if ev.ToolName != assistant.ToolMessageAnalyst || ev.IsError {
		payload.Output = ev.Output
		return payload
	}

	var classified analyst.Classified
	if err := json.Unmarshal([]byte(ev.Output), &classified); err != nil || classified.Response == nil {
		payload.Response = analyst.TextResponse(ev.Output)
		return payload
	}
	payload.Response = classified.Response
	payload.Structured = classified.Structured
	payload.Reason = classified.Reason

	if classified.Structured && classified.Response.IsChart() {
		spec, err := chart.ResolveSpec(classified.Response.Chart)
		if err != nil {
			log.Warn("failed to resolve chart spec", "response", classified.Response.ID, "err", err)
		} else {
			payload.VegaLite = spec
		}
	}
	return payload
}

func hasMatchingUserMessage(messages []chat.Message, content string) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	return last.Role == chat.RoleUser && last.Content == content
}
