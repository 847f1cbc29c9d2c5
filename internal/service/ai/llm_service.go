package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/eino-contrib/jsonschema"
	"github.com/google/uuid"

	"github.com/zhouzirui/datachat/backend/internal/config"
	"github.com/zhouzirui/datachat/backend/internal/model/assistant"
	"github.com/zhouzirui/datachat/backend/internal/model/chat"
	analystsvc "github.com/zhouzirui/datachat/backend/internal/service/analyst"
)

// EventType names what happened during a chat turn.
type EventType string

const (
	EventDelta      EventType = "delta"
	EventToolCall   EventType = "tool-call"
	EventToolResult EventType = "tool-result"
)

// Event is one observable step of a chat turn.
type Event struct {
	Type       EventType `json:"type"`
	Step       int       `json:"step"`
	Text       string    `json:"text,omitempty"`
	ToolCallID string    `json:"toolCallId,omitempty"`
	ToolName   string    `json:"toolName,omitempty"`
	Arguments  string    `json:"arguments,omitempty"`
	Output     string    `json:"output,omitempty"`
	IsError    bool      `json:"isError,omitempty"`
	// Client marks a call the client must run itself.
	Client bool `json:"client,omitempty"`
}

// Emitter receives events in order. Returning an error aborts the turn.
type Emitter func(Event) error

// Request is one user turn.
type Request struct {
	Profile assistant.Profile
	// System is extra instruction text forwarded by the client.
	System  string
	History []chat.Message
	Query   string
	// ClientTools are declared to the model next to the profile's tools.
	ClientTools []ClientTool
}

// ClientTool is a tool the client declares and runs. The model may call it,
// but the service only reports the call and ends the turn.
type ClientTool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// Result summarises a finished turn.
type Result struct {
	Text  string
	Steps int
	// PendingToolCalls lists client tool calls left for the client to run.
	PendingToolCalls []string
}

// Service 负责驱动大模型与数据分析工具的调用循环。
type Service struct {
	chatModel model.ToolCallingChatModel
	cfg       config.AIConfig
	template  prompt.ChatTemplate
	tools     map[string]tool.InvokableTool
	infos     map[string]*schema.ToolInfo
}

// NewService 将模型与数据分析工具组装起来，userCtx 用于限定模型开启的每个分析会话。
func NewService(ctx context.Context, chatModel model.ToolCallingChatModel, analyst Analyst, userCtx analystsvc.UserContext, cfg config.AIConfig) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if cfg.MaxSteps < 1 {
		cfg.MaxSteps = 5
	}
	if cfg.HistoryLimit < 1 {
		cfg.HistoryLimit = 10
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	s := &Service{
		chatModel: chatModel,
		cfg:       cfg,
		template:  promptTemplate,
		tools:     make(map[string]tool.InvokableTool),
		infos:     make(map[string]*schema.ToolInfo),
	}

	if analyst != nil && analyst.Enabled() {
		for _, t := range []tool.InvokableTool{
			NewStartConversationTool(analyst, userCtx),
			NewMessageAnalystTool(analyst),
		} {
			info, err := t.Info(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to describe tool: %w", err)
			}
			s.tools[info.Name] = t
			s.infos[info.Name] = info
		}
	}

	return s, nil
}

// StreamingEnabled 表示是否以流式方式调用模型。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Respond 执行一轮对话。模型最多调用 MaxSteps 步工具，遇到不含工具调用的回复即结束。
func (s *Service) Respond(ctx context.Context, req Request, emit Emitter) (*Result, error) {
	if emit == nil {
		emit = func(Event) error { return nil }
	}

	messages, err := s.template.Format(ctx, map[string]any{
		"system":  BuildSystemPrompt(req.Profile, req.System),
		"history": s.buildHistoryMessages(req.History),
		"query":   req.Query,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to format prompt: %w", err)
	}

	chatModel, clientTools, err := s.modelFor(req)
	if err != nil {
		return nil, err
	}

	var (
		texts  []string
		result Result
	)
	for step := 1; step <= s.cfg.MaxSteps; step++ {
		result.Steps = step

		reply, err := s.runStep(ctx, chatModel, messages, step, emit)
		if err != nil {
			return nil, err
		}
		messages = append(messages, reply)
		if text := strings.TrimSpace(reply.Content); text != "" {
			texts = append(texts, text)
		}

		if len(reply.ToolCalls) == 0 {
			break
		}

		for _, call := range reply.ToolCalls {
			if clientTools[call.Function.Name] {
				id, err := s.handOff(call, step, emit)
				if err != nil {
					return nil, err
				}
				result.PendingToolCalls = append(result.PendingToolCalls, id)
				continue
			}
			toolMsg, err := s.runTool(ctx, call, step, emit)
			if err != nil {
				return nil, err
			}
			messages = append(messages, toolMsg)
		}
		if len(result.PendingToolCalls) > 0 {
			break
		}
	}

	result.Text = strings.Join(texts, "\n\n")
	log.Debug("chat turn finished", "profile", req.Profile.ID, "steps", result.Steps, "length", len(result.Text))
	return &result, nil
}

// modelFor binds the profile's tools and the request's client tools. It also
// returns the names of the client tools that were bound.
func (s *Service) modelFor(req Request) (model.ToolCallingChatModel, map[string]bool, error) {
	infos := make([]*schema.ToolInfo, 0, len(s.infos)+len(req.ClientTools))
	for _, name := range req.Profile.Tools {
		if info, ok := s.infos[name]; ok {
			infos = append(infos, info)
		}
	}

	client := make(map[string]bool, len(req.ClientTools))
	for _, ct := range req.ClientTools {
		if ct.Name == "" || client[ct.Name] {
			continue
		}
		if _, taken := s.tools[ct.Name]; taken {
			log.Warn("ignoring client tool that shadows a server tool", "tool", ct.Name)
			continue
		}
		params := schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{})
		if ct.Parameters != nil {
			params = schema.NewParamsOneOfByJSONSchema(ct.Parameters)
		}
		infos = append(infos, &schema.ToolInfo{Name: ct.Name, Desc: ct.Description, ParamsOneOf: params})
		client[ct.Name] = true
	}

	if len(infos) == 0 {
		return s.chatModel, client, nil
	}
	withTools, err := s.chatModel.WithTools(infos)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to bind tools: %w", err)
	}
	return withTools, client, nil
}

// handOff reports a client tool call and returns its id.
func (s *Service) handOff(call schema.ToolCall, step int, emit Emitter) (string, error) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if err := emit(Event{
		Type:       EventToolCall,
		Step:       step,
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
		Arguments:  call.Function.Arguments,
		Client:     true,
	}); err != nil {
		return "", err
	}
	return call.ID, nil
}

func (s *Service) runStep(ctx context.Context, chatModel model.ToolCallingChatModel, messages []*schema.Message, step int, emit Emitter) (*schema.Message, error) {
	if !s.StreamingEnabled() {
		reply, err := chatModel.Generate(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("failed to run chat model: %w", err)
		}
		if reply.Content != "" {
			if err := emit(Event{Type: EventDelta, Step: step, Text: reply.Content}); err != nil {
				return nil, err
			}
		}
		return reply, nil
	}

	stream, err := chatModel.Stream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to stream chat model: %w", err)
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 32)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to receive chat chunk: %w", err)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			if err := emit(Event{Type: EventDelta, Step: step, Text: chunk.Content}); err != nil {
				return nil, err
			}
		}
	}

	if len(chunks) == 0 {
		return schema.AssistantMessage("", nil), nil
	}
	reply, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to merge chat chunks: %w", err)
	}
	return reply, nil
}

// runTool 执行工具调用，失败时以 "error: ..." 结果交回模型，不中断本轮对话。
func (s *Service) runTool(ctx context.Context, call schema.ToolCall, step int, emit Emitter) (*schema.Message, error) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	name := call.Function.Name

	if err := emit(Event{
		Type:       EventToolCall,
		Step:       step,
		ToolCallID: call.ID,
		ToolName:   name,
		Arguments:  call.Function.Arguments,
	}); err != nil {
		return nil, err
	}

	var (
		output string
		failed bool
	)
	t, ok := s.tools[name]
	if !ok {
		output, failed = fmt.Sprintf("error: unknown tool %q", name), true
	} else if out, err := t.InvokableRun(ctx, call.Function.Arguments); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("tool call failed", "tool", name, "call", call.ID, "err", err)
		output, failed = "error: "+err.Error(), true
	} else {
		output = out
	}

	if err := emit(Event{
		Type:       EventToolResult,
		Step:       step,
		ToolCallID: call.ID,
		ToolName:   name,
		Output:     output,
		IsError:    failed,
	}); err != nil {
		return nil, err
	}

	return schema.ToolMessage(output, call.ID), nil
}

// buildHistoryMessages 保留最近 HistoryLimit 条用户与助手消息。
func (s *Service) buildHistoryMessages(messages []chat.Message) []*schema.Message {
	turns := make([]chat.Message, 0, len(messages))
	for _, msg := range messages {
		if (msg.Role == chat.RoleUser || msg.Role == chat.RoleAssistant) && strings.TrimSpace(msg.Content) != "" {
			turns = append(turns, msg)
		}
	}
	if len(turns) > s.cfg.HistoryLimit {
		turns = turns[len(turns)-s.cfg.HistoryLimit:]
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, msg := range turns {
		if msg.Role == chat.RoleUser {
			history = append(history, schema.UserMessage(msg.Content))
		} else {
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
