// Package azure adapts an Azure OpenAI deployment to eino's chat model
// interfaces using go-openai.
package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"
)

// Config describes one Azure OpenAI deployment.
type Config struct {
	Endpoint    string
	APIKey      string
	APIVersion  string
	Deployment  string
	Temperature *float32
	MaxTokens   *int
}

// ChatModel implements model.ToolCallingChatModel on top of go-openai.
type ChatModel struct {
	client *openai.Client
	cfg    Config
	tools  []openai.Tool
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)

// NewChatModel creates a chat model for cfg.Deployment.
func NewChatModel(cfg Config) (*ChatModel, error) {
	if cfg.Endpoint == "" || cfg.APIKey == "" || cfg.Deployment == "" {
		return nil, errors.New("azure openai endpoint, key and deployment are required")
	}

	clientCfg := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	if cfg.APIVersion != "" {
		clientCfg.APIVersion = cfg.APIVersion
	}
	deployment := cfg.Deployment
	clientCfg.AzureModelMapperFunc = func(string) string { return deployment }

	return &ChatModel{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

// WithTools returns a copy of the model that offers tools on every call.
func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	converted, err := convertTools(tools)
	if err != nil {
		return nil, err
	}
	next := *m
	next.tools = converted
	return &next, nil
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	resp, err := m.client.CreateChatCompletion(ctx, m.request(input, false))
	if err != nil {
		return nil, fmt.Errorf("azure chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("azure chat completion returned no choices")
	}
	return fromOpenAI(resp.Choices[0].Message), nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	stream, err := m.client.CreateChatCompletionStream(ctx, m.request(input, true))
	if err != nil {
		return nil, fmt.Errorf("azure chat stream: %w", err)
	}

	sr, sw := schema.Pipe[*schema.Message](8)
	go func() {
		defer stream.Close()
		defer sw.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				sw.Send(nil, fmt.Errorf("azure chat stream: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			chunk := &schema.Message{Role: schema.Assistant, Content: delta.Content}
			for _, call := range delta.ToolCalls {
				chunk.ToolCalls = append(chunk.ToolCalls, fromOpenAIToolCall(call))
			}
			if closed := sw.Send(chunk, nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

func (m *ChatModel) request(input []*schema.Message, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    m.cfg.Deployment,
		Messages: toOpenAI(input),
		Tools:    m.tools,
		Stream:   stream,
	}
	if m.cfg.Temperature != nil {
		req.Temperature = *m.cfg.Temperature
	}
	if m.cfg.MaxTokens != nil {
		req.MaxTokens = *m.cfg.MaxTokens
	}
	return req
}

func convertTools(tools []*schema.ToolInfo) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(tools))
	for _, info := range tools {
		if info == nil {
			continue
		}
		params := json.RawMessage(`{"type":"object","properties":{}}`)
		if info.ParamsOneOf != nil {
			s, err := info.ParamsOneOf.ToJSONSchema()
			if err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", info.Name, err)
			}
			if s != nil {
				b, err := json.Marshal(s)
				if err != nil {
					return nil, fmt.Errorf("tool %s schema: %w", info.Name, err)
				}
				params = b
			}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        info.Name,
				Description: info.Desc,
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func toOpenAI(input []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		item := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			item.ToolCalls = append(item.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				},
			})
		}
		out = append(out, item)
	}
	return out
}

func fromOpenAI(msg openai.ChatCompletionMessage) *schema.Message {
	out := &schema.Message{Role: schema.Assistant, Content: msg.Content}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, fromOpenAIToolCall(call))
	}
	return out
}

func fromOpenAIToolCall(call openai.ToolCall) schema.ToolCall {
	return schema.ToolCall{
		Index: call.Index,
		ID:    call.ID,
		Type:  string(call.Type),
		Function: schema.FunctionCall{
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		},
	}
}
