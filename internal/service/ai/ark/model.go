// Package ark adapts the Volcengine Ark chat model to eino's tool-calling
// interface.
package ark

import (
	"context"

	arkmodel "github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModel wraps an Ark model and passes its tools as per-call options.
// The wrapped model is never mutated, so one instance serves every request.
type ChatModel struct {
	inner *arkmodel.ChatModel
	tools []*schema.ToolInfo
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)

// NewChatModel creates an Ark chat model from cfg.
func NewChatModel(ctx context.Context, cfg *arkmodel.ChatModelConfig) (*ChatModel, error) {
	inner, err := arkmodel.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ChatModel{inner: inner}, nil
}

// WithTools returns a copy of the model that offers tools on every call.
func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound := make([]*schema.ToolInfo, len(tools))
	copy(bound, tools)
	return &ChatModel{inner: m.inner, tools: bound}, nil
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return m.inner.Generate(ctx, input, m.options(opts)...)
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return m.inner.Stream(ctx, input, m.options(opts)...)
}

// options puts the bound tools first so a caller's own WithTools still wins.
func (m *ChatModel) options(opts []model.Option) []model.Option {
	if len(m.tools) == 0 {
		return opts
	}
	return append([]model.Option{model.WithTools(m.tools)}, opts...)
}
