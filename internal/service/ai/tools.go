package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/datachat/backend/internal/model/analyst"
	"github.com/zhouzirui/datachat/backend/internal/model/assistant"
	analystsvc "github.com/zhouzirui/datachat/backend/internal/service/analyst"
)

// Analyst is the part of the analyst client the tools need.
type Analyst interface {
	Enabled() bool
	StartConversation(ctx context.Context, userCtx analystsvc.UserContext) (string, error)
	Ask(ctx context.Context, conversationID, message string) (*analystsvc.Reply, error)
}

var errMissingArgument = errors.New("missing argument")

type startConversationTool struct {
	analyst Analyst
	userCtx analystsvc.UserContext
}

// NewStartConversationTool opens an analyst conversation scoped to userCtx.
func NewStartConversationTool(analyst Analyst, userCtx analystsvc.UserContext) tool.InvokableTool {
	return &startConversationTool{analyst: analyst, userCtx: userCtx}
}

func (t *startConversationTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        assistant.ToolStartAnalystConversation,
		Desc:        "Start a new conversation with the data analyst. Returns a conversationId to pass to message_data_analyst.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, nil
}

func (t *startConversationTool) InvokableRun(ctx context.Context, _ string, _ ...tool.Option) (string, error) {
	id, err := t.analyst.StartConversation(ctx, t.userCtx)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(map[string]string{"conversationId": id})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type messageAnalystTool struct {
	analyst Analyst
}

// NewMessageAnalystTool sends a question to an analyst conversation. The tool
// output is an analyst.Classified as JSON, so consumers can tell structured
// replies from text fallbacks without parsing the response again.
func NewMessageAnalystTool(analyst Analyst) tool.InvokableTool {
	return &messageAnalystTool{analyst: analyst}
}

func (t *messageAnalystTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: assistant.ToolMessageAnalyst,
		Desc: "Ask the data analyst a question about company data. Answers are text, a chart or a table.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"conversationId": {
				Type:     schema.String,
				Desc:     "Conversation id returned by start_data_analyst_conversation.",
				Required: true,
			},
			"message": {
				Type:     schema.String,
				Desc:     "The question for the data analyst.",
				Required: true,
			},
		}),
	}, nil
}

type messageArgs struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

func (t *messageAnalystTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args messageArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("decode %s arguments: %w", assistant.ToolMessageAnalyst, err)
	}
	if strings.TrimSpace(args.ConversationID) == "" {
		return "", fmt.Errorf("%w: conversationId", errMissingArgument)
	}
	if strings.TrimSpace(args.Message) == "" {
		return "", fmt.Errorf("%w: message", errMissingArgument)
	}

	reply, err := t.analyst.Ask(ctx, args.ConversationID, args.Message)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(analyst.Classified{
		Response:   reply.Response,
		Structured: reply.Structured,
		Reason:     reply.Reason,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
