package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/datachat/backend/internal/model/assistant"
)

const toolGuidance = `Data tools:
- Call start_data_analyst_conversation once per thread to get a conversation id.
- Call message_data_analyst with that id and the user's question, rephrased as a standalone data question.
- message_data_analyst returns JSON whose "response" has a "type" of text, chart or table. Charts and tables are rendered for the user, so do not repeat their numbers in full.
- When "structured" is false the analyst answered in free text; relay its message as is.
- If a tool result starts with "error:", tell the user the data service could not answer and suggest trying again.`

// BuildSystemPrompt 根据助手配置拼装系统提示词，forwarded 为客户端透传的附加指令，追加在最后。
func BuildSystemPrompt(profile assistant.Profile, forwarded string) string {
	var b strings.Builder

	base := strings.TrimSpace(profile.SystemPrompt)
	if base == "" {
		base = fmt.Sprintf("You are %s, %s.", profile.Name, strings.ToLower(profile.Title))
	}
	b.WriteString(base)

	if profile.HasTool(assistant.ToolMessageAnalyst) {
		b.WriteString("\n\n")
		b.WriteString(toolGuidance)
	}

	if forwarded = strings.TrimSpace(forwarded); forwarded != "" {
		b.WriteString("\n\nAdditional instructions:\n")
		b.WriteString(forwarded)
	}
	return b.String()
}
