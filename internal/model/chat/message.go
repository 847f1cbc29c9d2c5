package chat

import (
	"time"

	"github.com/zhouzirui/datachat/backend/internal/model/analyst"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleTool
}

// Message is a single turn of a thread. Tool turns keep the normalized
// analyst reply so the client can re-render charts and tables on reload.
type Message struct {
	ID         string            `json:"id"`
	ThreadID   string            `json:"threadId"`
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolName   string            `json:"toolName,omitempty"`
	ToolCallID string            `json:"toolCallId,omitempty"`
	Structured *analyst.Response `json:"structured,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}
