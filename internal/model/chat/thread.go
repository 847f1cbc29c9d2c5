package chat

import "time"

// Thread is one conversation in the sidebar thread list.
type Thread struct {
	ID          string    `json:"id"`
	AssistantID string    `json:"assistantId"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
