package assistant

// Tool names the model may be offered.
const (
	ToolStartAnalystConversation = "start_data_analyst_conversation"
	ToolMessageAnalyst           = "message_data_analyst"
)

// DefaultID is the profile used when a thread does not name one.
const DefaultID = "data-analyst"

// Profile captures how the assistant presents itself and which tools it may call.
type Profile struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Title        string   `json:"title" yaml:"title"`
	Description  string   `json:"description,omitempty" yaml:"description"`
	SystemPrompt string   `json:"-" yaml:"systemPrompt"`
	OpeningLine  string   `json:"openingLine,omitempty" yaml:"openingLine"`
	Tools        []string `json:"tools,omitempty" yaml:"tools"`
}

// HasTool reports whether the profile enables the named tool.
func (p Profile) HasTool(name string) bool {
	for _, tool := range p.Tools {
		if tool == name {
			return true
		}
	}
	return false
}

// Seed provides the built-in profiles.
func Seed() []Profile {
	return []Profile{
		{
			ID:          DefaultID,
			Name:        "Data Analyst",
			Title:       "Answers questions about your data",
			Description: "Hands data questions to the analyst service and explains the charts and tables it returns.",
			SystemPrompt: "You are a helpful assistant for business users. " +
				"When a question needs company data, start a data analyst conversation once and then send the user's question to the data analyst. " +
				"Reuse the same conversation id for follow-up questions. " +
				"The analyst's charts and tables are shown to the user directly, so summarise them in one or two sentences instead of repeating the numbers.",
			OpeningLine: "Ask me anything about your data, for example \"how many orders did we ship last month?\"",
			Tools:       []string{ToolStartAnalystConversation, ToolMessageAnalyst},
		},
		{
			ID:           "general",
			Name:         "Assistant",
			Title:        "General chat",
			Description:  "Plain conversation without data tools.",
			SystemPrompt: "You are a concise, friendly assistant.",
			OpeningLine:  "Hi! How can I help?",
		},
	}
}
