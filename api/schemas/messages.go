package schemas

// -- Chat Schemas --

// Role tags the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged block of text sent to a ChatModel.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Completion is a normalized model response.
type Completion struct {
	Content string `json:"content"`
	// Structured is true when the provider guaranteed Content is a bare JSON
	// document (native structured output). Otherwise the JSON object has to be
	// located inside free text.
	Structured bool `json:"structured"`
}

// SystemMessage, UserMessage and AssistantMessage are small constructors used when
// assembling prompts.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
