package models

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry in the append-only conversation log.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// LastOfRole returns the content of the most recent message with the given
// role, or "" when none exists.
func LastOfRole(messages []ChatMessage, role Role) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == role {
			return messages[i].Content
		}
	}
	return ""
}
