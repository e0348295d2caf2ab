package models

// Conversation roles accepted on the chat endpoints.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single conversation turn. The ordered slice of turns
// sent with a chat request forms the chat history; it is never persisted
// beyond that request.
type ChatMessage struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}
