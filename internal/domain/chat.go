package domain

// Turn roles understood by the completion provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the transient role-tagged turn passed to the LLM
// integration. It is derived from persisted Messages and never stored.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
