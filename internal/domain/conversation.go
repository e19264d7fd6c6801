package domain

import "time"

// Sender identifies who produced a persisted message. The set is closed:
// anything else found in storage is coerced to SenderAI on read.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Conversation groups messages sharing one identity token. It is created
// implicitly on first message and never mutated afterwards.
type Conversation struct {
	ID        string
	CreatedAt time.Time
}

// Message is a single persisted conversation turn. Messages are append-only:
// nothing in this service updates or deletes one.
type Message struct {
	ID             string
	ConversationID string
	Sender         Sender
	Text           string
	CreatedAt      time.Time
}
