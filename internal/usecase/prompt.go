package usecase

import (
	"fmt"
	"strings"

	"support-chat-agent/internal/domain"
)

type promptContext struct {
	persona    string
	storeFacts string
}

// buildChatMessages projects persisted messages into the turn sequence fed
// to the completion provider: one system turn, then at most window of the
// most recent history turns in chronological order.
func buildChatMessages(ctx promptContext, history []domain.Message, window int) []domain.ChatMessage {
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	messages := make([]domain.ChatMessage, 0, len(history)+1)
	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleSystem,
		Content: buildSystemPrompt(ctx),
	})
	for _, m := range history {
		messages = append(messages, domain.ChatMessage{
			Role:    roleForSender(m.Sender),
			Content: m.Text,
		})
	}
	return messages
}

// roleForSender maps a stored sender to a provider role. Anything outside
// the known sender set speaks as the assistant; this is a tolerant-read
// policy, not a validation gate.
func roleForSender(sender domain.Sender) string {
	if sender == domain.SenderUser {
		return domain.RoleUser
	}
	return domain.RoleAssistant
}

// normalizeSender coerces unrecognized stored sender values to SenderAI for
// client-facing views.
func normalizeSender(sender domain.Sender) domain.Sender {
	if sender == domain.SenderUser {
		return domain.SenderUser
	}
	return domain.SenderAI
}

func buildSystemPrompt(ctx promptContext) string {
	return fmt.Sprintf(
		"%s\n\nBehavior Rules:\n%s\n\nStore Policies:\n%s",
		strings.TrimSpace(ctx.persona),
		behaviorRules(),
		normalizePromptInput(ctx.storeFacts),
	)
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Answer only the customer's current question.",
		"2) Keep responses friendly, professional, and concise.",
		"3) Use only the store policies provided in this request as a source of fact.",
		"4) If the required information is not available, say so and suggest contacting support.",
		"5) Never invent order details, prices, or policy exceptions.",
	}, "\n")
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
