package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"support-chat-agent/internal/domain"
)

// Fallback replies returned when the completion provider fails. The chat
// endpoint must still answer on third-party outages, so provider failures
// are converted to text here and never surfaced as errors.
const (
	fallbackUnauthorized = "I'm unable to answer right now. Our team has been notified, please try again later."
	fallbackRateLimited  = "We're helping a lot of customers at the moment. Please try again in a few minutes."
	fallbackTimeout      = "That took longer than expected. Please try asking again."
	fallbackUnavailable  = "I'm having trouble answering right now. Please try again in a moment."
	fallbackEmpty        = "I didn't quite catch that. Could you rephrase your question?"
)

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// generateReply invokes the completion provider and returns plain text
// unconditionally. Any provider-side failure is classified, logged as a
// side channel, and mapped to a user-safe fallback string.
func (s *ChatService) generateReply(ctx context.Context, turns []domain.ChatMessage) string {
	raw, err := s.llm.Chat(ctx, s.openaiModel, turns)
	if err != nil {
		reason, fallback := classifyProviderFailure(err)
		slog.Warn("completion provider failure", "reason", reason, "err", err)
		return fallback
	}
	reply := strings.TrimSpace(raw)
	if reply == "" {
		slog.Warn("completion provider failure", "reason", "empty_completion")
		return fallbackEmpty
	}
	return reply
}

func classifyProviderFailure(err error) (reason, fallback string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", fallbackTimeout
	}
	if status, ok := upstreamStatusCode(err); ok {
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return "unauthorized", fallbackUnauthorized
		case status == http.StatusTooManyRequests:
			return "rate_limited", fallbackRateLimited
		case status >= 500:
			return "upstream_unavailable", fallbackUnavailable
		}
	}
	return "upstream_error", fallbackUnavailable
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
