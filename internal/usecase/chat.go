package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"support-chat-agent/internal/domain"
)

const (
	defaultHistoryWindow = 10
	defaultMaxMessageLen = 5000
)

// ParamGetter fetches the prompt configuration in one batch. Satisfied by
// the paramstore client.
type ParamGetter interface {
	GetParameters(ctx context.Context, names []string) (map[string]string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// ConversationStore is the record-store surface the chat service consumes.
type ConversationStore interface {
	CreateConversation(ctx context.Context) (domain.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	SaveMessage(ctx context.Context, conversationID string, sender domain.Sender, text string) (domain.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

// ChatService coordinates the message flow: session resolution, user-turn
// persistence, history shaping, completion, and AI-turn persistence. It
// holds no per-conversation state; all cross-request state lives in the
// store.
type ChatService struct {
	params        ParamGetter
	llm           LLMClient
	store         ConversationStore
	paramPrefix   string
	historyWindow int
	maxMessageLen int
	production    bool

	cacheMu     sync.RWMutex
	cacheLoaded bool
	persona     string
	storeFacts  string
	openaiModel string
}

type SendInput struct {
	Message   string
	SessionID string
}

type SendOutput struct {
	Reply     string
	SessionID string
}

type HistoryOutput struct {
	Messages  []domain.Message
	SessionID string
}

func NewChatService(p ParamGetter, llm LLMClient, s ConversationStore, paramPrefix string, historyWindow, maxMessageLen int, production bool) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if historyWindow <= 0 {
		historyWindow = defaultHistoryWindow
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessageLen
	}
	return &ChatService{
		params:        p,
		llm:           llm,
		store:         s,
		paramPrefix:   paramPrefix,
		historyWindow: historyWindow,
		maxMessageLen: maxMessageLen,
		production:    production,
	}, nil
}

// Send appends a user turn, generates a reply, and appends it as an AI turn.
// Provider failures never fail the call; the reply degrades to a safe
// fallback string instead. Concurrent sends on one conversation are not
// serialized: two callers may interleave their history reads and appends.
func (s *ChatService) Send(ctx context.Context, in SendInput) (SendOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "message_required", nil)
	}
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return SendOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	if err := s.ensureConfig(ctx); err != nil {
		return SendOutput{}, newError(ErrorUnavailable, "param_load_error", err)
	}

	conv, resolveErr := s.resolveSession(ctx, in.SessionID)
	if resolveErr != nil {
		return SendOutput{}, resolveErr
	}

	if _, err := s.store.SaveMessage(ctx, conv.ID, domain.SenderUser, message); err != nil {
		return SendOutput{}, s.storageError("save_user_message", err)
	}

	// The just-saved user message is part of the history read back here.
	turns, err := s.buildTurns(ctx, conv.ID)
	if err != nil {
		return SendOutput{}, s.storageError("load_history", err)
	}

	reply := s.generateReply(ctx, turns)

	if _, err := s.store.SaveMessage(ctx, conv.ID, domain.SenderAI, reply); err != nil {
		return SendOutput{}, s.storageError("save_ai_message", err)
	}

	return SendOutput{Reply: reply, SessionID: conv.ID}, nil
}

// History returns the full message list for an existing conversation. Unlike
// Send, an unknown identity is not recovered here: fetching history for a
// conversation that does not exist is a not-found condition, and malformed
// or missing identities are classed the same way.
func (s *ChatService) History(ctx context.Context, sessionID string) (HistoryOutput, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return HistoryOutput{}, newError(ErrorNotFound, "session_id_missing", nil)
	}
	if _, err := uuid.Parse(id); err != nil {
		return HistoryOutput{}, newError(ErrorNotFound, "session_id_malformed", nil)
	}

	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			return HistoryOutput{}, newError(ErrorNotFound, "session_not_found", nil)
		}
		return HistoryOutput{}, s.storageError("get_conversation", err)
	}

	msgs, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return HistoryOutput{}, s.storageError("list_messages", err)
	}
	for i := range msgs {
		msgs[i].Sender = normalizeSender(msgs[i].Sender)
	}
	return HistoryOutput{Messages: msgs, SessionID: conv.ID}, nil
}

// resolveSession maps the optional client token to an existing conversation.
// Absent → create. Malformed → validation failure. Well-formed but unknown →
// silently create a fresh conversation (send-path recovery).
func (s *ChatService) resolveSession(ctx context.Context, raw string) (domain.Conversation, *Error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		conv, err := s.store.CreateConversation(ctx)
		if err != nil {
			return domain.Conversation{}, s.storageError("create_conversation", err)
		}
		return conv, nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return domain.Conversation{}, newError(ErrorInvalidInput, "session_id_malformed", nil)
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, domain.ErrConversationNotFound) {
		return domain.Conversation{}, s.storageError("get_conversation", err)
	}
	conv, err = s.store.CreateConversation(ctx)
	if err != nil {
		return domain.Conversation{}, s.storageError("create_conversation", err)
	}
	return conv, nil
}

// buildTurns shapes the conversation history for the completion provider:
// at most historyWindow recent turns in chronological order, preceded by
// exactly one system turn.
func (s *ChatService) buildTurns(ctx context.Context, conversationID string) ([]domain.ChatMessage, error) {
	history, err := s.store.ListRecentMessages(ctx, conversationID, s.historyWindow)
	if err != nil {
		return nil, err
	}
	return buildChatMessages(promptContext{
		persona:    s.persona,
		storeFacts: s.storeFacts,
	}, history, s.historyWindow), nil
}

// storageError wraps any record-store failure into one opaque condition so
// driver detail never reaches a client. Full detail is logged server-side
// outside production.
func (s *ChatService) storageError(reason string, err error) *Error {
	if s.production {
		slog.Error("storage failure", "reason", reason)
	} else {
		slog.Error("storage failure", "reason", reason, "err", err)
	}
	return newError(ErrorInternal, reason, err)
}

func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	persona, storeFacts, openaiModel, err := s.loadParams(ctx)
	if err != nil {
		return err
	}

	s.persona = persona
	s.storeFacts = storeFacts
	s.openaiModel = openaiModel
	s.cacheLoaded = true
	return nil
}

func (s *ChatService) loadParams(ctx context.Context) (persona, storeFacts, openaiModel string, err error) {
	names := []string{
		s.paramPrefix + "/persona",
		s.paramPrefix + "/store_facts",
		s.paramPrefix + "/config/openai_model",
	}
	values, err := s.params.GetParameters(ctx, names)
	if err != nil {
		return "", "", "", fmt.Errorf("usecase: load prompt parameters: %w", err)
	}
	return values[names[0]], values[names[1]], values[names[2]], nil
}
