package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"support-chat-agent/internal/domain"
	"support-chat-agent/internal/integrations/openai"
)

const testParamPrefix = "/support-agent"

type mockParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (m *mockParams) GetParameters(_ context.Context, names []string) (map[string]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		v, ok := m.vals[name]
		if !ok {
			return nil, fmt.Errorf("param not found: %s", name)
		}
		out[name] = v
	}
	return out, nil
}

func testParams() *mockParams {
	return &mockParams{vals: map[string]string{
		testParamPrefix + "/persona":             "You are Maya, the support assistant for Acme Outfitters.",
		testParamPrefix + "/store_facts":         "Returns accepted within 30 days with receipt. Shipping takes 3-5 business days.",
		testParamPrefix + "/config/openai_model": "gpt-4o-mini",
	}}
}

type mockLLM struct {
	reply    string
	err      error
	calls    int
	gotModel string
	gotTurns []domain.ChatMessage
}

func (m *mockLLM) Chat(_ context.Context, model string, messages []domain.ChatMessage) (string, error) {
	m.calls++
	m.gotModel = model
	m.gotTurns = messages
	return m.reply, m.err
}

// mockStore is an in-memory ConversationStore with injectable failures.
type mockStore struct {
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message
	seq           int

	createErr     error
	getErr        error
	saveErr       error
	saveErrAfter  int // fail saves once this many have succeeded; 0 = always when saveErr set
	saves         int
	listErr       error
	listRecentErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
	}
}

func (m *mockStore) CreateConversation(_ context.Context) (domain.Conversation, error) {
	if m.createErr != nil {
		return domain.Conversation{}, m.createErr
	}
	conv := domain.Conversation{ID: uuid.NewString(), CreatedAt: m.tick()}
	m.conversations[conv.ID] = conv
	return conv, nil
}

func (m *mockStore) GetConversation(_ context.Context, id string) (domain.Conversation, error) {
	if m.getErr != nil {
		return domain.Conversation{}, m.getErr
	}
	conv, ok := m.conversations[id]
	if !ok {
		return domain.Conversation{}, domain.ErrConversationNotFound
	}
	return conv, nil
}

func (m *mockStore) SaveMessage(_ context.Context, conversationID string, sender domain.Sender, text string) (domain.Message, error) {
	if m.saveErr != nil && m.saves >= m.saveErrAfter {
		return domain.Message{}, m.saveErr
	}
	m.saves++
	msg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
		CreatedAt:      m.tick(),
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	return msg, nil
}

func (m *mockStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]domain.Message(nil), m.messages[conversationID]...), nil
}

func (m *mockStore) ListRecentMessages(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if m.listRecentErr != nil {
		return nil, m.listRecentErr
	}
	msgs := m.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...), nil
}

func (m *mockStore) tick() time.Time {
	m.seq++
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Second)
}

func newTestService(t *testing.T, p *mockParams, llm *mockLLM, s *mockStore) *ChatService {
	t.Helper()
	svc, err := NewChatService(p, llm, s, testParamPrefix, 10, 5000, false)
	require.NoError(t, err)
	return svc
}

func requireErrorCode(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, code, ucErr.Code)
	require.Equal(t, reason, ucErr.Reason)
}

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	p, llm, s := testParams(), &mockLLM{}, newMockStore()

	_, err := NewChatService(nil, llm, s, testParamPrefix, 10, 5000, false)
	require.Error(t, err)
	_, err = NewChatService(p, nil, s, testParamPrefix, 10, 5000, false)
	require.Error(t, err)
	_, err = NewChatService(p, llm, nil, testParamPrefix, 10, 5000, false)
	require.Error(t, err)
	_, err = NewChatService(p, llm, s, "  ", 10, 5000, false)
	require.Error(t, err)
}

func TestSend_EmptyMessage(t *testing.T) {
	for _, msg := range []string{"", "   ", "\n\t "} {
		s := newMockStore()
		svc := newTestService(t, testParams(), &mockLLM{reply: "hi"}, s)
		_, err := svc.Send(context.Background(), SendInput{Message: msg})
		requireErrorCode(t, err, ErrorInvalidInput, "message_required")
		require.Empty(t, s.messages, "validation must run before storage")
	}
}

func TestSend_MessageTooLong(t *testing.T) {
	svc := newTestService(t, testParams(), &mockLLM{reply: "hi"}, newMockStore())
	_, err := svc.Send(context.Background(), SendInput{Message: strings.Repeat("a", 5001)})
	requireErrorCode(t, err, ErrorInvalidInput, "message_too_long")
}

func TestSend_MessageAtLimitPasses(t *testing.T) {
	svc := newTestService(t, testParams(), &mockLLM{reply: "ok"}, newMockStore())
	_, err := svc.Send(context.Background(), SendInput{Message: strings.Repeat("a", 5000)})
	require.NoError(t, err)
}

func TestSend_FirstCallCreatesConversation(t *testing.T) {
	store := newMockStore()
	llm := &mockLLM{reply: "We accept returns within 30 days."}
	svc := newTestService(t, testParams(), llm, store)

	out, err := svc.Send(context.Background(), SendInput{Message: "  What is your return policy?  "})
	require.NoError(t, err)
	require.NoError(t, uuid.Validate(out.SessionID))
	require.Equal(t, "We accept returns within 30 days.", out.Reply)

	msgs := store.messages[out.SessionID]
	require.Len(t, msgs, 2)
	require.Equal(t, domain.SenderUser, msgs[0].Sender)
	require.Equal(t, "What is your return policy?", msgs[0].Text, "message must be persisted trimmed")
	require.Equal(t, domain.SenderAI, msgs[1].Sender)
	require.Equal(t, out.Reply, msgs[1].Text)
}

func TestSend_MalformedSessionID(t *testing.T) {
	store := newMockStore()
	svc := newTestService(t, testParams(), &mockLLM{reply: "hi"}, store)

	_, err := svc.Send(context.Background(), SendInput{Message: "hello", SessionID: "not-a-uuid"})
	requireErrorCode(t, err, ErrorInvalidInput, "session_id_malformed")
	require.Empty(t, store.messages)
}

func TestSend_UnknownSessionRecoversWithFreshConversation(t *testing.T) {
	store := newMockStore()
	svc := newTestService(t, testParams(), &mockLLM{reply: "hi"}, store)

	ghost := uuid.NewString()
	out, err := svc.Send(context.Background(), SendInput{Message: "hello", SessionID: ghost})
	require.NoError(t, err)
	require.NotEqual(t, ghost, out.SessionID)
	require.NoError(t, uuid.Validate(out.SessionID))
	require.Len(t, store.messages[out.SessionID], 2)
}

func TestSend_ExistingSessionAppends(t *testing.T) {
	store := newMockStore()
	llm := &mockLLM{reply: "reply"}
	svc := newTestService(t, testParams(), llm, store)

	first, err := svc.Send(context.Background(), SendInput{Message: "first question"})
	require.NoError(t, err)

	second, err := svc.Send(context.Background(), SendInput{Message: "second question", SessionID: first.SessionID})
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)

	msgs := store.messages[first.SessionID]
	require.Len(t, msgs, 4)
	require.Equal(t, "first question", msgs[0].Text)
	require.Equal(t, "second question", msgs[2].Text)
}

func TestSend_TurnSequenceShape(t *testing.T) {
	store := newMockStore()
	llm := &mockLLM{reply: "sure"}
	svc := newTestService(t, testParams(), llm, store)

	conv, err := store.CreateConversation(context.Background())
	require.NoError(t, err)
	// 30 prior turns; only the most recent 10 may reach the provider.
	for i := 0; i < 30; i++ {
		sender := domain.SenderUser
		if i%2 == 1 {
			sender = domain.SenderAI
		}
		_, err := store.SaveMessage(context.Background(), conv.ID, sender, fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
	}

	_, err = svc.Send(context.Background(), SendInput{Message: "latest question", SessionID: conv.ID})
	require.NoError(t, err)

	require.Equal(t, "gpt-4o-mini", llm.gotModel)
	require.LessOrEqual(t, len(llm.gotTurns), 11)
	require.Equal(t, domain.RoleSystem, llm.gotTurns[0].Role)
	require.Contains(t, llm.gotTurns[0].Content, "Maya")
	require.Contains(t, llm.gotTurns[0].Content, "30 days")

	last := llm.gotTurns[len(llm.gotTurns)-1]
	require.Equal(t, domain.RoleUser, last.Role)
	require.Equal(t, "latest question", last.Content, "current message must be part of shaped history")
}

func TestSend_ProviderFailureNeverFails(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		fallback string
	}{
		{"unauthorized", fmt.Errorf("chat: %w", &openai.StatusError{StatusCode: 401}), fallbackUnauthorized},
		{"rate limited", fmt.Errorf("chat: %w", &openai.StatusError{StatusCode: 429}), fallbackRateLimited},
		{"upstream outage", fmt.Errorf("chat: %w", &openai.StatusError{StatusCode: 503}), fallbackUnavailable},
		{"timeout", fmt.Errorf("chat: %w", context.DeadlineExceeded), fallbackTimeout},
		{"unclassified", errors.New("connection reset"), fallbackUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMockStore()
			svc := newTestService(t, testParams(), &mockLLM{err: tc.err}, store)

			out, err := svc.Send(context.Background(), SendInput{Message: "hello"})
			require.NoError(t, err, "provider failure must not fail send")
			require.Equal(t, tc.fallback, out.Reply)

			msgs := store.messages[out.SessionID]
			require.Len(t, msgs, 2)
			require.Equal(t, tc.fallback, msgs[1].Text, "fallback reply is persisted like any AI turn")
		})
	}
}

func TestSend_EmptyCompletionFallsBack(t *testing.T) {
	store := newMockStore()
	svc := newTestService(t, testParams(), &mockLLM{reply: "   "}, store)

	out, err := svc.Send(context.Background(), SendInput{Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, fallbackEmpty, out.Reply)
}

func TestSend_StorageFailuresAreOpaque(t *testing.T) {
	store := newMockStore()
	store.saveErr = errors.New("dynamodb: connection refused to 10.0.0.5:8000")
	svc := newTestService(t, testParams(), &mockLLM{reply: "hi"}, store)

	_, err := svc.Send(context.Background(), SendInput{Message: "hello"})
	requireErrorCode(t, err, ErrorInternal, "save_user_message")
}

func TestSend_AITurnStorageFailure(t *testing.T) {
	store := newMockStore()
	store.saveErr = errors.New("boom")
	store.saveErrAfter = 1 // user turn lands, AI turn fails
	svc := newTestService(t, testParams(), &mockLLM{reply: "hi"}, store)

	_, err := svc.Send(context.Background(), SendInput{Message: "hello"})
	requireErrorCode(t, err, ErrorInternal, "save_ai_message")
}

func TestSend_ParamLoadFailure(t *testing.T) {
	svc := newTestService(t, &mockParams{err: errors.New("ssm down")}, &mockLLM{reply: "hi"}, newMockStore())
	_, err := svc.Send(context.Background(), SendInput{Message: "hello"})
	requireErrorCode(t, err, ErrorUnavailable, "param_load_error")
}

func TestSend_ParamsLoadedOnce(t *testing.T) {
	p := testParams()
	svc := newTestService(t, p, &mockLLM{reply: "hi"}, newMockStore())

	_, err := svc.Send(context.Background(), SendInput{Message: "one"})
	require.NoError(t, err)
	loads := p.calls
	_, err = svc.Send(context.Background(), SendInput{Message: "two"})
	require.NoError(t, err)
	require.Equal(t, loads, p.calls, "prompt parameters must be cached per process")
}

func TestHistory_MissingAndMalformedAreNotFound(t *testing.T) {
	svc := newTestService(t, testParams(), &mockLLM{}, newMockStore())

	_, err := svc.History(context.Background(), "")
	requireErrorCode(t, err, ErrorNotFound, "session_id_missing")

	_, err = svc.History(context.Background(), "not-a-uuid")
	requireErrorCode(t, err, ErrorNotFound, "session_id_malformed")
}

func TestHistory_UnknownSessionIsNotFound(t *testing.T) {
	svc := newTestService(t, testParams(), &mockLLM{}, newMockStore())
	_, err := svc.History(context.Background(), uuid.NewString())
	requireErrorCode(t, err, ErrorNotFound, "session_not_found")
}

func TestHistory_ReturnsFullUntruncatedList(t *testing.T) {
	store := newMockStore()
	svc := newTestService(t, testParams(), &mockLLM{}, store)

	conv, err := store.CreateConversation(context.Background())
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		_, err := store.SaveMessage(context.Background(), conv.ID, domain.SenderUser, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	out, err := svc.History(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, out.Messages, 25, "history view is not windowed")
	require.Equal(t, conv.ID, out.SessionID)
	require.Equal(t, "m0", out.Messages[0].Text)
	require.Equal(t, "m24", out.Messages[24].Text)
}

func TestHistory_NormalizesUnknownSenders(t *testing.T) {
	store := newMockStore()
	svc := newTestService(t, testParams(), &mockLLM{}, store)

	conv, err := store.CreateConversation(context.Background())
	require.NoError(t, err)
	_, err = store.SaveMessage(context.Background(), conv.ID, domain.SenderUser, "q")
	require.NoError(t, err)
	_, err = store.SaveMessage(context.Background(), conv.ID, domain.Sender("bot"), "a")
	require.NoError(t, err)

	out, err := svc.History(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SenderUser, out.Messages[0].Sender)
	require.Equal(t, domain.SenderAI, out.Messages[1].Sender, "unrecognized senders are coerced to ai")
}

func TestHistory_IsMonotonicallyNonDecreasing(t *testing.T) {
	store := newMockStore()
	svc := newTestService(t, testParams(), &mockLLM{reply: "r"}, store)

	out, err := svc.Send(context.Background(), SendInput{Message: "one"})
	require.NoError(t, err)

	h1, err := svc.History(context.Background(), out.SessionID)
	require.NoError(t, err)
	require.Len(t, h1.Messages, 2)

	_, err = svc.Send(context.Background(), SendInput{Message: "two", SessionID: out.SessionID})
	require.NoError(t, err)

	h2, err := svc.History(context.Background(), out.SessionID)
	require.NoError(t, err)
	require.Len(t, h2.Messages, 4)
	for i, m := range h1.Messages {
		require.Equal(t, m.ID, h2.Messages[i].ID, "prior messages are never mutated or removed")
	}
}
