package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"support-chat-agent/internal/ratelimit"
	"support-chat-agent/internal/usecase"
)

const defaultRequestTimeout = 30 * time.Second

// ChatUseCase is the coordinator surface the handler drives.
type ChatUseCase interface {
	Send(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
	History(ctx context.Context, sessionID string) (usecase.HistoryOutput, error)
}

// Handler routes API Gateway events to the chat service. Admission control
// runs before any coordinator logic, and every request is bounded by one
// blanket timeout.
type Handler struct {
	chat           ChatUseCase
	gate           *ratelimit.Gate
	requestTimeout time.Duration
}

func NewHandler(chat ChatUseCase, gate *ratelimit.Gate, requestTimeout time.Duration) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat usecase must not be nil")
	}
	if gate == nil {
		return nil, errors.New("handler: admission gate must not be nil")
	}
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return &Handler{chat: chat, gate: gate, requestTimeout: requestTimeout}, nil
}

type sendRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type sendResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
}

type historyMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type historyResponse struct {
	Messages  []historyMessage `json:"messages"`
	SessionID string           `json:"sessionId"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handle is the lambda entrypoint for every route.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	origin := originIdentity(event)

	method := event.HTTPMethod
	path := strings.TrimRight(event.Path, "/")
	if path == "" {
		path = "/"
	}

	switch {
	case method == http.MethodGet && path == "/health":
		return h.handleHealth(corrID, origin), nil
	case method == http.MethodPost && path == "/chat/message":
		return h.handleSend(ctx, corrID, origin, event.Body), nil
	case method == http.MethodGet && strings.HasPrefix(path, "/chat/history/"):
		sessionID := strings.TrimPrefix(path, "/chat/history/")
		return h.handleHistory(ctx, corrID, origin, sessionID), nil
	default:
		return jsonResponse(http.StatusNotFound, corrID, errorResponse{Error: "Not found"}), nil
	}
}

func (h *Handler) handleHealth(corrID, origin string) events.APIGatewayProxyResponse {
	admission := ratelimit.Request{Origin: origin}
	if d := h.gate.Admit(admission); !d.Allowed {
		return throttledResponse(corrID, d)
	}
	resp := jsonResponse(http.StatusOK, corrID, healthResponse{Status: "ok"})
	h.gate.Completed(admission, resp.StatusCode)
	return resp
}

func (h *Handler) handleSend(ctx context.Context, corrID, origin, body string) events.APIGatewayProxyResponse {
	var req sendRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: "Invalid request body"})
	}

	admission := ratelimit.Request{
		Origin:          origin,
		ConversationKey: strings.TrimSpace(req.SessionID),
		Chat:            true,
		Send:            true,
	}
	if d := h.gate.Admit(admission); !d.Allowed {
		return throttledResponse(corrID, d)
	}

	tctx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	out, err := h.chat.Send(tctx, usecase.SendInput{
		Message:   req.Message,
		SessionID: req.SessionID,
	})

	var resp events.APIGatewayProxyResponse
	if err != nil {
		status, message := mapError(err)
		resp = jsonResponse(status, corrID, errorResponse{Error: message})
	} else {
		resp = jsonResponse(http.StatusOK, corrID, sendResponse{
			Reply:     out.Reply,
			SessionID: out.SessionID,
		})
	}
	h.gate.Completed(admission, resp.StatusCode)
	return resp
}

func (h *Handler) handleHistory(ctx context.Context, corrID, origin, sessionID string) events.APIGatewayProxyResponse {
	// History is read-only: the per-conversation layer does not apply.
	admission := ratelimit.Request{Origin: origin, Chat: true}
	if d := h.gate.Admit(admission); !d.Allowed {
		return throttledResponse(corrID, d)
	}

	tctx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	out, err := h.chat.History(tctx, sessionID)

	var resp events.APIGatewayProxyResponse
	if err != nil {
		status, message := mapError(err)
		resp = jsonResponse(status, corrID, errorResponse{Error: message})
	} else {
		msgs := make([]historyMessage, 0, len(out.Messages))
		for _, m := range out.Messages {
			msgs = append(msgs, historyMessage{
				ID:        m.ID,
				Sender:    string(m.Sender),
				Text:      m.Text,
				CreatedAt: m.CreatedAt,
			})
		}
		resp = jsonResponse(http.StatusOK, corrID, historyResponse{
			Messages:  msgs,
			SessionID: out.SessionID,
		})
	}
	h.gate.Completed(admission, resp.StatusCode)
	return resp
}

// validationMessages are the client-facing texts for validation reasons.
var validationMessages = map[string]string{
	"message_required":     "Message is required",
	"message_too_long":     "Message must be 5000 characters or fewer",
	"session_id_malformed": "Session ID must be a valid UUID",
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// mapError converts a usecase error into a client-facing status and message.
// Storage detail never leaks: anything internal is reported generically.
func mapError(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout, "Request timed out, please try again."
	}

	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, "Something went wrong, please try again later."
	}

	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		if msg, ok := validationMessages[ucErr.Reason]; ok {
			return http.StatusBadRequest, msg
		}
		return http.StatusBadRequest, "Invalid request"
	case usecase.ErrorNotFound:
		return http.StatusNotFound, "Conversation not found"
	case usecase.ErrorUnavailable:
		return http.StatusServiceUnavailable, "Service temporarily unavailable, please try again later."
	default:
		// Dependency credential or quota trouble hiding behind an internal
		// error is still a retry-later condition for the client.
		if status, ok := upstreamStatus(ucErr); ok {
			switch status {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
				return http.StatusServiceUnavailable, "Service temporarily unavailable, please try again later."
			}
		}
		return http.StatusInternalServerError, "Something went wrong, please try again later."
	}
}

func upstreamStatus(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

func throttledResponse(corrID string, d ratelimit.Decision) events.APIGatewayProxyResponse {
	resp := jsonResponse(http.StatusTooManyRequests, corrID, errorResponse{Error: d.Message})
	if d.RetryAfter > 0 {
		secs := int(d.RetryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		resp.Headers["Retry-After"] = fmt.Sprintf("%d", secs)
	}
	return resp
}

func jsonResponse(status int, corrID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte(`{"error":"Something went wrong, please try again later."}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": corrID,
		},
		Body: string(raw),
	}
}

// correlationID honors an inbound X-Correlation-Id header regardless of
// casing, generating a fresh ID otherwise.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "X-Correlation-Id") && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}

// originIdentity is the rate-limit key for the caller: the source IP as seen
// by API Gateway. Requests without one share a single fallback bucket.
func originIdentity(event events.APIGatewayProxyRequest) string {
	if ip := strings.TrimSpace(event.RequestContext.Identity.SourceIP); ip != "" {
		return ip
	}
	return "unknown"
}
