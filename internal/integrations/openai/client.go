package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	gopenai "github.com/sashabaranov/go-openai"

	"support-chat-agent/internal/domain"
)

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// StatusError captures upstream HTTP statuses with status-aware context so
// callers can distinguish credential, quota, and availability failures.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused chat-completions client. The underlying SDK client is
// built on first use, once the API key has been fetched from the parameter
// store, and reused for the lifetime of the process.
type Client struct {
	getter      Getter
	paramPrefix string
	baseURL     string
	maxTokens   int
	temperature float32

	initOnce sync.Once
	api      *gopenai.Client
	initErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

// WithAPI injects a pre-built SDK client, bypassing parameter-store key
// resolution. Used by tests.
func WithAPI(api *gopenai.Client) Option {
	return func(c *Client) {
		c.api = api
	}
}

// NewClient creates a Client backed by the given paramstore Getter for API
// key retrieval. maxTokens caps the generated output size; temperature is
// the fixed sampling temperature applied to every request.
func NewClient(ps Getter, paramPrefix string, maxTokens int, temperature float32, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	if maxTokens <= 0 {
		return nil, errors.New("openai: max tokens must be positive")
	}
	c := &Client{
		getter:      ps,
		paramPrefix: paramPrefix,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

// resolveAPI builds the SDK client on the first call and returns the cached
// result on every subsequent call within the same process lifetime.
func (c *Client) resolveAPI(ctx context.Context) (*gopenai.Client, error) {
	c.initOnce.Do(func() {
		if c.api != nil {
			return
		}
		apiKey, err := fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
		if err != nil {
			c.initErr = err
			return
		}
		cfg := gopenai.DefaultConfig(apiKey)
		if c.baseURL != "" {
			cfg.BaseURL = c.baseURL
		}
		c.api = gopenai.NewClientWithConfig(cfg)
	})
	return c.api, c.initErr
}

// Chat sends the turn sequence to the chat-completions endpoint and returns
// the generated text. Upstream HTTP failures are wrapped in *StatusError.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("openai: model must not be empty")
	}
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return "", err
	}

	resp, err := api.CreateChatCompletion(ctx, gopenai.ChatCompletionRequest{
		Model:       model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages:    toProviderMessages(messages),
	})
	if err != nil {
		return "", wrapProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func toProviderMessages(messages []domain.ChatMessage) []gopenai.ChatCompletionMessage {
	out := make([]gopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, gopenai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return out
}

func wrapProviderError(err error) error {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai: chat completion: %w", &StatusError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
		})
	}
	var reqErr *gopenai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("openai: chat completion: %w", &StatusError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
		})
	}
	return fmt.Errorf("openai: chat completion: %w", err)
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
