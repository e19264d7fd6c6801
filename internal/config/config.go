package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Limit is one fixed-window rate-limit layer: at most Max admitted requests
// per key per Window.
type Limit struct {
	Window time.Duration
	Max    int
}

// Chat holds the message-flow tunables.
type Chat struct {
	MaxMessageLength    int           `env:"MAX_MESSAGE_LENGTH" env-default:"5000"`
	HistoryWindow       int           `env:"HISTORY_WINDOW" env-default:"10"`
	MaxCompletionTokens int           `env:"MAX_COMPLETION_TOKENS" env-default:"500"`
	ModelTemperature    float32       `env:"MODEL_TEMPERATURE" env-default:"0.7"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT" env-default:"30s"`
}

// RateLimits configures the four admission-control layers.
type RateLimits struct {
	GeneralWindow      time.Duration `env:"RATE_GENERAL_WINDOW" env-default:"15m"`
	GeneralMax         int           `env:"RATE_GENERAL_MAX" env-default:"100"`
	DailyWindow        time.Duration `env:"RATE_DAILY_WINDOW" env-default:"24h"`
	DailyMax           int           `env:"RATE_DAILY_MAX" env-default:"200"`
	ChatWindow         time.Duration `env:"RATE_CHAT_WINDOW" env-default:"15m"`
	ChatMax            int           `env:"RATE_CHAT_MAX" env-default:"50"`
	ConversationWindow time.Duration `env:"RATE_CONVERSATION_WINDOW" env-default:"15m"`
	ConversationMax    int           `env:"RATE_CONVERSATION_MAX" env-default:"20"`

	// GeneralSkipSuccessful refunds general-layer charges for requests that
	// complete with a non-error status. The other layers always charge at
	// admission time.
	GeneralSkipSuccessful bool `env:"RATE_GENERAL_SKIP_SUCCESSFUL" env-default:"false"`
}

type Config struct {
	Environment string `env:"ENVIRONMENT" env-default:"development"`
	StateTable  string `env:"STATE_TABLE" env-required:"true"`
	ParamPrefix string `env:"PARAM_PREFIX" env-required:"true"`

	Chat       Chat
	RateLimits RateLimits
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Production reports whether the service runs with production log hygiene.
func (c *Config) Production() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

func (r RateLimits) General() Limit      { return Limit{Window: r.GeneralWindow, Max: r.GeneralMax} }
func (r RateLimits) Daily() Limit        { return Limit{Window: r.DailyWindow, Max: r.DailyMax} }
func (r RateLimits) Chat() Limit         { return Limit{Window: r.ChatWindow, Max: r.ChatMax} }
func (r RateLimits) Conversation() Limit { return Limit{Window: r.ConversationWindow, Max: r.ConversationMax} }
