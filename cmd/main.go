package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"support-chat-agent/handler"
	"support-chat-agent/internal/config"
	"support-chat-agent/internal/integrations/openai"
	"support-chat-agent/internal/integrations/paramstore"
	"support-chat-agent/internal/ratelimit"
	"support-chat-agent/internal/repository"
	"support-chat-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		slog.Error("failed to create conversation store", "err", err)
		os.Exit(1)
	}
	llmClient, err := openai.NewClient(ssmClient, cfg.ParamPrefix, cfg.Chat.MaxCompletionTokens, cfg.Chat.ModelTemperature)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(
		ssmClient,
		llmClient,
		store,
		cfg.ParamPrefix,
		cfg.Chat.HistoryWindow,
		cfg.Chat.MaxMessageLength,
		cfg.Production(),
	)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	gate := ratelimit.NewGate(cfg.RateLimits)

	h, err := handler.NewHandler(chatService, gate, cfg.Chat.RequestTimeout)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
