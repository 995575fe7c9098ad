package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sort"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"periodpal/handler"
	"periodpal/internal/catalog"
	"periodpal/internal/config"
	"periodpal/internal/connectivity"
	"periodpal/internal/conversation"
	"periodpal/internal/flows"
	"periodpal/internal/integrations/openai"
	"periodpal/internal/integrations/paramstore"
	"periodpal/internal/repository"
	"periodpal/internal/translation"
	"periodpal/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	cat, err := catalog.Load()
	if err != nil {
		logger.Error("failed to load catalog", "err", err)
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg), paramstore.WithPrefix(cfg.ParamPrefix))
	if err != nil {
		logger.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, repository.WithTTL(cfg.StateTTL))
	if err != nil {
		logger.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	gate := connectivity.NewGate(cfg.OfflineRetry)
	gate.Subscribe(func(online bool) {
		logger.Info("model connectivity changed", "online", online)
	})
	httpClient := &http.Client{
		Transport: &connectivity.Transport{Gate: gate},
		Timeout:   cfg.OpenAITimeout,
	}
	openaiClient, err := openai.NewClient(ssmClient,
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithHTTPClient(httpClient),
		openai.WithRateLimit(cfg.OpenAIRateLimitRPS, cfg.OpenAIRateLimitBurst),
	)
	if err != nil {
		logger.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Flows ----
	models, err := flows.NewModels(ssmClient)
	if err != nil {
		logger.Error("failed to create model config", "err", err)
		os.Exit(1)
	}
	answerer, err := flows.NewAnswerer(openaiClient, models)
	if err != nil {
		logger.Error("failed to create answer flow", "err", err)
		os.Exit(1)
	}
	translateFlow, err := flows.NewTranslator(openaiClient, models)
	if err != nil {
		logger.Error("failed to create translation flow", "err", err)
		os.Exit(1)
	}
	translator, err := translation.New(translateFlow,
		translation.WithConcurrency(cfg.TranslationConcurrency),
		translation.WithSupported(languages(cat)...),
	)
	if err != nil {
		logger.Error("failed to create translation service", "err", err)
		os.Exit(1)
	}

	// ---- Use cases ----
	store, err := conversation.NewStore(stateClient, logger)
	if err != nil {
		logger.Error("failed to create conversation store", "err", err)
		os.Exit(1)
	}
	settingsService, err := usecase.NewSettingsService(stateClient, cat, logger)
	if err != nil {
		logger.Error("failed to create settings service", "err", err)
		os.Exit(1)
	}
	faqService, err := usecase.NewFAQService(cat, translator, logger)
	if err != nil {
		logger.Error("failed to create faq service", "err", err)
		os.Exit(1)
	}

	deps := usecase.ChatDeps{
		Gate:       gate,
		Translator: translator,
		Answerer:   answerer,
		Store:      store,
		Settings:   settingsService,
		Catalog:    cat,
		Logger:     logger,
	}
	if cfg.ModerationEnabled {
		deps.Moderator = openaiClient
	}
	chatService, err := usecase.NewChatService(deps,
		usecase.WithMaxUtteranceLength(cfg.MaxUtteranceLength),
		usecase.WithMaxHistoryMessages(cfg.MaxHistoryMessages),
	)
	if err != nil {
		logger.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(handler.Deps{
		Chat:      chatService,
		FAQs:      faqService,
		Settings:  settingsService,
		Directory: cat,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func languages(c *catalog.Catalog) []string {
	out := make([]string, 0, len(c.Languages))
	for tag := range c.Languages {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
