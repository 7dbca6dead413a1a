package main

import (
	"context"

	"voice-bridge/internal/clients/openai"
	"voice-bridge/internal/config"
	"voice-bridge/internal/observability"
	"voice-bridge/internal/server"
	"voice-bridge/internal/token"
	voicecallHandler "voice-bridge/internal/voicecall/handler"
)

func main() {
	ctx := context.Background()
	logger := observability.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(ctx, "failed to load configuration", err)
	}

	realtime, err := openai.NewClient(cfg.OpenAI.APIKey, logger)
	if err != nil {
		logger.Fatal(ctx, "failed to create realtime client", err)
	}

	tokens := token.NewStore()
	handler := voicecallHandler.New(tokens, realtime, cfg, logger)

	srv := server.New(cfg, handler, logger)
	srv.Setup()
	if err := srv.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start server", err)
	}
	if err := srv.WaitForShutdown(ctx); err != nil {
		logger.Fatal(ctx, "failed to shut down cleanly", err)
	}
}
