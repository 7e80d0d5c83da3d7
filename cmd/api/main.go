package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/hashicorp/go-hclog"

	"github.com/skillre/mindmap-qoder/internal/app"
	"github.com/skillre/mindmap-qoder/internal/config"
)

func main() {
	cfg, err := config.Load()
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "mindmap-api",
		Level:      hclog.LevelFromString(os.Getenv("LOG_LEVEL")),
		JSONFormat: true,
	})
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	application, err := app.NewApp(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	lambda.Start(application.HandleRequest)
}
