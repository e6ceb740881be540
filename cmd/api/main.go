package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/jun/docpick/internal/app"
	"github.com/jun/docpick/internal/config"
	"github.com/jun/docpick/internal/logging"
)

func main() {
	cfg := config.Load()
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		panic(err)
	}
	defer logging.Sync()

	application, err := app.NewApp(context.Background(), cfg)
	if err != nil {
		logging.L().Fatal("init failed", zap.Error(err))
	}
	lambda.Start(application.HandleRequest)
}
