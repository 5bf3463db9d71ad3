package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/njprem/ImportPipeline_BackEnd/internal/app"
	"github.com/njprem/ImportPipeline_BackEnd/internal/config"
	"github.com/njprem/ImportPipeline_BackEnd/internal/logging"
	httptransport "github.com/njprem/ImportPipeline_BackEnd/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger, closer, err := logging.New(logging.Options{
		Level:        cfg.LogLevel,
		Format:       cfg.LogFormat,
		LogstashAddr: cfg.LogstashTCPAddr,
		Service:      "import-pipeline",
	})
	if err != nil {
		logrus.WithError(err).Fatal("failed to configure logging")
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build import pipeline")
	}
	defer pipeline.Close()

	e := httptransport.NewRouter(cfg.AllowOrigins, logger)
	httptransport.RegisterSwagger(e, "docs/swagger.yaml")
	httptransport.RegisterImports(e, pipeline.Tokens, pipeline.Services(), cfg.UploadMaxBytes)

	go func() {
		logger.WithFields(logrus.Fields{
			"port":         cfg.Port,
			"callback_url": cfg.CallbackURL(),
			"minio":        cfg.MinIO.Enabled(),
		}).Info("server starting")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
}
