// EtherSentinel gateway - Resilient fraud risk assessment API
package main

import (
	"context"
	"os"

	"github.com/ethersentinel/sentinel/internal/config"
	"github.com/ethersentinel/sentinel/internal/logging"
	"github.com/ethersentinel/sentinel/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting ethersentinel gateway",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"model_server_url", cfg.ModelServerURL,
		"max_retries", cfg.MaxRetries,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
