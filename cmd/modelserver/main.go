// EtherSentinel model server - Serves fraud predictions over HTTP
package main

import (
	"context"
	"os"

	"github.com/ethersentinel/sentinel/internal/config"
	"github.com/ethersentinel/sentinel/internal/logging"
	"github.com/ethersentinel/sentinel/internal/model"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting ethersentinel model server",
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
		"model_port", cfg.ModelPort,
		"model_path", cfg.ModelPath,
	)

	srv := model.NewServer(cfg, logger)

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
