// Package main provides the entry point for the typedown auth relay server.
// The relay keeps browser editors authenticated against Google Drive without
// holding any server-side session state: the only durable artifact is an
// encrypted refresh-token cookie that only the relay itself can open.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/typedown-app/typedown/internal/api"
	"github.com/typedown-app/typedown/internal/buildinfo"
	"github.com/typedown-app/typedown/internal/config"
	"github.com/typedown-app/typedown/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("typedown auth relay Version: %s, Commit: %s, BuiltAt: %s\n",
		buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// Secrets arrive through the environment; .env covers local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("failed to load .env file: %v", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err = cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logging.ApplyLogLevel(cfg)
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}

	server, err := api.New(cfg)
	if err != nil {
		log.Fatalf("failed to build server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(configPath, server.ApplyReloadableConfig)
	if err != nil {
		log.Warnf("config hot reload unavailable: %v", err)
	} else {
		if err = watcher.Start(ctx); err != nil {
			log.Warnf("config hot reload unavailable: %v", err)
		}
		defer func() { _ = watcher.Close() }()
	}

	if err = server.Run(ctx); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
	log.Info("auth relay stopped")
}
