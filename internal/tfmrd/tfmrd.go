// Package tfmrd runs the long-lived HTTP service: scans and backtests on
// demand, archived to SQLite.
package tfmrd

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"tfmr/api"
	"tfmr/config"
	"tfmr/engine"
	"tfmr/fetcher"
	"tfmr/internal/storage"
)

func Run(args []string) int {
	fs := flag.NewFlagSet("tfmrd", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var configPath string
	fs.StringVar(&configPath, "config", "", "service config path (YAML), defaults to ./tfmr.yaml when present")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if configPath == "" {
		if _, err := os.Stat("tfmr.yaml"); err == nil {
			configPath = "tfmr.yaml"
		}
	}

	cfg := config.GetConfig(configPath)
	log := config.NewLogger(cfg)

	runCfg := engine.DefaultRunConfig()
	if cfg.RunConfigPath != "" {
		loaded, err := engine.LoadRunConfig(cfg.RunConfigPath)
		if err != nil {
			log.WithError(err).Error("load run config")
			return 1
		}
		runCfg = loaded
	}

	store, err := storage.Open(cfg.StoragePath)
	if err != nil {
		log.WithError(err).Error("open run archive")
		return 1
	}
	defer store.Close()

	client := fetcher.NewChartClient(log).WithRange(cfg.DataRange, cfg.DataInterval)
	universe := fetcher.NewUniverseSource(log)

	handler := api.NewHandler(store, client, universe, runCfg, log)
	server := api.NewServer(handler, cfg.Port, cfg.CORSOrigins, log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("server failed")
			return 1
		}
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
		if err := server.Shutdown(); err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}
	return 0
}
