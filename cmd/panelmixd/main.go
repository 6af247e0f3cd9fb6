// panelmixd is the per-application audio router and mixer daemon: it owns
// the virtual device endpoints, the mixing engine, and the control surface
// an external UI talks to.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/mvogt/panelmix/internal/api"
	"github.com/mvogt/panelmix/internal/config"
	"github.com/mvogt/panelmix/internal/device"
	"github.com/mvogt/panelmix/internal/endpoint"
	"github.com/mvogt/panelmix/internal/routing"
)

func main() {
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		logFatal(err, "configuration error")
	}

	logger := log.New(os.Stderr)
	if cfg.Verbose {
		logger.SetLevel(log.DebugLevel)
	}

	logger.Info("panelmixd starting", "listen", cfg.ListenAddr, "routing-config", cfg.RoutingConfigPath)

	host := endpoint.Load(endpoint.DefaultProfile)

	dir, err := device.NewMalgoDirectory()
	if err != nil {
		logFatalL(logger, err, "failed to initialize device directory")
	}
	defer dir.Close()

	manager := routing.NewManager(cfg.RoutingConfigPath, host, dir, logger)
	if err := manager.Initialize(); err != nil {
		logFatalL(logger, err, "failed to initialize routing manager")
	}

	server := api.New(manager, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := server.Run(ctx, cfg.ListenAddr); err != nil {
		logger.Error("control surface exited with error", "err", err)
	}

	if err := manager.Shutdown(); err != nil {
		logger.Error("failed to flush routing config on shutdown", "err", err)
	}
	logger.Info("panelmixd stopped")
}

func logFatal(err error, msg string) {
	log.New(os.Stderr).Fatal(msg, "err", err)
}

func logFatalL(logger *log.Logger, err error, msg string) {
	logger.Fatal(msg, "err", err)
}
