package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"atelier/internal/config"
	"atelier/internal/dispatch"
	server "atelier/internal/http"
	"atelier/internal/notify"
	"atelier/internal/registry"
	"atelier/internal/report"
	"atelier/internal/services"
	"atelier/internal/vision"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Set up logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	// The vision client may be unconfigured (no API key); the server
	// still starts and rejects submissions until it is.
	describer, provider, model, execErr := vision.NewDescriberFromConfig(cfg)
	if execErr != nil {
		logger.Warn("vision executor unconfigured, submissions will be rejected", "error", execErr)
	} else {
		logger.Info("vision executor ready", "provider", string(provider), "model", model)
	}

	bus := notify.NewBus(logger)
	reg := registry.New(bus, time.Duration(cfg.Eta.DefaultTaskSeconds)*time.Second, logger)
	disp := dispatch.New(describer, cfg.Worker.MaxConcurrentTasks, time.Duration(cfg.Worker.TaskTimeoutMs)*time.Millisecond, logger)
	builder := report.NewXLSXBuilder(cfg.Export.SheetName, cfg.Export.DescriptionLines, logger)
	svc := services.NewJobService(reg, disp, builder, string(provider), model, logger)

	rootCtx := context.Background()

	// TTL eviction of terminal jobs; no-op unless enabled in config.
	go registry.StartSweeper(rootCtx, cfg, reg)

	s := server.NewServer(cfg, svc, bus, execErr, logger)
	if err := s.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
