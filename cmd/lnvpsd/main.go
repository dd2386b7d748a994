package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lnvps/lnvpsd/internal/app"
	"github.com/lnvps/lnvpsd/internal/config"
)

func main() {
	mode := flag.String("mode", "", "run mode: api, worker, migrate, or rotate-key (overrides the config file's mode)")
	configPath := flag.String("config", "", "path to the YAML config file (overrides LNVPSD_CONFIG)")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	if *mode != "" {
		cfg.Mode = *mode
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
