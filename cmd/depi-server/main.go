package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/depi/internal/config"
	"github.com/dyluth/depi/internal/server"
)

func main() {
	// 1. Load .env and the optional config file named by DEPI_CONFIG
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	configPath := os.Getenv("DEPI_CONFIG")
	if configPath == "" {
		configPath = config.DefaultPath
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", configPath, err)
		os.Exit(1)
	}

	// 2. The signing secret has no default
	if cfg.Server.TokenSecret == "" {
		fmt.Fprintf(os.Stderr, "Error: %s must be set\n", cfg.Server.TokenSecretEnv)
		os.Exit(1)
	}

	// 3. Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	fmt.Printf("Graph service starting on %s with Redis at %s\n", cfg.Server.Listen, cfg.Server.RedisURL)

	// 4. Serve until a signal arrives
	if err := server.Run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Graph service error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Graph service stopped")
}
