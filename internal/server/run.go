package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/depi/internal/config"
	"github.com/dyluth/depi/internal/graph"
	"github.com/dyluth/depi/internal/wire"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

// OpenService connects to the Redis instance of cfg and returns the graph service.
// The returned function closes the Redis client.
func OpenService(ctx context.Context, cfg *config.DepiConfig) (*graph.Service, func() error, error) {
	if cfg.Server.TokenSecret == "" {
		return nil, nil, fmt.Errorf("no token secret: set %s", cfg.Server.TokenSecretEnv)
	}

	redisOpts, err := redis.ParseURL(cfg.Server.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis not accessible at %s: %w", cfg.Server.RedisURL, err)
	}

	svc, err := graph.NewService(ctx, rdb, graph.Options{
		TokenSecret:  []byte(cfg.Server.TokenSecret),
		TokenTTL:     cfg.Server.TokenTTL(),
		SessionTTL:   cfg.Server.SessionTTL(),
		PathDividers: cfg.PathDividers(),
	})
	if err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to create graph service: %w", err)
	}
	return svc, rdb.Close, nil
}

// Run serves the graph service of cfg until ctx ends, then shuts down gracefully.
func Run(ctx context.Context, cfg *config.DepiConfig) error {
	svc, closeStore, err := OpenService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := New(cfg.Server.Listen, svc, wire.NewServer(graph.NewDispatcher(svc))).WithDepiPath(cfg.Server.Path)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	log.Printf("[Server] Listening on %s (protocol at %s)", cfg.Server.Listen, cfg.Server.Path)

	<-ctx.Done()

	log.Printf("[Server] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
