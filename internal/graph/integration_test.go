//go:build integration

package graph

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/depi/pkg/depi"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container for testing.
func setupRedis(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisURL := fmt.Sprintf("redis://%s:%s", host, port.Port())

	cleanup := func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	}

	return redisURL, cleanup
}

// TestConcurrentSaves_AllCommitted saves many blackboards at once against a real
// Redis. Every save touches the same branch, so most transactions are retried.
func TestConcurrentSaves_AllCommitted(t *testing.T) {
	redisURL, cleanup := setupRedis(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("Failed to parse Redis URL: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	svc, err := NewService(ctx, rdb, Options{TokenSecret: []byte("integration")})
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}

	const users = 6
	var wg sync.WaitGroup
	errs := make(chan error, users)
	for i := 0; i < users; i++ {
		user := fmt.Sprintf("user-%d", i)
		src := staged("repo-shared", "v1", fmt.Sprintf("/src-%d.txt", i))
		tgt := staged(fmt.Sprintf("repo-%d", i), "v1", "/target.txt")
		if err := svc.Stage(ctx, user, depi.StageRequest{Links: []depi.ResourceLink{link(src, tgt)}}); err != nil {
			t.Fatalf("Failed to stage for %s: %v", user, err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.SaveBlackboard(ctx, user)
		}()
	}
	wg.Wait()
	close(errs)

	saved := 0
	for err := range errs {
		switch {
		case err == nil:
			saved++
		case depi.IsVersionConflict(err):
			// Gave up after repeated retries; nothing was written for this user.
		default:
			t.Fatalf("Unexpected save error: %v", err)
		}
	}

	links, err := svc.GetAllLinks(ctx, depi.MainBranch, true)
	if err != nil {
		t.Fatalf("Failed to read links: %v", err)
	}
	if len(links) != saved {
		t.Errorf("Expected %d committed links, got %d", saved, len(links))
	}
	if saved == 0 {
		t.Error("Expected at least one save to commit")
	}
}
