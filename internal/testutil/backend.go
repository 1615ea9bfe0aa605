// Package testutil holds the harness shared by tests that need a running graph
// service or a git checkout.
package testutil

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/depi/internal/graph"
	"github.com/dyluth/depi/internal/wire"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// Backend is a graph service over an in-memory Redis.
type Backend struct {
	T          *testing.T
	Redis      *miniredis.Miniredis
	Client     *redis.Client
	Service    *graph.Service
	Dispatcher *graph.Dispatcher
}

// NewBackend starts a graph service and registers users, given as name/password pairs.
// Everything is torn down with the test.
func NewBackend(t *testing.T, users ...string) *Backend {
	t.Helper()
	require.Zero(t, len(users)%2, "users must be name/password pairs")

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start(), "Failed to start miniredis")
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx := context.Background()
	svc, err := graph.NewService(ctx, rdb, graph.Options{TokenSecret: []byte("test-" + t.Name())})
	require.NoError(t, err, "Failed to create graph service")
	for i := 0; i < len(users); i += 2 {
		require.NoError(t, svc.AddUser(ctx, users[i], users[i+1]), "Failed to add user %s", users[i])
	}

	return &Backend{
		T:          t,
		Redis:      mr,
		Client:     rdb,
		Service:    svc,
		Dispatcher: graph.NewDispatcher(svc),
	}
}

// Local returns an in-process transport to the backend.
func (b *Backend) Local() depi.Transport {
	tr := wire.NewLocal(b.Dispatcher)
	b.T.Cleanup(func() { tr.Close() })
	return tr
}

// Serve exposes the backend over a websocket endpoint and returns its ws:// url.
func (b *Backend) Serve() string {
	srv := httptest.NewServer(wire.NewServer(b.Dispatcher))
	b.T.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// Login opens a session over a local transport.
func (b *Backend) Login(user, password string) *depi.Session {
	b.T.Helper()
	s, err := depi.Login(context.Background(), b.Local(), user, password)
	require.NoError(b.T, err, "Failed to log in as %s", user)
	b.T.Cleanup(func() { s.Logout(context.Background()) })
	return s
}
