package wire

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/depi/internal/graph"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupBackend creates a dispatcher over a miniredis-backed graph service with one user.
func setupBackend(t *testing.T) *graph.Dispatcher {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	svc, err := graph.NewService(context.Background(), rdb, graph.Options{TokenSecret: []byte("wire-test")})
	require.NoError(t, err)
	require.NoError(t, svc.AddUser(context.Background(), "alice", "wonderland"))
	return graph.NewDispatcher(svc)
}

// transports returns both transports over the same kind of backend.
func transports(t *testing.T) map[string]depi.Transport {
	t.Helper()

	local := NewLocal(setupBackend(t))

	srv := httptest.NewServer(NewServer(setupBackend(t)))
	t.Cleanup(srv.Close)
	ws, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	return map[string]depi.Transport{"local": local, "websocket": ws}
}

func resource(group, url string) depi.Resource {
	return depi.Resource{
		ResourceRef:          depi.ResourceRef{ToolID: "git", ResourceGroupURL: group, URL: url},
		ResourceGroupName:    group,
		ResourceGroupVersion: "v1",
	}
}

func TestResponseErr(t *testing.T) {
	t.Run("missing ok flag is a failure", func(t *testing.T) {
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(`{"id": 1, "body": {}}`), &resp))
		err := resp.Err("getBlackboard")
		assert.Equal(t, depi.KindRemote, depi.KindOf(err))
	})

	t.Run("codes map to kinds", func(t *testing.T) {
		cases := map[string]depi.Kind{
			"auth":      depi.KindAuth,
			"scope":     depi.KindScope,
			"conflict":  depi.KindVersionConflict,
			"not_found": depi.KindNotFound,
			"integrity": depi.KindIntegrity,
			"invalid":   depi.KindInvalid,
			"":          depi.KindRemote,
			"weird":     depi.KindRemote,
		}
		for code, kind := range cases {
			var resp Response
			require.NoError(t, json.Unmarshal([]byte(`{"id": 1, "ok": false, "msg": "boom", "code": "`+code+`"}`), &resp))
			err := resp.Err("op")
			assert.Equal(t, kind, depi.KindOf(err), "code %q", code)
			assert.Contains(t, err.Error(), "boom")
		}
	})

	t.Run("failure keeps the message and code", func(t *testing.T) {
		resp := failure(3, depi.Errorf(depi.KindVersionConflict, "saveBlackboard", "blackboard out of date"))
		assert.Equal(t, "conflict", resp.Code)
		assert.Equal(t, "blackboard out of date", resp.Msg)
		assert.False(t, *resp.OK)

		resp = failure(4, errors.New("disk on fire"))
		assert.Empty(t, resp.Code)
		assert.Equal(t, depi.KindRemote, depi.KindOf(resp.Err("op")))
	})
}

func TestSessionOverTransports(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := depi.Login(ctx, tr, "alice", "nope")
			assert.True(t, depi.IsAuth(err))

			s, err := depi.Login(ctx, tr, "alice", "wonderland")
			require.NoError(t, err)
			assert.Equal(t, depi.MainBranch, s.Branch())

			a, b := resource("repo-1", "/a.txt"), resource("repo-2", "/b.txt")
			require.NoError(t, s.LinkResources(ctx, a, b))

			bb, err := s.GetBlackboardModel(ctx)
			require.NoError(t, err)
			assert.Len(t, bb.Links, 1)
			assert.Len(t, bb.Resources, 2)

			require.NoError(t, s.SaveBlackboard(ctx))

			model, err := s.GetDepiModel(ctx, []depi.ResourceGroupRef{a.GroupRef(), b.GroupRef()})
			require.NoError(t, err)
			assert.Len(t, model.ResourceGroups, 2)
			assert.Len(t, model.Resources, 2)
			assert.Len(t, model.Links, 1)

			g, err := s.GetDependencyGraph(ctx, depi.ResourceRef{ToolID: "git", ResourceGroupURL: "repo-9", URL: "/x"}, depi.Dependencies)
			require.NoError(t, err)
			assert.Nil(t, g.Resource)
			assert.Empty(t, g.Links)

			_, ok, err := s.SwitchBranch(ctx, "nope")
			require.NoError(t, err)
			assert.False(t, ok)

			token, err := s.Ping(ctx)
			require.NoError(t, err)
			assert.NotEmpty(t, token)

			require.NoError(t, s.Logout(ctx))
			_, err = s.GetResourceGroups(ctx)
			assert.True(t, depi.IsAuth(err))
		})
	}
}

func TestWatchOverTransports(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, err := depi.Login(ctx, tr, "alice", "wonderland")
			require.NoError(t, err)
			defer s.Logout(ctx)

			var mu sync.Mutex
			var updates []depi.Update
			id, err := s.Watch(ctx, depi.ScopeGraph, func(u depi.Update) {
				mu.Lock()
				defer mu.Unlock()
				updates = append(updates, u)
			}, nil)
			require.NoError(t, err)

			require.NoError(t, s.LinkResources(ctx, resource("repo-1", "/a.txt"), resource("repo-2", "/b.txt")))
			require.NoError(t, s.SaveBlackboard(ctx))

			require.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(updates) == 1
			}, 2*time.Second, 10*time.Millisecond)

			mu.Lock()
			assert.Equal(t, depi.ScopeGraph, updates[0].Scope)
			assert.Equal(t, depi.MethodSaveBlackboard, updates[0].Reason)
			mu.Unlock()

			require.NoError(t, s.Unwatch(ctx, id))
			assert.Empty(t, s.Watchers())

			// Nothing is delivered after Unwatch.
			require.NoError(t, s.UpdateResourceGroup(ctx, depi.ResourceGroupUpdate{ToolID: "git", URL: "repo-2", NewVersion: "v2"}))
			time.Sleep(100 * time.Millisecond)
			mu.Lock()
			assert.Len(t, updates, 1)
			mu.Unlock()
		})
	}
}

func TestWatchOutlivesOpeningContext(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			s, err := depi.Login(context.Background(), tr, "alice", "wonderland")
			require.NoError(t, err)
			defer s.Logout(context.Background())

			updates := make(chan depi.Update, 4)
			errs := make(chan error, 4)
			ctx, cancel := context.WithCancel(context.Background())
			id, err := s.Watch(ctx, depi.ScopeBlackboard, func(u depi.Update) { updates <- u }, func(err error) { errs <- err })
			require.NoError(t, err)
			cancel()

			require.NoError(t, s.Stage(context.Background(), []depi.Resource{resource("repo-1", "/a.txt")}, nil))

			select {
			case u := <-updates:
				assert.Equal(t, depi.ScopeBlackboard, u.Scope)
			case err := <-errs:
				t.Fatalf("watcher failed: %v", err)
			case <-time.After(2 * time.Second):
				t.Fatal("no update after the opening context was cancelled")
			}
			assert.Equal(t, []string{id}, s.Watchers())
		})
	}
}

func TestWatchBlackboardOffMain(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, err := depi.Login(ctx, tr, "alice", "wonderland")
			require.NoError(t, err)
			defer s.Logout(ctx)

			require.NoError(t, s.CreateBranch(ctx, "dev", ""))
			_, ok, err := s.SwitchBranch(ctx, "dev")
			require.NoError(t, err)
			require.True(t, ok)

			_, err = s.Watch(ctx, depi.ScopeBlackboard, nil, nil)
			assert.True(t, depi.IsScope(err))
			assert.True(t, depi.IsScope(s.SaveBlackboard(ctx)))
		})
	}
}

func TestDialUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:9/depi")
	require.Error(t, err)
	assert.True(t, depi.IsUnreachable(err))
}

func TestClientConnectionLoss(t *testing.T) {
	srv := httptest.NewServer(NewServer(setupBackend(t)))
	defer srv.Close()
	ws, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)

	ctx := context.Background()
	s, err := depi.Login(ctx, ws, "alice", "wonderland")
	require.NoError(t, err)

	errs := make(chan error, 1)
	_, err = s.Watch(ctx, depi.ScopeGraph, nil, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	require.NoError(t, err)

	// Drop the socket under the client.
	ws.conn.Close()

	select {
	case err := <-errs:
		assert.True(t, depi.IsUnreachable(err))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for watcher error")
	}

	_, err = s.Ping(ctx)
	assert.True(t, depi.IsUnreachable(err))
}

func TestLocalClosed(t *testing.T) {
	local := NewLocal(setupBackend(t))
	require.NoError(t, local.Close())

	_, err := depi.Login(context.Background(), local, "alice", "wonderland")
	assert.True(t, depi.IsUnreachable(err))
}
