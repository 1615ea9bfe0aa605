package graph

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dyluth/depi/pkg/depi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func setupDispatcher(t *testing.T) (*Dispatcher, *Service, string) {
	t.Helper()
	svc, _ := setupTestService(t)
	require.NoError(t, svc.AddUser(context.Background(), "alice", "wonderland"))

	d := NewDispatcher(svc)
	raw, err := d.Call(context.Background(), depi.MethodLogin, "", mustJSON(t, depi.LoginRequest{User: "alice", Password: "wonderland"}))
	require.NoError(t, err)
	var login depi.LoginResponse
	require.NoError(t, json.Unmarshal(raw, &login))
	return d, svc, login.SessionID
}

func TestDispatcherCall(t *testing.T) {
	d, _, session := setupDispatcher(t)
	ctx := context.Background()

	t.Run("calls need a session", func(t *testing.T) {
		_, err := d.Call(ctx, depi.MethodGetResourceGroups, "", nil)
		assert.True(t, depi.IsAuth(err))
		_, err = d.Call(ctx, depi.MethodGetResourceGroups, "unknown", nil)
		assert.True(t, depi.IsAuth(err))
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := d.Call(ctx, "launchMissiles", session, nil)
		assert.Equal(t, depi.KindInvalid, depi.KindOf(err))
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := d.Call(ctx, depi.MethodGetResources, session, json.RawMessage(`{"patterns": 3}`))
		assert.Equal(t, depi.KindInvalid, depi.KindOf(err))
	})

	t.Run("stage and save", func(t *testing.T) {
		a := staged("repo-1", "v1", "/a.txt")
		b := staged("repo-2", "v1", "/b.txt")
		_, err := d.Call(ctx, depi.MethodAddResourcesToBlackboard, session, mustJSON(t, depi.StageRequest{
			Links: []depi.ResourceLink{link(a, b)},
		}))
		require.NoError(t, err)
		_, err = d.Call(ctx, depi.MethodSaveBlackboard, session, nil)
		require.NoError(t, err)

		raw, err := d.Call(ctx, depi.MethodGetAllLinks, session, mustJSON(t, depi.AllLinksRequest{}))
		require.NoError(t, err)
		var resp depi.LinksResponse
		require.NoError(t, json.Unmarshal(raw, &resp))
		assert.Len(t, resp.Links, 1)
	})

	t.Run("blackboard is main only", func(t *testing.T) {
		_, err := d.Call(ctx, depi.MethodCreateBranch, session, mustJSON(t, depi.BranchRequest{Name: "dev"}))
		require.NoError(t, err)
		raw, err := d.Call(ctx, depi.MethodSetBranch, session, mustJSON(t, depi.BranchRequest{Name: "dev"}))
		require.NoError(t, err)
		var resp depi.BranchResponse
		require.NoError(t, json.Unmarshal(raw, &resp))
		assert.Equal(t, "dev", resp.Branch)

		_, err = d.Call(ctx, depi.MethodSaveBlackboard, session, nil)
		assert.True(t, depi.IsScope(err))
		_, err = d.Subscribe(ctx, depi.MethodWatchBlackboard, session, mustJSON(t, depi.WatchRequest{WatcherID: "w"}))
		assert.True(t, depi.IsScope(err))

		_, err = d.Call(ctx, depi.MethodSetBranch, session, mustJSON(t, depi.BranchRequest{Name: depi.MainBranch}))
		require.NoError(t, err)
	})

	t.Run("ping returns a token", func(t *testing.T) {
		raw, err := d.Call(ctx, depi.MethodPing, session, nil)
		require.NoError(t, err)
		var resp depi.PingResponse
		require.NoError(t, json.Unmarshal(raw, &resp))
		assert.NotEmpty(t, resp.Token)
	})
}

func TestDispatcherWatchers(t *testing.T) {
	d, _, session := setupDispatcher(t)
	ctx := context.Background()

	stream, err := d.Subscribe(ctx, depi.MethodWatchDepi, session, mustJSON(t, depi.WatchRequest{WatcherID: "w1"}))
	require.NoError(t, err)
	assert.Equal(t, 1, d.WatcherCount(session))

	t.Run("duplicate watcher id", func(t *testing.T) {
		_, err := d.Subscribe(ctx, depi.MethodWatchDepi, session, mustJSON(t, depi.WatchRequest{WatcherID: "w1"}))
		assert.Equal(t, depi.KindInvalid, depi.KindOf(err))
		assert.Equal(t, 1, d.WatcherCount(session))
	})

	t.Run("unwatch closes the stream", func(t *testing.T) {
		_, err := d.Call(ctx, depi.MethodUnwatch, session, mustJSON(t, depi.WatchRequest{WatcherID: "w1"}))
		require.NoError(t, err)
		assert.Equal(t, 0, d.WatcherCount(session))

		select {
		case _, ok := <-stream.Events():
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for stream close")
		}

		_, err = d.Call(ctx, depi.MethodUnwatch, session, mustJSON(t, depi.WatchRequest{WatcherID: "w1"}))
		assert.True(t, depi.IsNotFound(err))
	})

	t.Run("logout closes every watcher", func(t *testing.T) {
		_, err := d.Subscribe(ctx, depi.MethodWatchDepi, session, mustJSON(t, depi.WatchRequest{WatcherID: "w2"}))
		require.NoError(t, err)
		_, err = d.Subscribe(ctx, depi.MethodWatchBlackboard, session, mustJSON(t, depi.WatchRequest{WatcherID: "w3"}))
		require.NoError(t, err)
		assert.Equal(t, 2, d.WatcherCount(session))

		_, err = d.Call(ctx, depi.MethodLogout, session, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, d.WatcherCount(session))

		_, err = d.Call(ctx, depi.MethodPing, session, nil)
		assert.True(t, depi.IsAuth(err))
	})
}
