package shell

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePinger replays scripted ping results, then succeeds.
type fakePinger struct {
	mu     sync.Mutex
	script []error
	calls  int
}

func (f *fakePinger) Ping(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.script) > 0 {
		err := f.script[0]
		f.script = f.script[1:]
		if err != nil {
			return "", err
		}
	}
	return "token-" + time.Now().Format("150405.000000"), nil
}

func (f *fakePinger) User() string { return "alice" }

func (f *fakePinger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memTokens is an in-memory TokenStore.
type memTokens struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *memTokens) Load(user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[user], nil
}

func (m *memTokens) Save(user, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = make(map[string]string)
	}
	m.tokens[user] = token
	return nil
}

func fastBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
}

func TestKeepalive_StoresRotatedTokens(t *testing.T) {
	p := &fakePinger{}
	store := &memTokens{}
	k := StartKeepalive(context.Background(), p, KeepaliveOptions{
		Interval:   10 * time.Millisecond,
		Tokens:     store,
		NewBackOff: fastBackOff,
	})
	defer k.Stop()

	require.Eventually(t, func() bool {
		token, _ := store.Load("alice")
		return token != ""
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusConnected, k.Status())
}

func TestKeepalive_RetriesUnreachable(t *testing.T) {
	unreachable := depi.Errorf(depi.KindUnreachable, "ping", "connection refused")
	p := &fakePinger{script: []error{unreachable, unreachable}}

	var mu sync.Mutex
	var statuses []Status
	k := StartKeepalive(context.Background(), p, KeepaliveOptions{
		Interval: 10 * time.Millisecond,
		OnStatus: func(s Status, _ error) {
			mu.Lock()
			defer mu.Unlock()
			statuses = append(statuses, s)
		},
		NewBackOff: fastBackOff,
	})
	defer k.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []Status{StatusUnreachable, StatusConnected}, statuses)
	mu.Unlock()
	assert.GreaterOrEqual(t, p.callCount(), 3)
}

func TestKeepalive_AuthFailureExpires(t *testing.T) {
	expired := depi.Errorf(depi.KindAuth, "ping", "token expired")
	p := &fakePinger{script: []error{expired}}

	got := make(chan error, 1)
	k := StartKeepalive(context.Background(), p, KeepaliveOptions{
		Interval:   10 * time.Millisecond,
		OnExpired:  func(err error) { got <- err },
		NewBackOff: fastBackOff,
	})

	select {
	case err := <-got:
		assert.True(t, depi.IsAuth(err))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for expiry")
	}

	select {
	case <-k.Done():
	case <-time.After(time.Second):
		t.Fatal("keepalive kept running after expiry")
	}
	assert.Equal(t, StatusExpired, k.Status())
	assert.Equal(t, 1, p.callCount())
	k.Stop()
}

func TestKeepalive_StopIsIdempotent(t *testing.T) {
	k := StartKeepalive(context.Background(), &fakePinger{}, KeepaliveOptions{Interval: time.Hour})
	k.Stop()
	k.Stop()
	select {
	case <-k.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestFileTokenStore(t *testing.T) {
	store := &FileTokenStore{Path: filepath.Join(t.TempDir(), "nested", "tokens.json")}

	token, err := store.Load("alice")
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, store.Save("alice", "t1"))
	require.NoError(t, store.Save("bob", "t2"))

	reopened := &FileTokenStore{Path: store.Path}
	token, err = reopened.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "t1", token)

	require.NoError(t, reopened.Save("alice", ""))
	token, err = store.Load("alice")
	require.NoError(t, err)
	assert.Empty(t, token)
	token, err = store.Load("bob")
	require.NoError(t, err)
	assert.Equal(t, "t2", token)
}

func TestConnect(t *testing.T) {
	ctx := context.Background()
	tr := setupTransport(t)

	t.Run("password login stores the token", func(t *testing.T) {
		store := &memTokens{}
		s, err := Connect(ctx, tr, "alice", "wonderland", store)
		require.NoError(t, err)
		token, _ := store.Load("alice")
		assert.Equal(t, s.Token(), token)
	})

	t.Run("stored token is enough", func(t *testing.T) {
		store := &memTokens{}
		_, err := Connect(ctx, tr, "alice", "wonderland", store)
		require.NoError(t, err)

		s, err := Connect(ctx, tr, "alice", "", store)
		require.NoError(t, err)
		assert.Equal(t, "alice", s.User())
	})

	t.Run("rejected token falls back to password", func(t *testing.T) {
		store := &memTokens{tokens: map[string]string{"alice": "garbage"}}
		s, err := Connect(ctx, tr, "alice", "wonderland", store)
		require.NoError(t, err)
		token, _ := store.Load("alice")
		assert.Equal(t, s.Token(), token)
	})

	t.Run("no token and no password", func(t *testing.T) {
		_, err := Connect(ctx, tr, "alice", "", &memTokens{})
		assert.True(t, depi.IsAuth(err))
	})

	t.Run("bad password", func(t *testing.T) {
		_, err := Connect(ctx, tr, "alice", "nope", nil)
		assert.True(t, depi.IsAuth(err))
		assert.False(t, errors.Is(err, context.Canceled))
	})
}
