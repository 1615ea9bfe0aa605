package jobqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsJobsInOrder(t *testing.T) {
	q := New("test")
	t.Cleanup(q.Close)

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, q.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 99 {
				close(done)
			}
		}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := range got {
		assert.Equal(t, i, got[i])
	}
}

func TestQueueRunsOneJobAtATime(t *testing.T) {
	q := New("test")
	t.Cleanup(q.Close)

	var running, maxRunning int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		q.Submit(func() {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			if n > atomic.LoadInt32(&maxRunning) {
				atomic.StoreInt32(&maxRunning, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestQueueClose(t *testing.T) {
	t.Run("rejects jobs after close", func(t *testing.T) {
		q := New("test")
		q.Close()
		assert.False(t, q.Submit(func() {}))
	})

	t.Run("close is idempotent", func(t *testing.T) {
		q := New("test")
		q.Close()
		q.Close()
	})

	t.Run("survives a panicking job", func(t *testing.T) {
		q := New("test")
		t.Cleanup(q.Close)

		done := make(chan struct{})
		q.Submit(func() { panic("boom") })
		q.Submit(func() { close(done) })

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("queue stopped after panic")
		}
	})
}
