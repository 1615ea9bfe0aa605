package depi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// watcher is one open push subscription of a session.
type watcher struct {
	id     string
	scope  Scope
	branch string
	stream Stream
	active atomic.Bool
	once   sync.Once
}

func (w *watcher) close() {
	w.once.Do(func() {
		w.active.Store(false)
		if err := w.stream.Close(); err != nil {
			log.Printf("[Session] Failed to close stream of watcher %s: %v", w.id, err)
		}
	})
}

// Watch opens a push subscription on the session's current branch. onData receives
// every update; onError receives stream failures other than the stream being closed
// by this client. Either callback may be nil. Callbacks run on the session queue,
// one at a time, and never after Unwatch or Logout returned.
//
// A blackboard subscription is only available on the main branch; elsewhere Watch
// fails with KindScope. During a branch switch Watch fails with KindBusy.
func (s *Session) Watch(ctx context.Context, scope Scope, onData func(Update), onError func(error)) (string, error) {
	method, err := watchMethod(scope)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	id, branch, state := s.id, s.branch, s.state
	s.mu.RUnlock()
	switch state {
	case StateAuthenticated:
	case StateBranchSwitching:
		return "", Errorf(KindBusy, method, "session is %s", state)
	default:
		return "", Errorf(KindAuth, method, "session is %s", state)
	}
	if scope == ScopeBlackboard && branch != MainBranch {
		return "", Errorf(KindScope, method, "branch %q has no blackboard, only %q does", branch, MainBranch)
	}

	w := &watcher{id: uuid.New().String(), scope: scope, branch: branch}
	stream, err := s.transport.Stream(ctx, method, id, WatchRequest{WatcherID: w.id})
	if err != nil {
		return "", err
	}
	w.stream = stream
	w.active.Store(true)

	s.mu.Lock()
	if s.state == StateLoggedOut {
		s.mu.Unlock()
		w.close()
		return "", Errorf(KindAuth, method, "session logged out while opening watcher")
	}
	s.watchers[w.id] = w
	s.mu.Unlock()

	go s.pump(w, onData, onError)

	log.Printf("[Session] Watching %s on branch %s (watcher %s)", scope, branch, w.id)
	return w.id, nil
}

func watchMethod(scope Scope) (string, error) {
	switch scope {
	case ScopeGraph:
		return MethodWatchDepi, nil
	case ScopeBlackboard:
		return MethodWatchBlackboard, nil
	default:
		return "", Errorf(KindInvalid, "watch", "unknown scope %q", scope)
	}
}

// pump moves stream traffic onto the session queue. Every job re-checks that the
// watcher is still active, so nothing is delivered after Unwatch.
func (s *Session) pump(w *watcher, onData func(Update), onError func(error)) {
	events, errs := w.stream.Events(), w.stream.Errors()
	for events != nil || errs != nil {
		select {
		case raw, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			var u Update
			if err := json.Unmarshal(raw, &u); err != nil {
				s.deliverError(w, onError, fmt.Errorf("failed to unmarshal watcher update: %w", err))
				continue
			}
			if u.Scope == "" {
				u.Scope = w.scope
			}
			if onData != nil {
				s.queue.Submit(func() {
					if w.active.Load() {
						onData(u)
					}
				})
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.deliverError(w, onError, err)
		}
	}
	s.streamEnded(w, onError)
}

// streamEnded drops a watcher whose stream ended without Unwatch or Logout and
// reports it, so Watchers only lists live subscriptions.
func (s *Session) streamEnded(w *watcher, onError func(error)) {
	if !w.active.Load() {
		return
	}
	s.mu.Lock()
	if s.watchers[w.id] == w {
		delete(s.watchers, w.id)
	}
	s.mu.Unlock()

	method, _ := watchMethod(w.scope)
	s.deliverError(w, onError, Errorf(KindUnreachable, method, "stream of watcher %s ended", w.id))
	if !s.queue.Submit(w.close) {
		w.close()
	}
	log.Printf("[Session] Watcher %s on branch %s ended", w.id, w.branch)
}

func (s *Session) deliverError(w *watcher, onError func(error), err error) {
	if errors.Is(err, ErrStreamClosed) || !w.active.Load() {
		return
	}
	if onError == nil {
		log.Printf("[Session] Watcher %s error: %v", w.id, err)
		return
	}
	s.queue.Submit(func() {
		if w.active.Load() {
			onError(err)
		}
	})
}

// Unwatch closes a subscription. Unknown or already closed ids are not an error.
func (s *Session) Unwatch(ctx context.Context, watcherID string) error {
	s.mu.Lock()
	w, ok := s.watchers[watcherID]
	delete(s.watchers, watcherID)
	id := s.id
	s.mu.Unlock()
	if !ok {
		return nil
	}

	w.close()
	if err := s.transport.Call(ctx, MethodUnwatch, id, WatchRequest{WatcherID: watcherID}, nil); err != nil && !IsNotFound(err) {
		return err
	}
	log.Printf("[Session] Unwatched %s (watcher %s)", w.scope, watcherID)
	return nil
}

// Watchers returns the ids of the open subscriptions.
func (s *Session) Watchers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	return ids
}
