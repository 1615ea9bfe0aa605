package depi

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/dyluth/depi/internal/jobqueue"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticated
	StateBranchSwitching
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	case StateBranchSwitching:
		return "branch-switching"
	case StateLoggedOut:
		return "logged-out"
	default:
		return "unknown"
	}
}

// Session is an authenticated connection to the graph service, scoped to a branch.
// The token, branch and watcher set are owned by the session and only change
// through its methods. A Session is safe for concurrent use.
type Session struct {
	transport Transport

	mu       sync.RWMutex
	id       string
	user     string
	token    string
	branch   string
	state    State
	watchers map[string]*watcher

	// mutating is set while a mutating call is in flight.
	mutating atomic.Bool
	// edits is held exclusively by mutating calls and shared by reads, so a read
	// issued after an edit started observes the edit's result.
	edits sync.RWMutex

	// queue runs watcher callbacks one at a time, in arrival order.
	queue *jobqueue.Queue
}

// Login opens a session with a user name and password.
func Login(ctx context.Context, t Transport, user, password string) (*Session, error) {
	return login(ctx, t, MethodLogin, LoginRequest{User: user, Password: password})
}

// LoginWithToken opens a session with a token returned by an earlier Login or Ping.
func LoginWithToken(ctx context.Context, t Transport, user, token string) (*Session, error) {
	return login(ctx, t, MethodLoginWithToken, LoginRequest{User: user, Token: token})
}

func login(ctx context.Context, t Transport, method string, req LoginRequest) (*Session, error) {
	if req.User == "" {
		return nil, Errorf(KindInvalid, method, "user is required")
	}

	var resp LoginResponse
	if err := t.Call(ctx, method, "", req, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, Errorf(KindRemote, method, "response carries no session id")
	}

	branch := resp.Branch
	if branch == "" {
		branch = MainBranch
	}

	s := &Session{
		transport: t,
		id:        resp.SessionID,
		user:      resp.User,
		token:     resp.Token,
		branch:    branch,
		state:     StateAuthenticated,
		watchers:  make(map[string]*watcher),
		queue:     jobqueue.New("Session"),
	}
	if s.user == "" {
		s.user = req.User
	}

	log.Printf("[Session] Logged in as %s on branch %s", s.user, s.branch)
	return s, nil
}

// ID returns the session id assigned by the graph service.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// User returns the authenticated user name.
func (s *Session) User() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Token returns the latest rotating token. Persist it to log in again with LoginWithToken.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Branch returns the branch the session is scoped to.
func (s *Session) Branch() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.branch
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// checkOpen fails once the session is logged out.
func (s *Session) checkOpen(op string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateLoggedOut || s.state == StateAnonymous {
		return "", Errorf(KindAuth, op, "session is %s", s.state)
	}
	return s.id, nil
}

// call performs a read against the graph service.
func (s *Session) call(ctx context.Context, method string, req, resp any) error {
	id, err := s.checkOpen(method)
	if err != nil {
		return err
	}
	s.edits.RLock()
	defer s.edits.RUnlock()
	return s.transport.Call(ctx, method, id, req, resp)
}

// mutate runs fn as the session's only in-flight mutation. A concurrent mutation
// fails immediately with KindBusy.
func (s *Session) mutate(op string, fn func(sessionID string) error) error {
	id, err := s.checkOpen(op)
	if err != nil {
		return err
	}
	if !s.mutating.CompareAndSwap(false, true) {
		return Errorf(KindBusy, op, "another mutating operation is in flight on this session")
	}
	defer s.mutating.Store(false)

	s.edits.Lock()
	defer s.edits.Unlock()
	return fn(id)
}

// Ping keeps the session alive and returns the rotated token.
// Unreachable failures (KindUnreachable) leave the session valid and should be
// retried; KindAuth failures mean the session is gone and a new login is needed.
func (s *Session) Ping(ctx context.Context) (string, error) {
	id, err := s.checkOpen(MethodPing)
	if err != nil {
		return "", err
	}

	var resp PingResponse
	if err := s.transport.Call(ctx, MethodPing, id, nil, &resp); err != nil {
		return "", err
	}

	s.mu.Lock()
	if resp.Token != "" {
		s.token = resp.Token
	}
	token := s.token
	s.mu.Unlock()
	return token, nil
}

// SwitchBranch scopes the session to branch name. When the branch does not exist it
// returns ok=false and no error, leaving the session on its current branch.
func (s *Session) SwitchBranch(ctx context.Context, name string) (branch string, ok bool, err error) {
	id, err := s.checkOpen(MethodSetBranch)
	if err != nil {
		return "", false, err
	}

	s.mu.Lock()
	previous := s.state
	s.state = StateBranchSwitching
	s.mu.Unlock()

	var resp BranchResponse
	err = s.transport.Call(ctx, MethodSetBranch, id, BranchRequest{Name: name}, &resp)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateBranchSwitching {
		s.state = previous
	}
	if IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if resp.Branch == "" {
		resp.Branch = name
	}
	s.branch = resp.Branch
	return s.branch, true, nil
}

// CreateBranch creates branch name from the head of from. The session stays on its branch.
func (s *Session) CreateBranch(ctx context.Context, name, from string) error {
	return s.mutate(MethodCreateBranch, func(id string) error {
		return s.transport.Call(ctx, MethodCreateBranch, id, BranchRequest{Name: name, From: from}, nil)
	})
}

// CreateTag freezes the current state of branch from under the tag name.
func (s *Session) CreateTag(ctx context.Context, name, from string) error {
	return s.mutate(MethodCreateTag, func(id string) error {
		return s.transport.Call(ctx, MethodCreateTag, id, BranchRequest{Name: name, From: from}, nil)
	})
}

// BranchesAndTags lists the branches and tags of the graph service.
func (s *Session) BranchesAndTags(ctx context.Context) (*BranchesAndTags, error) {
	var resp BranchesAndTags
	if err := s.call(ctx, MethodGetBranchList, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout closes every watcher of the session, then ends the session remotely.
// The session is unusable afterwards, whatever the outcome of the remote call.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateLoggedOut {
		s.mu.Unlock()
		return nil
	}
	id := s.id
	watchers := s.watchers
	s.watchers = make(map[string]*watcher)
	s.state = StateLoggedOut
	s.mu.Unlock()

	for _, w := range watchers {
		w.close()
		if err := s.transport.Call(ctx, MethodUnwatch, id, WatchRequest{WatcherID: w.id}, nil); err != nil && !IsNotFound(err) {
			log.Printf("[Session] Failed to unwatch %s during logout: %v", w.id, err)
		}
	}
	s.queue.Close()

	if err := s.transport.Call(ctx, MethodLogout, id, nil, nil); err != nil {
		return err
	}
	log.Printf("[Session] Logged out %s", s.user)
	return nil
}
