package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/depi/internal/metrics"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/google/uuid"
)

// Dispatcher routes remote method calls to the Service. It resolves the caller's
// session on every call and tracks the watcher streams of each session so they can
// be closed by unwatch and logout.
type Dispatcher struct {
	svc *Service

	mu       sync.Mutex
	watchers map[string]map[string]*trackedStream // session id -> watcher id
}

// NewDispatcher creates a dispatcher for svc.
func NewDispatcher(svc *Service) *Dispatcher {
	return &Dispatcher{
		svc:      svc,
		watchers: make(map[string]map[string]*trackedStream),
	}
}

// Call serves one request. body is the JSON request and the result is the JSON
// response body, or nil when the method returns nothing.
func (d *Dispatcher) Call(ctx context.Context, method, session string, body json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	resp, err := d.call(ctx, method, session, body)
	metrics.CallDuration.WithLabelValues(metrics.SideServer, method).Observe(time.Since(start).Seconds())
	metrics.RemoteCalls.WithLabelValues(metrics.SideServer, method, resultCode(err)).Inc()
	if err != nil {
		if depi.KindOf(err) == "" {
			log.Printf("[Dispatcher] %s failed: %v", method, err)
		}
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s response: %w", method, err)
	}
	return raw, nil
}

func resultCode(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := depi.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func decode(method string, body json.RawMessage, v any) error {
	if len(body) == 0 || string(body) == "null" {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return depi.Errorf(depi.KindInvalid, method, "malformed request: %v", err)
	}
	return nil
}

func (d *Dispatcher) call(ctx context.Context, method, session string, body json.RawMessage) (any, error) {
	switch method {
	case depi.MethodLogin, depi.MethodLoginWithToken:
		var req depi.LoginRequest
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		if method == depi.MethodLogin {
			return d.svc.Login(ctx, req.User, req.Password)
		}
		return d.svc.LoginWithToken(ctx, req.User, req.Token)
	}

	sess, err := d.svc.session(ctx, session)
	if err != nil {
		return nil, err
	}

	switch method {
	case depi.MethodPing:
		token, err := d.svc.RefreshSession(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		return depi.PingResponse{Token: token}, nil

	case depi.MethodLogout:
		d.closeSession(sess.ID)
		return nil, d.svc.Logout(ctx, sess.ID)

	case depi.MethodSetBranch:
		var req depi.BranchRequest
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		branch, err := d.svc.SetBranch(ctx, sess, req.Name)
		if err != nil {
			return nil, err
		}
		return depi.BranchResponse{Branch: branch}, nil

	case depi.MethodCreateBranch, depi.MethodCreateTag:
		var req depi.BranchRequest
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		if req.From == "" {
			req.From = sess.Branch
		}
		if method == depi.MethodCreateBranch {
			return nil, d.svc.CreateBranch(ctx, req.Name, req.From)
		}
		return nil, d.svc.CreateTag(ctx, req.Name, req.From)

	case depi.MethodGetBranchList:
		return d.svc.BranchesAndTags(ctx)

	case depi.MethodGetResourceGroups:
		groups, err := d.svc.GetResourceGroups(ctx, sess.Branch)
		if err != nil {
			return nil, err
		}
		return depi.GroupsResponse{ResourceGroups: groups}, nil

	case depi.MethodGetResources:
		var req depi.ResourcesRequest
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		resources, err := d.svc.GetResources(ctx, sess.Branch, req.Patterns)
		if err != nil {
			return nil, err
		}
		return depi.ResourcesResponse{Resources: resources}, nil

	case depi.MethodGetLinks:
		var req depi.LinksRequest
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		links, err := d.svc.GetLinks(ctx, sess.Branch, req.Patterns)
		if err != nil {
			return nil, err
		}
		return depi.LinksResponse{Links: links}, nil

	case depi.MethodGetAllLinks:
		var req depi.AllLinksRequest
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		links, err := d.svc.GetAllLinks(ctx, sess.Branch, req.IncludeDeleted)
		if err != nil {
			return nil, err
		}
		return depi.LinksResponse{Links: links}, nil

	case depi.MethodGetDirtyLinks:
		var req depi.GroupRequest
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		links, err := d.svc.GetDirtyLinks(ctx, sess.Branch, req.Group)
		if err != nil {
			return nil, err
		}
		return depi.LinksResponse{Links: links}, nil

	case depi.MethodGetDependencyGraph:
		var req depi.DependencyGraphRequest
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		return d.svc.GetDependencyGraph(ctx, sess.Branch, req)

	case depi.MethodGetBlackboard:
		return d.svc.GetBlackboard(ctx, sess.User)

	case depi.MethodAddResourcesToBlackboard, depi.MethodRemoveFromBlackboard:
		if err := onMain(method, sess); err != nil {
			return nil, err
		}
		var req depi.StageRequest
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		if method == depi.MethodAddResourcesToBlackboard {
			return nil, d.svc.Stage(ctx, sess.User, req)
		}
		return nil, d.svc.Unstage(ctx, sess.User, depi.Entries{Resources: req.Resources, Links: req.Links})

	case depi.MethodSaveBlackboard:
		if err := onMain(method, sess); err != nil {
			return nil, err
		}
		return nil, d.svc.SaveBlackboard(ctx, sess.User)

	case depi.MethodClearBlackboard:
		if err := onMain(method, sess); err != nil {
			return nil, err
		}
		return nil, d.svc.ClearBlackboard(ctx, sess.User)

	case depi.MethodUpdateDepi:
		var req depi.UpdateDepiRequest
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		return nil, d.svc.UpdateDepi(ctx, sess.Branch, req)

	case depi.MethodMarkLinksClean:
		var req depi.MarkLinksCleanRequest
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		return nil, d.svc.MarkLinksClean(ctx, sess.Branch, req)

	case depi.MethodMarkInferredDirtinessClean:
		var req depi.MarkInferredCleanRequest
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		return nil, d.svc.MarkInferredDirtinessClean(ctx, sess.Branch, req)

	case depi.MethodUpdateResourceGroup:
		var req depi.ResourceGroupUpdate
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		return nil, d.svc.UpdateResourceGroup(ctx, sess.Branch, req)

	case depi.MethodEditResourceGroup:
		var req depi.ResourceGroupEdit
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		return nil, d.svc.EditResourceGroup(ctx, sess.Branch, req)

	case depi.MethodRemoveResourceGroup:
		var req depi.GroupRequest
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		return nil, d.svc.RemoveResourceGroup(ctx, sess.Branch, req.Group)

	case depi.MethodUnwatch:
		var req depi.WatchRequest
		if err := decode(method, body, &req); err != nil {
			return nil, err
		}
		return nil, d.unwatch(sess.ID, req.WatcherID)
	}

	return nil, depi.Errorf(depi.KindInvalid, method, "unknown method")
}

func onMain(op string, sess *sessionInfo) error {
	if sess.Branch != depi.MainBranch {
		return depi.Errorf(depi.KindScope, op, "branch %q has no blackboard, only %q does", sess.Branch, depi.MainBranch)
	}
	return nil
}

// Subscribe opens a watcher stream for watchDepi or watchBlackboard. The stream is
// scoped to the session's branch at the time of the call.
func (d *Dispatcher) Subscribe(ctx context.Context, method, session string, body json.RawMessage) (depi.Stream, error) {
	stream, err := d.subscribe(ctx, method, session, body)
	metrics.RemoteCalls.WithLabelValues(metrics.SideServer, method, resultCode(err)).Inc()
	return stream, err
}

func (d *Dispatcher) subscribe(ctx context.Context, method, session string, body json.RawMessage) (depi.Stream, error) {
	sess, err := d.svc.session(ctx, session)
	if err != nil {
		return nil, err
	}
	var req depi.WatchRequest
	if err := decode(method, body, &req); err != nil {
		return nil, err
	}
	if req.WatcherID == "" {
		req.WatcherID = uuid.New().String()
	}

	var (
		sub   *Subscription
		scope depi.Scope
	)
	switch method {
	case depi.MethodWatchDepi:
		scope = depi.ScopeGraph
		sub, err = d.svc.SubscribeDepi(ctx, sess.Branch)
	case depi.MethodWatchBlackboard:
		if err := onMain(method, sess); err != nil {
			return nil, err
		}
		scope = depi.ScopeBlackboard
		sub, err = d.svc.SubscribeBlackboard(ctx, sess.User)
	default:
		return nil, depi.Errorf(depi.KindInvalid, method, "not a watch method")
	}
	if err != nil {
		return nil, err
	}

	t := &trackedStream{Subscription: sub, scope: scope}
	t.release = func() { d.forget(sess.ID, req.WatcherID) }

	d.mu.Lock()
	if d.watchers[sess.ID] == nil {
		d.watchers[sess.ID] = make(map[string]*trackedStream)
	}
	if _, ok := d.watchers[sess.ID][req.WatcherID]; ok {
		d.mu.Unlock()
		sub.Close()
		return nil, depi.Errorf(depi.KindInvalid, method, "watcher %s already exists", req.WatcherID)
	}
	d.watchers[sess.ID][req.WatcherID] = t
	d.mu.Unlock()

	metrics.ActiveWatchers.WithLabelValues(string(scope)).Inc()
	log.Printf("[Dispatcher] Session %s watching %s on %s (watcher %s)", sess.ID, scope, sess.Branch, req.WatcherID)
	return t, nil
}

// unwatch closes one watcher of a session. Unknown watchers fail with KindNotFound.
func (d *Dispatcher) unwatch(sessionID, watcherID string) error {
	d.mu.Lock()
	t, ok := d.watchers[sessionID][watcherID]
	d.mu.Unlock()
	if !ok {
		return depi.Errorf(depi.KindNotFound, depi.MethodUnwatch, "watcher %s not found", watcherID)
	}
	return t.Close()
}

// closeSession closes every watcher of a session.
func (d *Dispatcher) closeSession(sessionID string) {
	d.mu.Lock()
	streams := make([]*trackedStream, 0, len(d.watchers[sessionID]))
	for _, t := range d.watchers[sessionID] {
		streams = append(streams, t)
	}
	d.mu.Unlock()

	for _, t := range streams {
		t.Close()
	}
}

func (d *Dispatcher) forget(sessionID, watcherID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.watchers[sessionID], watcherID)
	if len(d.watchers[sessionID]) == 0 {
		delete(d.watchers, sessionID)
	}
}

// WatcherCount returns the number of open watchers of a session.
func (d *Dispatcher) WatcherCount(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.watchers[sessionID])
}

// trackedStream deregisters itself from the dispatcher when closed.
type trackedStream struct {
	*Subscription
	scope   depi.Scope
	release func()
	closed  sync.Once
}

func (t *trackedStream) Close() error {
	t.closed.Do(func() {
		t.Subscription.Close()
		t.release()
		metrics.ActiveWatchers.WithLabelValues(string(t.scope)).Dec()
	})
	return nil
}
