package shell

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/depi/internal/selection"
	"github.com/dyluth/depi/internal/testutil"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTransport serves a miniredis-backed graph service in process, with user alice.
func setupTransport(t *testing.T) depi.Transport {
	t.Helper()
	return testutil.NewBackend(t, "alice", "wonderland").Local()
}

func setupSession(t *testing.T) *depi.Session {
	t.Helper()
	s, err := depi.Login(context.Background(), setupTransport(t), "alice", "wonderland")
	require.NoError(t, err)
	t.Cleanup(func() { s.Logout(context.Background()) })
	return s
}

func resource(group, version, url string) depi.Resource {
	return depi.Resource{
		ResourceRef:          depi.ResourceRef{ToolID: "git", ResourceGroupURL: group, URL: url},
		ResourceGroupName:    group,
		ResourceGroupVersion: version,
	}
}

// recordingSink collects every event sent to the host.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Send(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recordingSink) count(t EventType) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// waitFor waits until n events of type et were sent and returns the last one.
func (r *recordingSink) waitFor(t *testing.T, et EventType, n int) Event {
	t.Helper()
	require.Eventually(t, func() bool { return r.count(et) >= n }, 2*time.Second, 10*time.Millisecond,
		"waiting for %d %s events, got %v", n, et, r.all())
	var last Event
	for _, ev := range r.all() {
		if ev.Type == et {
			last = ev
		}
	}
	return last
}

func event(t *testing.T, et EventType, value any) Event {
	t.Helper()
	ev, err := NewEvent(et, value)
	require.NoError(t, err)
	return ev
}

func TestHandler_RequestsYieldOneEvent(t *testing.T) {
	s := setupSession(t)
	sink := &recordingSink{}
	h := NewHandler(s, sink, HandlerOptions{Tools: map[string]ToolConfig{"git": {PathDivider: "/"}}})
	defer h.Close(context.Background())

	require.True(t, h.Handle(event(t, RequestToolsConfig, nil)))
	ev := sink.waitFor(t, ToolsConfig, 1)
	var tools map[string]ToolConfig
	require.NoError(t, json.Unmarshal(ev.Value, &tools))
	assert.Equal(t, "/", tools["git"].PathDivider)

	h.Handle(event(t, RequestBranchesAndTags, nil))
	ev = sink.waitFor(t, BranchesAndTags, 1)
	var bt depi.BranchesAndTags
	require.NoError(t, json.Unmarshal(ev.Value, &bt))
	assert.Contains(t, bt.Branches, depi.MainBranch)

	h.Handle(event(t, RequestDepiModel, DepiModelRequest{BranchName: depi.MainBranch}))
	sink.waitFor(t, DepiModel, 1)
	assert.Equal(t, ModeBlackboard, h.Model().Mode())

	h.Handle(event(t, RequestBlackboardModel, nil))
	sink.waitFor(t, BlackboardModel, 1)

	h.Handle(Event{Type: "LAUNCH_MISSILES"})
	ev = sink.waitFor(t, ErrorMessage, 1)
	var errValue ErrorValue
	require.NoError(t, json.Unmarshal(ev.Value, &errValue))
	assert.Equal(t, depi.KindInvalid, errValue.Kind)

	h.Handle(Event{Type: RequestDependencyGraph, Value: json.RawMessage(`{"resource": 7}`)})
	sink.waitFor(t, ErrorMessage, 2)

	// Exactly one answer per request.
	assert.Len(t, sink.all(), 6)
}

func TestHandler_ExpandCounter(t *testing.T) {
	s := setupSession(t)
	ctx := context.Background()
	require.NoError(t, s.LinkResources(ctx, resource("repo-1", "v1", "/a.txt"), resource("repo-2", "v1", "/b.txt")))
	require.NoError(t, s.SaveBlackboard(ctx))

	sink := &recordingSink{}
	h := NewHandler(s, sink, HandlerOptions{})
	defer h.Close(ctx)

	h.Handle(event(t, RequestDepiModel, DepiModelRequest{}))
	h.Handle(event(t, ExpandResourceGroups, []depi.ResourceGroupRef{{ToolID: "git", URL: "repo-1"}}))
	h.Handle(event(t, CollapseResourceGroups, []depi.ResourceGroupRef{{ToolID: "git", URL: "repo-1"}}))
	sink.waitFor(t, DepiModel, 3)

	var models []DepiModelValue
	for _, ev := range sink.all() {
		if ev.Type != DepiModel {
			continue
		}
		var m DepiModelValue
		require.NoError(t, json.Unmarshal(ev.Value, &m))
		models = append(models, m)
	}
	require.Len(t, models, 3)

	assert.Equal(t, 0, models[0].ExpandState)
	assert.Len(t, models[0].ResourceGroups, 2)
	assert.Empty(t, models[0].Resources)

	assert.Equal(t, 1, models[1].ExpandState)
	assert.Len(t, models[1].Resources, 1)

	assert.Equal(t, 1, models[2].ExpandState)
	assert.Empty(t, models[2].Resources)
}

func TestHandler_SaveBlackboard(t *testing.T) {
	ctx := context.Background()

	t.Run("success sends the model", func(t *testing.T) {
		s := setupSession(t)
		require.NoError(t, s.LinkResources(ctx, resource("repo-1", "v1", "/a.txt"), resource("repo-2", "v1", "/b.txt")))

		sink := &recordingSink{}
		h := NewHandler(s, sink, HandlerOptions{})
		defer h.Close(ctx)

		h.Handle(Event{Type: SaveBlackboard})
		sink.waitFor(t, DepiModel, 1)
		assert.Zero(t, sink.count(ErrorMessage))
	})

	t.Run("conflict sends an actionable error", func(t *testing.T) {
		s := setupSession(t)
		b := resource("repo-2", "v1", "/b.txt")
		require.NoError(t, s.LinkResources(ctx, resource("repo-1", "v1", "/a.txt"), b))
		require.NoError(t, s.SaveBlackboard(ctx))

		require.NoError(t, s.LinkResources(ctx, resource("repo-1", "v1", "/c.txt"), b))
		require.NoError(t, s.UpdateResourceGroup(ctx, depi.ResourceGroupUpdate{ToolID: "git", URL: "repo-1", NewVersion: "v2"}))

		sink := &recordingSink{}
		h := NewHandler(s, sink, HandlerOptions{})
		defer h.Close(ctx)

		h.Handle(Event{Type: SaveBlackboard})
		ev := sink.waitFor(t, ErrorMessage, 1)
		var errValue ErrorValue
		require.NoError(t, json.Unmarshal(ev.Value, &errValue))
		assert.Equal(t, depi.KindVersionConflict, errValue.Kind)
		assert.Contains(t, errValue.Message, "Blackboard out of date")
		assert.Contains(t, errValue.Message, "Clear the blackboard")
		assert.Zero(t, sink.count(DepiModel))

		bb, err := s.GetBlackboardModel(ctx)
		require.NoError(t, err)
		assert.Len(t, bb.Links, 1)
	})
}

func TestHandler_DeleteEntriesIncludesLooseLinks(t *testing.T) {
	ctx := context.Background()
	s := setupSession(t)
	a, b := resource("repo-1", "v1", "/a.txt"), resource("repo-2", "v1", "/b.txt")
	require.NoError(t, s.LinkResources(ctx, a, b))
	require.NoError(t, s.SaveBlackboard(ctx))

	sink := &recordingSink{}
	h := NewHandler(s, sink, HandlerOptions{})
	defer h.Close(ctx)

	h.Handle(event(t, DeleteEntriesFromDepi, depi.Entries{Resources: []depi.Resource{a}}))
	h.Handle(event(t, RequestToolsConfig, nil))
	sink.waitFor(t, ToolsConfig, 1)
	assert.Zero(t, sink.count(ErrorMessage))

	links, err := s.GetAllLinks(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestHandler_WatchersRefreshTheView(t *testing.T) {
	ctx := context.Background()
	s := setupSession(t)
	sink := &recordingSink{}
	h := NewHandler(s, sink, HandlerOptions{})
	defer h.Close(ctx)

	h.Handle(event(t, RequestDepiModel, DepiModelRequest{BranchName: depi.MainBranch}))
	sink.waitFor(t, DepiModel, 1)

	require.NoError(t, s.LinkResources(ctx, resource("repo-1", "v1", "/a.txt"), resource("repo-2", "v1", "/b.txt")))
	sink.waitFor(t, BlackboardModel, 1)

	require.NoError(t, s.SaveBlackboard(ctx))
	sink.waitFor(t, DepiModel, 2)
}

func TestHandler_SelectionFollowsReloads(t *testing.T) {
	ctx := context.Background()
	s := setupSession(t)
	a, b := resource("repo-1", "v1", "/a.txt"), resource("repo-2", "v1", "/b.txt")
	require.NoError(t, s.LinkResources(ctx, a, b))

	sink := &recordingSink{}
	h := NewHandler(s, sink, HandlerOptions{})
	defer h.Close(ctx)

	h.Handle(event(t, RequestDepiModel, DepiModelRequest{BranchName: depi.MainBranch}))
	h.Handle(event(t, ExpandResourceGroups, []depi.ResourceGroupRef{a.GroupRef(), b.GroupRef()}))
	h.Handle(event(t, RequestBlackboardModel, nil))
	sink.waitFor(t, BlackboardModel, 1)

	selected := func(ev Event) []selection.Entry {
		var entries []selection.Entry
		require.NoError(t, json.Unmarshal(ev.Value, &entries))
		return entries
	}

	link := depi.ResourceLink{Source: a, Target: b}
	h.Handle(event(t, SetSelection, []selection.Entry{
		selection.Link(link),
		selection.Resource(resource("repo-9", "v1", "/gone.txt")),
	}))
	entries := selected(sink.waitFor(t, Selection, 1))
	require.Len(t, entries, 1)
	assert.Equal(t, selection.KindLink, entries[0].Kind)
	assert.True(t, entries[0].OnBlackboard)
	assert.False(t, entries[0].InGraph)

	h.Handle(Event{Type: SaveBlackboard})
	require.Eventually(t, func() bool {
		var last []selection.Entry
		for _, ev := range sink.all() {
			if ev.Type == Selection {
				last = nil
				if json.Unmarshal(ev.Value, &last) != nil {
					return false
				}
			}
		}
		return len(last) == 1 && last[0].InGraph && !last[0].OnBlackboard
	}, 2*time.Second, 10*time.Millisecond, "selection never moved to the graph: %v", sink.all())
	assert.Zero(t, sink.count(ErrorMessage))
}

// fakeArtifacts records reveal and diff requests.
type fakeArtifacts struct {
	mu       sync.Mutex
	revealed []string
	diffs    []string
}

func (f *fakeArtifacts) Reveal(_ context.Context, r depi.Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revealed = append(f.revealed, r.URL)
	return nil
}

func (f *fakeArtifacts) ViewDiff(_ context.Context, r depi.Resource, since string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diffs = append(f.diffs, r.URL+"@"+since)
	return nil
}

func TestHandler_Artifacts(t *testing.T) {
	ctx := context.Background()
	s := setupSession(t)
	sink := &recordingSink{}
	arts := &fakeArtifacts{}
	h := NewHandler(s, sink, HandlerOptions{Artifacts: arts})

	r := resource("repo-1", "v1", "/a.txt")
	h.Handle(event(t, RevealInEditor, r))
	h.Handle(event(t, ViewResourceDiff, DiffRequest{Resource: r, LastCleanVersion: "v0"}))
	h.Close(ctx)

	assert.Equal(t, []string{"/a.txt"}, arts.revealed)
	assert.Equal(t, []string{"/a.txt@v0"}, arts.diffs)
	assert.Zero(t, sink.count(ErrorMessage))
}

func TestHandler_CloseTearsDownWatchers(t *testing.T) {
	ctx := context.Background()
	s := setupSession(t)
	sink := &recordingSink{}
	h := NewHandler(s, sink, HandlerOptions{})

	h.Handle(event(t, RequestDepiModel, DepiModelRequest{}))
	sink.waitFor(t, DepiModel, 1)
	assert.Len(t, s.Watchers(), 2)

	h.Close(ctx)
	assert.Empty(t, s.Watchers())
	assert.False(t, h.Handle(event(t, RequestToolsConfig, nil)))
}

func TestHandler_WaitDrainsQueue(t *testing.T) {
	sink := &recordingSink{}
	h := NewHandler(setupSession(t), sink, HandlerOptions{Tools: map[string]ToolConfig{"git": {PathDivider: "/"}}})

	for i := 0; i < 5; i++ {
		h.Handle(Event{Type: RequestToolsConfig})
	}
	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, 5, sink.count(ToolsConfig))

	h.Close(context.Background())
	assert.NoError(t, h.Wait(context.Background()), "wait after close returns at once")
}
