package shell

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/dyluth/depi/pkg/depi"
)

// Mode is the kind of view the host displays.
type Mode int

const (
	ModeNone Mode = iota
	ModeBlackboard
	ModeDependencyGraph
)

func (m Mode) String() string {
	switch m {
	case ModeBlackboard:
		return "blackboard"
	case ModeDependencyGraph:
		return "dependency-graph"
	default:
		return "none"
	}
}

// Callbacks are invoked by the watchers a UIModel opens. They run on the session
// queue and must not block.
type Callbacks struct {
	OnGraph      func(depi.Update)
	OnBlackboard func(depi.Update)
	OnError      func(error)
}

// UIModel owns the watchers of one view. Whenever the mode or the branch changes it
// closes every watcher and opens exactly the set the new view needs: graph and, on
// main, blackboard for the blackboard view; graph only for the dependency view.
type UIModel struct {
	session   *depi.Session
	callbacks Callbacks

	mu                sync.Mutex
	mode              Mode
	branch            string
	graphWatcher      string
	blackboardWatcher string
	activeGroups      []depi.ResourceGroupRef
	resource          *depi.Resource
	dependants        bool
}

// NewUIModel creates a model with no view and no watchers.
func NewUIModel(s *depi.Session, cb Callbacks) *UIModel {
	return &UIModel{session: s, callbacks: cb}
}

// Session returns the session the model drives.
func (m *UIModel) Session() *depi.Session {
	return m.session
}

// SetBlackboardMode switches to the blackboard view on branch. The active groups
// are reset. A branch that does not exist is an error and leaves the model unchanged.
func (m *UIModel) SetBlackboardMode(ctx context.Context, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.switchBranch(ctx, branch); err != nil {
		return err
	}
	m.activeGroups = []depi.ResourceGroupRef{}
	m.resource = nil
	m.dependants = false
	return m.reconcile(ctx, ModeBlackboard)
}

// SetDependencyMode switches to the dependency view of resource on branch.
func (m *UIModel) SetDependencyMode(ctx context.Context, resource depi.Resource, branch string, dependants bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.switchBranch(ctx, branch); err != nil {
		return err
	}
	m.resource = &resource
	m.dependants = dependants
	m.activeGroups = nil
	return m.reconcile(ctx, ModeDependencyGraph)
}

func (m *UIModel) switchBranch(ctx context.Context, branch string) error {
	if branch == "" {
		branch = depi.MainBranch
	}
	if m.session.Branch() == branch {
		return nil
	}
	log.Printf("[Shell] Branch switch from %s to %s", m.session.Branch(), branch)
	_, ok, err := m.session.SwitchBranch(ctx, branch)
	if err != nil {
		return err
	}
	if !ok {
		return depi.Errorf(depi.KindNotFound, depi.MethodSetBranch, "branch %q does not exist", branch)
	}
	return nil
}

// reconcile replaces the watcher set when the mode or branch changed. Callers hold mu.
func (m *UIModel) reconcile(ctx context.Context, mode Mode) error {
	branch := m.session.Branch()
	if m.mode == mode && m.branch == branch {
		return nil
	}
	log.Printf("[Shell] Switching view from %s@%s to %s@%s", m.mode, m.branch, mode, branch)

	m.clearWatchers(ctx)
	m.mode, m.branch = mode, branch

	id, err := m.session.Watch(ctx, depi.ScopeGraph, m.callbacks.OnGraph, m.callbacks.OnError)
	if err != nil {
		m.mode = ModeNone
		return fmt.Errorf("failed to watch graph: %w", err)
	}
	m.graphWatcher = id

	if mode == ModeBlackboard && branch == depi.MainBranch {
		id, err := m.session.Watch(ctx, depi.ScopeBlackboard, m.callbacks.OnBlackboard, m.callbacks.OnError)
		if err != nil {
			m.clearWatchers(ctx)
			m.mode = ModeNone
			return fmt.Errorf("failed to watch blackboard: %w", err)
		}
		m.blackboardWatcher = id
	}
	return nil
}

// clearWatchers closes every watcher. Callers hold mu.
func (m *UIModel) clearWatchers(ctx context.Context) {
	for _, id := range []*string{&m.blackboardWatcher, &m.graphWatcher} {
		if *id == "" {
			continue
		}
		if err := m.session.Unwatch(ctx, *id); err != nil {
			log.Printf("[Shell] Failed to unwatch %s: %v", *id, err)
		}
		*id = ""
	}
}

// Close closes every watcher. The model can be reused afterwards.
func (m *UIModel) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearWatchers(ctx)
	m.mode = ModeNone
	m.branch = ""
}

// Mode returns the current view mode.
func (m *UIModel) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Watchers returns the ids of the open graph and blackboard watchers. Empty means none.
func (m *UIModel) Watchers() (graph, blackboard string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graphWatcher, m.blackboardWatcher
}

// ActiveGroups returns a copy of the groups expanded in the blackboard view.
func (m *UIModel) ActiveGroups() []depi.ResourceGroupRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]depi.ResourceGroupRef(nil), m.activeGroups...)
}

// ExpandGroups adds refs to the active groups, skipping those already active.
func (m *UIModel) ExpandGroups(refs []depi.ResourceGroupRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range refs {
		if !containsGroup(m.activeGroups, &refs[i]) {
			m.activeGroups = append(m.activeGroups, refs[i])
		}
	}
}

// CollapseGroups removes refs from the active groups.
func (m *UIModel) CollapseGroups(refs []depi.ResourceGroupRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.activeGroups[:0]
	for i := range m.activeGroups {
		if !containsGroup(refs, &m.activeGroups[i]) {
			kept = append(kept, m.activeGroups[i])
		}
	}
	m.activeGroups = kept
}

// DependencyContext returns the resource and direction of the dependency view.
func (m *UIModel) DependencyContext() (*depi.Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resource == nil {
		return nil, false
	}
	r := *m.resource
	return &r, m.dependants
}

func containsGroup(groups []depi.ResourceGroupRef, ref *depi.ResourceGroupRef) bool {
	for i := range groups {
		if depi.SameResourceGroup(&groups[i], ref) {
			return true
		}
	}
	return false
}
