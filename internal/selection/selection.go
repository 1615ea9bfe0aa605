// Package selection keeps a UI selection valid across model reloads. Entries are
// resolved again by structural identity on every reload, since each reload produces
// entirely new values.
package selection

import "github.com/dyluth/depi/pkg/depi"

// Kind is the kind of a selected entity.
type Kind string

const (
	KindResource Kind = "resource"
	KindLink     Kind = "link"
	KindGroup    Kind = "group"
)

// Entry is one selected entity. Exactly one of Resource, Link and Group is set,
// matching Kind.
type Entry struct {
	Kind         Kind                `json:"kind"`
	Resource     *depi.Resource      `json:"resource,omitempty"`
	Link         *depi.ResourceLink  `json:"link,omitempty"`
	Group        *depi.ResourceGroup `json:"group,omitempty"`
	InGraph      bool                `json:"inGraph"`
	OnBlackboard bool                `json:"onBlackboard"`
}

// Resource selects r.
func Resource(r depi.Resource) Entry { return Entry{Kind: KindResource, Resource: &r} }

// Link selects l.
func Link(l depi.ResourceLink) Entry { return Entry{Kind: KindLink, Link: &l} }

// Group selects g.
func Group(g depi.ResourceGroup) Entry { return Entry{Kind: KindGroup, Group: &g} }

// Views are the freshly loaded models. A Dependency view with a resource puts the
// reconciliation in dependency-graph mode, where Graph and Blackboard are ignored.
type Views struct {
	Graph      *depi.Graph
	Blackboard *depi.Blackboard
	Dependency *depi.DependencyGraph
}

// DependencyMode reports whether v is a dependency-graph view.
func (v Views) DependencyMode() bool {
	return v.Dependency != nil && v.Dependency.Resource != nil
}

// Reconcile resolves prior against v. Entries that no longer exist are dropped.
// A match takes the fresh copy, preferring the committed graph over the blackboard,
// and InGraph/OnBlackboard are recomputed from scratch.
func Reconcile(prior []Entry, v Views) []Entry {
	idx := newIndex(v)
	next := make([]Entry, 0, len(prior))
	for _, e := range prior {
		if fresh, ok := idx.resolve(e); ok {
			next = append(next, fresh)
		}
	}
	return next
}

// index holds the views keyed by structural identity.
type index struct {
	dependency bool

	graphResources map[string]*depi.Resource
	graphLinks     map[string]*depi.ResourceLink
	graphGroups    map[string]*depi.ResourceGroup

	bbResources map[string]*depi.Resource
	bbLinks     map[string]*depi.ResourceLink
	bbGroups    map[string]*depi.ResourceGroup
}

func newIndex(v Views) *index {
	idx := &index{
		dependency:     v.DependencyMode(),
		graphResources: make(map[string]*depi.Resource),
		graphLinks:     make(map[string]*depi.ResourceLink),
		graphGroups:    make(map[string]*depi.ResourceGroup),
		bbResources:    make(map[string]*depi.Resource),
		bbLinks:        make(map[string]*depi.ResourceLink),
		bbGroups:       make(map[string]*depi.ResourceGroup),
	}

	if idx.dependency {
		idx.addResource(idx.graphResources, v.Dependency.Resource)
		for i := range v.Dependency.Links {
			l := &v.Dependency.Links[i]
			idx.addLink(idx.graphLinks, l)
			idx.addResource(idx.graphResources, &l.Source)
			idx.addResource(idx.graphResources, &l.Target)
		}
		return idx
	}

	if v.Graph != nil {
		for i := range v.Graph.ResourceGroups {
			g := &v.Graph.ResourceGroups[i]
			idx.graphGroups[depi.ResourceGroupKey(g.ResourceGroupRef)] = g
		}
		for i := range v.Graph.Resources {
			idx.addResource(idx.graphResources, &v.Graph.Resources[i])
		}
		for i := range v.Graph.Links {
			idx.addLink(idx.graphLinks, &v.Graph.Links[i])
		}
	}
	if v.Blackboard != nil {
		for i := range v.Blackboard.Resources {
			r := &v.Blackboard.Resources[i]
			idx.addResource(idx.bbResources, r)
			key := depi.ResourceGroupKey(r.GroupRef())
			if _, ok := idx.bbGroups[key]; !ok {
				idx.bbGroups[key] = &depi.ResourceGroup{
					ResourceGroupRef: r.GroupRef(),
					Name:             r.ResourceGroupName,
					Version:          r.ResourceGroupVersion,
				}
			}
		}
		for i := range v.Blackboard.Links {
			idx.addLink(idx.bbLinks, &v.Blackboard.Links[i])
		}
	}
	return idx
}

// addResource keeps the first copy of each resource.
func (idx *index) addResource(m map[string]*depi.Resource, r *depi.Resource) {
	key := depi.ResourceKey(r.ResourceRef)
	if _, ok := m[key]; !ok {
		m[key] = r
	}
}

func (idx *index) addLink(m map[string]*depi.ResourceLink, l *depi.ResourceLink) {
	key := depi.LinkKey(l.Ref())
	if _, ok := m[key]; !ok {
		m[key] = l
	}
}

func (idx *index) resolve(e Entry) (Entry, bool) {
	switch e.Kind {
	case KindResource:
		if e.Resource == nil {
			return Entry{}, false
		}
		key := depi.ResourceKey(e.Resource.ResourceRef)
		g, b := idx.graphResources[key], idx.bbResources[key]
		if g == nil && b == nil {
			return Entry{}, false
		}
		fresh := Entry{Kind: KindResource, InGraph: g != nil, OnBlackboard: b != nil}
		fresh.Resource = pick(g, b)
		return fresh, true

	case KindLink:
		if e.Link == nil {
			return Entry{}, false
		}
		key := depi.LinkKey(e.Link.Ref())
		g, b := idx.graphLinks[key], idx.bbLinks[key]
		if g == nil && b == nil {
			return Entry{}, false
		}
		fresh := Entry{Kind: KindLink, InGraph: g != nil, OnBlackboard: b != nil}
		fresh.Link = pick(g, b)
		return fresh, true

	case KindGroup:
		// Groups are not selectable in dependency-graph mode.
		if e.Group == nil || idx.dependency {
			return Entry{}, false
		}
		key := depi.ResourceGroupKey(e.Group.ResourceGroupRef)
		g, b := idx.graphGroups[key], idx.bbGroups[key]
		if g == nil && b == nil {
			return Entry{}, false
		}
		fresh := Entry{Kind: KindGroup, InGraph: g != nil, OnBlackboard: b != nil}
		fresh.Group = pick(g, b)
		return fresh, true
	}
	return Entry{}, false
}

// pick copies the graph value when present, else the blackboard value.
func pick[T any](graph, blackboard *T) *T {
	if graph != nil {
		return clone(graph)
	}
	return clone(blackboard)
}

func clone[T any](v *T) *T {
	c := *v
	return &c
}
