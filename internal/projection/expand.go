package projection

import "github.com/dyluth/depi/pkg/depi"

// ExpandState records which nodes are expanded, by node id. Missing ids are collapsed.
type ExpandState map[string]bool

// Set expands or collapses a visible node of p. With propagate, every node below it
// that the committed model can produce gets the same state. Ids that are not visible
// in p are ignored and Set reports false.
func (s ExpandState) Set(p *Projection, id string, expand, propagate bool) bool {
	if p.Node(id) == nil {
		return false
	}
	s[id] = expand
	if propagate {
		for other := range p.known {
			if p.descends(other, id) {
				s[other] = expand
			}
		}
	}
	return true
}

// Toggle flips the state of a visible node of p.
func (s ExpandState) Toggle(p *Projection, id string, propagate bool) bool {
	return s.Set(p, id, !s[id], propagate)
}

// Reveal expands the group root and every container above ref so the next build
// shows it. It reports false when ref is not part of the committed model.
func (s ExpandState) Reveal(p *Projection, ref depi.ResourceRef) bool {
	parent, ok := p.known[depi.ResourceKey(ref)]
	if !ok {
		return false
	}
	for parent != "" {
		s[parent] = true
		parent = p.known[parent]
	}
	return true
}

// ExpandGroups sets the root state of the given groups, visible or not.
func (s ExpandState) ExpandGroups(refs []depi.ResourceGroupRef, expand bool) {
	for _, ref := range refs {
		s[depi.ResourceGroupKey(ref)] = expand
	}
}

// Clone returns an independent copy.
func (s ExpandState) Clone() ExpandState {
	c := make(ExpandState, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}
