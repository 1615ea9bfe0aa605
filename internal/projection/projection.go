// Package projection turns a flat depi model into a collapsible tree of nodes and a
// bounded, deduplicated edge list for rendering. It knows nothing about geometry.
//
// Node ids are content derived: a group root is keyed by depi.ResourceGroupKey, a
// resource by depi.ResourceKey, and a virtual container by the ResourceKey of its
// directory url within the group.
package projection

import (
	"sort"
	"strings"

	"github.com/dyluth/depi/pkg/depi"
)

const op = "project"

// NodeData is the kind specific part of a node. It is one of GroupRootData,
// ContainerData or ResourceData.
type NodeData interface {
	isNodeData()
}

// GroupRootData marks the root node of a resource group.
type GroupRootData struct {
	Group depi.ResourceGroup
	// BlackboardOnly is set for groups that exist only on the blackboard.
	BlackboardOnly bool
	// Slot is the layout slot of a blackboard-only group, -1 otherwise.
	Slot int
}

// ContainerData marks a virtual directory with no backing resource.
type ContainerData struct {
	Name string
}

// ResourceData marks a node backed by a real resource.
type ResourceData struct {
	Resource    depi.Resource
	IsContainer bool
	// IsDirty: the resource is the target of a dirty link or the source of inferred dirtiness.
	IsDirty bool
	// DependsOnDirty: the resource is the source of a dirty or inferred-dirty link.
	DependsOnDirty bool
}

func (GroupRootData) isNodeData() {}
func (ContainerData) isNodeData() {}
func (ResourceData) isNodeData()  {}

// Node is one drawable node. Children are ids, in insertion order.
type Node struct {
	ID       string
	ParentID string
	GroupID  string
	Children []string
	Expanded bool
	// InDepi is set for nodes derived from the committed graph.
	InDepi       bool
	OnBlackboard bool
	Data         NodeData
}

// Edge connects two visible nodes. Aggregate edges stand in for links whose true
// endpoints are hidden behind a collapsed node.
type Edge struct {
	ID           string
	SourceID     string
	TargetID     string
	Aggregate    bool
	InDepi       bool
	OnBlackboard bool
	Links        []depi.ResourceLink
}

// Input is everything a projection is computed from.
type Input struct {
	Model      depi.Graph
	Blackboard *depi.Blackboard
	Expanded   ExpandState
	// Slots are the layout slots previously recorded for blackboard-only groups.
	Slots map[string]int
}

// Projection is the finalized view. It is never mutated after Build returns.
type Projection struct {
	Nodes []Node
	Edges []Edge
	// NewSlots holds slots allocated during this build. Callers persist them so the
	// groups keep their place on the next build.
	NewSlots map[string]int

	nodes map[string]int
	edges map[string]int
	// known maps every node id the committed model can produce, visible or not, to its parent.
	known map[string]string
}

// Node returns the node with the given id, or nil when it is not visible.
func (p *Projection) Node(id string) *Node {
	i, ok := p.nodes[id]
	if !ok {
		return nil
	}
	return &p.Nodes[i]
}

// Edge returns the edge between two visible nodes, or nil.
func (p *Projection) Edge(sourceID, targetID string) *Edge {
	i, ok := p.edges[depi.EdgeKey(sourceID, targetID)]
	if !ok {
		return nil
	}
	return &p.Edges[i]
}

// Roots returns the ids of the group root nodes.
func (p *Projection) Roots() []string {
	var roots []string
	for _, n := range p.Nodes {
		if n.ParentID == "" {
			roots = append(roots, n.ID)
		}
	}
	return roots
}

// descends reports whether id lies below ancestor in the committed tree.
func (p *Projection) descends(id, ancestor string) bool {
	for parent, ok := p.known[id]; ok && parent != ""; parent, ok = p.known[parent] {
		if parent == ancestor {
			return true
		}
	}
	return false
}

// draft is the build-time shape of a node.
type draft struct {
	node Node
	// children indexes committed child nodes by path segment.
	children map[string]*draft
}

type builder struct {
	in     Input
	groups map[string]*depi.ResourceGroup
	// ids maps a group-relative path to the id of the resource at that path.
	ids            map[string]string
	drafts         map[string]*draft
	order          []*draft
	known          map[string]string
	dirty          map[string]bool
	dependsOnDirty map[string]bool
	edges          map[string]*Edge
	edgeOrder      []string
	newSlots       map[string]int
}

// Build computes the projection of in. A resource or link endpoint whose group is
// missing from the model is an integrity error.
func Build(in Input) (*Projection, error) {
	if in.Expanded == nil {
		in.Expanded = ExpandState{}
	}
	b := &builder{
		in:             in,
		groups:         make(map[string]*depi.ResourceGroup),
		ids:            make(map[string]string),
		drafts:         make(map[string]*draft),
		known:          make(map[string]string),
		dirty:          make(map[string]bool),
		dependsOnDirty: make(map[string]bool),
		edges:          make(map[string]*Edge),
		newSlots:       make(map[string]int),
	}

	b.addGroupRoots()
	if err := b.indexResources(); err != nil {
		return nil, err
	}
	b.deriveDirtiness()
	if err := b.addResources(); err != nil {
		return nil, err
	}
	for _, l := range in.Model.Links {
		if err := b.addLink(l, true); err != nil {
			return nil, err
		}
	}
	if in.Blackboard != nil {
		if err := b.addBlackboard(in.Blackboard); err != nil {
			return nil, err
		}
	}
	return b.finalize(), nil
}

func (b *builder) addGroupRoots() {
	for i := range b.in.Model.ResourceGroups {
		g := b.in.Model.ResourceGroups[i]
		id := depi.ResourceGroupKey(g.ResourceGroupRef)
		if _, dup := b.groups[id]; dup {
			continue
		}
		expanded := b.in.Expanded[id]
		g.IsActiveInEditor = expanded
		b.groups[id] = &g
		b.known[id] = ""
		b.insert(nil, "", &draft{node: Node{
			ID:       id,
			GroupID:  id,
			Expanded: expanded,
			InDepi:   true,
			Data:     GroupRootData{Group: g, Slot: -1},
		}})
	}
}

// path decomposes r against its committed group.
func (b *builder) path(r *depi.Resource) (*depi.ResourceGroup, string, []string, error) {
	gid := depi.ResourceGroupKey(r.GroupRef())
	g, ok := b.groups[gid]
	if !ok {
		return nil, "", nil, depi.Errorf(depi.KindIntegrity, op,
			"resource %s references unknown resource group %s", r.URL, gid)
	}
	d, err := depi.DecomposePath(r, g)
	if err != nil {
		return nil, "", nil, &depi.Error{Kind: depi.KindIntegrity, Op: op, Err: err}
	}
	return g, gid, d.Path(), nil
}

func pathKey(gid string, pieces []string) string {
	return gid + "\x00" + strings.Join(pieces, "\x00")
}

// nodeID is the id of the node at pieces: the resource living there, or a virtual container.
func (b *builder) nodeID(g *depi.ResourceGroup, gid string, pieces []string) string {
	if id, ok := b.ids[pathKey(gid, pieces)]; ok {
		return id
	}
	return depi.ResourceKey(depi.ResourceRef{
		ToolID:           g.ToolID,
		ResourceGroupURL: g.URL,
		URL:              g.PathDivider + strings.Join(pieces, g.PathDivider) + g.PathDivider,
	})
}

// indexResources validates every resource and records the id of every potential node.
func (b *builder) indexResources() error {
	resources := b.in.Model.Resources
	for i := range resources {
		r := &resources[i]
		_, gid, pieces, err := b.path(r)
		if err != nil {
			return err
		}
		id := depi.ResourceKey(r.ResourceRef)
		key := pathKey(gid, pieces)
		if prev, ok := b.ids[key]; ok && prev != id {
			return depi.Errorf(depi.KindIntegrity, op, "resources %s and %s occupy the same path", prev, id)
		}
		b.ids[key] = id
	}
	for i := range resources {
		g, gid, pieces, _ := b.path(&resources[i])
		parent := gid
		for j := range pieces {
			id := b.nodeID(g, gid, pieces[:j+1])
			b.known[id] = parent
			parent = id
		}
	}
	return nil
}

func (b *builder) deriveDirtiness() {
	for _, l := range b.in.Model.Links {
		if l.Dirty {
			b.dirty[depi.ResourceKey(l.Target.ResourceRef)] = true
			b.dependsOnDirty[depi.ResourceKey(l.Source.ResourceRef)] = true
		}
		if len(l.InferredDirtiness) > 0 {
			b.dependsOnDirty[depi.ResourceKey(l.Source.ResourceRef)] = true
		}
		for _, inf := range l.InferredDirtiness {
			b.dirty[depi.ResourceKey(inf.Resource.ResourceRef)] = true
		}
	}
}

// addResources walks every resource of an expanded group down its path, stopping at
// the first collapsed container.
func (b *builder) addResources() error {
	sorted := make([]depi.Resource, len(b.in.Model.Resources))
	copy(sorted, b.in.Model.Resources)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].URL) < len(sorted[j].URL) })

	for i := range sorted {
		r := &sorted[i]
		g, gid, pieces, err := b.path(r)
		if err != nil {
			return err
		}
		if !b.in.Expanded[gid] {
			continue
		}

		parent := b.drafts[gid]
		visible := true
		for j, piece := range pieces {
			if j > 0 && !b.in.Expanded[parent.node.ID] {
				visible = false
				break
			}
			child, ok := parent.children[piece]
			if !ok {
				id := b.nodeID(g, gid, pieces[:j+1])
				child = &draft{node: Node{
					ID:       id,
					GroupID:  gid,
					Expanded: b.in.Expanded[id],
					InDepi:   true,
					Data:     ContainerData{Name: piece},
				}}
				b.insert(parent, piece, child)
			}
			parent = child
		}
		if !visible {
			continue
		}

		// Paths are unique per resource, so this is a repeated entry.
		if _, annotated := parent.node.Data.(ResourceData); annotated {
			continue
		}
		id := depi.ResourceKey(r.ResourceRef)
		parent.node.Data = ResourceData{
			Resource:       *r,
			IsContainer:    depi.IsContainerURL(r.URL, g.PathDivider),
			IsDirty:        b.dirty[id],
			DependsOnDirty: b.dependsOnDirty[id],
		}
	}
	return nil
}

// insert attaches d below parent. An empty segment keeps d out of the path index.
func (b *builder) insert(parent *draft, segment string, d *draft) {
	d.children = make(map[string]*draft)
	if parent != nil {
		d.node.ParentID = parent.node.ID
		parent.node.Children = append(parent.node.Children, d.node.ID)
		if segment != "" {
			parent.children[segment] = d
		}
	}
	b.drafts[d.node.ID] = d
	b.order = append(b.order, d)
}

// visible resolves r to the nearest node present in the projection. exact is set
// when that node is r itself.
func (b *builder) visible(r depi.Resource) (id string, exact bool, err error) {
	key := depi.ResourceKey(r.ResourceRef)
	if _, ok := b.drafts[key]; ok {
		return key, true, nil
	}

	gid := depi.ResourceGroupKey(r.GroupRef())
	root, ok := b.drafts[gid]
	if !ok {
		return "", false, depi.Errorf(depi.KindIntegrity, op,
			"link endpoint %s references unknown resource group %s", r.URL, gid)
	}
	if _, committed := b.groups[gid]; !committed {
		return gid, false, nil
	}

	_, _, pieces, err := b.path(&r)
	if err != nil {
		return "", false, err
	}
	node := root
	for _, piece := range pieces {
		child, ok := node.children[piece]
		if !ok {
			break
		}
		node = child
	}
	return node.node.ID, false, nil
}

func (b *builder) addLink(l depi.ResourceLink, inDepi bool) error {
	src, srcExact, err := b.visible(l.Source)
	if err != nil {
		return err
	}
	tgt, tgtExact, err := b.visible(l.Target)
	if err != nil {
		return err
	}
	// Both endpoints are hidden behind the same node.
	if src == tgt {
		return nil
	}

	id := depi.EdgeKey(src, tgt)
	e, ok := b.edges[id]
	if !ok {
		e = &Edge{ID: id, SourceID: src, TargetID: tgt}
		b.edges[id] = e
		b.edgeOrder = append(b.edgeOrder, id)
	}
	if !srcExact || !tgtExact {
		e.Aggregate = true
	}
	if inDepi {
		e.InDepi = true
	} else {
		e.OnBlackboard = true
	}
	// A link is counted once per edge, whether it repeats in the store or is staged again.
	for i := range e.Links {
		if depi.SameLink(&e.Links[i], &l) {
			return nil
		}
	}
	e.Links = append(e.Links, l)
	return nil
}

// addBlackboard merges staged entries into the projection.
func (b *builder) addBlackboard(bb *depi.Blackboard) error {
	for _, r := range bb.Resources {
		id := depi.ResourceKey(r.ResourceRef)
		if d, ok := b.drafts[id]; ok {
			d.node.OnBlackboard = true
			continue
		}

		gid := depi.ResourceGroupKey(r.GroupRef())
		root, ok := b.drafts[gid]
		if !ok {
			root = b.blackboardRoot(r)
		}
		container := false
		if g, ok := b.groups[gid]; ok {
			container = depi.IsContainerURL(r.URL, g.PathDivider)
		}
		// Committed resources hidden behind a collapsed node still show while staged.
		_, committed := b.known[id]
		b.insert(root, "", &draft{node: Node{
			ID:           id,
			GroupID:      gid,
			InDepi:       committed,
			OnBlackboard: true,
			Data: ResourceData{
				Resource:       r,
				IsContainer:    container,
				IsDirty:        b.dirty[id],
				DependsOnDirty: b.dependsOnDirty[id],
			},
		}})
	}

	for _, l := range bb.Links {
		if err := b.addLink(l, false); err != nil {
			return err
		}
	}
	return nil
}

// blackboardRoot materializes the root of a group that is only known from the blackboard.
func (b *builder) blackboardRoot(r depi.Resource) *draft {
	gid := depi.ResourceGroupKey(r.GroupRef())
	slot, ok := b.in.Slots[gid]
	if !ok {
		slot = b.nextSlot()
		b.newSlots[gid] = slot
	}
	d := &draft{node: Node{
		ID:           gid,
		GroupID:      gid,
		Expanded:     true,
		OnBlackboard: true,
		Data: GroupRootData{
			Group: depi.ResourceGroup{
				ResourceGroupRef: r.GroupRef(),
				Name:             r.ResourceGroupName,
				Version:          r.ResourceGroupVersion,
				IsActiveInEditor: true,
			},
			BlackboardOnly: true,
			Slot:           slot,
		},
	}}
	b.insert(nil, "", d)
	return d
}

// nextSlot returns the lowest slot not recorded and not allocated in this build.
func (b *builder) nextSlot() int {
	used := make(map[int]bool, len(b.in.Slots)+len(b.newSlots))
	for _, s := range b.in.Slots {
		used[s] = true
	}
	for _, s := range b.newSlots {
		used[s] = true
	}
	slot := 0
	for used[slot] {
		slot++
	}
	return slot
}

func (b *builder) finalize() *Projection {
	p := &Projection{
		Nodes:    make([]Node, 0, len(b.order)),
		Edges:    make([]Edge, 0, len(b.edgeOrder)),
		NewSlots: b.newSlots,
		nodes:    make(map[string]int, len(b.order)),
		edges:    make(map[string]int, len(b.edgeOrder)),
		known:    b.known,
	}
	for _, d := range b.order {
		p.nodes[d.node.ID] = len(p.Nodes)
		p.Nodes = append(p.Nodes, d.node)
	}
	for _, id := range b.edgeOrder {
		p.edges[id] = len(p.Edges)
		p.Edges = append(p.Edges, *b.edges[id])
	}
	return p
}
