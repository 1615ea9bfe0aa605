package projection

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/dyluth/depi/pkg/depi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func group(url string) depi.ResourceGroup {
	return depi.ResourceGroup{
		ResourceGroupRef: depi.ResourceGroupRef{ToolID: "git", URL: url},
		Name:             url,
		Version:          "v1",
		PathDivider:      "/",
	}
}

func res(group, url string) depi.Resource {
	return depi.Resource{
		ResourceRef:          depi.ResourceRef{ToolID: "git", ResourceGroupURL: group, URL: url},
		ResourceGroupName:    group,
		ResourceGroupVersion: "v1",
	}
}

func lnk(source, target depi.Resource) depi.ResourceLink {
	return depi.ResourceLink{Source: source, Target: target}
}

func gid(url string) string {
	return depi.ResourceGroupKey(depi.ResourceGroupRef{ToolID: "git", URL: url})
}

func rid(group, url string) string {
	return depi.ResourceKey(depi.ResourceRef{ToolID: "git", ResourceGroupURL: group, URL: url})
}

func nodeIDs(p *Projection) []string {
	ids := make([]string, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestBuild_CollapsedContainerElidesSelfLoop(t *testing.T) {
	x, y := res("g1", "/x"), res("g1", "/x/y.txt")
	model := depi.Graph{
		ResourceGroups: []depi.ResourceGroup{group("g1")},
		Resources:      []depi.Resource{y, x},
		Links:          []depi.ResourceLink{lnk(y, x)},
	}
	state := ExpandState{gid("g1"): true, rid("g1", "/x"): true}

	p, err := Build(Input{Model: model, Expanded: state})
	require.NoError(t, err)
	assert.Equal(t, []string{gid("g1"), rid("g1", "/x"), rid("g1", "/x/y.txt")}, nodeIDs(p))
	require.Len(t, p.Edges, 1)
	assert.False(t, p.Edges[0].Aggregate)
	assert.Equal(t, rid("g1", "/x/y.txt"), p.Edges[0].SourceID)
	assert.Equal(t, rid("g1", "/x"), p.Edges[0].TargetID)

	require.True(t, state.Set(p, rid("g1", "/x"), false, false))
	p, err = Build(Input{Model: model, Expanded: state})
	require.NoError(t, err)
	assert.Equal(t, []string{gid("g1"), rid("g1", "/x")}, nodeIDs(p))
	assert.Empty(t, p.Edges)
}

func TestBuild_CollapsedGroupIsOneNode(t *testing.T) {
	model := depi.Graph{
		ResourceGroups: []depi.ResourceGroup{group("g1"), group("g2")},
		Resources:      []depi.Resource{res("g1", "/a.txt"), res("g2", "/b.txt")},
	}
	p, err := Build(Input{Model: model})
	require.NoError(t, err)
	assert.Equal(t, []string{gid("g1"), gid("g2")}, p.Roots())
	assert.Len(t, p.Nodes, 2)

	root, ok := p.Node(gid("g1")).Data.(GroupRootData)
	require.True(t, ok)
	assert.Equal(t, -1, root.Slot)
	assert.False(t, root.Group.IsActiveInEditor)
}

func TestBuild_VirtualContainers(t *testing.T) {
	model := depi.Graph{
		ResourceGroups: []depi.ResourceGroup{group("g1")},
		Resources:      []depi.Resource{res("g1", "/a/b/c.txt"), res("g1", "/a/d.txt")},
	}
	dirA, dirB := rid("g1", "/a/"), rid("g1", "/a/b/")

	t.Run("collapsed container halts descent", func(t *testing.T) {
		p, err := Build(Input{Model: model, Expanded: ExpandState{gid("g1"): true}})
		require.NoError(t, err)
		assert.Equal(t, []string{gid("g1"), dirA}, nodeIDs(p))
		assert.Equal(t, ContainerData{Name: "a"}, p.Node(dirA).Data)
	})

	t.Run("expanded container shows children", func(t *testing.T) {
		p, err := Build(Input{Model: model, Expanded: ExpandState{gid("g1"): true, dirA: true}})
		require.NoError(t, err)
		assert.Equal(t, []string{gid("g1"), dirA, rid("g1", "/a/d.txt"), dirB}, nodeIDs(p))
		assert.Equal(t, []string{rid("g1", "/a/d.txt"), dirB}, p.Node(dirA).Children)
		assert.Equal(t, dirA, p.Node(dirB).ParentID)

		leaf, ok := p.Node(rid("g1", "/a/d.txt")).Data.(ResourceData)
		require.True(t, ok)
		assert.False(t, leaf.IsContainer)
	})

	t.Run("container resource shares the virtual node", func(t *testing.T) {
		withDir := model
		withDir.Resources = append([]depi.Resource{res("g1", "/a/")}, model.Resources...)
		p, err := Build(Input{Model: withDir, Expanded: ExpandState{gid("g1"): true}})
		require.NoError(t, err)
		assert.Equal(t, []string{gid("g1"), dirA}, nodeIDs(p))
		data, ok := p.Node(dirA).Data.(ResourceData)
		require.True(t, ok)
		assert.True(t, data.IsContainer)
	})
}

func TestBuild_AggregateEdges(t *testing.T) {
	a, b, tgt := res("g1", "/a.txt"), res("g1", "/b.txt"), res("g2", "/t.txt")
	model := depi.Graph{
		ResourceGroups: []depi.ResourceGroup{group("g1"), group("g2")},
		Resources:      []depi.Resource{a, b, tgt},
		Links:          []depi.ResourceLink{lnk(a, tgt), lnk(b, tgt), lnk(a, b)},
	}
	p, err := Build(Input{Model: model, Expanded: ExpandState{gid("g2"): true}})
	require.NoError(t, err)

	require.Len(t, p.Edges, 1)
	e := p.Edge(gid("g1"), rid("g2", "/t.txt"))
	require.NotNil(t, e)
	assert.True(t, e.Aggregate)
	assert.True(t, e.InDepi)
	assert.Len(t, e.Links, 2)
}

func TestBuild_DirectAndHiddenLinksShareOneEdge(t *testing.T) {
	x, xy, tgt := res("g1", "/x"), res("g1", "/x/y.txt"), res("g1", "/t.txt")
	model := depi.Graph{
		ResourceGroups: []depi.ResourceGroup{group("g1")},
		Resources:      []depi.Resource{x, xy, tgt},
		Links:          []depi.ResourceLink{lnk(x, tgt), lnk(xy, tgt)},
	}
	p, err := Build(Input{Model: model, Expanded: ExpandState{gid("g1"): true}})
	require.NoError(t, err)

	require.Len(t, p.Edges, 1)
	assert.True(t, p.Edges[0].Aggregate)
	assert.Len(t, p.Edges[0].Links, 2)
}

func TestBuild_RepeatedLinkCountsOnce(t *testing.T) {
	a, b, tgt := res("g1", "/a.txt"), res("g1", "/b.txt"), res("g2", "/t.txt")
	model := depi.Graph{
		ResourceGroups: []depi.ResourceGroup{group("g1"), group("g2")},
		Resources:      []depi.Resource{a, b, tgt},
		Links:          []depi.ResourceLink{lnk(a, tgt), lnk(a, tgt), lnk(b, tgt)},
	}
	bb := &depi.Blackboard{Links: []depi.ResourceLink{lnk(a, tgt)}}
	p, err := Build(Input{Model: model, Blackboard: bb, Expanded: ExpandState{gid("g2"): true}})
	require.NoError(t, err)

	e := p.Edge(gid("g1"), rid("g2", "/t.txt"))
	require.NotNil(t, e)
	assert.True(t, e.InDepi)
	assert.True(t, e.OnBlackboard)
	assert.Len(t, e.Links, 2)
}

// TestBuild_CollapsedGroupAggregation checks, over generated models, that collapsing
// a group leaves one node for it and one edge per distinct visible endpoint pair.
func TestBuild_CollapsedGroupAggregation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	dirs := []string{"a", "b", "c"}

	for round := 0; round < 20; round++ {
		t.Run(fmt.Sprintf("round %d", round), func(t *testing.T) {
			model := depi.Graph{}
			for g := 0; g < 3; g++ {
				model.ResourceGroups = append(model.ResourceGroups, group(fmt.Sprintf("g%d", g)))
			}
			seen := map[string]bool{}
			for i := 0; i < 15; i++ {
				url := ""
				for d := rng.Intn(3); d > 0; d-- {
					url += "/" + dirs[rng.Intn(len(dirs))]
				}
				url += fmt.Sprintf("/f%d.txt", rng.Intn(3))
				r := res(fmt.Sprintf("g%d", rng.Intn(3)), url)
				if key := depi.ResourceKey(r.ResourceRef); !seen[key] {
					seen[key] = true
					model.Resources = append(model.Resources, r)
				}
			}
			linked := map[string]bool{}
			for i := 0; i < 25; i++ {
				src := model.Resources[rng.Intn(len(model.Resources))]
				tgt := model.Resources[rng.Intn(len(model.Resources))]
				key := depi.EdgeKey(depi.ResourceKey(src.ResourceRef), depi.ResourceKey(tgt.ResourceRef))
				if !depi.SameResource(&src.ResourceRef, &tgt.ResourceRef) && !linked[key] {
					linked[key] = true
					model.Links = append(model.Links, lnk(src, tgt))
				}
			}

			// Expand everything, then collapse g0.
			state := ExpandState{}
			state.ExpandGroups([]depi.ResourceGroupRef{{ToolID: "git", URL: "g0"}, {ToolID: "git", URL: "g1"}, {ToolID: "git", URL: "g2"}}, true)
			p, err := Build(Input{Model: model, Expanded: state})
			require.NoError(t, err)
			for _, root := range p.Roots() {
				require.True(t, state.Set(p, root, true, true))
			}
			state[gid("g0")] = false
			p, err = Build(Input{Model: model, Expanded: state})
			require.NoError(t, err)

			inG0 := func(r depi.Resource) bool { return r.ResourceGroupURL == "g0" }
			visible := func(r depi.Resource) string {
				if inG0(r) {
					return gid("g0")
				}
				return depi.ResourceKey(r.ResourceRef)
			}

			g0Nodes := 0
			for _, n := range p.Nodes {
				if n.GroupID == gid("g0") {
					g0Nodes++
				}
			}
			assert.Equal(t, 1, g0Nodes)

			pairs := map[string]bool{}
			for _, l := range model.Links {
				if inG0(l.Source) == inG0(l.Target) {
					continue
				}
				pairs[depi.EdgeKey(visible(l.Source), visible(l.Target))] = true

				holders := 0
				for _, e := range p.Edges {
					for i := range e.Links {
						if depi.SameLink(&e.Links[i], &l) {
							holders++
							assert.True(t, e.SourceID == gid("g0") || e.TargetID == gid("g0"))
						}
					}
				}
				assert.Equal(t, 1, holders, "link %s", depi.LinkKey(l.Ref()))
			}

			touching := 0
			for _, e := range p.Edges {
				if e.SourceID == gid("g0") || e.TargetID == gid("g0") {
					touching++
				}
			}
			assert.Equal(t, len(pairs), touching)
		})
	}
}

func TestBuild_Dirtiness(t *testing.T) {
	a, b, c := res("g1", "/a.txt"), res("g1", "/b.txt"), res("g1", "/c.txt")
	dirty := lnk(c, a)
	dirty.Dirty = true
	inferred := lnk(b, c)
	inferred.InferredDirtiness = []depi.InferredDirtiness{{Resource: a, LastCleanVersion: "v0"}}

	model := depi.Graph{
		ResourceGroups: []depi.ResourceGroup{group("g1")},
		Resources:      []depi.Resource{a, b, c},
		Links:          []depi.ResourceLink{dirty, inferred},
	}
	p, err := Build(Input{Model: model, Expanded: ExpandState{gid("g1"): true}})
	require.NoError(t, err)

	data := func(url string) ResourceData {
		d, ok := p.Node(rid("g1", url)).Data.(ResourceData)
		require.True(t, ok)
		return d
	}
	assert.True(t, data("/a.txt").IsDirty)
	assert.False(t, data("/a.txt").DependsOnDirty)
	assert.True(t, data("/b.txt").DependsOnDirty)
	assert.False(t, data("/b.txt").IsDirty)
	assert.True(t, data("/c.txt").DependsOnDirty)
	assert.False(t, data("/c.txt").IsDirty)
}

func TestBuild_IntegrityErrors(t *testing.T) {
	t.Run("resource without group", func(t *testing.T) {
		_, err := Build(Input{Model: depi.Graph{
			ResourceGroups: []depi.ResourceGroup{group("g1")},
			Resources:      []depi.Resource{res("g9", "/a.txt")},
		}})
		assert.True(t, depi.IsIntegrity(err))
	})

	t.Run("link endpoint without group", func(t *testing.T) {
		a := res("g1", "/a.txt")
		_, err := Build(Input{Model: depi.Graph{
			ResourceGroups: []depi.ResourceGroup{group("g1")},
			Resources:      []depi.Resource{a},
			Links:          []depi.ResourceLink{lnk(a, res("g9", "/b.txt"))},
		}})
		assert.True(t, depi.IsIntegrity(err))
	})

	t.Run("undecomposable url", func(t *testing.T) {
		_, err := Build(Input{Model: depi.Graph{
			ResourceGroups: []depi.ResourceGroup{group("g1")},
			Resources:      []depi.Resource{res("g1", "")},
		}})
		assert.True(t, depi.IsIntegrity(err))
	})

	t.Run("two resources on one path", func(t *testing.T) {
		_, err := Build(Input{Model: depi.Graph{
			ResourceGroups: []depi.ResourceGroup{group("g1")},
			Resources:      []depi.Resource{res("g1", "/x"), res("g1", "/x/")},
		}})
		assert.True(t, depi.IsIntegrity(err))
	})
}

func TestBuild_Blackboard(t *testing.T) {
	a, b := res("g1", "/a.txt"), res("g1", "/b.txt")
	committed := lnk(a, b)
	model := depi.Graph{
		ResourceGroups: []depi.ResourceGroup{group("g1")},
		Resources:      []depi.Resource{a, b},
		Links:          []depi.ResourceLink{committed},
	}
	expanded := ExpandState{gid("g1"): true}

	t.Run("staged committed entries are flagged", func(t *testing.T) {
		bb := &depi.Blackboard{}
		bb.Stage(nil, []depi.ResourceLink{committed})
		p, err := Build(Input{Model: model, Blackboard: bb, Expanded: expanded})
		require.NoError(t, err)

		assert.Len(t, p.Nodes, 3)
		assert.True(t, p.Node(rid("g1", "/a.txt")).OnBlackboard)
		assert.True(t, p.Node(rid("g1", "/a.txt")).InDepi)
		require.Len(t, p.Edges, 1)
		assert.True(t, p.Edges[0].OnBlackboard)
		assert.True(t, p.Edges[0].InDepi)
		assert.Len(t, p.Edges[0].Links, 1)
	})

	t.Run("staged resource in a committed group", func(t *testing.T) {
		bb := &depi.Blackboard{}
		c := res("g1", "/c.txt")
		bb.Stage(nil, []depi.ResourceLink{lnk(c, a)})
		p, err := Build(Input{Model: model, Blackboard: bb, Expanded: expanded})
		require.NoError(t, err)

		n := p.Node(rid("g1", "/c.txt"))
		require.NotNil(t, n)
		assert.Equal(t, gid("g1"), n.ParentID)
		assert.False(t, n.InDepi)
		assert.True(t, n.OnBlackboard)

		e := p.Edge(rid("g1", "/c.txt"), rid("g1", "/a.txt"))
		require.NotNil(t, e)
		assert.False(t, e.InDepi)
		assert.False(t, e.Aggregate)
		assert.Empty(t, p.NewSlots)
	})

	t.Run("staged resource in a collapsed group", func(t *testing.T) {
		bb := &depi.Blackboard{}
		bb.Stage([]depi.Resource{a}, nil)
		p, err := Build(Input{Model: model, Blackboard: bb})
		require.NoError(t, err)

		n := p.Node(rid("g1", "/a.txt"))
		require.NotNil(t, n)
		assert.True(t, n.InDepi)
		assert.True(t, n.OnBlackboard)
	})

	t.Run("blackboard-only groups get stable slots", func(t *testing.T) {
		bb := &depi.Blackboard{}
		bb.Stage([]depi.Resource{res("g3", "/x.txt"), res("g3", "/y.txt"), res("g4", "/z.txt")}, nil)

		p, err := Build(Input{Model: model, Blackboard: bb, Expanded: expanded, Slots: map[string]int{gid("g3"): 0}})
		require.NoError(t, err)

		assert.Equal(t, []string{gid("g1"), gid("g3"), gid("g4")}, p.Roots())
		g3, ok := p.Node(gid("g3")).Data.(GroupRootData)
		require.True(t, ok)
		assert.True(t, g3.BlackboardOnly)
		assert.Equal(t, 0, g3.Slot)
		assert.Len(t, p.Node(gid("g3")).Children, 2)

		g4 := p.Node(gid("g4")).Data.(GroupRootData)
		assert.Equal(t, 1, g4.Slot)
		assert.Equal(t, map[string]int{gid("g4"): 1}, p.NewSlots)
	})

	t.Run("staged link into a blackboard-only group", func(t *testing.T) {
		bb := &depi.Blackboard{}
		bb.Stage(nil, []depi.ResourceLink{lnk(res("g3", "/x.txt"), a)})
		p, err := Build(Input{Model: model, Blackboard: bb, Expanded: expanded})
		require.NoError(t, err)

		e := p.Edge(rid("g3", "/x.txt"), rid("g1", "/a.txt"))
		require.NotNil(t, e)
		assert.True(t, e.OnBlackboard)
		assert.False(t, e.InDepi)
	})
}
