package commands

import (
	"bytes"
	"testing"

	"github.com/dyluth/depi/internal/projection"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderFixture() depi.Graph {
	group := func(url string) depi.ResourceGroup {
		return depi.ResourceGroup{
			ResourceGroupRef: depi.ResourceGroupRef{ToolID: "git", URL: url},
			Name:             url,
			Version:          "v1",
			PathDivider:      "/",
		}
	}
	res := func(group, url, name string) depi.Resource {
		return depi.Resource{
			ResourceRef:          depi.ResourceRef{ToolID: "git", ResourceGroupURL: group, URL: url},
			ResourceGroupName:    group,
			ResourceGroupVersion: "v1",
			Name:                 name,
		}
	}
	doc := res("docs", "/design/spec.md", "spec.md")
	engine := res("code", "/src/engine.c", "engine.c")
	return depi.Graph{
		ResourceGroups: []depi.ResourceGroup{group("docs"), group("code")},
		Resources:      []depi.Resource{doc, engine},
		Links:          []depi.ResourceLink{{Source: doc, Target: engine, Dirty: true}},
	}
}

func TestRenderProjection_Collapsed(t *testing.T) {
	p, err := projection.Build(projection.Input{Model: renderFixture()})
	require.NoError(t, err)

	var buf bytes.Buffer
	renderProjection(&buf, p)
	assert.Equal(t, "+ docs\n+ code\n\nLinks:\n  docs: -> code: (aggregate of 1)\n", buf.String())
}

func TestRenderProjection_Expanded(t *testing.T) {
	in := projection.Input{Model: renderFixture(), Expanded: projection.ExpandState{}}
	p, err := projection.Build(in)
	require.NoError(t, err)
	for _, root := range p.Roots() {
		in.Expanded.Set(p, root, true, true)
	}
	p, err = projection.Build(in)
	require.NoError(t, err)

	var buf bytes.Buffer
	renderProjection(&buf, p)
	out := buf.String()
	assert.Contains(t, out, "- docs\n  - design/\n      spec.md [depends-on-dirty]\n")
	assert.Contains(t, out, "- code\n  - src/\n      engine.c [dirty]\n")
	assert.Contains(t, out, "  docs:design/spec.md -> code:src/engine.c\n")
	assert.NotContains(t, out, "aggregate")
}

func TestRenderProjection_Blackboard(t *testing.T) {
	model := renderFixture()
	staged := depi.Resource{
		ResourceRef:          depi.ResourceRef{ToolID: "git", ResourceGroupURL: "tests", URL: "/t1.py"},
		ResourceGroupName:    "tests",
		ResourceGroupVersion: "v7",
		Name:                 "t1.py",
	}
	bb := &depi.Blackboard{}
	bb.Stage(nil, []depi.ResourceLink{{Source: staged, Target: model.Resources[1]}})

	p, err := projection.Build(projection.Input{Model: model, Blackboard: bb})
	require.NoError(t, err)

	var buf bytes.Buffer
	renderProjection(&buf, p)
	out := buf.String()
	assert.Contains(t, out, "tests [new group, slot 0] [new]")
	assert.Contains(t, out, "t1.py [new]")
	assert.Contains(t, out, "engine.c [staged, dirty]")
	assert.Contains(t, out, "  tests:t1.py -> code:engine.c [new]\n")
	assert.NotContains(t, out, "slot 0]:", "edge labels use the bare group name")
	assert.Contains(t, out, "  docs: -> code: (aggregate of 1)\n")
}
