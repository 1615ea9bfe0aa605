package depi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGroup() ResourceGroup {
	return ResourceGroup{
		ResourceGroupRef: ResourceGroupRef{ToolID: "git", URL: "https://example.com/g1.git"},
		Name:             "g1",
		Version:          "v1",
		PathDivider:      "/",
	}
}

func testResource(url string) Resource {
	return Resource{
		ResourceRef: ResourceRef{ToolID: "git", ResourceGroupURL: "https://example.com/g1.git", URL: url},
		Name:        url,
		ID:          url,
	}
}

func TestKeys(t *testing.T) {
	t.Run("resource key is deterministic", func(t *testing.T) {
		ref := ResourceRef{ToolID: "git", ResourceGroupURL: "repo", URL: "/a/b.txt"}
		assert.Equal(t, "git##repo##/a/b.txt", ResourceKey(ref))
		assert.Equal(t, ResourceKey(ref), ResourceKey(ref))
	})

	t.Run("group key", func(t *testing.T) {
		assert.Equal(t, "git##repo", ResourceGroupKey(ResourceGroupRef{ToolID: "git", URL: "repo"}))
	})

	t.Run("separators inside fields do not collide", func(t *testing.T) {
		a := ResourceRef{ToolID: "git##x", ResourceGroupURL: "y", URL: "z"}
		b := ResourceRef{ToolID: "git", ResourceGroupURL: "x##y", URL: "z"}
		assert.NotEqual(t, ResourceKey(a), ResourceKey(b))

		c := ResourceRef{ToolID: "git", ResourceGroupURL: "r", URL: "/a-->git##r##/b"}
		d := ResourceRef{ToolID: "git", ResourceGroupURL: "r", URL: "/a"}
		e := ResourceRef{ToolID: "git", ResourceGroupURL: "r", URL: "/b"}
		assert.NotEqual(t, ResourceKey(c), EdgeKey(ResourceKey(d), ResourceKey(e)))
	})

	t.Run("edge key is directional", func(t *testing.T) {
		a := ResourceKey(ResourceRef{ToolID: "git", ResourceGroupURL: "r", URL: "/a"})
		b := ResourceKey(ResourceRef{ToolID: "git", ResourceGroupURL: "r", URL: "/b"})
		assert.NotEqual(t, EdgeKey(a, b), EdgeKey(b, a))
	})
}

func TestSamePredicates(t *testing.T) {
	r1 := testResource("/a")
	r2 := testResource("/a")
	r2.Name = "different name"
	r2.ResourceGroupVersion = "v9"
	r3 := testResource("/b")

	t.Run("resources compare by key fields only", func(t *testing.T) {
		assert.True(t, SameResource(&r1.ResourceRef, &r2.ResourceRef))
		assert.False(t, SameResource(&r1.ResourceRef, &r3.ResourceRef))
	})

	t.Run("nil never matches", func(t *testing.T) {
		assert.False(t, SameResource(nil, &r1.ResourceRef))
		assert.False(t, SameResource(&r1.ResourceRef, nil))
		assert.False(t, SameResource(nil, nil))
		assert.False(t, SameResourceGroup(nil, nil))
		assert.False(t, SameLink(nil, nil))
	})

	t.Run("groups", func(t *testing.T) {
		g1 := testGroup()
		g2 := testGroup()
		g2.Version = "v2"
		assert.True(t, SameResourceGroup(&g1.ResourceGroupRef, &g2.ResourceGroupRef))
		g2.ToolID = "svn"
		assert.False(t, SameResourceGroup(&g1.ResourceGroupRef, &g2.ResourceGroupRef))
	})

	t.Run("links compare endpoints in order", func(t *testing.T) {
		l1 := ResourceLink{Source: r1, Target: r3, Dirty: true}
		l2 := ResourceLink{Source: r2, Target: r3}
		l3 := ResourceLink{Source: r3, Target: r1}
		assert.True(t, SameLink(&l1, &l2))
		assert.False(t, SameLink(&l1, &l3))
	})
}

func TestDecomposePath(t *testing.T) {
	g := testGroup()

	tests := []struct {
		name      string
		url       string
		segments  []string
		leaf      string
		container bool
	}{
		{name: "top level file", url: "/x", segments: []string{}, leaf: "x"},
		{name: "nested file", url: "/x/y.txt", segments: []string{"x"}, leaf: "y.txt"},
		{name: "container", url: "/x/y/", segments: []string{"x"}, leaf: "y", container: true},
		{name: "relative path", url: "a/b/c", segments: []string{"a", "b"}, leaf: "c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testResource(tt.url)
			p, err := DecomposePath(&r, &g)
			require.NoError(t, err)
			assert.Equal(t, ResourceGroupKey(g.ResourceGroupRef), p.RootID)
			assert.Equal(t, tt.segments, p.Segments)
			assert.Equal(t, tt.leaf, p.Leaf)
			assert.Equal(t, tt.container, p.IsContainer)
		})
	}

	t.Run("rejects undecomposable input", func(t *testing.T) {
		for _, url := range []string{"", "/", "//", "/a//b"} {
			r := testResource(url)
			_, err := DecomposePath(&r, &g)
			assert.Error(t, err, "url %q", url)
		}
	})

	t.Run("rejects resource from another group", func(t *testing.T) {
		r := testResource("/x")
		r.ResourceGroupURL = "other"
		_, err := DecomposePath(&r, &g)
		assert.Error(t, err)
	})

	t.Run("rejects nil", func(t *testing.T) {
		_, err := DecomposePath(nil, &g)
		assert.Error(t, err)
	})
}
