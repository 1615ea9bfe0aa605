package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/dyluth/depi/internal/projection"
)

// renderProjection writes p as an indented tree followed by its edges.
func renderProjection(w io.Writer, p *projection.Projection) {
	for _, root := range p.Roots() {
		renderNode(w, p, root, 0)
	}
	if len(p.Edges) == 0 {
		return
	}
	fmt.Fprintf(w, "\nLinks:\n")
	for _, e := range p.Edges {
		line := fmt.Sprintf("  %s -> %s", fullLabel(p, e.SourceID), fullLabel(p, e.TargetID))
		if e.Aggregate {
			line += fmt.Sprintf(" (aggregate of %d)", len(e.Links))
		}
		if tags := flags(e.InDepi, e.OnBlackboard, false, false); tags != "" {
			line += " " + tags
		}
		fmt.Fprintln(w, line)
	}
}

func renderNode(w io.Writer, p *projection.Projection, id string, depth int) {
	n := p.Node(id)
	if n == nil {
		return
	}
	marker := " "
	if len(n.Children) > 0 || canExpand(n) {
		marker = "+"
		if n.Expanded {
			marker = "-"
		}
	}

	var dirty, dependsOnDirty bool
	if r, ok := n.Data.(projection.ResourceData); ok {
		dirty, dependsOnDirty = r.IsDirty, r.DependsOnDirty
	}
	line := fmt.Sprintf("%s%s %s", strings.Repeat("  ", depth), marker, label(n))
	if tags := flags(n.InDepi, n.OnBlackboard, dirty, dependsOnDirty); tags != "" {
		line += " " + tags
	}
	fmt.Fprintln(w, line)

	for _, child := range n.Children {
		renderNode(w, p, child, depth+1)
	}
}

func canExpand(n *projection.Node) bool {
	switch d := n.Data.(type) {
	case projection.GroupRootData, projection.ContainerData:
		return true
	case projection.ResourceData:
		return d.IsContainer
	}
	return false
}

func label(n *projection.Node) string {
	if d, ok := n.Data.(projection.GroupRootData); ok && d.BlackboardOnly {
		return fmt.Sprintf("%s [new group, slot %d]", nodeName(n), d.Slot)
	}
	return nodeName(n)
}

// nodeName is the bare name of n, without the decoration shown on its own line.
func nodeName(n *projection.Node) string {
	switch d := n.Data.(type) {
	case projection.GroupRootData:
		if d.Group.Name == "" {
			return d.Group.URL
		}
		return d.Group.Name
	case projection.ContainerData:
		return d.Name + "/"
	case projection.ResourceData:
		if d.Resource.Name != "" {
			return d.Resource.Name
		}
		return d.Resource.URL
	}
	return n.ID
}

// fullLabel is the group name followed by the labels on the way down to id.
func fullLabel(p *projection.Projection, id string) string {
	var parts []string
	for n := p.Node(id); n != nil; n = p.Node(n.ParentID) {
		parts = append([]string{strings.TrimSuffix(nodeName(n), "/")}, parts...)
		if n.ParentID == "" {
			break
		}
	}
	if len(parts) == 0 {
		return id
	}
	return parts[0] + ":" + strings.Join(parts[1:], "/")
}

func flags(inDepi, onBlackboard, dirty, dependsOnDirty bool) string {
	var tags []string
	if onBlackboard {
		if inDepi {
			tags = append(tags, "staged")
		} else {
			tags = append(tags, "new")
		}
	}
	if dirty {
		tags = append(tags, "dirty")
	}
	if dependsOnDirty {
		tags = append(tags, "depends-on-dirty")
	}
	if len(tags) == 0 {
		return ""
	}
	return "[" + strings.Join(tags, ", ") + "]"
}
