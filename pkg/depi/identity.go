package depi

import (
	"fmt"
	"strings"
)

// Key separators. Fields are escaped so neither separator can occur inside a field.
const (
	keySeparator  = "##"
	edgeSeparator = "-->"
)

var keyEscaper = strings.NewReplacer("%", "%25", "#", "%23", ">", "%3E")

func escapeKeyField(s string) string {
	return keyEscaper.Replace(s)
}

// ResourceGroupKey returns the composite key of a resource group.
// Pattern: {toolId}##{url}
func ResourceGroupKey(ref ResourceGroupRef) string {
	return escapeKeyField(ref.ToolID) + keySeparator + escapeKeyField(ref.URL)
}

// ResourceKey returns the composite key of a resource.
// Pattern: {toolId}##{resourceGroupUrl}##{url}
func ResourceKey(ref ResourceRef) string {
	return escapeKeyField(ref.ToolID) + keySeparator +
		escapeKeyField(ref.ResourceGroupURL) + keySeparator +
		escapeKeyField(ref.URL)
}

// EdgeKey returns the directional key of a link from sourceKey to targetKey.
// Both arguments are expected to come from ResourceKey.
// Pattern: {sourceKey}-->{targetKey}
func EdgeKey(sourceKey, targetKey string) string {
	return sourceKey + edgeSeparator + targetKey
}

// LinkKey is EdgeKey applied to the endpoints of a link.
func LinkKey(ref LinkRef) string {
	return EdgeKey(ResourceKey(ref.Source), ResourceKey(ref.Target))
}

// SameResourceGroup reports whether a and b identify the same group. Nil never matches.
func SameResourceGroup(a, b *ResourceGroupRef) bool {
	if a == nil || b == nil {
		return false
	}
	return a.ToolID == b.ToolID && a.URL == b.URL
}

// SameResource reports whether a and b identify the same resource. Nil never matches.
func SameResource(a, b *ResourceRef) bool {
	if a == nil || b == nil {
		return false
	}
	return a.ToolID == b.ToolID && a.ResourceGroupURL == b.ResourceGroupURL && a.URL == b.URL
}

// SameLink reports whether a and b connect the same source and target. Nil never matches.
func SameLink(a, b *ResourceLink) bool {
	if a == nil || b == nil {
		return false
	}
	return SameResource(&a.Source.ResourceRef, &b.Source.ResourceRef) &&
		SameResource(&a.Target.ResourceRef, &b.Target.ResourceRef)
}

// PathDecomposition splits a resource url into its ancestor containers and its leaf.
type PathDecomposition struct {
	// RootID is the ResourceGroupKey of the owning group.
	RootID string
	// Segments are the ancestor directory names, outermost first. The leaf is not included.
	Segments []string
	// Leaf is the last path segment, the resource's own name.
	Leaf string
	// IsContainer is set when the url ends with the group's divider.
	IsContainer bool
}

// IsContainerURL reports whether url denotes a container resource under divider.
func IsContainerURL(url, divider string) bool {
	return divider != "" && strings.HasSuffix(url, divider)
}

// DecomposePath splits resource.URL on group.PathDivider. A leading empty segment
// (absolute paths) and the trailing empty segment of a container url are dropped,
// then the leaf is split off so Segments only holds ancestors.
func DecomposePath(resource *Resource, group *ResourceGroup) (PathDecomposition, error) {
	if resource == nil || group == nil {
		return PathDecomposition{}, fmt.Errorf("cannot decompose path: resource and group are required")
	}
	if !SameResourceGroup(&group.ResourceGroupRef, &ResourceGroupRef{ToolID: resource.ToolID, URL: resource.ResourceGroupURL}) {
		return PathDecomposition{}, fmt.Errorf("cannot decompose path %q: resource belongs to %s, not %s",
			resource.URL, ResourceGroupKey(resource.GroupRef()), ResourceGroupKey(group.ResourceGroupRef))
	}
	if resource.URL == "" {
		return PathDecomposition{}, fmt.Errorf("cannot decompose path: empty url")
	}
	if group.PathDivider == "" {
		return PathDecomposition{}, fmt.Errorf("cannot decompose path %q: group %s has no path divider", resource.URL, group.URL)
	}

	parts := strings.Split(resource.URL, group.PathDivider)
	if parts[0] == "" {
		parts = parts[1:]
	}
	container := IsContainerURL(resource.URL, group.PathDivider)
	if container && len(parts) > 0 {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return PathDecomposition{}, fmt.Errorf("cannot decompose path %q: no leaf segment", resource.URL)
	}
	for _, p := range parts {
		if p == "" {
			return PathDecomposition{}, fmt.Errorf("cannot decompose path %q: empty segment", resource.URL)
		}
	}

	return PathDecomposition{
		RootID:      ResourceGroupKey(group.ResourceGroupRef),
		Segments:    parts[:len(parts)-1],
		Leaf:        parts[len(parts)-1],
		IsContainer: container,
	}, nil
}

// Path returns the ancestors followed by the leaf.
func (p PathDecomposition) Path() []string {
	path := make([]string, 0, len(p.Segments)+1)
	path = append(path, p.Segments...)
	return append(path, p.Leaf)
}
