package depi

import (
	"context"
)

// GetResourceGroups lists the resource groups of the session's branch.
func (s *Session) GetResourceGroups(ctx context.Context) ([]ResourceGroup, error) {
	var resp GroupsResponse
	if err := s.call(ctx, MethodGetResourceGroups, nil, &resp); err != nil {
		return nil, err
	}
	return resp.ResourceGroups, nil
}

// GetResources returns the union of the resources matched by patterns.
func (s *Session) GetResources(ctx context.Context, patterns []ResourcePattern) ([]Resource, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	var resp ResourcesResponse
	if err := s.call(ctx, MethodGetResources, ResourcesRequest{Patterns: patterns}, &resp); err != nil {
		return nil, err
	}
	return resp.Resources, nil
}

// GetLinks returns the links matched by any of patterns.
func (s *Session) GetLinks(ctx context.Context, patterns []LinkPattern) ([]ResourceLink, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	var resp LinksResponse
	if err := s.call(ctx, MethodGetLinks, LinksRequest{Patterns: patterns}, &resp); err != nil {
		return nil, err
	}
	return resp.Links, nil
}

// GetAllLinks returns every link of the branch in a single call.
func (s *Session) GetAllLinks(ctx context.Context, includeDeleted bool) ([]ResourceLink, error) {
	var resp LinksResponse
	if err := s.call(ctx, MethodGetAllLinks, AllLinksRequest{IncludeDeleted: includeDeleted}, &resp); err != nil {
		return nil, err
	}
	return resp.Links, nil
}

// GetDirtyLinks returns the links sourced in group that are dirty or carry inferred dirtiness.
func (s *Session) GetDirtyLinks(ctx context.Context, group ResourceGroupRef) ([]ResourceLink, error) {
	var resp LinksResponse
	if err := s.call(ctx, MethodGetDirtyLinks, GroupRequest{Group: group}, &resp); err != nil {
		return nil, err
	}
	return resp.Links, nil
}

// GetDependencyGraph returns the transitive closure of links from ref in direction.
// An untracked resource yields a graph with a nil Resource and no links.
func (s *Session) GetDependencyGraph(ctx context.Context, ref ResourceRef, direction Direction) (*DependencyGraph, error) {
	return s.dependencyGraph(ctx, ref, direction, 0)
}

// GetDependencies is GetDependencyGraph limited to direct links.
func (s *Session) GetDependencies(ctx context.Context, ref ResourceRef, direction Direction) (*DependencyGraph, error) {
	return s.dependencyGraph(ctx, ref, direction, 1)
}

func (s *Session) dependencyGraph(ctx context.Context, ref ResourceRef, direction Direction, maxDepth int) (*DependencyGraph, error) {
	if direction == "" {
		direction = Dependencies
	}
	var resp DependencyGraph
	err := s.call(ctx, MethodGetDependencyGraph, DependencyGraphRequest{
		Resource:  ref,
		Direction: direction,
		MaxDepth:  maxDepth,
	}, &resp)
	if IsNotFound(err) {
		return &DependencyGraph{Links: []ResourceLink{}}, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.Links == nil {
		resp.Links = []ResourceLink{}
	}
	return &resp, nil
}

// GetDepiModel lists every group and loads resources and links of the active groups.
// Active groups are flagged IsActiveInEditor. When every group is active the links
// come from a single full-graph call instead of one pattern per group pair.
func (s *Session) GetDepiModel(ctx context.Context, active []ResourceGroupRef) (*Graph, error) {
	groups, err := s.GetResourceGroups(ctx)
	if err != nil {
		return nil, err
	}
	model := &Graph{ResourceGroups: groups}
	if len(active) == 0 {
		return model, nil
	}

	var patterns []ResourcePattern
	for i := range model.ResourceGroups {
		g := &model.ResourceGroups[i]
		for j := range active {
			if SameResourceGroup(&g.ResourceGroupRef, &active[j]) {
				g.IsActiveInEditor = true
				patterns = append(patterns, ResourcePattern{ToolID: g.ToolID, ResourceGroupURL: g.URL, URLPattern: ".*"})
				break
			}
		}
	}
	if len(patterns) == 0 {
		return model, nil
	}

	if model.Resources, err = s.GetResources(ctx, patterns); err != nil {
		return nil, err
	}

	if len(patterns) == len(model.ResourceGroups) {
		model.Links, err = s.GetAllLinks(ctx, false)
	} else {
		linkPatterns := make([]LinkPattern, 0, len(patterns)*len(patterns))
		for _, src := range patterns {
			for _, tgt := range patterns {
				linkPatterns = append(linkPatterns, LinkPattern{Source: src, Target: tgt})
			}
		}
		model.Links, err = s.GetLinks(ctx, linkPatterns)
	}
	if err != nil {
		return nil, err
	}
	return model, nil
}

// UpdateResourceGroup moves a group to a new version and applies resource changes.
// Modified resources make the links that target them dirty.
func (s *Session) UpdateResourceGroup(ctx context.Context, update ResourceGroupUpdate) error {
	return s.mutate(MethodUpdateResourceGroup, func(id string) error {
		return s.transport.Call(ctx, MethodUpdateResourceGroup, id, update, nil)
	})
}

// EditResourceGroupProperties changes a group's identity or properties. The new key
// is carried to every contained resource and incident link.
func (s *Session) EditResourceGroupProperties(ctx context.Context, edit ResourceGroupEdit) error {
	return s.mutate(MethodEditResourceGroup, func(id string) error {
		return s.transport.Call(ctx, MethodEditResourceGroup, id, edit, nil)
	})
}

// RemoveResourceGroup removes a group with all of its resources and incident links.
func (s *Session) RemoveResourceGroup(ctx context.Context, ref ResourceGroupRef) error {
	return s.mutate(MethodRemoveResourceGroup, func(id string) error {
		return s.transport.Call(ctx, MethodRemoveResourceGroup, id, GroupRequest{Group: ref}, nil)
	})
}

// DeleteEntriesFromDepi removes resources and links from the committed graph.
// Removals are submitted in the caller's order, resources first. Callers include
// the links returned by AdditionalLooseLinks for the removed resources.
func (s *Session) DeleteEntriesFromDepi(ctx context.Context, entries Entries) error {
	if len(entries.Resources) == 0 && len(entries.Links) == 0 {
		return nil
	}
	req := UpdateDepiRequest{Updates: make([]DepiUpdate, 0, len(entries.Resources)+len(entries.Links))}
	for i := range entries.Resources {
		ref := entries.Resources[i].ResourceRef
		req.Updates = append(req.Updates, DepiUpdate{Type: RemoveResource, Resource: &ref})
	}
	for i := range entries.Links {
		ref := entries.Links[i].Ref()
		req.Updates = append(req.Updates, DepiUpdate{Type: RemoveLink, Link: &ref})
	}
	return s.mutate(MethodUpdateDepi, func(id string) error {
		return s.transport.Call(ctx, MethodUpdateDepi, id, req, nil)
	})
}
