package graph

import (
	"context"
	"sort"

	"github.com/dyluth/depi/pkg/depi"
)

// GetResourceGroups lists the groups of a branch, sorted by key.
func (s *Service) GetResourceGroups(ctx context.Context, branch string) ([]depi.ResourceGroup, error) {
	snap, err := s.read(ctx, branch)
	if err != nil {
		return nil, err
	}
	return snap.sortedGroups(), nil
}

func (s *snapshot) sortedGroups() []depi.ResourceGroup {
	keys := make([]string, 0, len(s.groups))
	for key := range s.groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	groups := make([]depi.ResourceGroup, 0, len(keys))
	for _, key := range keys {
		groups = append(groups, s.expandGroup(s.groups[key]))
	}
	return groups
}

// GetResources returns the union of resources matching any pattern.
func (s *Service) GetResources(ctx context.Context, branch string, patterns []depi.ResourcePattern) ([]depi.Resource, error) {
	snap, err := s.read(ctx, branch)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []depi.Resource
	for _, p := range patterns {
		re, err := s.compile(p.URLPattern)
		if err != nil {
			return nil, err
		}
		groupRef := depi.ResourceGroupRef{ToolID: p.ToolID, URL: p.ResourceGroupURL}
		resources := snap.resources[depi.ResourceGroupKey(groupRef)]
		urls := make([]string, 0, len(resources))
		for url := range resources {
			urls = append(urls, url)
		}
		sort.Strings(urls)

		for _, url := range urls {
			if !re.MatchString(url) {
				continue
			}
			ref := depi.ResourceRef{ToolID: p.ToolID, ResourceGroupURL: p.ResourceGroupURL, URL: url}
			key := depi.ResourceKey(ref)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, snap.expandResource(ref))
		}
	}
	return out, nil
}

// matches reports whether ref is selected by p.
func (s *Service) matches(p depi.ResourcePattern, ref depi.ResourceRef) (bool, error) {
	if p.ToolID != ref.ToolID || p.ResourceGroupURL != ref.ResourceGroupURL {
		return false, nil
	}
	re, err := s.compile(p.URLPattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(ref.URL), nil
}

// GetLinks returns live links whose source and target match one of the pattern pairs.
func (s *Service) GetLinks(ctx context.Context, branch string, patterns []depi.LinkPattern) ([]depi.ResourceLink, error) {
	snap, err := s.read(ctx, branch)
	if err != nil {
		return nil, err
	}

	var out []depi.ResourceLink
	for _, key := range snap.sortedLinkKeys() {
		l := snap.links[key]
		if l.Deleted {
			continue
		}
		for _, p := range patterns {
			src, err := s.matches(p.Source, l.Source)
			if err != nil {
				return nil, err
			}
			if !src {
				continue
			}
			tgt, err := s.matches(p.Target, l.Target)
			if err != nil {
				return nil, err
			}
			if tgt {
				out = append(out, snap.expandLink(l))
				break
			}
		}
	}
	return out, nil
}

// GetAllLinks returns every link of a branch.
func (s *Service) GetAllLinks(ctx context.Context, branch string, includeDeleted bool) ([]depi.ResourceLink, error) {
	snap, err := s.read(ctx, branch)
	if err != nil {
		return nil, err
	}
	out := make([]depi.ResourceLink, 0, len(snap.links))
	for _, key := range snap.sortedLinkKeys() {
		l := snap.links[key]
		if l.Deleted && !includeDeleted {
			continue
		}
		out = append(out, snap.expandLink(l))
	}
	return out, nil
}

// GetDirtyLinks returns the links sourced in group that are dirty or carry
// inferred dirtiness, deleted ones included.
func (s *Service) GetDirtyLinks(ctx context.Context, branch string, group depi.ResourceGroupRef) ([]depi.ResourceLink, error) {
	snap, err := s.read(ctx, branch)
	if err != nil {
		return nil, err
	}
	var out []depi.ResourceLink
	for _, key := range snap.sortedLinkKeys() {
		l := snap.links[key]
		if !depi.SameResourceGroup(&group, &depi.ResourceGroupRef{ToolID: l.Source.ToolID, URL: l.Source.ResourceGroupURL}) {
			continue
		}
		if l.Dirty || len(l.Inferred) > 0 {
			out = append(out, snap.expandLink(l))
		}
	}
	return out, nil
}

// GetDependencyGraph walks links from a resource. Dependencies follows source to
// target, Dependents the reverse. maxDepth <= 0 means no limit. An untracked
// resource fails with KindNotFound.
func (s *Service) GetDependencyGraph(ctx context.Context, branch string, req depi.DependencyGraphRequest) (*depi.DependencyGraph, error) {
	snap, err := s.read(ctx, branch)
	if err != nil {
		return nil, err
	}
	if snap.resource(req.Resource) == nil {
		return nil, depi.Errorf(depi.KindNotFound, depi.MethodGetDependencyGraph, "resource %s not found", depi.ResourceKey(req.Resource))
	}

	next := make(map[string][]*storedLink)
	for _, key := range snap.sortedLinkKeys() {
		l := snap.links[key]
		if l.Deleted {
			continue
		}
		from := depi.ResourceKey(l.Source)
		if req.Direction == depi.Dependents {
			from = depi.ResourceKey(l.Target)
		}
		next[from] = append(next[from], l)
	}

	root := snap.expandResource(req.Resource)
	result := &depi.DependencyGraph{Resource: &root, Links: []depi.ResourceLink{}}

	visited := map[string]bool{depi.ResourceKey(req.Resource): true}
	frontier := []depi.ResourceRef{req.Resource}
	for depth := 1; len(frontier) > 0 && (req.MaxDepth <= 0 || depth <= req.MaxDepth); depth++ {
		var following []depi.ResourceRef
		for _, ref := range frontier {
			for _, l := range next[depi.ResourceKey(ref)] {
				result.Links = append(result.Links, snap.expandLink(l))
				other := l.Target
				if req.Direction == depi.Dependents {
					other = l.Source
				}
				if key := depi.ResourceKey(other); !visited[key] {
					visited[key] = true
					following = append(following, other)
				}
			}
		}
		frontier = following
	}
	return result, nil
}
