package graph

import (
	"context"
	"strings"

	"github.com/dyluth/depi/pkg/depi"
	"github.com/redis/go-redis/v9"
)

// UpdateResourceGroup moves a group to a new version and applies resource changes.
//
//   - Added and Modified make every link whose target is the resource, or a
//     container holding it, dirty. Upstream links get inferred dirtiness.
//   - Renamed rewrites the resource and every link and inferred entry naming it.
//   - Removed deletes links sourced at the resource. Links targeting it become
//     dirty and deleted, and stay until cleaned.
//
// An unknown group is created.
func (s *Service) UpdateResourceGroup(ctx context.Context, branch string, u depi.ResourceGroupUpdate) error {
	const op = depi.MethodUpdateResourceGroup
	if u.ToolID == "" || u.URL == "" || u.NewVersion == "" {
		return depi.Errorf(depi.KindInvalid, op, "toolId, url and newVersion are required")
	}

	snap, err := s.mutate(ctx, op, branch, nil, func(_ *redis.Tx, snap *snapshot) (txWrites, error) {
		ref := depi.ResourceGroupRef{ToolID: u.ToolID, URL: u.URL}
		g := snap.group(ref)
		if g == nil {
			snap.putGroup(&storedGroup{
				ToolID:      u.ToolID,
				URL:         u.URL,
				Name:        u.Name,
				Version:     u.NewVersion,
				PathDivider: s.PathDivider(u.ToolID),
			})
			return nil, nil
		}

		previous := g.Version
		g.Version = u.NewVersion
		if u.Name != "" {
			g.Name = u.Name
		}
		snap.putGroup(g)

		for _, c := range u.Changes {
			changed := depi.ResourceRef{ToolID: g.ToolID, ResourceGroupURL: g.URL, URL: c.URL}
			switch c.ChangeType {
			case depi.ChangeAdded, depi.ChangeModified:
				for _, l := range snap.linksCovering(changed, g.PathDivider) {
					snap.markDirty(l, previous)
				}
				if c.ChangeType == depi.ChangeModified && renames(c) {
					snap.renameResource(changed, c)
				}
			case depi.ChangeRenamed:
				snap.renameResource(changed, c)
			case depi.ChangeRemoved:
				snap.removeChangedResource(changed, previous)
			default:
				return nil, depi.Errorf(depi.KindInvalid, op, "unknown change type %d for %s", c.ChangeType, c.URL)
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	logEvent("resource_group_updated", map[string]interface{}{
		"branch":      branch,
		"group":       depi.ResourceGroupKey(depi.ResourceGroupRef{ToolID: u.ToolID, URL: u.URL}),
		"new_version": u.NewVersion,
		"changes":     len(u.Changes),
	})
	s.publishDepi(ctx, branch, op, snap)
	return nil
}

// linksCovering returns the links whose target is ref or a container above it.
func (s *snapshot) linksCovering(ref depi.ResourceRef, divider string) []*storedLink {
	var out []*storedLink
	for _, key := range s.sortedLinkKeys() {
		l := s.links[key]
		t := l.Target
		if t.ToolID != ref.ToolID || t.ResourceGroupURL != ref.ResourceGroupURL {
			continue
		}
		if t.URL == ref.URL || (depi.IsContainerURL(t.URL, divider) && strings.HasPrefix(ref.URL, t.URL)) {
			out = append(out, l)
		}
	}
	return out
}

// renameResource moves a resource to its new url and rewrites every reference.
func (s *snapshot) renameResource(old depi.ResourceRef, c depi.ResourceChange) {
	renamed := old
	if c.NewURL != "" {
		renamed.URL = c.NewURL
	}

	if res := s.resource(old); res != nil {
		s.deleteResource(old)
		res.URL = renamed.URL
		if c.NewName != "" {
			res.Name = c.NewName
		}
		if c.NewID != "" {
			res.ID = c.NewID
		}
		s.putResource(renamed, res)
	}
	if renamed.URL == old.URL {
		return
	}

	for _, key := range s.sortedLinkKeys() {
		l := s.links[key]
		moved := false
		if depi.SameResource(&l.Source, &old) {
			l.Source = renamed
			moved = true
		}
		if depi.SameResource(&l.Target, &old) {
			l.Target = renamed
			moved = true
		}
		for i := range l.Inferred {
			if depi.SameResource(&l.Inferred[i].Resource, &old) {
				l.Inferred[i].Resource = renamed
				s.touchLink(l)
			}
		}
		if moved {
			s.deleteLink(key)
			s.putLink(l)
		}
	}
}

// removeChangedResource handles a resource that disappeared from its group.
func (s *snapshot) removeChangedResource(ref depi.ResourceRef, previousVersion string) {
	dependedOn := false
	for _, key := range s.sortedLinkKeys() {
		l, ok := s.links[key]
		if !ok {
			continue
		}
		switch {
		case depi.SameResource(&l.Target, &ref):
			s.markDirty(l, previousVersion)
			l.Deleted = true
			dependedOn = true
		case depi.SameResource(&l.Source, &ref):
			s.deleteLink(key)
		}
	}

	if dependedOn {
		if res := s.resource(ref); res != nil {
			res.Deleted = true
			s.putResource(ref, res)
		}
		return
	}
	s.purgeResource(ref)
}

// purgeResource deletes a resource, its incident links and inferred entries naming it.
func (s *snapshot) purgeResource(ref depi.ResourceRef) {
	s.deleteResource(ref)
	for _, key := range s.sortedLinkKeys() {
		l := s.links[key]
		if depi.SameResource(&l.Source, &ref) || depi.SameResource(&l.Target, &ref) {
			s.deleteLink(key)
		}
	}
	s.dropInferredEverywhere(func(r depi.ResourceRef) bool { return depi.SameResource(&r, &ref) })
}

// EditResourceGroup changes a group's identity or properties. A new identity is
// carried to every contained resource and incident link, and inferred dirtiness
// naming resources under the old identity is dropped.
func (s *Service) EditResourceGroup(ctx context.Context, branch string, edit depi.ResourceGroupEdit) error {
	const op = depi.MethodEditResourceGroup

	snap, err := s.mutate(ctx, op, branch, nil, func(_ *redis.Tx, snap *snapshot) (txWrites, error) {
		old := edit.Ref
		oldKey := depi.ResourceGroupKey(old)
		g := snap.groups[oldKey]
		if g == nil {
			return nil, depi.Errorf(depi.KindNotFound, op, "resource group %s not found", oldKey)
		}

		if edit.NewName != "" {
			g.Name = edit.NewName
		}
		if edit.NewVersion != "" {
			g.Version = edit.NewVersion
		}

		renamed := old
		if edit.NewToolID != "" {
			renamed.ToolID = edit.NewToolID
		}
		if edit.NewURL != "" {
			renamed.URL = edit.NewURL
		}
		newKey := depi.ResourceGroupKey(renamed)
		if newKey == oldKey {
			snap.putGroup(g)
			return nil, nil
		}
		if snap.groups[newKey] != nil {
			return nil, depi.Errorf(depi.KindInvalid, op, "resource group %s already exists", newKey)
		}

		if renamed.ToolID != old.ToolID {
			g.PathDivider = s.PathDivider(renamed.ToolID)
		}
		g.ToolID, g.URL = renamed.ToolID, renamed.URL

		resources := snap.resources[oldKey]
		delete(snap.groups, oldKey)
		delete(snap.resources, oldKey)
		snap.touchedGroups[oldKey] = true
		snap.affect(old)
		snap.putGroup(g)
		snap.resources[newKey] = resources

		inOld := func(r depi.ResourceRef) bool {
			return r.ToolID == old.ToolID && r.ResourceGroupURL == old.URL
		}
		snap.dropInferredEverywhere(inOld)
		for _, key := range snap.sortedLinkKeys() {
			l := snap.links[key]
			moved := false
			if inOld(l.Source) {
				l.Source.ToolID, l.Source.ResourceGroupURL = renamed.ToolID, renamed.URL
				moved = true
			}
			if inOld(l.Target) {
				l.Target.ToolID, l.Target.ResourceGroupURL = renamed.ToolID, renamed.URL
				moved = true
			}
			if moved {
				snap.deleteLink(key)
				snap.putLink(l)
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	logEvent("resource_group_edited", map[string]interface{}{"branch": branch, "group": depi.ResourceGroupKey(edit.Ref)})
	s.publishDepi(ctx, branch, op, snap)
	return nil
}

// RemoveResourceGroup deletes a group, its resources and every incident link.
func (s *Service) RemoveResourceGroup(ctx context.Context, branch string, ref depi.ResourceGroupRef) error {
	const op = depi.MethodRemoveResourceGroup

	snap, err := s.mutate(ctx, op, branch, nil, func(_ *redis.Tx, snap *snapshot) (txWrites, error) {
		key := depi.ResourceGroupKey(ref)
		if snap.groups[key] == nil {
			return nil, depi.Errorf(depi.KindNotFound, op, "resource group %s not found", key)
		}
		delete(snap.groups, key)
		delete(snap.resources, key)
		snap.groupsChanged = true
		snap.touchedGroups[key] = true
		snap.affect(ref)

		inGroup := func(r depi.ResourceRef) bool {
			return r.ToolID == ref.ToolID && r.ResourceGroupURL == ref.URL
		}
		for _, lk := range snap.sortedLinkKeys() {
			l := snap.links[lk]
			if inGroup(l.Source) || inGroup(l.Target) {
				snap.deleteLink(lk)
			}
		}
		snap.dropInferredEverywhere(inGroup)
		return nil, nil
	})
	if err != nil {
		return err
	}

	logEvent("resource_group_removed", map[string]interface{}{"branch": branch, "group": depi.ResourceGroupKey(ref)})
	s.publishDepi(ctx, branch, op, snap)
	return nil
}

// UpdateDepi applies ordered removals. Removing a resource also removes its
// incident links; removing something already gone is a no-op.
func (s *Service) UpdateDepi(ctx context.Context, branch string, req depi.UpdateDepiRequest) error {
	const op = depi.MethodUpdateDepi

	snap, err := s.mutate(ctx, op, branch, nil, func(_ *redis.Tx, snap *snapshot) (txWrites, error) {
		for i, u := range req.Updates {
			switch {
			case u.Type == depi.RemoveResource && u.Resource != nil:
				snap.purgeResource(*u.Resource)
			case u.Type == depi.RemoveLink && u.Link != nil:
				snap.deleteLink(depi.LinkKey(*u.Link))
			default:
				return nil, depi.Errorf(depi.KindInvalid, op, "update %d: unsupported update %q", i, u.Type)
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	s.publishDepi(ctx, branch, op, snap)
	return nil
}

// renames reports whether a Modified change also moves or renames the resource.
func renames(c depi.ResourceChange) bool {
	return (c.NewURL != "" && c.NewURL != c.URL) || c.NewName != "" || c.NewID != ""
}
