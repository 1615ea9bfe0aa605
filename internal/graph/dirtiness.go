package graph

import (
	"context"

	"github.com/dyluth/depi/pkg/depi"
	"github.com/redis/go-redis/v9"
)

// linksByTarget indexes live and deleted links by the key of their target.
func (s *snapshot) linksByTarget() map[string][]*storedLink {
	index := make(map[string][]*storedLink)
	for _, key := range s.sortedLinkKeys() {
		l := s.links[key]
		t := depi.ResourceKey(l.Target)
		index[t] = append(index[t], l)
	}
	return index
}

// markDirty flags l as dirty because its target changed, then records the target
// as inferred dirtiness on every link upstream of l, i.e. every link that reaches
// l.Source by following targets.
func (s *snapshot) markDirty(l *storedLink, previousVersion string) {
	if !l.Dirty {
		l.LastCleanVersion = previousVersion
	}
	l.Dirty = true
	s.touchLink(l)

	changed := l.Target
	byTarget := s.linksByTarget()
	visited := map[string]bool{depi.ResourceKey(l.Source): true}
	queue := []depi.ResourceRef{l.Source}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, up := range byTarget[depi.ResourceKey(cur)] {
			if up == l {
				continue
			}
			if !hasInferred(up, changed) {
				up.Inferred = append(up.Inferred, storedInferred{Resource: changed, LastCleanVersion: previousVersion})
				s.touchLink(up)
			}
			if key := depi.ResourceKey(up.Source); !visited[key] {
				visited[key] = true
				queue = append(queue, up.Source)
			}
		}
	}
}

func hasInferred(l *storedLink, ref depi.ResourceRef) bool {
	for _, inf := range l.Inferred {
		if depi.SameResource(&inf.Resource, &ref) {
			return true
		}
	}
	return false
}

// removeInferred drops the inferred entries of l for which drop returns true.
func (s *snapshot) removeInferred(l *storedLink, drop func(ref depi.ResourceRef) bool) {
	kept := l.Inferred[:0]
	for _, inf := range l.Inferred {
		if !drop(inf.Resource) {
			kept = append(kept, inf)
		}
	}
	if len(kept) != len(l.Inferred) {
		l.Inferred = kept
		s.touchLink(l)
	}
}

// dropInferredEverywhere removes inferred entries matching drop from every link.
func (s *snapshot) dropInferredEverywhere(drop func(ref depi.ResourceRef) bool) {
	for _, l := range s.links {
		s.removeInferred(l, drop)
	}
}

// cleanInferred removes the inferred entry for source from l and, with propagate,
// from every link upstream of l.
func (s *snapshot) cleanInferred(l *storedLink, source depi.ResourceRef, propagate bool) {
	matches := func(ref depi.ResourceRef) bool { return depi.SameResource(&ref, &source) }
	s.removeInferred(l, matches)
	if !propagate {
		return
	}

	byTarget := s.linksByTarget()
	visited := map[string]bool{l.key(): true}
	queue := []*storedLink{l}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, up := range byTarget[depi.ResourceKey(cur.Source)] {
			if visited[up.key()] {
				continue
			}
			visited[up.key()] = true
			s.removeInferred(up, matches)
			queue = append(queue, up)
		}
	}
}

// cleanLink clears the dirty flag of a link. A deleted link is removed on clean,
// together with its target when nothing else references that deleted target.
func (s *snapshot) cleanLink(op string, ref depi.LinkRef, propagate bool) error {
	key := depi.LinkKey(ref)
	l, ok := s.links[key]
	if !ok {
		return depi.Errorf(depi.KindNotFound, op, "link %s not found", key)
	}

	l.Dirty = false
	if g := s.group(l.Target.GroupRef()); g != nil {
		l.LastCleanVersion = g.Version
	}
	s.touchLink(l)

	if propagate {
		s.cleanInferred(l, l.Target, true)
	}

	if l.Deleted {
		s.deleteLink(key)
		target := l.Target
		if res := s.resource(target); res != nil && res.Deleted && !s.referenced(target) {
			s.deleteResource(target)
			s.dropInferredEverywhere(func(r depi.ResourceRef) bool { return depi.SameResource(&r, &target) })
		}
	}
	return nil
}

// referenced reports whether any link still has ref as an endpoint.
func (s *snapshot) referenced(ref depi.ResourceRef) bool {
	for _, l := range s.links {
		if depi.SameResource(&l.Source, &ref) || depi.SameResource(&l.Target, &ref) {
			return true
		}
	}
	return false
}

// MarkLinksClean clears the dirty flag of links on a branch. Every link must exist.
func (s *Service) MarkLinksClean(ctx context.Context, branch string, req depi.MarkLinksCleanRequest) error {
	snap, err := s.mutate(ctx, depi.MethodMarkLinksClean, branch, nil, func(_ *redis.Tx, snap *snapshot) (txWrites, error) {
		for _, ref := range req.Links {
			if err := snap.cleanLink(depi.MethodMarkLinksClean, ref, req.Propagate); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	s.publishDepi(ctx, branch, depi.MethodMarkLinksClean, snap)
	return nil
}

// MarkInferredDirtinessClean removes one inferred dirtiness entry from a link.
// The link must exist; an entry that is already gone is not an error.
func (s *Service) MarkInferredDirtinessClean(ctx context.Context, branch string, req depi.MarkInferredCleanRequest) error {
	const op = depi.MethodMarkInferredDirtinessClean
	snap, err := s.mutate(ctx, op, branch, nil, func(_ *redis.Tx, snap *snapshot) (txWrites, error) {
		key := depi.LinkKey(req.Link)
		l, ok := snap.links[key]
		if !ok {
			return nil, depi.Errorf(depi.KindNotFound, op, "link %s not found", key)
		}
		snap.cleanInferred(l, req.Source, req.Propagate)
		return nil, nil
	})
	if err != nil {
		return err
	}
	s.publishDepi(ctx, branch, op, snap)
	return nil
}
