package depi

import (
	"context"
	"fmt"
)

// MarkLinksClean clears the dirty flag of the links. With propagate the graph
// service also removes the inferred dirtiness these targets caused upstream.
// Cleaning a link that no longer exists fails with KindNotFound.
func (s *Session) MarkLinksClean(ctx context.Context, links []ResourceLink, propagate bool) error {
	if len(links) == 0 {
		return nil
	}
	return s.mutate(MethodMarkLinksClean, func(id string) error {
		return s.markLinksClean(ctx, id, links, propagate)
	})
}

func (s *Session) markLinksClean(ctx context.Context, id string, links []ResourceLink, propagate bool) error {
	req := MarkLinksCleanRequest{Links: make([]LinkRef, 0, len(links)), Propagate: propagate}
	for i := range links {
		req.Links = append(req.Links, links[i].Ref())
	}
	return s.transport.Call(ctx, MethodMarkLinksClean, id, req, nil)
}

// MarkInferredDirtinessClean removes the inferred dirtiness entry of link that
// matches source.
func (s *Session) MarkInferredDirtinessClean(ctx context.Context, link ResourceLink, source ResourceRef, propagate bool) error {
	return s.mutate(MethodMarkInferredDirtinessClean, func(id string) error {
		return s.markInferredClean(ctx, id, link.Ref(), source, propagate)
	})
}

func (s *Session) markInferredClean(ctx context.Context, id string, link LinkRef, source ResourceRef, propagate bool) error {
	return s.transport.Call(ctx, MethodMarkInferredDirtinessClean, id, MarkInferredCleanRequest{
		Link:      link,
		Source:    source,
		Propagate: propagate,
	}, nil)
}

// MarkAllClean cleans every link: the dirty flag first, then each inferred
// dirtiness entry as its own request. Links that are already clean cost nothing,
// so calling it again on the same links is a no-op.
func (s *Session) MarkAllClean(ctx context.Context, links []ResourceLink) error {
	return s.mutate("markAllClean", func(id string) error {
		for i := range links {
			l := &links[i]
			if l.Dirty {
				if err := s.markLinksClean(ctx, id, []ResourceLink{*l}, false); err != nil {
					return fmt.Errorf("failed to clean link %s: %w", LinkKey(l.Ref()), err)
				}
				// Cleaning a deleted link removes it, inferred entries included.
				if l.Deleted {
					continue
				}
			}
			for _, inferred := range l.InferredDirtiness {
				if err := s.markInferredClean(ctx, id, l.Ref(), inferred.Resource.ResourceRef, false); err != nil {
					return fmt.Errorf("failed to clean inferred dirtiness of link %s: %w", LinkKey(l.Ref()), err)
				}
			}
		}
		return nil
	})
}
