package depi

import (
	"context"
	"log"
)

// GetBlackboardModel returns the user's staged resources and links.
func (s *Session) GetBlackboardModel(ctx context.Context) (*Blackboard, error) {
	var bb Blackboard
	if err := s.call(ctx, MethodGetBlackboard, nil, &bb); err != nil {
		return nil, err
	}
	return &bb, nil
}

// Stage adds resources and links to the blackboard. Entries already staged are
// left as they are. Only the main branch has a blackboard.
func (s *Session) Stage(ctx context.Context, resources []Resource, links []ResourceLink) error {
	if err := s.requireMain(MethodAddResourcesToBlackboard); err != nil {
		return err
	}
	return s.mutate(MethodAddResourcesToBlackboard, func(id string) error {
		return s.transport.Call(ctx, MethodAddResourcesToBlackboard, id, StageRequest{Resources: resources, Links: links}, nil)
	})
}

// LinkResources stages source, target and the link between them.
func (s *Session) LinkResources(ctx context.Context, source, target Resource) error {
	return s.Stage(ctx, []Resource{source, target}, []ResourceLink{{Source: source, Target: target}})
}

// Unstage removes entries from the blackboard. Staged links touching a removed
// resource are removed too.
func (s *Session) Unstage(ctx context.Context, entries Entries) error {
	if err := s.requireMain(MethodRemoveFromBlackboard); err != nil {
		return err
	}
	return s.mutate(MethodRemoveFromBlackboard, func(id string) error {
		return s.transport.Call(ctx, MethodRemoveFromBlackboard, id, StageRequest{Resources: entries.Resources, Links: entries.Links}, nil)
	})
}

// ClearBlackboard empties the blackboard.
func (s *Session) ClearBlackboard(ctx context.Context) error {
	if err := s.requireMain(MethodClearBlackboard); err != nil {
		return err
	}
	return s.mutate(MethodClearBlackboard, func(id string) error {
		return s.transport.Call(ctx, MethodClearBlackboard, id, nil, nil)
	})
}

// SaveBlackboard commits the blackboard into the graph and empties it. When a
// staged group version no longer matches the committed one, nothing is written and
// the error has KindVersionConflict: clear the blackboard and stage again.
// Only one save may be in flight per session; a second one fails with KindBusy.
func (s *Session) SaveBlackboard(ctx context.Context) error {
	if err := s.requireMain(MethodSaveBlackboard); err != nil {
		return err
	}
	err := s.mutate(MethodSaveBlackboard, func(id string) error {
		return s.transport.Call(ctx, MethodSaveBlackboard, id, nil, nil)
	})
	if IsVersionConflict(err) {
		log.Printf("[Session] Blackboard save rejected: %v", err)
	}
	return err
}

func (s *Session) requireMain(op string) error {
	if branch := s.Branch(); branch != MainBranch {
		return Errorf(KindScope, op, "branch %q has no blackboard, only %q does", branch, MainBranch)
	}
	return nil
}
