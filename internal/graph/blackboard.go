package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dyluth/depi/internal/metrics"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/redis/go-redis/v9"
)

type stringReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readBlackboard(ctx context.Context, r stringReader, user string) (*depi.Blackboard, error) {
	raw, err := r.Get(ctx, BlackboardKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return &depi.Blackboard{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blackboard: %w", err)
	}
	var bb depi.Blackboard
	if err := json.Unmarshal([]byte(raw), &bb); err != nil {
		return nil, fmt.Errorf("failed to deserialize blackboard: %w", err)
	}
	return &bb, nil
}

// GetBlackboard returns a user's blackboard.
func (s *Service) GetBlackboard(ctx context.Context, user string) (*depi.Blackboard, error) {
	return readBlackboard(ctx, s.rdb, user)
}

// updateBlackboard applies fn to a user's blackboard under WATCH.
func (s *Service) updateBlackboard(ctx context.Context, op, user string, fn func(bb *depi.Blackboard) error) error {
	key := BlackboardKey(user)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			bb, err := readBlackboard(ctx, tx, user)
			if err != nil {
				return err
			}
			if err := fn(bb); err != nil {
				return err
			}
			raw, err := json.Marshal(bb)
			if err != nil {
				return fmt.Errorf("failed to serialize blackboard: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if bb.IsEmpty() {
					pipe.Del(ctx, key)
				} else {
					pipe.Set(ctx, key, raw, 0)
				}
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		s.publishBlackboard(ctx, user, op)
		return nil
	}
	return depi.Errorf(depi.KindBusy, op, "blackboard of %s kept changing", user)
}

// Stage adds resources and links to a user's blackboard. Missing group details
// are filled in from the committed main branch; the recorded group version is
// what SaveBlackboard later checks.
func (s *Service) Stage(ctx context.Context, user string, req depi.StageRequest) error {
	snap, err := s.read(ctx, depi.MainBranch)
	if err != nil {
		return err
	}

	resources := make([]depi.Resource, 0, len(req.Resources))
	for _, r := range req.Resources {
		filled, err := s.fillStaged(snap, r)
		if err != nil {
			return err
		}
		resources = append(resources, filled)
	}
	links := make([]depi.ResourceLink, 0, len(req.Links))
	for _, l := range req.Links {
		src, err := s.fillStaged(snap, l.Source)
		if err != nil {
			return err
		}
		tgt, err := s.fillStaged(snap, l.Target)
		if err != nil {
			return err
		}
		if depi.SameResource(&src.ResourceRef, &tgt.ResourceRef) {
			return depi.Errorf(depi.KindInvalid, depi.MethodAddResourcesToBlackboard, "a resource cannot depend on itself: %s", depi.ResourceKey(src.ResourceRef))
		}
		links = append(links, depi.ResourceLink{Source: src, Target: tgt})
	}

	return s.updateBlackboard(ctx, depi.MethodAddResourcesToBlackboard, user, func(bb *depi.Blackboard) error {
		bb.Stage(resources, links)
		return nil
	})
}

func (s *Service) fillStaged(snap *snapshot, r depi.Resource) (depi.Resource, error) {
	if err := r.Validate(); err != nil {
		return r, depi.Errorf(depi.KindInvalid, depi.MethodAddResourcesToBlackboard, "invalid resource: %v", err)
	}
	g := snap.group(r.GroupRef())
	if g == nil {
		if r.ResourceGroupVersion == "" {
			return r, depi.Errorf(depi.KindInvalid, depi.MethodAddResourcesToBlackboard,
				"resource %s belongs to an unknown group and has no group version", depi.ResourceKey(r.ResourceRef))
		}
		return r, nil
	}
	if r.ResourceGroupVersion == "" {
		r.ResourceGroupVersion = g.Version
	}
	if r.ResourceGroupName == "" {
		r.ResourceGroupName = g.Name
	}
	if existing := snap.resource(r.ResourceRef); existing != nil {
		if r.Name == "" {
			r.Name = existing.Name
		}
		if r.ID == "" {
			r.ID = existing.ID
		}
	}
	return r, nil
}

// Unstage removes entries from a user's blackboard, with the loose-link cascade.
func (s *Service) Unstage(ctx context.Context, user string, entries depi.Entries) error {
	return s.updateBlackboard(ctx, depi.MethodRemoveFromBlackboard, user, func(bb *depi.Blackboard) error {
		bb.Unstage(entries)
		return nil
	})
}

// ClearBlackboard empties a user's blackboard.
func (s *Service) ClearBlackboard(ctx context.Context, user string) error {
	return s.updateBlackboard(ctx, depi.MethodClearBlackboard, user, func(bb *depi.Blackboard) error {
		bb.Clear()
		return nil
	})
}

// SaveBlackboard commits a user's blackboard into main and empties it, in one
// transaction. A staged group version that differs from the committed one fails
// with KindVersionConflict and writes nothing.
func (s *Service) SaveBlackboard(ctx context.Context, user string) error {
	bbKey := BlackboardKey(user)
	var saved *depi.Blackboard

	snap, err := s.mutate(ctx, depi.MethodSaveBlackboard, depi.MainBranch, []string{bbKey},
		func(tx *redis.Tx, snap *snapshot) (txWrites, error) {
			bb, err := readBlackboard(ctx, tx, user)
			if err != nil {
				return nil, err
			}
			if err := s.commitBlackboard(snap, bb); err != nil {
				return nil, err
			}
			saved = bb
			return func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, bbKey)
				return nil
			}, nil
		})
	if depi.IsVersionConflict(err) {
		metrics.BlackboardSaves.WithLabelValues("conflict").Inc()
		logEvent("blackboard_conflict", map[string]interface{}{"user": user, "error": err.Error()})
		return err
	}
	if err != nil {
		metrics.BlackboardSaves.WithLabelValues("error").Inc()
		return err
	}

	metrics.BlackboardSaves.WithLabelValues("saved").Inc()
	logEvent("blackboard_saved", map[string]interface{}{
		"user":      user,
		"resources": len(saved.Resources),
		"links":     len(saved.Links),
	})
	s.publishDepi(ctx, depi.MainBranch, depi.MethodSaveBlackboard, snap)
	s.publishBlackboard(ctx, user, depi.MethodSaveBlackboard)
	return nil
}

// commitBlackboard applies a blackboard to a snapshot of main.
func (s *Service) commitBlackboard(snap *snapshot, bb *depi.Blackboard) error {
	const op = depi.MethodSaveBlackboard

	// Every staged occurrence of a resource or group must agree on one version,
	// and that version must still be the committed one.
	resourceVersions := make(map[string]string)
	groupVersions := make(map[string]string)
	check := func(r *depi.Resource) error {
		rKey := depi.ResourceKey(r.ResourceRef)
		if v, ok := resourceVersions[rKey]; ok && v != r.ResourceGroupVersion {
			return depi.Errorf(depi.KindVersionConflict, op,
				"blackboard out of date: %s is staged at versions %q and %q", rKey, v, r.ResourceGroupVersion)
		}
		resourceVersions[rKey] = r.ResourceGroupVersion

		gKey := depi.ResourceGroupKey(r.GroupRef())
		if v, ok := groupVersions[gKey]; ok && v != r.ResourceGroupVersion {
			return depi.Errorf(depi.KindVersionConflict, op,
				"blackboard out of date: group %s is staged at versions %q and %q", gKey, v, r.ResourceGroupVersion)
		}
		groupVersions[gKey] = r.ResourceGroupVersion

		if g := snap.group(r.GroupRef()); g != nil && g.Version != r.ResourceGroupVersion {
			return depi.Errorf(depi.KindVersionConflict, op,
				"blackboard out of date: group %s is at version %q, staged at %q", gKey, g.Version, r.ResourceGroupVersion)
		}
		return nil
	}
	for i := range bb.Resources {
		if err := check(&bb.Resources[i]); err != nil {
			return err
		}
	}
	for i := range bb.Links {
		if err := check(&bb.Links[i].Source); err != nil {
			return err
		}
		if err := check(&bb.Links[i].Target); err != nil {
			return err
		}
	}

	ensure := func(r *depi.Resource) {
		if snap.group(r.GroupRef()) == nil {
			snap.putGroup(&storedGroup{
				ToolID:      r.ToolID,
				URL:         r.ResourceGroupURL,
				Name:        r.ResourceGroupName,
				Version:     r.ResourceGroupVersion,
				PathDivider: s.PathDivider(r.ToolID),
			})
		}
		existing := snap.resource(r.ResourceRef)
		switch {
		case existing == nil:
			snap.putResource(r.ResourceRef, &storedResource{URL: r.URL, Name: r.Name, ID: r.ID})
		case existing.Deleted:
			existing.Deleted = false
			snap.putResource(r.ResourceRef, existing)
		}
	}
	for i := range bb.Resources {
		ensure(&bb.Resources[i])
	}
	for i := range bb.Links {
		l := &bb.Links[i]
		ensure(&l.Source)
		ensure(&l.Target)

		stored := &storedLink{Source: l.Source.ResourceRef, Target: l.Target.ResourceRef}
		if existing, ok := snap.links[stored.key()]; ok && !existing.Deleted {
			continue
		}
		stored.LastCleanVersion = snap.group(l.Source.GroupRef()).Version
		snap.putLink(stored)
	}
	return nil
}
