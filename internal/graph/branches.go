package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/dyluth/depi/pkg/depi"
	"github.com/redis/go-redis/v9"
)

// SetBranch scopes a session to a branch or tag.
// An unknown name fails with KindNotFound and leaves the session unchanged.
func (s *Service) SetBranch(ctx context.Context, sess *sessionInfo, name string) (string, error) {
	known, err := s.branchExists(ctx, name)
	if err != nil {
		return "", err
	}
	if !known {
		return "", depi.Errorf(depi.KindNotFound, depi.MethodSetBranch, "unknown branch %s", name)
	}
	if err := s.rdb.HSet(ctx, SessionKey(sess.ID), "branch", name).Err(); err != nil {
		return "", fmt.Errorf("failed to update session branch: %w", err)
	}
	sess.Branch = name
	return name, nil
}

func (s *Service) branchExists(ctx context.Context, name string) (bool, error) {
	isBranch, err := s.rdb.SIsMember(ctx, BranchesKey(), name).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read branches: %w", err)
	}
	if isBranch {
		return true, nil
	}
	isTag, err := s.rdb.SIsMember(ctx, TagsKey(), name).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read tags: %w", err)
	}
	return isTag, nil
}

// CreateBranch copies branch from (main when empty) into a new branch.
func (s *Service) CreateBranch(ctx context.Context, name, from string) error {
	return s.copyBranch(ctx, depi.MethodCreateBranch, BranchesKey(), name, from)
}

// CreateTag freezes a copy of branch from under name. Tags cannot be modified.
func (s *Service) CreateTag(ctx context.Context, name, from string) error {
	return s.copyBranch(ctx, depi.MethodCreateTag, TagsKey(), name, from)
}

func (s *Service) copyBranch(ctx context.Context, op, setKey, name, from string) error {
	if name == "" {
		return depi.Errorf(depi.KindInvalid, op, "name is required")
	}
	if from == "" {
		from = depi.MainBranch
	}
	exists, err := s.branchExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return depi.Errorf(depi.KindInvalid, op, "%s already exists", name)
	}
	known, err := s.branchExists(ctx, from)
	if err != nil {
		return err
	}
	if !known {
		return depi.Errorf(depi.KindNotFound, op, "unknown branch %s", from)
	}

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		snap, err := loadSnapshot(ctx, tx, from)
		if err != nil {
			return err
		}
		snap.markAllChanged()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := snap.flushTo(ctx, pipe, name); err != nil {
				return err
			}
			pipe.SAdd(ctx, setKey, name)
			return nil
		})
		return err
	}, RevKey(from))
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", from, name, err)
	}

	logEvent(op, map[string]interface{}{"name": name, "from": from})
	return nil
}

// BranchesAndTags lists branch and tag names, sorted.
func (s *Service) BranchesAndTags(ctx context.Context) (*depi.BranchesAndTags, error) {
	branches, err := s.rdb.SMembers(ctx, BranchesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read branches: %w", err)
	}
	tags, err := s.rdb.SMembers(ctx, TagsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}
	sort.Strings(branches)
	sort.Strings(tags)
	return &depi.BranchesAndTags{Branches: branches, Tags: tags}, nil
}
