// Package graph is the depi graph service: the authoritative, versioned dependency
// graph, the per-user blackboards, users and sessions, all stored in Redis.
//
// Every branch lives under its own key namespace (see schema.go). Mutations load
// the branch, change it in memory and write it back in a single MULTI/EXEC guarded
// by WATCH on the branch revision counter, so a mutation either fully applies or
// does not apply at all. Changes are announced on Pub/Sub channels that back the
// client watchers.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/dyluth/depi/pkg/depi"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

const (
	defaultSessionTTL  = 24 * time.Hour
	defaultTokenTTL    = 7 * 24 * time.Hour
	defaultPathDivider = "/"
	patternCacheSize   = 512
	maxTxAttempts      = 8
)

// Options configures a Service.
type Options struct {
	// TokenSecret signs login tokens. Required.
	TokenSecret []byte
	// TokenTTL is the lifetime of a login token. Each ping issues a fresh one.
	TokenTTL time.Duration
	// SessionTTL expires idle sessions.
	SessionTTL time.Duration
	// PathDividers maps a tool id to the path divider of its resource urls.
	PathDividers map[string]string
	// DefaultPathDivider is used for tools without an entry in PathDividers.
	DefaultPathDivider string
}

// Service implements the graph operations on top of Redis.
// It is safe for concurrent use.
type Service struct {
	rdb      *redis.Client
	opts     Options
	patterns *lru.Cache[string, *regexp.Regexp]
	now      func() time.Time
}

// NewService creates a graph service and makes sure the main branch exists.
func NewService(ctx context.Context, rdb *redis.Client, opts Options) (*Service, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if len(opts.TokenSecret) == 0 {
		return nil, fmt.Errorf("token secret cannot be empty")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	if opts.DefaultPathDivider == "" {
		opts.DefaultPathDivider = defaultPathDivider
	}

	cache, err := lru.New[string, *regexp.Regexp](patternCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}

	s := &Service{rdb: rdb, opts: opts, patterns: cache, now: time.Now}
	if err := rdb.SAdd(ctx, BranchesKey(), depi.MainBranch).Err(); err != nil {
		return nil, fmt.Errorf("failed to register main branch: %w", err)
	}
	return s, nil
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *Service) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// PathDivider returns the path divider configured for a tool.
func (s *Service) PathDivider(toolID string) string {
	if d, ok := s.opts.PathDividers[toolID]; ok && d != "" {
		return d
	}
	return s.opts.DefaultPathDivider
}

// compile returns the anchored regular expression for a url pattern.
// Patterns match the whole url.
func (s *Service) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := s.patterns.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, depi.Errorf(depi.KindInvalid, "compilePattern", "invalid url pattern %q: %v", pattern, err)
	}
	s.patterns.Add(pattern, re)
	return re, nil
}

// read loads a branch snapshot outside of any transaction.
func (s *Service) read(ctx context.Context, branch string) (*snapshot, error) {
	return loadSnapshot(ctx, s.rdb, branch)
}

// txWrites queues extra writes inside the transaction of a mutation.
type txWrites func(pipe redis.Pipeliner) error

// mutate applies fn to a snapshot of branch and commits the result atomically.
// extraKeys are watched alongside the branch revision. fn may return extra writes.
// Concurrent commits make the transaction retry with a fresh snapshot.
func (s *Service) mutate(ctx context.Context, op, branch string, extraKeys []string,
	fn func(tx *redis.Tx, snap *snapshot) (txWrites, error)) (*snapshot, error) {

	if err := s.checkWritable(ctx, op, branch); err != nil {
		return nil, err
	}

	keys := append([]string{RevKey(branch)}, extraKeys...)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		var result *snapshot
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			snap, err := loadSnapshot(ctx, tx, branch)
			if err != nil {
				return err
			}
			extra, err := fn(tx, snap)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if err := snap.flush(ctx, pipe); err != nil {
					return err
				}
				if extra != nil {
					if err := extra(pipe); err != nil {
						return err
					}
				}
				pipe.Incr(ctx, RevKey(branch))
				return nil
			})
			if err != nil {
				return err
			}
			result = snap
			return nil
		}, keys...)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, depi.Errorf(depi.KindVersionConflict, op, "branch %s kept changing, gave up after %d attempts", branch, maxTxAttempts)
}

// checkWritable rejects mutations of tags.
func (s *Service) checkWritable(ctx context.Context, op, branch string) error {
	isTag, err := s.rdb.SIsMember(ctx, TagsKey(), branch).Result()
	if err != nil {
		return fmt.Errorf("failed to check tag %s: %w", branch, err)
	}
	if isTag {
		return depi.Errorf(depi.KindScope, op, "%s is a tag and cannot be modified", branch)
	}
	return nil
}

// publish announces a change. Failures are logged: the change itself is committed.
func (s *Service) publish(ctx context.Context, channel string, u depi.Update) {
	raw, err := json.Marshal(u)
	if err != nil {
		log.Printf("[Graph] Failed to marshal update: %v", err)
		return
	}
	if err := s.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		log.Printf("[Graph] Failed to publish to %s: %v", channel, err)
	}
}

func (s *Service) publishDepi(ctx context.Context, branch, reason string, snap *snapshot) {
	u := depi.Update{Scope: depi.ScopeGraph, Branch: branch, Reason: reason}
	if snap != nil {
		u.Groups = snap.affected()
	}
	s.publish(ctx, DepiEventsChannel(branch), u)
}

func (s *Service) publishBlackboard(ctx context.Context, user, reason string) {
	s.publish(ctx, BlackboardEventsChannel(user), depi.Update{
		Scope:  depi.ScopeBlackboard,
		Branch: depi.MainBranch,
		Reason: reason,
	})
}

// logEvent emits a structured JSON log line.
func logEvent(eventType string, data map[string]interface{}) {
	event := map[string]interface{}{
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"level":      "info",
		"component":  "graph",
		"event_type": eventType,
	}
	for k, v := range data {
		event[k] = v
	}
	raw, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Graph] Failed to marshal log event: %v", err)
		return
	}
	log.Println(string(raw))
}
