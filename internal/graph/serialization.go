package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dyluth/depi/pkg/depi"
	"github.com/redis/go-redis/v9"
)

// storedGroup is the stored form of a resource group.
type storedGroup struct {
	ToolID      string `json:"toolId"`
	URL         string `json:"url"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	PathDivider string `json:"pathDivider"`
}

// storedResource is the stored form of a resource. Group fields are derived on read.
type storedResource struct {
	URL     string `json:"url"`
	Name    string `json:"name"`
	ID      string `json:"id"`
	Deleted bool   `json:"deleted,omitempty"`
}

type storedInferred struct {
	Resource         depi.ResourceRef `json:"resource"`
	LastCleanVersion string           `json:"lastCleanVersion"`
}

// storedLink only holds endpoint references. Endpoint details come from the groups.
type storedLink struct {
	Source           depi.ResourceRef `json:"source"`
	Target           depi.ResourceRef `json:"target"`
	Deleted          bool             `json:"deleted,omitempty"`
	Dirty            bool             `json:"dirty"`
	LastCleanVersion string           `json:"lastCleanVersion"`
	Inferred         []storedInferred `json:"inferred,omitempty"`
}

func (l *storedLink) key() string {
	return depi.EdgeKey(depi.ResourceKey(l.Source), depi.ResourceKey(l.Target))
}

func (l *storedLink) ref() depi.LinkRef {
	return depi.LinkRef{Source: l.Source, Target: l.Target}
}

// hashReader is the read surface shared by *redis.Client and *redis.Tx.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// snapshot is an in-memory copy of one branch. Mutations change the snapshot and
// record what to write back; flush writes those keys in one pipeline.
type snapshot struct {
	branch    string
	groups    map[string]*storedGroup
	resources map[string]map[string]*storedResource
	links     map[string]*storedLink

	groupsChanged  bool
	linksChanged   bool
	touchedGroups  map[string]bool
	affectedGroups map[string]depi.ResourceGroupRef
}

func newSnapshot(branch string) *snapshot {
	return &snapshot{
		branch:         branch,
		groups:         make(map[string]*storedGroup),
		resources:      make(map[string]map[string]*storedResource),
		links:          make(map[string]*storedLink),
		touchedGroups:  make(map[string]bool),
		affectedGroups: make(map[string]depi.ResourceGroupRef),
	}
}

// loadSnapshot reads a whole branch.
func loadSnapshot(ctx context.Context, r hashReader, branch string) (*snapshot, error) {
	snap := newSnapshot(branch)

	groups, err := r.HGetAll(ctx, GroupsKey(branch)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read resource groups: %w", err)
	}
	for key, raw := range groups {
		var g storedGroup
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			return nil, fmt.Errorf("failed to deserialize resource group %s: %w", key, err)
		}
		snap.groups[key] = &g

		resources, err := r.HGetAll(ctx, ResourcesKey(branch, key)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read resources of %s: %w", key, err)
		}
		byURL := make(map[string]*storedResource, len(resources))
		for url, raw := range resources {
			var res storedResource
			if err := json.Unmarshal([]byte(raw), &res); err != nil {
				return nil, fmt.Errorf("failed to deserialize resource %s: %w", url, err)
			}
			byURL[url] = &res
		}
		snap.resources[key] = byURL
	}

	links, err := r.HGetAll(ctx, LinksKey(branch)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read links: %w", err)
	}
	for key, raw := range links {
		var l storedLink
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return nil, fmt.Errorf("failed to deserialize link %s: %w", key, err)
		}
		snap.links[key] = &l
	}

	return snap, nil
}

// flush queues the writes recorded on the snapshot. Changed hashes are rewritten whole.
func (s *snapshot) flush(ctx context.Context, pipe redis.Pipeliner) error {
	return s.flushTo(ctx, pipe, s.branch)
}

// flushTo writes the snapshot under another branch name. Used when branching and tagging.
func (s *snapshot) flushTo(ctx context.Context, pipe redis.Pipeliner, branch string) error {
	if s.groupsChanged {
		pipe.Del(ctx, GroupsKey(branch))
		if len(s.groups) > 0 {
			fields := make(map[string]interface{}, len(s.groups))
			for key, g := range s.groups {
				raw, err := json.Marshal(g)
				if err != nil {
					return fmt.Errorf("failed to serialize resource group %s: %w", key, err)
				}
				fields[key] = string(raw)
			}
			pipe.HSet(ctx, GroupsKey(branch), fields)
		}
	}

	for key := range s.touchedGroups {
		pipe.Del(ctx, ResourcesKey(branch, key))
		resources := s.resources[key]
		if len(resources) == 0 {
			continue
		}
		fields := make(map[string]interface{}, len(resources))
		for url, res := range resources {
			raw, err := json.Marshal(res)
			if err != nil {
				return fmt.Errorf("failed to serialize resource %s: %w", url, err)
			}
			fields[url] = string(raw)
		}
		pipe.HSet(ctx, ResourcesKey(branch, key), fields)
	}

	if s.linksChanged {
		pipe.Del(ctx, LinksKey(branch))
		if len(s.links) > 0 {
			fields := make(map[string]interface{}, len(s.links))
			for key, l := range s.links {
				raw, err := json.Marshal(l)
				if err != nil {
					return fmt.Errorf("failed to serialize link %s: %w", key, err)
				}
				fields[key] = string(raw)
			}
			pipe.HSet(ctx, LinksKey(branch), fields)
		}
	}
	return nil
}

// markAllChanged makes the next flush write every key of the snapshot.
func (s *snapshot) markAllChanged() {
	s.groupsChanged = true
	s.linksChanged = true
	for key := range s.groups {
		s.touchedGroups[key] = true
	}
}

func (s *snapshot) changed() bool {
	return s.groupsChanged || s.linksChanged || len(s.touchedGroups) > 0
}

func (s *snapshot) affect(ref depi.ResourceGroupRef) {
	s.affectedGroups[depi.ResourceGroupKey(ref)] = ref
}

func (s *snapshot) affected() []depi.ResourceGroupRef {
	refs := make([]depi.ResourceGroupRef, 0, len(s.affectedGroups))
	for _, ref := range s.affectedGroups {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		return depi.ResourceGroupKey(refs[i]) < depi.ResourceGroupKey(refs[j])
	})
	return refs
}

func (s *snapshot) group(ref depi.ResourceGroupRef) *storedGroup {
	return s.groups[depi.ResourceGroupKey(ref)]
}

func (s *snapshot) resource(ref depi.ResourceRef) *storedResource {
	return s.resources[depi.ResourceGroupKey(ref.GroupRef())][ref.URL]
}

func (s *snapshot) putGroup(g *storedGroup) {
	key := depi.ResourceGroupKey(depi.ResourceGroupRef{ToolID: g.ToolID, URL: g.URL})
	s.groups[key] = g
	if s.resources[key] == nil {
		s.resources[key] = make(map[string]*storedResource)
	}
	s.groupsChanged = true
	s.touchedGroups[key] = true
	s.affect(depi.ResourceGroupRef{ToolID: g.ToolID, URL: g.URL})
}

func (s *snapshot) putResource(ref depi.ResourceRef, res *storedResource) {
	key := depi.ResourceGroupKey(ref.GroupRef())
	if s.resources[key] == nil {
		s.resources[key] = make(map[string]*storedResource)
	}
	s.resources[key][ref.URL] = res
	s.touchedGroups[key] = true
	s.affect(ref.GroupRef())
}

func (s *snapshot) deleteResource(ref depi.ResourceRef) {
	key := depi.ResourceGroupKey(ref.GroupRef())
	if _, ok := s.resources[key][ref.URL]; ok {
		delete(s.resources[key], ref.URL)
		s.touchedGroups[key] = true
		s.affect(ref.GroupRef())
	}
}

func (s *snapshot) putLink(l *storedLink) {
	s.links[l.key()] = l
	s.linksChanged = true
	s.affect(l.Source.GroupRef())
	s.affect(l.Target.GroupRef())
}

func (s *snapshot) deleteLink(key string) {
	if l, ok := s.links[key]; ok {
		delete(s.links, key)
		s.linksChanged = true
		s.affect(l.Source.GroupRef())
		s.affect(l.Target.GroupRef())
	}
}

// touchLink records an in-place change of a link.
func (s *snapshot) touchLink(l *storedLink) {
	s.linksChanged = true
	s.affect(l.Source.GroupRef())
	s.affect(l.Target.GroupRef())
}

// sortedLinkKeys returns link keys in a stable order so results are deterministic.
func (s *snapshot) sortedLinkKeys() []string {
	keys := make([]string, 0, len(s.links))
	for key := range s.links {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// expandGroup converts a stored group to its wire form.
func (s *snapshot) expandGroup(g *storedGroup) depi.ResourceGroup {
	return depi.ResourceGroup{
		ResourceGroupRef: depi.ResourceGroupRef{ToolID: g.ToolID, URL: g.URL},
		Name:             g.Name,
		Version:          g.Version,
		PathDivider:      g.PathDivider,
	}
}

// expandResource fills the derived group fields of a resource.
// A reference without a stored resource is expanded from the reference alone.
func (s *snapshot) expandResource(ref depi.ResourceRef) depi.Resource {
	out := depi.Resource{ResourceRef: ref}
	if g := s.group(ref.GroupRef()); g != nil {
		out.ResourceGroupName = g.Name
		out.ResourceGroupVersion = g.Version
	}
	if res := s.resource(ref); res != nil {
		out.Name = res.Name
		out.ID = res.ID
		out.Deleted = res.Deleted
	}
	return out
}

func (s *snapshot) expandLink(l *storedLink) depi.ResourceLink {
	out := depi.ResourceLink{
		Source:            s.expandResource(l.Source),
		Target:            s.expandResource(l.Target),
		Deleted:           l.Deleted,
		Dirty:             l.Dirty,
		LastCleanVersion:  l.LastCleanVersion,
		InferredDirtiness: make([]depi.InferredDirtiness, 0, len(l.Inferred)),
	}
	for _, inf := range l.Inferred {
		out.InferredDirtiness = append(out.InferredDirtiness, depi.InferredDirtiness{
			Resource:         s.expandResource(inf.Resource),
			LastCleanVersion: inf.LastCleanVersion,
		})
	}
	return out
}
