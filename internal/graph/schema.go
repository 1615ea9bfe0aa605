package graph

import "fmt"

// Redis key pattern helpers
//
// Graph keys are namespaced by branch (or tag) so branches never share state.
// The blackboard and the user/session keys are global: only main has a blackboard.
//
// Key pattern: depi:branch:{branch}:{entity}
// Channel pattern: depi:branch:{branch}:{event_type}_events
//
// The fixed "branch" segment keeps any branch name clear of the global keys.

// BranchesKey returns the Redis key of the set of branch names.
// Pattern: depi:branches
func BranchesKey() string {
	return "depi:branches"
}

// TagsKey returns the Redis key of the set of tag names.
// Pattern: depi:tags
func TagsKey() string {
	return "depi:tags"
}

// RevKey returns the Redis key of a branch's revision counter.
// Every committed mutation of the branch increments it; transactions WATCH it.
// Pattern: depi:branch:{branch}:rev
func RevKey(branch string) string {
	return fmt.Sprintf("depi:branch:%s:rev", branch)
}

// GroupsKey returns the Redis key of the resource group hash of a branch.
// Fields are resource group keys, values are group JSON.
// Pattern: depi:branch:{branch}:groups
func GroupsKey(branch string) string {
	return fmt.Sprintf("depi:branch:%s:groups", branch)
}

// ResourcesKey returns the Redis key of the resource hash of one group.
// Fields are resource urls, values are resource JSON.
// Pattern: depi:branch:{branch}:resources:{group_key}
func ResourcesKey(branch, groupKey string) string {
	return fmt.Sprintf("depi:branch:%s:resources:%s", branch, groupKey)
}

// LinksKey returns the Redis key of the link hash of a branch.
// Fields are edge keys, values are link JSON.
// Pattern: depi:branch:{branch}:links
func LinksKey(branch string) string {
	return fmt.Sprintf("depi:branch:%s:links", branch)
}

// BlackboardKey returns the Redis key holding a user's blackboard JSON.
// Pattern: depi:blackboard:{user}
func BlackboardKey(user string) string {
	return fmt.Sprintf("depi:blackboard:%s", user)
}

// UsersKey returns the Redis key of the user -> bcrypt hash map.
// Pattern: depi:users
func UsersKey() string {
	return "depi:users"
}

// SessionKey returns the Redis key of a session hash {user, branch}.
// Pattern: depi:session:{session_id}
func SessionKey(sessionID string) string {
	return fmt.Sprintf("depi:session:%s", sessionID)
}

// DepiEventsChannel returns the Pub/Sub channel notified on graph changes of a branch.
// Pattern: depi:branch:{branch}:depi_events
func DepiEventsChannel(branch string) string {
	return fmt.Sprintf("depi:branch:%s:depi_events", branch)
}

// BlackboardEventsChannel returns the Pub/Sub channel notified on changes of a user's blackboard.
// Pattern: depi:blackboard:{user}:blackboard_events
func BlackboardEventsChannel(user string) string {
	return fmt.Sprintf("depi:blackboard:%s:blackboard_events", user)
}
