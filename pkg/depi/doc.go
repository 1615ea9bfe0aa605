// Package depi is the client side of the depi dependency graph.
//
// # Overview
//
// depi tracks "depends on" links between versioned artifacts (resources) that live
// inside externally owned containers (resource groups), such as files inside a git
// repository at a given commit. A link is dirty when its target changed since the
// version recorded as clean for that link. Dirtiness also travels upstream as
// inferred dirtiness: a link whose target itself depends on something dirty.
//
// Candidate resources and links are staged on a per-user blackboard before they are
// committed into the authoritative graph. Only the main branch carries a blackboard.
//
// # Identity
//
// Nothing in depi has a surrogate id. Resources, groups and links are identified by
// their key fields only:
//
//	resource group: (toolId, url)
//	resource:       (toolId, resourceGroupUrl, url)
//	link:           (source resource, target resource)
//
// ResourceKey, ResourceGroupKey and EdgeKey build deterministic composite string keys
// from those fields. Keys are injective: the separators are escaped out of the fields.
//
// # Sessions
//
// A Session is obtained with Login or LoginWithToken over a Transport. It is scoped to
// a branch (initially "main") and owns its watchers:
//
//	sess, err := depi.Login(ctx, transport, "alice", "secret")
//	if err != nil {
//		return err
//	}
//	defer sess.Logout(ctx)
//
//	id, err := sess.Watch(ctx, depi.ScopeGraph, func(u depi.Update) {
//		log.Printf("[Watch] %s changed", u.Branch)
//	}, nil)
//
// Mutating calls (save, clean, group edits, deletions, staging) are serialized per
// session. A second mutating call while one is outstanding fails with KindBusy.
// Watcher callbacks run one at a time, in arrival order, on the session's queue.
//
// # Errors
//
// Failures are reported as *Error values carrying a Kind. Use the Is* helpers
// (IsAuth, IsUnreachable, IsVersionConflict, ...) to branch on them.
package depi
