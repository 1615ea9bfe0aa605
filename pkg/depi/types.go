package depi

import "fmt"

// MainBranch is the branch every session starts on. It is the only branch with a blackboard.
const MainBranch = "main"

// ResourceGroupRef identifies an external container.
type ResourceGroupRef struct {
	ToolID string `json:"toolId"`
	URL    string `json:"url"`
}

// ResourceGroup is a versioned external container, e.g. a git repository at a commit.
// IsActiveInEditor is a client-side "expanded in the current view" flag. The graph
// service never stores it.
type ResourceGroup struct {
	ResourceGroupRef
	Name             string `json:"name"`
	Version          string `json:"version"`
	PathDivider      string `json:"pathDivider"`
	IsActiveInEditor bool   `json:"isActiveInEditor,omitempty"`
}

// Validate checks the fields the graph service relies on.
func (g *ResourceGroup) Validate() error {
	if g.ToolID == "" {
		return fmt.Errorf("toolId is required")
	}
	if g.URL == "" {
		return fmt.Errorf("url is required")
	}
	if g.PathDivider == "" {
		return fmt.Errorf("pathDivider is required")
	}
	return nil
}

// ResourceRef identifies an artifact inside a resource group.
type ResourceRef struct {
	ToolID           string `json:"toolId"`
	ResourceGroupURL string `json:"resourceGroupUrl"`
	URL              string `json:"url"`
}

// GroupRef returns the reference of the group holding the resource.
func (r ResourceRef) GroupRef() ResourceGroupRef {
	return ResourceGroupRef{ToolID: r.ToolID, URL: r.ResourceGroupURL}
}

// Resource is an artifact inside a resource group. URL is a path separated by the
// group's PathDivider; a trailing divider marks a container resource.
// The ResourceGroup* fields are derived from the owning group.
type Resource struct {
	ResourceRef
	ResourceGroupName    string `json:"resourceGroupName"`
	ResourceGroupVersion string `json:"resourceGroupVersion"`
	Name                 string `json:"name"`
	ID                   string `json:"id"`
	Deleted              bool   `json:"deleted,omitempty"`
}

// Validate checks the key fields of the resource.
func (r *Resource) Validate() error {
	if r.ToolID == "" {
		return fmt.Errorf("toolId is required")
	}
	if r.ResourceGroupURL == "" {
		return fmt.Errorf("resourceGroupUrl is required")
	}
	if r.URL == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// InferredDirtiness records a resource, reachable from a link's target, that is dirty.
type InferredDirtiness struct {
	Resource         Resource `json:"resource"`
	LastCleanVersion string   `json:"lastCleanVersion"`
}

// ResourceLink is a directed "source depends on target" edge.
type ResourceLink struct {
	Source            Resource            `json:"source"`
	Target            Resource            `json:"target"`
	Deleted           bool                `json:"deleted,omitempty"`
	Dirty             bool                `json:"dirty"`
	LastCleanVersion  string              `json:"lastCleanVersion"`
	InferredDirtiness []InferredDirtiness `json:"inferredDirtiness"`
}

// Ref returns the structural identity of the link.
func (l *ResourceLink) Ref() LinkRef {
	return LinkRef{Source: l.Source.ResourceRef, Target: l.Target.ResourceRef}
}

// IsStale reports whether the link is dirty or carries inferred dirtiness.
func (l *ResourceLink) IsStale() bool {
	return l.Dirty || len(l.InferredDirtiness) > 0
}

// LinkRef is the minimal key of a link.
type LinkRef struct {
	Source ResourceRef `json:"source"`
	Target ResourceRef `json:"target"`
}

// ResourcePattern selects resources of one group whose url fully matches URLPattern.
type ResourcePattern struct {
	ToolID           string `json:"toolId"`
	ResourceGroupURL string `json:"resourceGroupUrl"`
	URLPattern       string `json:"urlPattern"`
}

// LinkPattern selects links whose source matches Source and whose target matches Target.
type LinkPattern struct {
	Source ResourcePattern `json:"sourcePattern"`
	Target ResourcePattern `json:"targetPattern"`
}

// Direction selects dependencies or dependents in dependency graph queries.
type Direction string

const (
	// Dependencies follows links from source to target.
	Dependencies Direction = "dependencies"
	// Dependents follows links from target back to source.
	Dependents Direction = "dependents"
)

// Scope is the subject of a watcher.
type Scope string

const (
	ScopeGraph      Scope = "graph"
	ScopeBlackboard Scope = "blackboard"
)

// Graph is a flat slice of the committed graph, as returned by GetDepiModel.
type Graph struct {
	ResourceGroups []ResourceGroup `json:"resourceGroups"`
	Resources      []Resource      `json:"resources"`
	Links          []ResourceLink  `json:"links"`
}

// DependencyGraph is the closure of links around one resource.
// Resource is nil when the resource is not tracked.
type DependencyGraph struct {
	Resource *Resource     `json:"resource"`
	Links    []ResourceLink `json:"links"`
}

// BranchesAndTags lists the branches and tags known to the graph service.
type BranchesAndTags struct {
	Branches []string `json:"branches"`
	Tags     []string `json:"tags"`
}

// ChangeType describes how a resource changed in a resource group update.
type ChangeType int

const (
	ChangeAdded ChangeType = iota
	ChangeModified
	ChangeRenamed
	ChangeRemoved
)

func (c ChangeType) String() string {
	switch c {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRenamed:
		return "renamed"
	case ChangeRemoved:
		return "removed"
	default:
		return fmt.Sprintf("ChangeType(%d)", int(c))
	}
}

// ResourceChange is one entry of a resource group update.
// The New* fields are only meaningful for ChangeRenamed.
type ResourceChange struct {
	Name       string     `json:"name"`
	URL        string     `json:"url"`
	ID         string     `json:"id"`
	ChangeType ChangeType `json:"changeType"`
	NewName    string     `json:"newName,omitempty"`
	NewURL     string     `json:"newUrl,omitempty"`
	NewID      string     `json:"newId,omitempty"`
}

// ResourceGroupUpdate moves a group to a new version and applies the resource changes
// observed between the two versions.
type ResourceGroupUpdate struct {
	ToolID     string           `json:"toolId"`
	URL        string           `json:"url"`
	Name       string           `json:"name"`
	NewVersion string           `json:"newVersion"`
	Changes    []ResourceChange `json:"changes"`
}

// ResourceGroupEdit changes the identity or properties of a group. Empty fields keep
// their current value.
type ResourceGroupEdit struct {
	Ref        ResourceGroupRef `json:"ref"`
	NewName    string           `json:"newName,omitempty"`
	NewToolID  string           `json:"newToolId,omitempty"`
	NewURL     string           `json:"newUrl,omitempty"`
	NewVersion string           `json:"newVersion,omitempty"`
}

// Entries is a mixed set of resources and links, used for unstaging and deletion.
type Entries struct {
	Resources []Resource     `json:"resources"`
	Links     []ResourceLink `json:"links"`
}

// Update is pushed to watchers when the graph or blackboard they observe changed.
type Update struct {
	Scope  Scope              `json:"scope"`
	Branch string             `json:"branch"`
	Reason string             `json:"reason"`
	Groups []ResourceGroupRef `json:"groups,omitempty"`
}
