// Package shell connects a host application to a depi session. The host sends
// request and action events; the shell answers each request with exactly one model
// event, or an error event, and keeps the session's watchers in line with the
// view the host displays.
package shell

import (
	"context"
	"encoding/json"

	"github.com/dyluth/depi/pkg/depi"
)

// EventType names a message crossing the host boundary.
type EventType string

// Events from the host.
const (
	RequestToolsConfig      EventType = "REQUEST_TOOLS_CONFIG"
	RequestDepiModel        EventType = "REQUEST_DEPI_MODEL"
	RequestBlackboardModel  EventType = "REQUEST_BLACKBOARD_MODEL"
	RequestDependencyGraph  EventType = "REQUEST_DEPENDENCY_GRAPH"
	RequestBranchesAndTags  EventType = "REQUEST_BRANCHES_AND_TAGS"
	ExpandResourceGroups    EventType = "EXPAND_RESOURCE_GROUPS"
	CollapseResourceGroups  EventType = "COLLAPSE_RESOURCE_GROUPS"
	LinkResources           EventType = "LINK_RESOURCES"
	SaveBlackboard          EventType = "SAVE_BLACKBOARD"
	ClearBlackboard         EventType = "CLEAR_BLACKBOARD"
	RemoveEntriesFromBB     EventType = "REMOVE_ENTRIES_FROM_BLACKBOARD"
	DeleteEntriesFromDepi   EventType = "DELETE_ENTRIES_FROM_DEPI"
	MarkLinksClean          EventType = "MARK_LINKS_CLEAN"
	MarkInferredDirtyClean  EventType = "MARK_INFERRED_DIRTINESS_CLEAN"
	MarkAllClean            EventType = "MARK_ALL_CLEAN"
	EditResourceGroup       EventType = "EDIT_RESOURCE_GROUP"
	RevealInEditor          EventType = "REVEAL_IN_EDITOR"
	ViewResourceDiff        EventType = "VIEW_RESOURCE_DIFF"
	SetSelection            EventType = "SET_SELECTION"
)

// Events to the host.
const (
	ToolsConfig     EventType = "TOOLS_CONFIG"
	DepiModel       EventType = "DEPI_MODEL"
	BlackboardModel EventType = "BLACKBOARD_MODEL"
	DependencyGraph EventType = "DEPENDENCY_GRAPH"
	BranchesAndTags EventType = "BRANCHES_AND_TAGS"
	ErrorMessage    EventType = "ERROR_MESSAGE"
	Selection       EventType = "SELECTION"
)

// Event is one message. Value holds the JSON payload for Type.
type Event struct {
	Type  EventType       `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// NewEvent builds an event with a JSON encoded value.
func NewEvent(t EventType, value any) (Event, error) {
	if value == nil {
		return Event{Type: t}, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Value: raw}, nil
}

// Sink receives the events the shell sends to the host.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Artifacts reveals resources and their history to the user.
type Artifacts interface {
	Reveal(ctx context.Context, r depi.Resource) error
	ViewDiff(ctx context.Context, r depi.Resource, lastCleanVersion string) error
}

// Request payloads.
type (
	DepiModelRequest struct {
		BranchName string `json:"branchName"`
	}

	DependencyGraphRequest struct {
		Resource   depi.Resource `json:"resource"`
		BranchName string        `json:"branchName"`
		Dependants bool          `json:"dependants"`
	}

	LinkRequest struct {
		Source depi.Resource `json:"source"`
		Target depi.Resource `json:"target"`
	}

	EditGroupRequest struct {
		ResourceGroupRef depi.ResourceGroupRef `json:"resourceGroupRef"`
		Remove           bool                  `json:"remove"`
		UpdateDesc       struct {
			Name    string `json:"name"`
			ToolID  string `json:"toolId"`
			URL     string `json:"url"`
			Version string `json:"version"`
		} `json:"updateDesc"`
	}

	MarkLinksCleanRequest struct {
		Links     []depi.ResourceLink `json:"links"`
		Propagate bool                `json:"propagate"`
	}

	MarkInferredCleanRequest struct {
		Link            depi.ResourceLink `json:"link"`
		DirtinessSource depi.Resource     `json:"dirtinessSource"`
		Propagate       bool              `json:"propagate"`
	}

	MarkAllCleanRequest struct {
		Links []depi.ResourceLink `json:"links"`
	}

	DiffRequest struct {
		Resource         depi.Resource `json:"resource"`
		LastCleanVersion string        `json:"lastCleanVersion"`
	}
)

// Payloads sent to the host.
type (
	// DepiModelValue carries ExpandState, a counter bumped every time groups are
	// expanded, so the host can tell expansion results from plain refreshes.
	DepiModelValue struct {
		depi.Graph
		ExpandState int `json:"expandState"`
	}

	DependencyGraphValue struct {
		depi.DependencyGraph
		Dependants bool `json:"dependants"`
	}

	ToolConfig struct {
		PathDivider string `json:"pathDivider"`
	}

	ErrorValue struct {
		Message string    `json:"message"`
		Kind    depi.Kind `json:"kind,omitempty"`
	}
)
