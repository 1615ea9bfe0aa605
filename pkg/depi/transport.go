package depi

import (
	"context"
	"encoding/json"
)

// Transport carries requests to the graph service.
//
// Call performs one request/response exchange, decoding the response body into resp
// when resp is non-nil. A response without an explicit success flag is a failure.
// Failures are returned as *Error; connection problems use KindUnreachable.
//
// Stream opens a long-lived push subscription. Closing the stream stops delivery.
type Transport interface {
	Call(ctx context.Context, method, session string, req, resp any) error
	Stream(ctx context.Context, method, session string, req any) (Stream, error)
	Close() error
}

// Stream is an open push subscription. Events and Errors are closed once the
// stream ends. After Close returns, no further events are delivered.
type Stream interface {
	Events() <-chan json.RawMessage
	Errors() <-chan error
	Close() error
}

// Remote method names shared by transports and the graph service.
const (
	MethodLogin                      = "login"
	MethodLoginWithToken             = "loginWithToken"
	MethodPing                       = "ping"
	MethodLogout                     = "logout"
	MethodSetBranch                  = "setBranch"
	MethodCreateBranch               = "createBranch"
	MethodCreateTag                  = "createTag"
	MethodGetBranchList              = "getBranchList"
	MethodGetResourceGroups          = "getResourceGroups"
	MethodGetResources               = "getResources"
	MethodGetLinks                   = "getLinks"
	MethodGetAllLinks                = "getAllLinks"
	MethodGetDirtyLinks              = "getDirtyLinks"
	MethodGetDependencyGraph         = "getDependencyGraph"
	MethodGetBlackboard              = "getBlackboard"
	MethodAddResourcesToBlackboard   = "addResourcesToBlackboard"
	MethodRemoveFromBlackboard       = "removeFromBlackboard"
	MethodSaveBlackboard             = "saveBlackboard"
	MethodClearBlackboard            = "clearBlackboard"
	MethodUpdateDepi                 = "updateDepi"
	MethodMarkLinksClean             = "markLinksClean"
	MethodMarkInferredDirtinessClean = "markInferredDirtinessClean"
	MethodUpdateResourceGroup        = "updateResourceGroup"
	MethodEditResourceGroup          = "editResourceGroup"
	MethodRemoveResourceGroup        = "removeResourceGroup"
	MethodWatchDepi                  = "watchDepi"
	MethodWatchBlackboard            = "watchBlackboard"
	MethodUnwatch                    = "unwatch"
)

// Request and response bodies of the remote protocol.
type (
	LoginRequest struct {
		User     string `json:"user"`
		Password string `json:"password,omitempty"`
		Token    string `json:"token,omitempty"`
	}
	LoginResponse struct {
		SessionID string `json:"sessionId"`
		Token     string `json:"token"`
		User      string `json:"user"`
		Branch    string `json:"branch"`
	}
	PingResponse struct {
		Token string `json:"token"`
	}
	BranchRequest struct {
		Name string `json:"name"`
		From string `json:"from,omitempty"`
	}
	BranchResponse struct {
		Branch string `json:"branch"`
	}
	ResourcesRequest struct {
		Patterns []ResourcePattern `json:"patterns"`
	}
	LinksRequest struct {
		Patterns []LinkPattern `json:"patterns"`
	}
	AllLinksRequest struct {
		IncludeDeleted bool `json:"includeDeleted"`
	}
	GroupRequest struct {
		Group ResourceGroupRef `json:"group"`
	}
	DependencyGraphRequest struct {
		Resource  ResourceRef `json:"resource"`
		Direction Direction   `json:"direction"`
		// MaxDepth limits the walk; zero or less means unbounded.
		MaxDepth int `json:"maxDepth"`
	}
	StageRequest struct {
		Resources []Resource     `json:"resources"`
		Links     []ResourceLink `json:"links"`
	}
	// UpdateDepiRequest carries ordered removals. They are applied in slice order.
	UpdateDepiRequest struct {
		Updates []DepiUpdate `json:"updates"`
	}
	MarkLinksCleanRequest struct {
		Links     []LinkRef `json:"links"`
		Propagate bool      `json:"propagate"`
	}
	MarkInferredCleanRequest struct {
		Link      LinkRef     `json:"link"`
		Source    ResourceRef `json:"source"`
		Propagate bool        `json:"propagate"`
	}
	WatchRequest struct {
		WatcherID string `json:"watcherId"`
	}
	ResourcesResponse struct {
		Resources []Resource `json:"resources"`
	}
	LinksResponse struct {
		Links []ResourceLink `json:"links"`
	}
	GroupsResponse struct {
		ResourceGroups []ResourceGroup `json:"resourceGroups"`
	}
)

// DepiUpdateType names one removal in an UpdateDepiRequest.
type DepiUpdateType string

const (
	RemoveResource DepiUpdateType = "removeResource"
	RemoveLink     DepiUpdateType = "removeLink"
)

// DepiUpdate is one entry of an UpdateDepiRequest. Exactly one of Resource and Link is set.
type DepiUpdate struct {
	Type     DepiUpdateType `json:"type"`
	Resource *ResourceRef   `json:"resource,omitempty"`
	Link     *LinkRef       `json:"link,omitempty"`
}
