package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/dyluth/depi/internal/jobqueue"
	"github.com/dyluth/depi/internal/printer"
	"github.com/dyluth/depi/internal/selection"
	"github.com/dyluth/depi/pkg/depi"
)

// HandlerOptions configure a Handler.
type HandlerOptions struct {
	// Tools is sent in answer to RequestToolsConfig, keyed by tool id.
	Tools map[string]ToolConfig
	// Artifacts serves RevealInEditor and ViewResourceDiff. Nil rejects both.
	Artifacts Artifacts
	// CallTimeout bounds each event. Zero means no bound.
	CallTimeout time.Duration
}

// Handler processes host events one at a time, in arrival order, on its own queue.
// Watcher notifications are queued behind the events already waiting.
type Handler struct {
	model *UIModel
	sink  Sink
	opts  HandlerOptions
	queue *jobqueue.Queue

	ctx    context.Context
	cancel context.CancelFunc

	// Only touched by queued jobs.
	expandCounter int
	selected      []selection.Entry
	views         selection.Views

	closeOnce sync.Once
}

// NewHandler creates a handler for session s. It opens no watchers until the host
// requests a model.
func NewHandler(s *depi.Session, sink Sink, opts HandlerOptions) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		sink:   sink,
		opts:   opts,
		queue:  jobqueue.New("Shell"),
		ctx:    ctx,
		cancel: cancel,
	}
	h.model = NewUIModel(s, Callbacks{
		OnGraph:      func(depi.Update) { h.queue.Submit(h.refreshGraph) },
		OnBlackboard: func(depi.Update) { h.queue.Submit(h.refreshBlackboard) },
		OnError: func(err error) {
			h.queue.Submit(func() { h.sendError(h.ctx, err) })
		},
	})
	return h
}

// Model returns the UI model driven by the handler.
func (h *Handler) Model() *UIModel {
	return h.model
}

// Handle queues ev. It reports false once the handler is closed.
func (h *Handler) Handle(ev Event) bool {
	return h.queue.Submit(func() { h.process(ev) })
}

// Wait blocks until every event handled before the call has been processed.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	if !h.queue.Submit(func() { close(done) }) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes every watcher, then stops the queue. Events not yet started are dropped.
func (h *Handler) Close(ctx context.Context) {
	h.closeOnce.Do(func() {
		h.model.Close(ctx)
		h.cancel()
		h.queue.Close()
	})
}

func (h *Handler) jobContext() (context.Context, context.CancelFunc) {
	if h.opts.CallTimeout > 0 {
		return context.WithTimeout(h.ctx, h.opts.CallTimeout)
	}
	return context.WithCancel(h.ctx)
}

func (h *Handler) process(ev Event) {
	ctx, cancel := h.jobContext()
	defer cancel()

	log.Printf("[Shell] Got %s", ev.Type)
	if err := h.dispatch(ctx, ev); err != nil {
		log.Printf("[Shell] %s failed: %v", ev.Type, err)
		h.sendError(ctx, err)
	}
}

func (h *Handler) session() *depi.Session {
	return h.model.Session()
}

func (h *Handler) dispatch(ctx context.Context, ev Event) error {
	s := h.session()

	switch ev.Type {
	case RequestToolsConfig:
		return h.send(ctx, ToolsConfig, h.opts.Tools)

	case RequestBranchesAndTags:
		bt, err := s.BranchesAndTags(ctx)
		if err != nil {
			return err
		}
		return h.send(ctx, BranchesAndTags, bt)

	case RequestDepiModel:
		var req DepiModelRequest
		if err := decode(ev, &req); err != nil {
			return err
		}
		if err := h.model.SetBlackboardMode(ctx, req.BranchName); err != nil {
			return err
		}
		return h.sendDepiModel(ctx, false)

	case RequestBlackboardModel:
		return h.sendBlackboardModel(ctx)

	case RequestDependencyGraph:
		var req DependencyGraphRequest
		if err := decode(ev, &req); err != nil {
			return err
		}
		if err := h.model.SetDependencyMode(ctx, req.Resource, req.BranchName, req.Dependants); err != nil {
			return err
		}
		return h.sendDependencyGraph(ctx)

	case ExpandResourceGroups:
		var refs []depi.ResourceGroupRef
		if err := decode(ev, &refs); err != nil {
			return err
		}
		h.model.ExpandGroups(refs)
		return h.sendDepiModel(ctx, true)

	case CollapseResourceGroups:
		var refs []depi.ResourceGroupRef
		if err := decode(ev, &refs); err != nil {
			return err
		}
		h.model.CollapseGroups(refs)
		return h.sendDepiModel(ctx, false)

	case LinkResources:
		var req LinkRequest
		if err := decode(ev, &req); err != nil {
			return err
		}
		return s.LinkResources(ctx, req.Source, req.Target)

	case SaveBlackboard:
		if err := s.SaveBlackboard(ctx); err != nil {
			return err
		}
		return h.sendDepiModel(ctx, false)

	case ClearBlackboard:
		return s.ClearBlackboard(ctx)

	case RemoveEntriesFromBB:
		var entries depi.Entries
		if err := decode(ev, &entries); err != nil {
			return err
		}
		return s.Unstage(ctx, entries)

	case DeleteEntriesFromDepi:
		var entries depi.Entries
		if err := decode(ev, &entries); err != nil {
			return err
		}
		return h.deleteEntries(ctx, entries)

	case MarkLinksClean:
		var req MarkLinksCleanRequest
		if err := decode(ev, &req); err != nil {
			return err
		}
		return s.MarkLinksClean(ctx, req.Links, req.Propagate)

	case MarkInferredDirtyClean:
		var req MarkInferredCleanRequest
		if err := decode(ev, &req); err != nil {
			return err
		}
		return s.MarkInferredDirtinessClean(ctx, req.Link, req.DirtinessSource.ResourceRef, req.Propagate)

	case MarkAllClean:
		var req MarkAllCleanRequest
		if err := decode(ev, &req); err != nil {
			return err
		}
		return s.MarkAllClean(ctx, req.Links)

	case EditResourceGroup:
		var req EditGroupRequest
		if err := decode(ev, &req); err != nil {
			return err
		}
		if req.Remove {
			return s.RemoveResourceGroup(ctx, req.ResourceGroupRef)
		}
		return s.EditResourceGroupProperties(ctx, depi.ResourceGroupEdit{
			Ref:        req.ResourceGroupRef,
			NewName:    req.UpdateDesc.Name,
			NewToolID:  req.UpdateDesc.ToolID,
			NewURL:     req.UpdateDesc.URL,
			NewVersion: req.UpdateDesc.Version,
		})

	case RevealInEditor:
		var r depi.Resource
		if err := decode(ev, &r); err != nil {
			return err
		}
		if h.opts.Artifacts == nil {
			return depi.Errorf(depi.KindInvalid, string(ev.Type), "no artifact resolver configured")
		}
		return h.opts.Artifacts.Reveal(ctx, r)

	case SetSelection:
		var entries []selection.Entry
		if err := decode(ev, &entries); err != nil {
			return err
		}
		h.selected = entries
		if h.views.Graph != nil || h.views.Blackboard != nil || h.views.DependencyMode() {
			h.selected = selection.Reconcile(entries, h.views)
		}
		return h.send(ctx, Selection, h.selected)

	case ViewResourceDiff:
		var req DiffRequest
		if err := decode(ev, &req); err != nil {
			return err
		}
		if h.opts.Artifacts == nil {
			return depi.Errorf(depi.KindInvalid, string(ev.Type), "no artifact resolver configured")
		}
		return h.opts.Artifacts.ViewDiff(ctx, req.Resource, req.LastCleanVersion)

	default:
		return depi.Errorf(depi.KindInvalid, string(ev.Type), "unknown event type %q", ev.Type)
	}
}

// deleteEntries adds the loose links of the removed resources before deleting.
func (h *Handler) deleteEntries(ctx context.Context, entries depi.Entries) error {
	s := h.session()
	if len(entries.Resources) > 0 {
		links, err := s.GetAllLinks(ctx, false)
		if err != nil {
			return err
		}
		entries.Links = append(entries.Links, depi.AdditionalLooseLinks(links, entries.Resources, entries.Links)...)
	}
	return s.DeleteEntriesFromDepi(ctx, entries)
}

func (h *Handler) sendDepiModel(ctx context.Context, expanded bool) error {
	model, err := h.session().GetDepiModel(ctx, h.model.ActiveGroups())
	if err != nil {
		return err
	}
	if expanded {
		h.expandCounter++
	}
	log.Printf("[Shell] Depi model: expandState=%d resources=%d links=%d",
		h.expandCounter, len(model.Resources), len(model.Links))
	if err := h.send(ctx, DepiModel, DepiModelValue{Graph: *model, ExpandState: h.expandCounter}); err != nil {
		return err
	}
	h.views.Graph, h.views.Dependency = model, nil
	return h.reselect(ctx)
}

func (h *Handler) sendBlackboardModel(ctx context.Context) error {
	bb, err := h.session().GetBlackboardModel(ctx)
	if err != nil {
		return err
	}
	if err := h.send(ctx, BlackboardModel, bb); err != nil {
		return err
	}
	h.views.Blackboard = bb
	return h.reselect(ctx)
}

func (h *Handler) sendDependencyGraph(ctx context.Context) error {
	resource, dependants := h.model.DependencyContext()
	if resource == nil {
		return depi.Errorf(depi.KindInvalid, string(RequestDependencyGraph), "no resource selected")
	}
	direction := depi.Dependencies
	if dependants {
		direction = depi.Dependents
	}
	g, err := h.session().GetDependencyGraph(ctx, resource.ResourceRef, direction)
	if err != nil {
		return err
	}
	if err := h.send(ctx, DependencyGraph, DependencyGraphValue{DependencyGraph: *g, Dependants: dependants}); err != nil {
		return err
	}
	h.views.Dependency = g
	return h.reselect(ctx)
}

// reselect reconciles the host's selection with the views just sent and reports
// the result when it changed.
func (h *Handler) reselect(ctx context.Context) error {
	if len(h.selected) == 0 {
		return nil
	}
	next := selection.Reconcile(h.selected, h.views)
	if reflect.DeepEqual(next, h.selected) {
		return nil
	}
	log.Printf("[Shell] Selection: %d of %d entries kept", len(next), len(h.selected))
	h.selected = next
	return h.send(ctx, Selection, next)
}

// refreshGraph answers a graph watcher notification with the model of the current view.
func (h *Handler) refreshGraph() {
	ctx, cancel := h.jobContext()
	defer cancel()

	var err error
	switch h.model.Mode() {
	case ModeBlackboard:
		err = h.sendDepiModel(ctx, false)
	case ModeDependencyGraph:
		err = h.sendDependencyGraph(ctx)
	default:
		return
	}
	if err != nil {
		h.sendError(ctx, err)
	}
}

func (h *Handler) refreshBlackboard() {
	ctx, cancel := h.jobContext()
	defer cancel()
	if h.model.Mode() != ModeBlackboard {
		return
	}
	if err := h.sendBlackboardModel(ctx); err != nil {
		h.sendError(ctx, err)
	}
}

func (h *Handler) send(ctx context.Context, t EventType, value any) error {
	ev, err := NewEvent(t, value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", t, err)
	}
	return h.sink.Send(ctx, ev)
}

// sendError reports err to the host with a message the user can act on.
func (h *Handler) sendError(ctx context.Context, err error) {
	msg := printer.Explain(err).Message()
	if sendErr := h.send(ctx, ErrorMessage, ErrorValue{Message: msg, Kind: depi.KindOf(err)}); sendErr != nil {
		log.Printf("[Shell] Failed to send error event: %v", sendErr)
	}
}

func decode(ev Event, v any) error {
	if len(ev.Value) == 0 {
		return depi.Errorf(depi.KindInvalid, string(ev.Type), "missing value")
	}
	if err := json.Unmarshal(ev.Value, v); err != nil {
		return &depi.Error{Kind: depi.KindInvalid, Op: string(ev.Type), Msg: "malformed value", Err: err}
	}
	return nil
}
