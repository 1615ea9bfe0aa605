package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dyluth/depi/pkg/depi"
)

// Subscription is an open Pub/Sub subscription to graph or blackboard updates.
// It implements depi.Stream. Caller must call Close() when done.
//
// Events are delivered on a buffered channel (size 10). Redis Pub/Sub is
// at-most-once: a subscriber that falls behind may miss updates, so receivers
// treat an update as "reload", never as a diff.
type Subscription struct {
	events <-chan json.RawMessage
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of raw depi.Update payloads.
// The channel is closed when the subscription is closed or Redis drops it.
func (s *Subscription) Events() <-chan json.RawMessage {
	return s.events
}

// Errors returns the channel of subscription errors.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeDepi subscribes to graph changes of a branch.
func (s *Service) SubscribeDepi(ctx context.Context, branch string) (*Subscription, error) {
	return s.subscribe(ctx, DepiEventsChannel(branch))
}

// SubscribeBlackboard subscribes to changes of a user's blackboard.
func (s *Service) SubscribeBlackboard(ctx context.Context, user string) (*Subscription, error) {
	return s.subscribe(ctx, BlackboardEventsChannel(user))
}

// subscribe returns once Redis confirmed the subscription, so no update published
// after it returns is missed. ctx bounds the subscribe call only; the subscription
// lives until Close.
func (s *Service) subscribe(ctx context.Context, channel string) (*Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	eventsChan := make(chan json.RawMessage, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(context.WithoutCancel(ctx))

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var u depi.Update
				if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal update on %s: %w", channel, err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- json.RawMessage(msg.Payload):
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
