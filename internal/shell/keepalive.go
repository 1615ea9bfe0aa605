package shell

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dyluth/depi/pkg/depi"
)

// DefaultPingInterval is used when KeepaliveOptions.Interval is zero.
const DefaultPingInterval = 30 * time.Second

// Pinger is the part of a session the keepalive needs.
type Pinger interface {
	Ping(ctx context.Context) (string, error)
	User() string
}

// Status is the connection state reported by a Keepalive.
type Status int

const (
	StatusConnected Status = iota
	// StatusUnreachable: pings fail on the network. The session is kept and retried.
	StatusUnreachable
	// StatusExpired: the service rejected the session. A new login is required.
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusUnreachable:
		return "unreachable"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// KeepaliveOptions configure a Keepalive.
type KeepaliveOptions struct {
	Interval time.Duration
	// Tokens receives every rotated token. Optional.
	Tokens TokenStore
	// OnStatus is called when the status changes. Optional.
	OnStatus func(Status, error)
	// OnExpired is called once when the session is rejected; the keepalive stops
	// afterwards. The callback typically forces a new login.
	OnExpired func(error)
	// NewBackOff builds the retry policy for one ping. Defaults to exponential
	// backoff bounded by Interval.
	NewBackOff func() backoff.BackOff
}

// Keepalive pings a session on a fixed interval. Unreachable failures are retried
// with backoff; an auth failure ends the keepalive and reports the session expired.
type Keepalive struct {
	pinger Pinger
	opts   KeepaliveOptions

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	status Status
}

// StartKeepalive starts pinging p in the background until Stop is called or ctx ends.
func StartKeepalive(ctx context.Context, p Pinger, opts KeepaliveOptions) *Keepalive {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPingInterval
	}
	if opts.NewBackOff == nil {
		interval := opts.Interval
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = interval / 30
			b.MaxInterval = interval / 2
			b.MaxElapsedTime = interval
			return b
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	k := &Keepalive{
		pinger: p,
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go k.run(ctx)
	return k
}

// Stop ends the keepalive and waits for an in-flight ping to finish.
func (k *Keepalive) Stop() {
	k.once.Do(k.cancel)
	<-k.done
}

// Done is closed when the keepalive has stopped.
func (k *Keepalive) Done() <-chan struct{} {
	return k.done
}

// Status returns the last reported status.
func (k *Keepalive) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status
}

func (k *Keepalive) run(ctx context.Context) {
	defer close(k.done)

	ticker := time.NewTicker(k.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if expired := k.ping(ctx); expired {
				return
			}
		}
	}
}

// ping performs one keepalive round. It reports true when the session is gone.
func (k *Keepalive) ping(ctx context.Context) bool {
	var token string
	op := func() error {
		t, err := k.pinger.Ping(ctx)
		if err != nil {
			if depi.IsUnreachable(err) {
				k.setStatus(StatusUnreachable, err)
				return err
			}
			return backoff.Permanent(err)
		}
		token = t
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("[Shell] Ping failed, retrying in %s: %v", wait, err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(k.opts.NewBackOff(), ctx), notify)
	switch {
	case err == nil:
		k.setStatus(StatusConnected, nil)
		if k.opts.Tokens != nil && token != "" {
			if err := k.opts.Tokens.Save(k.pinger.User(), token); err != nil {
				log.Printf("[Shell] Failed to store rotated token: %v", err)
			}
		}
		return false
	case ctx.Err() != nil:
		return false
	case depi.IsAuth(err):
		log.Printf("[Shell] Session expired: %v", err)
		k.setStatus(StatusExpired, err)
		if k.opts.OnExpired != nil {
			k.opts.OnExpired(err)
		}
		return true
	default:
		// Still unreachable after the retry budget. Keep the session and try next tick.
		log.Printf("[Shell] Ping gave up until next interval: %v", err)
		return false
	}
}

func (k *Keepalive) setStatus(s Status, err error) {
	k.mu.Lock()
	changed := k.status != s
	k.status = s
	k.mu.Unlock()
	if changed && k.opts.OnStatus != nil {
		k.opts.OnStatus(s, err)
	}
}
