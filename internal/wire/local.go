package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dyluth/depi/internal/metrics"
	"github.com/dyluth/depi/pkg/depi"
)

// Local is an in-process transport. Requests and responses still go through the
// JSON envelope, so it behaves like a remote connection without a socket.
type Local struct {
	backend Backend
	nextID  atomic.Uint64
	closed  atomic.Bool
}

// NewLocal returns a transport that serves every call with backend.
func NewLocal(backend Backend) *Local {
	return &Local{backend: backend}
}

// Call implements depi.Transport.
func (l *Local) Call(ctx context.Context, method, session string, req, resp any) error {
	start := time.Now()
	err := l.call(ctx, method, session, req, resp)
	observe(method, start, err)
	return err
}

func (l *Local) call(ctx context.Context, method, session string, req, resp any) error {
	if l.closed.Load() {
		return depi.Errorf(depi.KindUnreachable, method, "transport closed")
	}
	body, err := encodeBody(method, req)
	if err != nil {
		return err
	}
	id := l.nextID.Add(1)

	var frame Response
	raw, err := l.backend.Call(ctx, method, session, body)
	if err != nil {
		frame = failure(id, err)
	} else {
		frame = success(id, raw)
	}

	wireBytes, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal %s response: %w", method, err)
	}
	var decoded Response
	if err := json.Unmarshal(wireBytes, &decoded); err != nil {
		return depi.Errorf(depi.KindRemote, method, "malformed response: %v", err)
	}
	return decoded.Decode(method, resp)
}

// Stream implements depi.Transport.
func (l *Local) Stream(ctx context.Context, method, session string, req any) (depi.Stream, error) {
	if l.closed.Load() {
		return nil, depi.Errorf(depi.KindUnreachable, method, "transport closed")
	}
	body, err := encodeBody(method, req)
	if err != nil {
		return nil, err
	}
	stream, err := l.backend.Subscribe(ctx, method, session, body)
	if err != nil {
		frame := failure(l.nextID.Add(1), err)
		return nil, frame.Err(method)
	}
	return stream, nil
}

// Close implements depi.Transport. Later calls fail with KindUnreachable.
func (l *Local) Close() error {
	l.closed.Store(true)
	return nil
}

// observe records a client-side call.
func observe(method string, start time.Time, err error) {
	code := "ok"
	if err != nil {
		code = string(depi.KindOf(err))
		if code == "" {
			code = "error"
		}
	}
	metrics.CallDuration.WithLabelValues(metrics.SideClient, method).Observe(time.Since(start).Seconds())
	metrics.RemoteCalls.WithLabelValues(metrics.SideClient, method, code).Inc()
}
