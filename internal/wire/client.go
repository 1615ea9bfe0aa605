package wire

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/dyluth/depi/pkg/depi"
	"github.com/gorilla/websocket"
)

const (
	dialTimeout  = 10 * time.Second
	streamBuffer = 64
)

// Client is a depi.Transport over one websocket connection. Requests are
// multiplexed by id. When the connection drops, pending and later calls fail with
// KindUnreachable and open streams report the failure then end.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan Response
	streams map[uint64]*clientStream
	err     error
	done    chan struct{}
}

// Dial connects to a depi server, e.g. "ws://localhost:8080/depi".
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &depi.Error{Kind: depi.KindUnreachable, Op: "dial", Msg: "cannot reach " + url, Err: err}
	}
	conn.SetReadLimit(maxFrameSize)

	c := &Client{
		conn:    conn,
		pending: make(map[uint64]chan Response),
		streams: make(map[uint64]*clientStream),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		var resp Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.fail(err)
			return
		}
		c.route(resp)
	}
}

func (c *Client) route(resp Response) {
	c.mu.Lock()
	if ch, ok := c.pending[resp.ID]; ok {
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		ch <- resp
		return
	}
	st, ok := c.streams[resp.ID]
	if ok && resp.Final {
		delete(c.streams, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	if resp.Final {
		st.finish(nil)
		return
	}
	st.deliver(resp)
}

// fail ends the connection and everything waiting on it.
func (c *Client) fail(cause error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = &depi.Error{Kind: depi.KindUnreachable, Op: "connection", Msg: "connection lost", Err: cause}
	streams := c.streams
	c.streams = make(map[uint64]*clientStream)
	close(c.done)
	c.mu.Unlock()

	for _, st := range streams {
		st.finish(c.err)
	}
}

func (c *Client) closedErr(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return nil
	}
	return &depi.Error{Kind: depi.KindUnreachable, Op: method, Msg: "connection lost", Err: c.err}
}

func (c *Client) register(stream *clientStream) (uint64, chan Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	ch := make(chan Response, 1)
	c.pending[id] = ch
	if stream != nil {
		stream.id = id
		c.streams[id] = stream
	}
	return id, ch
}

func (c *Client) unregister(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	delete(c.streams, id)
}

func (c *Client) write(method string, req Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return &depi.Error{Kind: depi.KindUnreachable, Op: method, Msg: "connection lost", Err: err}
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return &depi.Error{Kind: depi.KindUnreachable, Op: method, Msg: "connection lost", Err: err}
	}
	return nil
}

// roundTrip sends a request and waits for its first response frame.
func (c *Client) roundTrip(ctx context.Context, method, session string, req any, stream *clientStream) (Response, error) {
	if err := c.closedErr(method); err != nil {
		return Response{}, err
	}
	body, err := encodeBody(method, req)
	if err != nil {
		return Response{}, err
	}

	id, ch := c.register(stream)
	if err := c.write(method, Request{ID: id, Method: method, Session: session, Body: body}); err != nil {
		c.unregister(id)
		return Response{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		c.unregister(id)
		return Response{}, c.closedErr(method)
	case <-ctx.Done():
		c.unregister(id)
		return Response{}, ctx.Err()
	}
}

// Call implements depi.Transport.
func (c *Client) Call(ctx context.Context, method, session string, req, resp any) error {
	start := time.Now()
	frame, err := c.roundTrip(ctx, method, session, req, nil)
	if err == nil {
		err = frame.Decode(method, resp)
	}
	observe(method, start, err)
	return err
}

// Stream implements depi.Transport.
func (c *Client) Stream(ctx context.Context, method, session string, req any) (depi.Stream, error) {
	st := newClientStream(c)
	ack, err := c.roundTrip(ctx, method, session, req, st)
	if err == nil {
		err = ack.Err(method)
	}
	if err != nil {
		c.unregister(st.id)
		return nil, err
	}
	return st, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Printf("[Wire] Failed to send close frame: %v", err)
	}
	return c.conn.Close()
}

// clientStream is the client end of a watch. The read loop is its only writer,
// so only the read loop closes its channels.
type clientStream struct {
	client *Client
	id     uint64
	events chan json.RawMessage
	errors chan error

	stop     chan struct{}
	stopOnce sync.Once
	endOnce  sync.Once
}

func newClientStream(c *Client) *clientStream {
	return &clientStream{
		client: c,
		events: make(chan json.RawMessage, streamBuffer),
		errors: make(chan error, 10),
		stop:   make(chan struct{}),
	}
}

func (s *clientStream) Events() <-chan json.RawMessage { return s.events }
func (s *clientStream) Errors() <-chan error           { return s.errors }

func (s *clientStream) deliver(resp Response) {
	if err := resp.Err("watch"); err != nil {
		select {
		case s.errors <- err:
		case <-s.stop:
		}
		return
	}
	if len(resp.Body) == 0 {
		return
	}
	select {
	case s.events <- resp.Body:
	case <-s.stop:
	}
}

// finish ends the stream, reporting err first when it is non-nil.
func (s *clientStream) finish(err error) {
	s.endOnce.Do(func() {
		if err != nil {
			select {
			case s.errors <- err:
			case <-s.stop:
			default:
			}
		}
		close(s.events)
		close(s.errors)
	})
}

// Close sends a cancel frame. The server answers with a final frame, which ends
// the stream; deliveries stop immediately.
func (s *clientStream) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		// A failed write means the connection is going down; the read loop then
		// ends the stream.
		if err := s.client.write(depi.MethodUnwatch, Request{ID: s.id, Cancel: true}); err != nil {
			log.Printf("[Wire] Failed to cancel stream %d: %v", s.id, err)
		}
	})
	return nil
}
