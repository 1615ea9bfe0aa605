package wire

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/dyluth/depi/pkg/depi"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingEvery      = (pongWait * 9) / 10
	maxFrameSize   = 8 << 20
	outboundBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Server serves the depi protocol over websocket connections.
type Server struct {
	backend Backend
}

// NewServer creates a websocket handler in front of backend.
func NewServer(backend Backend) *Server {
	return &Server{backend: backend}
}

// ServeHTTP upgrades the connection and serves requests until it closes.
// Calls are served concurrently; responses carry the request id.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Wire] Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxFrameSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("[Wire] Failed to set read deadline: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &serverConn{
		backend: s.backend,
		ctx:     ctx,
		out:     make(chan Response, outboundBuffer),
		streams: make(map[uint64]depi.Stream),
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(conn)
	}()

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Wire] Connection closed: %v", err)
			}
			break
		}
		c.handle(req)
	}

	cancel()
	c.closeStreams()
	c.wg.Wait()
	<-writerDone
}

// serverConn is the state of one websocket connection.
type serverConn struct {
	backend Backend
	ctx     context.Context
	out     chan Response
	wg      sync.WaitGroup

	mu      sync.Mutex
	streams map[uint64]depi.Stream
}

func (c *serverConn) writeLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case resp := <-c.out:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(resp); err != nil {
				log.Printf("[Wire] Write failed: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *serverConn) push(resp Response) bool {
	select {
	case c.out <- resp:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *serverConn) handle(req Request) {
	if req.Cancel {
		c.mu.Lock()
		stream, ok := c.streams[req.ID]
		c.mu.Unlock()
		if ok {
			stream.Close()
		}
		return
	}

	c.wg.Add(1)
	if isWatch(req.Method) {
		go func() {
			defer c.wg.Done()
			c.serveStream(req)
		}()
		return
	}
	go func() {
		defer c.wg.Done()
		raw, err := c.backend.Call(c.ctx, req.Method, req.Session, req.Body)
		if err != nil {
			c.push(failure(req.ID, err))
			return
		}
		c.push(success(req.ID, raw))
	}()
}

func isWatch(method string) bool {
	return method == depi.MethodWatchDepi || method == depi.MethodWatchBlackboard
}

// serveStream acknowledges a watch request, relays its frames and ends it with a
// final frame once the stream is closed.
func (c *serverConn) serveStream(req Request) {
	stream, err := c.backend.Subscribe(c.ctx, req.Method, req.Session, req.Body)
	if err != nil {
		c.push(failure(req.ID, err))
		return
	}

	c.mu.Lock()
	c.streams[req.ID] = stream
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.streams, req.ID)
		c.mu.Unlock()
	}()

	if !c.push(success(req.ID, nil)) {
		stream.Close()
		return
	}

	events, errs := stream.Events(), stream.Errors()
	for events != nil || errs != nil {
		select {
		case raw, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.push(success(req.ID, raw))
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.push(failure(req.ID, err))
		}
	}

	stream.Close()
	final := success(req.ID, nil)
	final.Final = true
	c.push(final)
}

func (c *serverConn) closeStreams() {
	c.mu.Lock()
	streams := make([]depi.Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()
	for _, s := range streams {
		s.Close()
	}
}
