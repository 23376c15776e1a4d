package transport

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Polqt/dacollab/session"
)

// Upgrader upgrades incoming HTTP requests to a WebSocket connection. It
// accepts any origin: origin policy is the outer router's concern
// (SPEC_FULL.md §1's "out of scope" collaborators), not this layer's.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second
)

// PingInterval is how often a connection owner should call Conn.Ping to
// keep the peer's pongWait deadline from expiring.
const PingInterval = pingPeriod

// Conn adapts a *websocket.Conn to session.Sender: binary messages only,
// writes serialized behind a mutex (gorilla/websocket permits only one
// concurrent writer), with a write deadline on every send.
type Conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

// NewConn wraps an already-upgraded connection, configuring the
// read-deadline/pong handshake used to detect dead peers.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws}
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return c
}

// Send writes one binary frame.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return session.ErrClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

// Close sends a close frame and closes the underlying connection. Safe to
// call more than once.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return c.ws.Close()
}

// ReadyState reports Closed once Close has been called, Open otherwise —
// gorilla/websocket has no richer connecting/closing state of its own to
// surface.
func (c *Conn) ReadyState() session.ReadyState {
	if c.closed.Load() {
		return session.Closed
	}
	return session.Open
}

// ReadMessage blocks for the next incoming message.
func (c *Conn) ReadMessage() (messageType int, p []byte, err error) {
	return c.ws.ReadMessage()
}

// Ping sends a control ping, used by the coordinator's keepalive ticker to
// detect half-open connections before pongWait elapses.
func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return session.ErrClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
