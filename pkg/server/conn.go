package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devpulse-io/devpulse/pkg/protocol"
)

// defaultWriteTimeout bounds a single frame write. A client that can't
// drain within this window is treated as dead and pruned.
const defaultWriteTimeout = 10 * time.Second

// wsLink is the subset of *websocket.Conn the connection wrapper needs.
// Tests substitute a stub to exercise send-failure pruning.
type wsLink interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one live client connection belonging to a user. Writes are
// serialized with a mutex; the read side lives in the server's read
// loop.
type Conn struct {
	link         wsLink
	userID       string
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newConn(link wsLink, userID string) *Conn {
	return &Conn{
		link:         link,
		userID:       userID,
		writeTimeout: defaultWriteTimeout,
	}
}

// send writes a text frame with a deadline. Returns an error if the
// connection is closed or the write fails; the caller decides whether
// to prune.
func (c *Conn) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return websocket.ErrCloseSent
	}

	c.link.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.link.WriteMessage(websocket.TextMessage, data)
}

// sendFrame marshals and sends an outbound frame.
func (c *Conn) sendFrame(f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.send(data)
}

// close sends a close frame with the given code and shuts the link
// down. Safe to call more than once.
func (c *Conn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	msg := websocket.FormatCloseMessage(code, reason)
	c.link.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.link.Close()
}
