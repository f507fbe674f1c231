package server

import (
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/devpulse-io/devpulse/pkg/protocol"
)

// broadcast serializes a frame once and fans it out to every live
// connection of the user. A connection that fails to accept the payload
// is evicted immediately, never retried; fanout continues to the
// remaining connections. Broadcasting with zero connections is a silent
// no-op.
func (h *Hub) broadcast(us *userState, frame protocol.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("broadcast marshal failed", "type", frame.Type, "error", err)
		return
	}

	us.mu.Lock()
	conns := make([]*Conn, 0, len(us.conns))
	for c := range us.conns {
		conns = append(conns, c)
	}
	us.mu.Unlock()

	var dead []*Conn
	for _, c := range conns {
		if err := c.send(data); err != nil {
			dead = append(dead, c)
		}
	}

	if len(dead) == 0 {
		return
	}

	us.mu.Lock()
	for _, c := range dead {
		if _, ok := us.conns[c]; ok {
			delete(us.conns, c)
			h.metrics.connectionsActive.Dec()
			h.metrics.broadcastEvictions.Inc()
		}
	}
	us.mu.Unlock()

	for _, c := range dead {
		c.close(websocket.CloseInternalServerErr, "send failed")
		h.logger.Debug("pruned dead connection", "user_id", c.userID)
	}
}
