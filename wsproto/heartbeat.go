package wsproto

import (
	"time"

	"github.com/gorilla/websocket"
)

// startHeartbeat launches the ping/pong liveness loop described in §4.5.
// HeartbeatInterval of zero disables it entirely.
func (e *Engine) startHeartbeat() {
	if e.cfg.HeartbeatInterval <= 0 {
		return
	}
	e.heartbeatStop = make(chan struct{})
	e.heartbeatDone = make(chan struct{})
	go e.heartbeatLoop()
}

func (e *Engine) heartbeatLoop() {
	defer close(e.heartbeatDone)
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.heartbeatStop:
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

// sweep terminates any connection that hasn't answered the previous ping
// (alive == false), then clears the flag and pings every survivor.
func (e *Engine) sweep() {
	e.mu.Lock()
	conns := make([]*Conn, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		if !c.isAlive() {
			e.logger.Debug("terminating unresponsive connection", "socket_id", c.id)
			_ = c.ws.Close()
			e.removeConn(c)
			continue
		}
		c.setAlive(false)
		c.writeMu.Lock()
		err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		c.writeMu.Unlock()
		if err != nil {
			e.logger.Debug("ping failed", "socket_id", c.id, "error", err)
		}
	}
}

func (e *Engine) stopHeartbeat() {
	if e.heartbeatStop == nil {
		return
	}
	close(e.heartbeatStop)
	<-e.heartbeatDone
}
