package wsproto

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/forattini-dev/raffel-sub006/channel"
	"github.com/forattini-dev/raffel-sub006/envelope"
	"github.com/forattini-dev/raffel-sub006/idgen"
	"github.com/forattini-dev/raffel-sub006/router"
)

// Config holds the §6 "Configuration (recognized options)" surface.
type Config struct {
	Host              string
	Port              int
	Path              string
	MaxPayloadSize    int64
	HeartbeatInterval time.Duration
	ContextFactory    ContextFactory
	// EnableCompression turns on deflate compression, sent as a binary
	// frame, for frames at or above compressionThreshold bytes (§6).
	EnableCompression bool
}

// DefaultConfig fills in the §6 defaults: host 0.0.0.0, path "/", 1 MiB
// payload cap, 30s heartbeat.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Path:              "/",
		MaxPayloadSize:    1 << 20,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Engine is the WebSocket protocol engine: it upgrades HTTP connections,
// owns the live connection set, drives the heartbeat loop, and dispatches
// inbound frames through Router and Channels (§4.5).
type Engine struct {
	cfg      Config
	Router   *router.Router
	Channels *channel.Manager
	logger   *slog.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*Conn

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
}

// New builds an Engine. Channels' Send hook is wired to the engine's own
// per-socket writer so Broadcast/Publish reach live connections.
func New(cfg Config, r *router.Router, channels *channel.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPayloadSize <= 0 {
		cfg.MaxPayloadSize = 1 << 20
	}
	eng := &Engine{
		cfg:      cfg,
		Router:   r,
		Channels: channels,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(map[string]*Conn),
	}
	channels.Send = eng.sendToSocket
	return eng
}

// SetContextFactory sets the §6 contextFactory hook after construction,
// so Runtime can wire it in once the handler-registering caller supplies it.
func (e *Engine) SetContextFactory(fn ContextFactory) {
	e.cfg.ContextFactory = fn
}

func (e *Engine) sendToSocket(socketID string, evt channel.Event) {
	e.mu.Lock()
	c, ok := e.conns[socketID]
	e.mu.Unlock()
	if !ok {
		return
	}
	frame := map[string]interface{}{"type": "event", "channel": evt.Channel, "event": evt.Event, "data": evt.Data}
	if err := c.writeJSON(frame); err != nil {
		e.logger.Debug("failed delivering broadcast", "socket_id", socketID, "error", err)
	}
}

func (e *Engine) buildContext(socketID string, r *http.Request) *envelope.Context {
	ctx := envelope.NewContext(idgen.MustID(), e.Router.CallFunc())
	if e.cfg.ContextFactory != nil {
		auth, tracing := e.cfg.ContextFactory(socketID, r)
		ctx = ctx.WithAuth(auth).WithTracing(tracing)
	}
	return ctx
}

// ServeHTTP upgrades an HTTP request to a WebSocket connection and runs
// its read loop until the client disconnects (§4.5 connection lifecycle).
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	socketID := idgen.MustID()
	c := newConn(socketID, ws, e)

	e.mu.Lock()
	e.conns[socketID] = c
	e.mu.Unlock()

	e.logger.Info("connection accepted", "socket_id", socketID, "remote", r.RemoteAddr)
	c.readLoop()
}

func (e *Engine) removeConn(c *Conn) {
	e.mu.Lock()
	delete(e.conns, c.id)
	e.mu.Unlock()
	c.cancelAll()
	e.Channels.UnsubscribeAll(c.id)
	e.logger.Info("connection closed", "socket_id", c.id)
}

// Start begins listening for upgrade requests on cfg.Path and starts the
// heartbeat loop. It returns the *http.ServeMux the caller mounts (or
// serves directly).
func (e *Engine) Start() *http.ServeMux {
	mux := http.NewServeMux()
	path := e.cfg.Path
	if path == "" {
		path = "/"
	}
	mux.HandleFunc(path, e.ServeHTTP)
	e.startHeartbeat()
	return mux
}

// Shutdown stops the heartbeat loop and closes every connection with a
// graceful close frame (code 1001), per §4.5.
func (e *Engine) Shutdown() {
	e.stopHeartbeat()

	e.mu.Lock()
	conns := make([]*Conn, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.conns = make(map[string]*Conn)
	e.mu.Unlock()

	for _, c := range conns {
		c.cancelAll()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	}
}
