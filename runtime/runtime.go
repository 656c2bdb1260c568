package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/forattini-dev/raffel-sub006/channel"
	"github.com/forattini-dev/raffel-sub006/eventdelivery"
	"github.com/forattini-dev/raffel-sub006/registry"
	"github.com/forattini-dev/raffel-sub006/router"
	"github.com/forattini-dev/raffel-sub006/wsproto"
)

// Runtime owns the registry, router, channel manager, wsproto engine and
// logger as one explicit value, threaded into whatever binary builds a
// server rather than reached for as package-level state.
type Runtime struct {
	Logger     *slog.Logger
	Registry   *registry.Registry
	Router     *router.Router
	Channels   *channel.Manager
	Engine     *wsproto.Engine
	Dispatcher *eventdelivery.Dispatcher

	cfg    Config
	server *http.Server
}

// New wires a Runtime from cfg: it builds the registry, router (with
// global interceptors applied to every handler) and channel manager, then
// the wsproto engine over them. Handlers and hooks are registered on the
// returned value before calling Start.
func New(cfg Config, logger *slog.Logger, global ...registry.Interceptor) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}

	reg := registry.New()
	r := router.New(reg, logger, global...)
	dispatcher := eventdelivery.New(reg, logger)
	r.SetEventDispatcher(dispatcher)
	channels := channel.New(0)

	wsCfg := wsproto.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		Path:              cfg.Path,
		MaxPayloadSize:    cfg.MaxPayloadSize,
		HeartbeatInterval: cfg.heartbeatDuration(),
		EnableCompression: cfg.EnableCompression,
	}
	engine := wsproto.New(wsCfg, r, channels, logger)

	return &Runtime{
		Logger:     logger,
		Registry:   reg,
		Router:     r,
		Channels:   channels,
		Engine:     engine,
		Dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// WithContextFactory sets the §6 contextFactory hook used to derive auth
// and tracing from the incoming HTTP upgrade request.
func (rt *Runtime) WithContextFactory(fn wsproto.ContextFactory) *Runtime {
	rt.Engine.SetContextFactory(fn)
	return rt
}

// WithAuthorize sets the §6 channels.authorize hook.
func (rt *Runtime) WithAuthorize(fn channel.AuthorizeFunc) *Runtime {
	rt.Channels.Authorize = fn
	return rt
}

// WithPresenceData sets the §6 channels.presenceData hook.
func (rt *Runtime) WithPresenceData(fn channel.PresenceDataFunc) *Runtime {
	rt.Channels.PresenceData = fn
	return rt
}

// WithOnPublish sets the §6 channels.onPublish hook.
func (rt *Runtime) WithOnPublish(fn channel.OnPublishFunc) *Runtime {
	rt.Channels.OnPublish = fn
	return rt
}

// Start mounts the wsproto engine on an *http.Server and begins serving
// in the background, following the teacher's listen-in-a-goroutine,
// report-ErrServerClosed-as-non-fatal convention.
func (rt *Runtime) Start() error {
	mux := rt.Engine.Start()
	addr := fmt.Sprintf("%s:%d", rt.cfg.Host, rt.cfg.Port)
	rt.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		rt.Logger.Info("raffel runtime listening", "addr", addr, "path", rt.cfg.Path)
		if err := rt.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rt.Logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting new connections, closes live WebSocket
// connections gracefully, and shuts down the HTTP server.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.Engine.Shutdown()
	if rt.server == nil {
		return nil
	}
	return rt.server.Shutdown(ctx)
}
