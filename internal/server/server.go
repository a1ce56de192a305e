// Package server provides HTTP server initialization and lifecycle management
// for the Nexus API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/nexus/internal/config"
	"github.com/scrypster/nexus/internal/engine"
	"github.com/scrypster/nexus/internal/logging"
	"github.com/scrypster/nexus/web/handlers"
)

// changeNotifier is implemented by engine.MemoryEngine.
type changeNotifier interface {
	SetOnChange(func(engine.Event))
}

// EventSource delivers change events produced outside this process, such as
// notify.Watcher reading events written by the MCP command.
type EventSource interface {
	Start(func(engine.Event)) error
	Stop()
}

// Option customizes Start.
type Option func(*startOptions)

type startOptions struct {
	sources   []EventSource
	snapshots handlers.SnapshotReporter
}

func applyOptions(opts []Option) startOptions {
	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEventSource forwards events from src to websocket clients while the
// server runs.
func WithEventSource(src EventSource) Option {
	return func(o *startOptions) {
		o.sources = append(o.sources, src)
	}
}

// WithSnapshots reports the last snapshot taken by r on /health.
func WithSnapshots(r handlers.SnapshotReporter) Option {
	return func(o *startOptions) {
		o.snapshots = r
	}
}

// NewHandler builds the routing tree and middleware chain. When svc reports
// changes, the returned hub is subscribed to them; the caller runs and stops it.
func NewHandler(cfg *config.Config, svc handlers.MemoryService, logger *slog.Logger, opts ...Option) (http.Handler, *handlers.WebSocketHub) {
	if logger == nil {
		logger = logging.Default()
	}

	wsHub := handlers.NewWebSocketHub(cfg.Server.AllowedOrigins, logger)
	if n, ok := svc.(changeNotifier); ok {
		n.SetOnChange(wsHub.Publish)
	}

	memoryHandlers := handlers.NewMemoryHandlers(svc, logger)
	if o := applyOptions(opts); o.snapshots != nil {
		memoryHandlers.SetSnapshots(o.snapshots)
	}
	rateLimiter := handlers.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)

	// API routes (require auth unless development mode has no key)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /memories/{$}", memoryHandlers.CreateMemory)
	apiMux.HandleFunc("POST /memories", memoryHandlers.CreateMemory)
	apiMux.HandleFunc("GET /memories/{$}", memoryHandlers.ListMemories)
	apiMux.HandleFunc("GET /memories", memoryHandlers.ListMemories)
	apiMux.HandleFunc("GET /memories/search", memoryHandlers.SearchMemories)
	apiMux.HandleFunc("GET /memories/{id}", memoryHandlers.GetMemory)
	apiMux.HandleFunc("PATCH /memories/{id}", memoryHandlers.UpdateMemory)
	apiMux.HandleFunc("DELETE /memories/{id}", memoryHandlers.DeleteMemory)

	mux := http.NewServeMux()

	// Health endpoint, no auth required
	mux.HandleFunc("GET /health", memoryHandlers.Health)
	// WebSocket endpoint (origin validation instead of the API key)
	mux.Handle("GET /ws", wsHub)
	mux.Handle("/", handlers.RequireAuth(apiMux, cfg))

	// Outermost first: request id, access log, security headers, rate limit.
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = handlers.SecurityHeadersMiddleware(handler)
	handler = handlers.AccessLogMiddleware(handler, logger)
	handler = handlers.RequestIDMiddleware(handler)

	return handler, wsHub
}

// Start listens on cfg.Address() and serves until ctx is cancelled, then
// shuts down gracefully. It returns the actual address being listened on
// (useful for tests with port 0) and a channel that is closed once the
// server has stopped.
func Start(ctx context.Context, cfg *config.Config, svc handlers.MemoryService, logger *slog.Logger, opts ...Option) (string, <-chan struct{}, error) {
	if logger == nil {
		logger = logging.Default()
	}
	o := applyOptions(opts)

	handler, wsHub := NewHandler(cfg, svc, logger, opts...)
	go wsHub.Run()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		wsHub.Stop()
		return "", nil, fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}

	var started []EventSource
	for _, src := range o.sources {
		if err := src.Start(wsHub.Publish); err != nil {
			for _, s := range started {
				s.Stop()
			}
			_ = listener.Close()
			wsHub.Stop()
			return "", nil, fmt.Errorf("failed to start event source: %w", err)
		}
		started = append(started, src)
	}

	actualAddr := listener.Addr().String()
	logger.Info("http server listening", "addr", actualAddr, "security_mode", cfg.Security.Mode)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, src := range started {
			src.Stop()
		}
		wsHub.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		logger.Info("http server stopped")
	}()

	return actualAddr, done, nil
}
