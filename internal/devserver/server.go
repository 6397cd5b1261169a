package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
)

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. "127.0.0.1:3000". Port 0 picks a free port.
	Addr string
	// Root is the directory served as static content.
	Root string
	// InjectScript adds the reload client to served HTML pages.
	InjectScript bool
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server is the dev-session HTTP server.
type Server struct {
	opts   Options
	hub    *Hub
	logger *slog.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// New returns a server for opts that signals reloads through hub.
func New(opts Options, hub *Hub) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if hub == nil {
		hub = NewHub(nil, opts.Logger)
	}
	return &Server{opts: opts, hub: hub, logger: opts.Logger}
}

// Hub returns the reload hub.
func (s *Server) Hub() *Hub { return s.hub }

// BroadcastReload signals every connected browser. It never blocks on clients.
func (s *Server) BroadcastReload() int { return s.hub.BroadcastReload() }

// Handler returns the routing for the dev session.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/livereload", s.hub.ServeSSE)
	mux.HandleFunc("/livereload/ws", s.hub.ServeWS)
	mux.HandleFunc("/livereload.js", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write([]byte(ClientScript)); err != nil {
			s.logger.Debug("failed to write livereload script", logfields.Error(err))
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics)
	}

	var static http.Handler = noCache(http.FileServer(http.Dir(s.opts.Root)))
	if s.opts.InjectScript {
		static = injectScript(static)
	}
	mux.Handle("/", static)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return ferrors.RuntimeError("dev server already started").Build()
	}
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to bind dev server").
			WithContext("addr", s.opts.Addr).
			UserAction().Build()
	}
	// No read/write timeouts: reload streams are long-lived.
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       300 * time.Second,
	}
	s.srv, s.ln = srv, ln
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Dev server stopped", logfields.Error(err))
		}
	}()
	s.logger.Info("Dev server listening", logfields.Addr("http://"+ln.Addr().String()), logfields.Path(s.opts.Root))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop disconnects live clients and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Shutdown()
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "dev server shutdown").Build()
	}
	return nil
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
