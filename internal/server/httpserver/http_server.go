// Package httpserver hosts the routing proxy together with its health and
// metrics endpoints on a single listener.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	derrors "git.home.luguber.info/inful/pagedeploy/internal/foundation/errors"
	smw "git.home.luguber.info/inful/pagedeploy/internal/server/middleware"
	"git.home.luguber.info/inful/pagedeploy/internal/version"
)

// ReservedPrefix holds the server's own endpoints; it never reaches the router.
const ReservedPrefix = "/_pagedeploy/"

// Endpoint paths below ReservedPrefix.
const (
	HealthPath  = ReservedPrefix + "healthz"
	MetricsPath = ReservedPrefix + "metrics"
	ObjectsPath = ReservedPrefix + "objects/"
)

// Options configures the server.
type Options struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string
	// Router serves every path outside ReservedPrefix.
	Router http.Handler
	// Metrics, when set, is exposed at MetricsPath.
	Metrics http.Handler
	// Objects, when set, is exposed below ObjectsPath (local filesystem store).
	Objects http.Handler
	// ReadHeaderTimeout defaults to 10s.
	ReadHeaderTimeout time.Duration
	Logger            *slog.Logger
}

// Server is the proxy's HTTP server.
type Server struct {
	opts    Options
	srv     *http.Server
	handler http.Handler

	mu      sync.Mutex
	ln      net.Listener
	started time.Time
	serveWG sync.WaitGroup
}

// New wires the handler tree.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 10 * time.Second
	}

	s := &Server{opts: opts}
	mux := http.NewServeMux()
	mux.HandleFunc(HealthPath, s.handleHealth)
	if opts.Metrics != nil {
		mux.Handle(MetricsPath, opts.Metrics)
	}
	if opts.Objects != nil {
		mux.Handle(ObjectsPath, http.StripPrefix(ObjectsPath[:len(ObjectsPath)-1], opts.Objects))
	}
	mux.Handle(ReservedPrefix, http.NotFoundHandler())
	if opts.Router != nil {
		mux.Handle("/", opts.Router)
	}

	adapter := derrors.NewHTTPErrorAdapter(opts.Logger)
	s.handler = smw.Chain(opts.Logger, adapter)(mux)
	return s
}

// Handler returns the full handler tree, middleware included.
func (s *Server) Handler() http.Handler { return s.handler }

// Start binds the listen address before serving so bind errors surface
// synchronously, then serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return errors.New("http server already started")
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("http startup failed: %s: %w", s.opts.Addr, err)
	}
	s.ln = ln
	s.started = time.Now()
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.opts.Logger.Handler(), slog.LevelWarn),
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.serveWG.Add(1)
	go func() {
		defer s.serveWG.Done()
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.opts.Logger.Error("Proxy server error", "error", err)
		}
	}()
	s.opts.Logger.Info("Proxy running", slog.String("addr", ln.Addr().String()))
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

// Stop gracefully shuts the server down, waiting for in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	s.serveWG.Wait()
	if err != nil {
		return fmt.Errorf("proxy server shutdown: %w", err)
	}
	s.opts.Logger.Info("Proxy stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	uptime := 0.0
	if !started.IsZero() {
		uptime = time.Since(started).Seconds()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status":"ok","version":%q,"uptime_seconds":%.0f}`, version.Version, uptime)
}
