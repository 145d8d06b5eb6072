package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/pagedeploy/internal/config"
	derrors "git.home.luguber.info/inful/pagedeploy/internal/foundation/errors"
	"git.home.luguber.info/inful/pagedeploy/internal/logfields"
	"git.home.luguber.info/inful/pagedeploy/internal/metrics"
	"git.home.luguber.info/inful/pagedeploy/internal/server/httpserver"
	"git.home.luguber.info/inful/pagedeploy/internal/server/router"
	"git.home.luguber.info/inful/pagedeploy/internal/storage"
	"git.home.luguber.info/inful/pagedeploy/internal/tenant"
)

const proxyShutdownTimeout = 30 * time.Second

// ProxyCmd implements the 'proxy' command.
type ProxyCmd struct {
	Port int `short:"p" help:"Override router.port / PORT"`
}

func (p *ProxyCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if p.Port != 0 {
		cfg.Router.Port = p.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunProxy(ctx, cfg, g.Logger)
}

// RunProxy serves until ctx is canceled, then shuts down gracefully.
func RunProxy(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	svc, err := newProxyService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		_ = svc.Stop(context.Background())
		return err
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping proxy...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), proxyShutdownTimeout)
	defer stopCancel()
	return svc.Stop(stopCtx)
}

// proxyService owns everything the proxy runs: project store, lookup cache,
// purge scheduler and HTTP server.
type proxyService struct {
	logger    *slog.Logger
	store     projectStore
	files     *tenant.FileStore
	scheduler *tenant.PurgeScheduler
	server    *httpserver.Server
}

func newProxyService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*proxyService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.ValidateRouter(cfg); err != nil {
		return nil, err
	}
	rc := cfg.Router

	store, err := openProjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc := &proxyService{logger: logger, store: store}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewPrometheusRecorder(reg)

	cache := tenant.NewCachingResolver(store, tenant.CacheOptions{
		TTL:         config.Duration(rc.CacheTTL, config.DefaultCacheTTL),
		NegativeTTL: config.Duration(rc.NegativeCacheTTL, config.DefaultNegativeCacheTTL),
		Recorder:    rec,
	})
	if fs, ok := store.(*tenant.FileStore); ok {
		svc.files = fs
		fs.OnReload(cache.InvalidateAll)
	}

	svc.scheduler, err = tenant.NewPurgeScheduler(cache, config.Duration(rc.CachePurgeInterval, config.DefaultPurgeInterval))
	if err != nil {
		_ = store.Close()
		return nil, derrors.InternalError("could not create cache purge scheduler").WithCause(err).Build()
	}

	rt, err := router.New(cache, router.Options{
		BasePath:        rc.BasePath,
		RootDomain:      rc.RootDomain,
		UpstreamTimeout: config.Duration(rc.UpstreamTimeout, config.DefaultUpstreamTimeout),
		Recorder:        rec,
		Logger:          logger,
	})
	if err != nil {
		_ = svc.scheduler.Stop()
		_ = store.Close()
		return nil, err
	}

	opts := httpserver.Options{
		Addr:    net.JoinHostPort("", strconv.Itoa(rc.Port)),
		Router:  rt,
		Metrics: metrics.HTTPHandler(reg),
		Logger:  logger,
	}
	if rc.ObjectsDir != "" {
		objects, err := storage.NewFSStore(rc.ObjectsDir)
		if err != nil {
			_ = svc.scheduler.Stop()
			_ = store.Close()
			return nil, derrors.ConfigError("could not open objects directory").
				WithCause(err).
				WithContext("objects_dir", rc.ObjectsDir).
				Build()
		}
		opts.Objects = objects
	}
	svc.server = httpserver.New(opts)
	return svc, nil
}

// Start begins watching the projects file (when used), the purge schedule and
// the listener.
func (s *proxyService) Start(ctx context.Context) error {
	if s.files != nil {
		if err := s.files.Watch(ctx); err != nil {
			return fmt.Errorf("watch projects file: %w", err)
		}
	}
	s.scheduler.Start()
	return s.server.Start(ctx)
}

// Addr returns the bound listen address.
func (s *proxyService) Addr() string { return s.server.Addr() }

// Stop drains the server, then releases the scheduler and the store.
func (s *proxyService) Stop(ctx context.Context) error {
	var errs []error
	if err := s.server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.scheduler.Stop(); err != nil {
		s.logger.Warn("Failed to stop purge scheduler", logfields.Error(err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close project store: %w", err))
	}
	return errors.Join(errs...)
}
