package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/pagedeploy/internal/metrics"
)

// CacheOptions configures a CachingResolver.
type CacheOptions struct {
	// TTL bounds how long a found project is served from cache.
	TTL time.Duration
	// NegativeTTL bounds how long an unknown slug is remembered; zero disables negative caching.
	NegativeTTL time.Duration
	Recorder    metrics.Recorder
	Now         func() time.Time
}

// CachingResolver serves lookups from a TTL cache in front of another
// Resolver. Lookup errors other than ErrNotFound are never cached.
type CachingResolver struct {
	next     Resolver
	opts     CacheOptions
	found    *TTLCache[string, Project]
	notFound *TTLCache[string, struct{}]
}

// NewCachingResolver wraps next.
func NewCachingResolver(next Resolver, opts CacheOptions) *CachingResolver {
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	return &CachingResolver{
		next:     next,
		opts:     opts,
		found:    NewTTLCache[string, Project](opts.Now),
		notFound: NewTTLCache[string, struct{}](opts.Now),
	}
}

// Resolve returns the cached project for slug or asks the wrapped resolver.
func (c *CachingResolver) Resolve(ctx context.Context, slug string) (*Project, error) {
	if p, ok := c.found.Get(slug); ok {
		c.opts.Recorder.IncTenantLookup(metrics.LookupHit)
		return &p, nil
	}
	if _, ok := c.notFound.Get(slug); ok {
		c.opts.Recorder.IncTenantLookup(metrics.LookupNotFound)
		return nil, ErrNotFound
	}

	p, err := c.next.Resolve(ctx, slug)
	switch {
	case err == nil:
		c.opts.Recorder.IncTenantLookup(metrics.LookupMiss)
		c.found.Set(slug, *p, c.opts.TTL)
		return p, nil
	case errors.Is(err, ErrNotFound):
		c.opts.Recorder.IncTenantLookup(metrics.LookupNotFound)
		c.notFound.Set(slug, struct{}{}, c.opts.NegativeTTL)
		return nil, err
	default:
		c.opts.Recorder.IncTenantLookup(metrics.LookupError)
		return nil, err
	}
}

// Invalidate drops any cached answer for slug.
func (c *CachingResolver) Invalidate(slug string) {
	c.found.Delete(slug)
	c.notFound.Delete(slug)
}

// InvalidateAll drops every cached answer.
func (c *CachingResolver) InvalidateAll() {
	c.found.Clear()
	c.notFound.Clear()
}

// Purge removes expired entries and returns how many were dropped.
func (c *CachingResolver) Purge() int {
	return c.found.Purge() + c.notFound.Purge()
}

// PurgeScheduler runs CachingResolver.Purge periodically on a gocron scheduler.
type PurgeScheduler struct {
	scheduler gocron.Scheduler
	cache     *CachingResolver
}

// NewPurgeScheduler schedules a purge of cache every interval. Call Start to begin.
func NewPurgeScheduler(cache *CachingResolver, interval time.Duration) (*PurgeScheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("purge interval must be positive, got %s", interval)
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	ps := &PurgeScheduler{scheduler: s, cache: cache}

	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(ps.purge),
		gocron.WithName("tenant-cache-purge"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create purge job: %w", err)
	}
	return ps, nil
}

// Start begins the scheduler.
func (p *PurgeScheduler) Start() {
	slog.Debug("Starting tenant cache purge scheduler")
	p.scheduler.Start()
}

// Stop shuts the scheduler down and waits for a running purge.
func (p *PurgeScheduler) Stop() error {
	return p.scheduler.Shutdown()
}

func (p *PurgeScheduler) purge() {
	if n := p.cache.Purge(); n > 0 {
		slog.Debug("Purged expired tenant cache entries", slog.Int("entries", n))
	}
}
