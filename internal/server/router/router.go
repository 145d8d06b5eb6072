// Package router forwards inbound requests to the artifact prefix of the
// project named by the request's slug.
//
// For a request /{slug}/{rest...} the slug is resolved to a project and the
// request is streamed to {BasePath}{project.ID}/{rest...}. /{slug} and
// /{slug}/ map to index.html. When a root domain is configured, a request to
// {slug}.{root domain} takes the slug from the host instead and keeps its path.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/idna"

	derrors "git.home.luguber.info/inful/pagedeploy/internal/foundation/errors"
	"git.home.luguber.info/inful/pagedeploy/internal/logfields"
	"git.home.luguber.info/inful/pagedeploy/internal/metrics"
	"git.home.luguber.info/inful/pagedeploy/internal/observability"
	"git.home.luguber.info/inful/pagedeploy/internal/tenant"
)

// Client-facing messages.
const (
	MsgSlugMissing   = "Project slug missing"
	MsgNotFound      = "Project not found"
	MsgProxyError    = "Proxy Error"
	MsgInternalError = "Internal Server Error"
)

// IndexPath replaces an empty rewritten path.
const IndexPath = "/index.html"

// Options configures a Router.
type Options struct {
	// BasePath is prepended verbatim to the project id to form the upstream base.
	BasePath string
	// RootDomain enables host-based slugs when set (e.g. "sites.example.com").
	RootDomain string
	// UpstreamTimeout bounds the wait for upstream response headers; zero means none.
	UpstreamTimeout time.Duration
	// Transport overrides the upstream transport (tests).
	Transport http.RoundTripper
	Recorder  metrics.Recorder
	Logger    *slog.Logger
}

// ProxyRequest is the per-request routing decision.
type ProxyRequest struct {
	RawPath       string
	Slug          string
	RewrittenPath string
	TargetBase    string
	target        *url.URL
}

type proxyRequestKey struct{}

// Router is an http.Handler. It is safe for concurrent use.
type Router struct {
	resolver   tenant.Resolver
	basePath   string
	rootDomain string
	proxy      *httputil.ReverseProxy
	errAdapter *derrors.HTTPErrorAdapter
	rec        metrics.Recorder
	logger     *slog.Logger
}

// New creates a router over resolver.
func New(resolver tenant.Resolver, opts Options) (*Router, error) {
	if opts.BasePath == "" {
		return nil, errors.New("router: base path required")
	}
	if _, err := url.Parse(opts.BasePath); err != nil {
		return nil, fmt.Errorf("router: invalid base path: %w", err)
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	rt := &Router{
		resolver:   resolver,
		basePath:   opts.BasePath,
		errAdapter: derrors.NewHTTPErrorAdapter(opts.Logger),
		rec:        opts.Recorder,
		logger:     opts.Logger,
	}
	if opts.RootDomain != "" {
		root, err := idna.Lookup.ToASCII(strings.TrimSuffix(opts.RootDomain, "."))
		if err != nil {
			return nil, fmt.Errorf("router: invalid root domain: %w", err)
		}
		rt.rootDomain = root
	}

	transport := opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = opts.UpstreamTimeout
		transport = t
	}
	rt.proxy = &httputil.ReverseProxy{
		Rewrite:       rt.rewrite,
		Transport:     transport,
		FlushInterval: -1,
		ErrorHandler:  rt.proxyError,
		ErrorLog:      slog.NewLogLogger(opts.Logger.Handler(), slog.LevelWarn),
	}
	return rt, nil
}

// ExtractSlug returns the first non-empty segment of an escaped request path.
func ExtractSlug(escapedPath string) (string, bool) {
	for _, seg := range strings.Split(escapedPath, "/") {
		if seg != "" {
			return seg, true
		}
	}
	return "", false
}

// RewritePath removes the first "/slug" from escapedPath and maps an empty
// result or "/" to IndexPath.
func RewritePath(escapedPath, slug string) string {
	out := strings.Replace(escapedPath, "/"+slug, "", 1)
	if out == "" || out == "/" {
		return IndexPath
	}
	return out
}

// SlugFromHost returns the single DNS label preceding the root domain.
func (rt *Router) SlugFromHost(hostport string) (string, bool) {
	if rt.rootDomain == "" {
		return "", false
	}
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host, err := idna.Lookup.ToASCII(strings.TrimSuffix(host, "."))
	if err != nil {
		return "", false
	}
	label, ok := strings.CutSuffix(host, "."+rt.rootDomain)
	if !ok || label == "" || strings.Contains(label, ".") {
		return "", false
	}
	return label, true
}

// Route computes the routing decision for req without resolving the slug's target.
func (rt *Router) Route(req *http.Request) (*ProxyRequest, error) {
	raw := req.URL.EscapedPath()
	pr := &ProxyRequest{RawPath: raw}

	if slug, ok := rt.SlugFromHost(req.Host); ok {
		pr.Slug = slug
		pr.RewrittenPath = raw
		if raw == "" || raw == "/" {
			pr.RewrittenPath = IndexPath
		}
		return pr, nil
	}

	slug, ok := ExtractSlug(raw)
	if !ok {
		return nil, derrors.ValidationError(MsgSlugMissing).WithCode(derrors.CodeRouterBadRequest).Build()
	}
	pr.Slug = slug
	pr.RewrittenPath = RewritePath(raw, slug)
	return pr, nil
}

// ServeHTTP resolves the slug and streams the upstream response.
func (rt *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	defer func() { rt.rec.ObserveProxyRequest(sw.status, time.Since(start)) }()

	pr, err := rt.Route(req)
	if err != nil {
		rt.errAdapter.WriteErrorResponse(sw, req, err)
		return
	}

	if err := rt.resolve(req.Context(), pr); err != nil {
		rt.errAdapter.WriteErrorResponse(sw, req, err)
		return
	}

	ctx := observability.WithSlug(req.Context(), pr.Slug)
	rt.logger.DebugContext(ctx, "Proxying request", logfields.Target(pr.TargetBase+pr.RewrittenPath))
	ctx = context.WithValue(ctx, proxyRequestKey{}, pr)
	rt.proxy.ServeHTTP(sw, req.WithContext(ctx))
}

func (rt *Router) resolve(ctx context.Context, pr *ProxyRequest) error {
	lookup, err := url.PathUnescape(pr.Slug)
	if err != nil {
		return derrors.ValidationError(MsgSlugMissing).WithCode(derrors.CodeRouterBadRequest).WithCause(err).Build()
	}
	project, err := rt.resolver.Resolve(ctx, lookup)
	if errors.Is(err, tenant.ErrNotFound) {
		return derrors.NotFoundError(MsgNotFound).
			WithCode(derrors.CodeRouterNotFound).
			WithSeverity(derrors.SeverityInfo).
			WithContext("slug", lookup).
			Build()
	}
	if err != nil {
		return derrors.InternalError(MsgInternalError).WithCause(err).Build()
	}

	pr.TargetBase = rt.basePath + project.ID
	target, err := url.Parse(pr.TargetBase)
	if err == nil && target.Host == "" {
		err = errors.New("missing host")
	}
	if err != nil {
		return derrors.InternalError(MsgInternalError).
			WithCause(fmt.Errorf("invalid upstream %q: %w", pr.TargetBase, err)).
			Build()
	}
	pr.target = target
	return nil
}

func (rt *Router) rewrite(p *httputil.ProxyRequest) {
	pr, _ := p.In.Context().Value(proxyRequestKey{}).(*ProxyRequest)
	if pr == nil || pr.target == nil {
		return
	}

	escaped := strings.TrimSuffix(pr.target.EscapedPath(), "/") + pr.RewrittenPath
	p.Out.URL.Scheme = pr.target.Scheme
	p.Out.URL.Host = pr.target.Host
	if u, err := url.Parse(escaped); err == nil {
		p.Out.URL.Path = u.Path
		p.Out.URL.RawPath = u.RawPath
	} else {
		p.Out.URL.Path = escaped
		p.Out.URL.RawPath = ""
	}
	// The query string is kept as received.
	p.Out.URL.RawQuery = p.In.URL.RawQuery
	p.Out.Host = pr.target.Host
	p.SetXForwarded()
}

func (rt *Router) proxyError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, context.Canceled) && req.Context().Err() != nil {
		rt.logger.Debug("Client went away during proxying", logfields.Path(req.URL.Path))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	b := derrors.ProxyError(MsgProxyError).WithCause(err)
	if pr, ok := req.Context().Value(proxyRequestKey{}).(*ProxyRequest); ok {
		b = b.WithContext("slug", pr.Slug)
		rt.logger.WarnContext(req.Context(), "Upstream request failed",
			logfields.Target(pr.TargetBase+pr.RewrittenPath),
			logfields.Error(err))
	}
	rt.errAdapter.WriteErrorResponse(w, req, b.Build())
}

// statusWriter records the status written by the proxy or the error path.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying Flusher.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
