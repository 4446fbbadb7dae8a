package proxy

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/i2y/apicomposer/internal/adapter/outbound/openapi"
	"github.com/i2y/apicomposer/internal/domain"
	"github.com/i2y/apicomposer/internal/metric"
	"github.com/i2y/apicomposer/internal/usecase"
)

// Dispatcher routes inbound requests to the upstream owning them: per-operation routes
// for composed OpenAPI paths, and raw prefix mounts for proxied services.
type Dispatcher struct {
	services  []domain.ServiceDescriptor
	transport http.RoundTripper
	hooks     usecase.SpanHooks
	metrics   *metric.Metrics
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil transport uses http.DefaultTransport;
// metrics may be nil.
func NewDispatcher(
	services []domain.ServiceDescriptor,
	transport http.RoundTripper,
	hooks usecase.SpanHooks,
	metrics *metric.Metrics,
	logger *slog.Logger,
) *Dispatcher {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Dispatcher{
		services:  services,
		transport: transport,
		hooks:     hooks,
		metrics:   metrics,
		logger:    logger.With("component", "proxy_dispatcher"),
	}
}

// mount is one raw proxy mount.
type mount struct {
	service  domain.ServiceDescriptor
	prefix   string
	hostname string
	policy   domain.ProxyFacet
}

// AddTo registers the dispatcher routes on r. doc is nil when the OpenAPI composition
// failed; OpenAPI services are then reachable through raw mounts only.
// Routes registered on r before AddTo take precedence. AddTo switches r to matching on
// the escaped path so encoded slashes stay inside one segment.
func (d *Dispatcher) AddTo(r *mux.Router, doc *domain.ComposedDocument) error {
	r.UseEncodedPath()
	if doc != nil {
		if err := d.addOperationRoutes(r, doc); err != nil {
			return err
		}
	}

	mounts, err := d.mounts(doc == nil)
	if err != nil {
		return err
	}
	var claimed []string
	for _, m := range mounts {
		if m.hostname != "" {
			claimed = append(claimed, m.hostname)
		}
	}
	for _, m := range mounts {
		route := r.MatcherFunc(underMount(m.prefix))
		if m.hostname != "" {
			route = route.MatcherFunc(hostIs(m.hostname))
		} else if len(claimed) > 0 {
			route = route.MatcherFunc(hostNotIn(claimed))
		}
		route.Handler(d.mountHandler(m))
		d.logger.Info("Proxy mount registered",
			slog.String("service", m.service.ID),
			slog.String("prefix", m.prefix),
			slog.String("hostname", m.hostname),
		)
	}

	r.NotFoundHandler = d.notFoundHandler(mounts)
	return nil
}

func (d *Dispatcher) addOperationRoutes(r *mux.Router, doc *domain.ComposedDocument) error {
	paths := make([]string, 0, len(doc.Routes))
	for path := range doc.Routes {
		paths = append(paths, path)
	}
	// literal segments win over templated ones: register fewer parameters first
	sort.Slice(paths, func(i, j int) bool {
		pi, pj := strings.Count(paths[i], "{"), strings.Count(paths[j], "{")
		if pi != pj {
			return pi < pj
		}
		return paths[i] < paths[j]
	})

	for _, path := range paths {
		route := doc.Routes[path]
		origin, err := parseOrigin(route.Origin)
		if err != nil {
			return fmt.Errorf("route %s of service %s: %w", path, route.ServiceID, err)
		}
		rewrite, err := openapi.NewPathRewriter(route.Prefix, route.OriginalPath, route.Alias)
		if err != nil {
			return fmt.Errorf("route %s of service %s: %w", path, route.ServiceID, err)
		}
		for method, op := range route.Operations {
			t := target{
				service: route.ServiceID,
				origin:  origin,
				path:    rewrite,
				rename:  op.Rename,
				status:  op.RenameStatus,
			}
			r.Methods(method).Path(path).Handler(d.forward(t))
		}
		d.logger.Debug("OpenAPI route registered",
			slog.String("service", route.ServiceID),
			slog.String("path", path),
			slog.Bool("hidden", route.Hidden),
		)
	}
	return nil
}

// mounts lists the raw mounts, longest prefix first. With fallback set, OpenAPI services
// that are not proxied get a mount at their OpenAPI prefix.
func (d *Dispatcher) mounts(fallback bool) ([]mount, error) {
	var mounts []mount
	seen := make(map[string]string)
	for _, s := range d.services {
		var m mount
		switch {
		case s.Proxied():
			m = mount{service: s, prefix: s.MountPrefix(), hostname: s.Hostname()}
			if s.Proxy != nil {
				m.policy = *s.Proxy
			}
		case fallback && s.OpenAPI != nil:
			prefix := domain.NormalizePrefix(s.OpenAPI.Prefix)
			if prefix == "" {
				prefix = "/" + s.ID
			}
			m = mount{service: s, prefix: prefix}
			d.logger.Warn("OpenAPI composition unavailable, falling back to proxy mount",
				slog.String("service", s.ID), slog.String("prefix", prefix))
		default:
			continue
		}
		key := m.hostname + " " + m.prefix
		if other, ok := seen[key]; ok {
			return nil, fmt.Errorf("services %s and %s share the proxy mount %s", other, s.ID, m.prefix)
		}
		seen[key] = s.ID
		mounts = append(mounts, m)
	}
	sort.SliceStable(mounts, func(i, j int) bool {
		return len(mounts[i].prefix) > len(mounts[j].prefix)
	})
	return mounts, nil
}

func (d *Dispatcher) mountHandler(m mount) http.Handler {
	origin, err := parseOrigin(m.service.Origin)
	if err != nil {
		d.logger.Error("Invalid service origin, mount answers 502",
			slog.String("service", m.service.ID), slog.Any("error", err))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusBadGateway, err)
		})
	}
	escapedPrefix := (&url.URL{Path: m.prefix}).EscapedPath()
	return d.forward(target{
		service: m.service.ID,
		origin:  origin,
		path: func(path string) string {
			rest := strings.TrimPrefix(path, escapedPrefix)
			if rest == "" && m.policy.TrailingSlash {
				return "/"
			}
			return rest
		},
		mountPrefix: m.prefix,
		policy:      m.policy,
	})
}

func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid origin %q: scheme and host are required", raw)
	}
	return u, nil
}

// underMount matches paths equal to prefix or below it, on a segment boundary.
func underMount(prefix string) mux.MatcherFunc {
	return func(r *http.Request, _ *mux.RouteMatch) bool {
		return hasPathPrefix(r.URL.Path, prefix)
	}
}

func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func hostIs(hostname string) mux.MatcherFunc {
	return func(r *http.Request, _ *mux.RouteMatch) bool {
		return strings.EqualFold(requestHost(r), hostname)
	}
}

func hostNotIn(hostnames []string) mux.MatcherFunc {
	return func(r *http.Request, _ *mux.RouteMatch) bool {
		host := requestHost(r)
		for _, h := range hostnames {
			if strings.EqualFold(host, h) {
				return false
			}
		}
		return true
	}
}

func requestHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		return r.Host
	}
	return host
}
