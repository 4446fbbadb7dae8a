package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/i2y/apicomposer/internal/adapter/outbound/openapi"
	"github.com/i2y/apicomposer/internal/domain"
)

// RequestIDHeader is set on forwarded requests that do not carry one.
const RequestIDHeader = "X-Request-Id"

// target describes where a route forwards to.
type target struct {
	service string
	origin  *url.URL
	// path maps the inbound path to the path below origin.
	path func(string) string

	// per-operation response rename
	rename *domain.RenameSpec
	status int

	// raw mount policies
	mountPrefix string
	policy      domain.ProxyFacet
}

// exchange is the per-request state shared by the proxy callbacks.
type exchange struct {
	target  target
	outURL  *url.URL
	span    trace.Span
	header  http.Header
	started time.Time
}

type exchangeKey struct{}

func exchangeFrom(ctx context.Context) *exchange {
	ex, _ := ctx.Value(exchangeKey{}).(*exchange)
	return ex
}

func (d *Dispatcher) forward(t target) http.Handler {
	rp := &httputil.ReverseProxy{
		Transport:      d.transport,
		Rewrite:        d.rewrite,
		ModifyResponse: d.modifyResponse,
		ErrorHandler:   d.handleError,
		FlushInterval:  -1,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Work on the escaped form so %2F inside a segment reaches the upstream unchanged.
		out := *t.origin
		out.RawPath = joinPath(t.origin.EscapedPath(), t.path(r.URL.EscapedPath()))
		path, err := url.PathUnescape(out.RawPath)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request path: %w", err))
			return
		}
		out.Path = path
		out.RawQuery = r.URL.RawQuery

		ctx := r.Context()
		ex := &exchange{target: t, outURL: &out, started: time.Now()}
		if d.hooks != nil {
			ctx = d.hooks.Extract(ctx, r.Header)
			ctx, ex.span, ex.header = d.hooks.StartClientSpan(ctx, out.String(), r.Method)
		}
		ctx = context.WithValue(ctx, exchangeKey{}, ex)
		rp.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (d *Dispatcher) rewrite(pr *httputil.ProxyRequest) {
	ex := exchangeFrom(pr.In.Context())
	pr.Out.URL = ex.outURL
	pr.Out.Host = ""
	pr.SetXForwarded()
	if pr.Out.Header.Get(RequestIDHeader) == "" {
		pr.Out.Header.Set(RequestIDHeader, uuid.NewString())
	}
	for k, v := range ex.header {
		pr.Out.Header[k] = v
	}
}

func (d *Dispatcher) modifyResponse(resp *http.Response) error {
	ex := exchangeFrom(resp.Request.Context())
	if ex == nil {
		return nil
	}
	if ex.target.policy.RewriteLocation {
		if loc := resp.Header.Get("Location"); loc != "" {
			resp.Header.Set("Location", rewriteLocation(loc, ex.target))
		}
	}
	if ex.target.rename != nil && resp.StatusCode == ex.target.status {
		if err := renameBody(resp, ex.target.rename); err != nil {
			d.logger.Warn("Response rename skipped",
				slog.String("service", ex.target.service),
				slog.Any("error", err),
			)
		}
	}
	if d.hooks != nil {
		d.hooks.EndClientSpan(ex.span, resp.StatusCode, nil)
	}
	d.metrics.RecordProxyResponse(ex.target.service, resp.Request.Method, resp.StatusCode, time.Since(ex.started))
	return nil
}

func (d *Dispatcher) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	kind := "upstream"
	if isTimeout(err) {
		status = http.StatusGatewayTimeout
		kind = "timeout"
	}
	ex := exchangeFrom(r.Context())
	service := ""
	if ex != nil {
		service = ex.target.service
		if d.hooks != nil {
			d.hooks.EndClientSpan(ex.span, 0, err)
		}
	}
	d.logger.Error("Proxy request failed",
		slog.String("service", service),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Any("error", err),
	)
	d.metrics.RecordProxyError(service, kind)
	writeError(w, status, err)
}

// ErrorBody is the JSON reply sent when the upstream could not be reached.
type ErrorBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    err.Error(),
	})
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// rewriteLocation strips the upstream origin from an absolute Location and swaps the
// prefix the upstream believes it is mounted under for the public mount prefix.
func rewriteLocation(loc string, t target) string {
	loc = stripOrigin(loc, t.origin)
	internal := domain.NormalizePrefix(t.policy.InternalRewritePrefix)
	if internal != "" && hasPathPrefix(loc, internal) {
		return t.mountPrefix + strings.TrimPrefix(loc, internal)
	}
	if internal != "" && (strings.HasPrefix(loc, internal+"?") || strings.HasPrefix(loc, internal+"#")) {
		return t.mountPrefix + strings.TrimPrefix(loc, internal)
	}
	return loc
}

// stripOrigin turns an absolute URL on origin into an absolute path. Any other
// location, including one on the same host but outside the origin base path, is kept.
func stripOrigin(loc string, origin *url.URL) string {
	u, err := url.Parse(loc)
	if err != nil || !u.IsAbs() {
		return loc
	}
	if !strings.EqualFold(u.Scheme, origin.Scheme) || !strings.EqualFold(u.Host, origin.Host) {
		return loc
	}
	base := strings.TrimRight(origin.EscapedPath(), "/")
	path := u.EscapedPath()
	if base != "" && !hasPathPrefix(path, base) {
		return loc
	}
	path = strings.TrimPrefix(path, base)
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		path += "#" + u.EscapedFragment()
	}
	return path
}

func renameBody(resp *http.Response, spec *domain.RenameSpec) error {
	if resp.Header.Get("Content-Encoding") != "" {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		return err
	}
	out, renamed, err := openapi.RenameResponseBody(resp.Header.Get("Content-Type"), body, spec)
	if !renamed {
		out = body
	}
	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	return err
}

func joinPath(base, path string) string {
	switch {
	case base == "" || base == "/":
		return path
	case path == "":
		return base
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base + path[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/"):
		return base + "/" + path
	default:
		return base + path
	}
}
