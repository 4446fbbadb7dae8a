package proxy

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
)

// notFoundHandler answers requests no route matched. A request whose Referer points into
// a mount with the referer policy is redirected (308) under that mount's prefix: browser
// apps served from a mount often request assets without the external prefix.
func (d *Dispatcher) notFoundHandler(mounts []mount) http.Handler {
	var candidates []mount
	for _, m := range mounts {
		if m.policy.RefererRedirect {
			candidates = append(candidates, m)
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if location, ok := refererRedirect(r, candidates); ok {
			d.logger.Debug("Redirecting request under referer mount",
				slog.String("path", r.URL.Path),
				slog.String("location", location),
			)
			http.Redirect(w, r, location, http.StatusPermanentRedirect)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ErrorBody{
			StatusCode: http.StatusNotFound,
			Error:      http.StatusText(http.StatusNotFound),
			Message:    "Route " + r.Method + ":" + r.URL.Path + " not found",
		})
	})
}

func refererRedirect(r *http.Request, candidates []mount) (string, bool) {
	raw := r.Header.Get("Referer")
	if raw == "" || len(candidates) == 0 {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	for _, m := range candidates {
		if m.hostname != "" && !hostIs(m.hostname)(r, nil) {
			continue
		}
		if !hasPathPrefix(ref.Path, m.prefix) || hasPathPrefix(r.URL.Path, m.prefix) {
			continue
		}
		location := m.prefix + r.URL.Path
		if r.URL.RawQuery != "" {
			location += "?" + r.URL.RawQuery
		}
		return location, true
	}
	return "", false
}
