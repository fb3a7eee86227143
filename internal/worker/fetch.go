package worker

import (
	"context"
	"net/http"
	"strings"

	"offline0/internal/fetch"
)

// Intercepts reports whether the worker handles req. Only GET requests over
// http(s) inside the scope, or to a configured CDN host, are intercepted.
// CDN requests only reach a worker through Container.Fetch with an absolute
// URL; their responses are cross-origin and never stored.
func (w *Worker) Intercepts(req *fetch.Request) bool {
	if req == nil || req.URL == nil || req.Method != http.MethodGet {
		return false
	}
	switch strings.ToLower(req.URL.Scheme) {
	case "http", "https":
	default:
		return false
	}
	if fetch.SameOrigin(w.scope, req.URL) {
		p := req.URL.Path
		if p == "" {
			p = "/"
		}
		return strings.HasPrefix(p, w.scope.Path) || p == strings.TrimSuffix(w.scope.Path, "/")
	}
	host := strings.ToLower(req.URL.Host)
	for _, h := range w.cdnHosts {
		if strings.Contains(host, h) {
			return true
		}
	}
	return false
}

// HandleFetch resolves an intercepted request with the worker's strategy.
// It returns ErrNotIntercepted for requests that should go straight to the
// network and ErrNotActive before activation has finished.
func (w *Worker) HandleFetch(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	if w.State() != StateActivated {
		return nil, ErrNotActive
	}
	if !w.Intercepts(req) {
		return nil, ErrNotIntercepted
	}
	resp := w.strategy.Resolve(ctx, w, req.Shared())
	// Cookies set for an anonymous upstream request must not replace the
	// page's own session.
	resp.Header.Del("Set-Cookie")
	w.obs.Fetch(w.strategy.Name(), resp.Source)
	w.obs.ResponseSize(len(resp.Body))
	return resp, nil
}
