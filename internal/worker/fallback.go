package worker

import (
	"context"
	"net/http"

	"offline0/internal/cache"
	"offline0/internal/fetch"
)

const (
	offlineHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width,initial-scale=1"><title>Offline</title></head>
<body><h1>You are offline</h1><p>This page is not available offline. Reconnect and try again.</p></body>
</html>
`
	offlineCSS    = "/* offline, resource unavailable */\n"
	offlineScript = "console.warn(\"offline, resource unavailable\");\n"
	offlineText   = "offline, resource unavailable"
)

// Fallback builds the offline response for a request that neither the
// network nor the cache could serve. The result depends only on the
// request's destination.
func (w *Worker) Fallback(ctx context.Context, req *fetch.Request) *fetch.Response {
	dest := req.Destination
	if req.IsNavigation() {
		dest = fetch.DestinationDocument
	}
	w.obs.Fallback(dest)

	switch dest {
	case fetch.DestinationDocument:
		if resp, ok := w.matchPath(ctx, w.opts.OfflinePage); ok {
			resp.Source = fetch.SourceFallback
			return resp
		}
		return synthetic(req, "text/html; charset=utf-8", offlineHTML)
	case fetch.DestinationImage:
		if resp, ok := w.matchPath(ctx, w.opts.PlaceholderImage); ok {
			resp.Source = fetch.SourceFallback
			return resp
		}
		return synthetic(req, "image/svg+xml", "")
	case fetch.DestinationStyle:
		return synthetic(req, "text/css; charset=utf-8", offlineCSS)
	case fetch.DestinationScript:
		return synthetic(req, "application/javascript", offlineScript)
	default:
		return synthetic(req, "text/plain; charset=utf-8", offlineText)
	}
}

func synthetic(req *fetch.Request, contentType, body string) *fetch.Response {
	h := make(http.Header)
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-store")
	h.Set("X-Offline0", "fallback")
	return &fetch.Response{
		URL:    req.URL.String(),
		Status: http.StatusServiceUnavailable,
		Header: h,
		Body:   []byte(body),
		Type:   cache.TypeBasic,
		Source: fetch.SourceFallback,
	}
}
