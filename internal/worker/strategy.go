package worker

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"offline0/internal/browser"
	"offline0/internal/fetch"
)

// Strategy resolves an intercepted request. Resolve always yields a
// response: network, cache or a typed fallback.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, w *Worker, req *fetch.Request) *fetch.Response
}

// Select picks the strategy for a browser profile.
func Select(p browser.Profile) Strategy {
	switch p.Class {
	case browser.ClassConstrained:
		return NetworkFirst{}
	case browser.ClassVendorOptimized:
		return Hybrid{}
	case browser.ClassInApp:
		return RetryThenFallback{Retries: 1}
	default:
		return CacheFirst{}
	}
}

// CacheFirst serves from cache and only goes to the network on a miss.
type CacheFirst struct{}

func (CacheFirst) Name() string { return "cache-first" }

func (CacheFirst) Resolve(ctx context.Context, w *Worker, req *fetch.Request) *fetch.Response {
	if resp, ok := w.match(ctx, req); ok {
		return resp
	}
	resp, err := w.fetchNetwork(ctx, req)
	if err != nil {
		return w.Fallback(ctx, req)
	}
	w.store(ctx, req, resp)
	return resp
}

// NetworkFirst always tries the network, then the cache, then a fallback.
type NetworkFirst struct{}

func (NetworkFirst) Name() string { return "network-first" }

func (NetworkFirst) Resolve(ctx context.Context, w *Worker, req *fetch.Request) *fetch.Response {
	resp, err := w.fetchNetwork(ctx, req)
	if err == nil {
		w.store(ctx, req, resp)
		return resp
	}
	return cacheOrFallback(ctx, w, req)
}

// Hybrid serves manifest assets from cache and refreshes them in the
// background; everything else is network-first.
type Hybrid struct{}

func (Hybrid) Name() string { return "hybrid" }

func (Hybrid) Resolve(ctx context.Context, w *Worker, req *fetch.Request) *fetch.Response {
	key, err := req.Key()
	if err != nil {
		return NetworkFirst{}.Resolve(ctx, w, req)
	}
	if _, ok := w.manifestKeys[key]; !ok {
		return NetworkFirst{}.Resolve(ctx, w, req)
	}
	if resp, ok := w.matchKey(ctx, key); ok {
		w.refreshAsync(req)
		return resp
	}
	return CacheFirst{}.Resolve(ctx, w, req)
}

// RetryThenFallback retries the network Retries more times, with no delay,
// before falling back to cache and then a typed fallback.
type RetryThenFallback struct {
	Retries int
}

func (RetryThenFallback) Name() string { return "retry-then-fallback" }

func (s RetryThenFallback) Resolve(ctx context.Context, w *Worker, req *fetch.Request) *fetch.Response {
	for attempt := 0; attempt <= s.Retries; attempt++ {
		resp, err := w.fetchNetwork(ctx, req)
		if err == nil {
			w.store(ctx, req, resp)
			return resp
		}
		if ctx.Err() != nil {
			break
		}
	}
	return cacheOrFallback(ctx, w, req)
}

func cacheOrFallback(ctx context.Context, w *Worker, req *fetch.Request) *fetch.Response {
	if resp, ok := w.match(ctx, req); ok {
		return resp
	}
	return w.Fallback(ctx, req)
}

// refreshAsync updates a cached manifest asset without blocking the caller.
// Each URL is refreshed at most once per RefreshMinInterval.
func (w *Worker) refreshAsync(req *fetch.Request) {
	key, err := req.Key()
	if err != nil {
		return
	}
	if w.refreshed != nil {
		if err := w.refreshed.Add(string(key), struct{}{}, w.opts.RefreshMinInterval); err != nil {
			return
		}
	}

	bg := fetch.NewRequest(req.URL)
	bg.Mode = req.Mode
	bg.Destination = req.Destination
	started := w.goBackground("refresh", func(ctx context.Context) {
		resp, err := w.fetchNetwork(ctx, bg)
		if err != nil || !resp.Cacheable() {
			return
		}
		if cur, ok := w.matchKey(ctx, key); ok && sameBody(cur, resp) {
			return
		}
		if err := w.Put(ctx, bg, resp); err != nil {
			w.log.Debug("background refresh not stored", zap.String("url", bg.URL.String()), zap.Error(err))
		}
	})
	if !started && w.refreshed != nil {
		w.refreshed.Delete(string(key))
	}
}

func sameBody(a, b *fetch.Response) bool {
	return a.Status == b.Status && bytes.Equal(a.Body, b.Body)
}
