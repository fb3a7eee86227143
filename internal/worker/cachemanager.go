package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"offline0/internal/cache"
	"offline0/internal/fetch"
)

// InstallReport lists which manifest assets made it into the bucket.
type InstallReport struct {
	Cached []string
	Failed []string
}

// Install opens the current bucket and stores every manifest asset. A
// failing asset is logged and skipped; only unusable storage fails the
// install.
func (w *Worker) Install(ctx context.Context) (InstallReport, error) {
	w.setState(StateInstalling)
	b, err := w.storage.Open(ctx, w.cacheName)
	if err != nil {
		w.setState(StateRedundant)
		return InstallReport{}, fmt.Errorf("open bucket %s: %w", w.cacheName, err)
	}

	report := w.seed(ctx, b, w.manifest)
	w.setState(StateInstalled)
	w.log.Info("installed",
		zap.String("cache", w.cacheName),
		zap.Int("cached", len(report.Cached)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

func (w *Worker) seed(ctx context.Context, b cache.Bucket, urls []*url.URL) InstallReport {
	var report InstallReport
	for _, u := range urls {
		if err := w.seedOne(ctx, b, u); err != nil {
			w.log.Warn("asset not cached", zap.String("url", u.String()), zap.Error(err))
			report.Failed = append(report.Failed, u.String())
			continue
		}
		report.Cached = append(report.Cached, u.String())
	}
	return report
}

func (w *Worker) seedOne(ctx context.Context, b cache.Bucket, u *url.URL) error {
	req := fetch.NewRequest(u)
	resp, err := w.fetchNetwork(ctx, req)
	if err != nil {
		return err
	}
	return w.putInto(ctx, b, req, resp)
}

// Activate deletes every bucket other than the current one, claims all
// connected clients and announces the new version. The worker only serves
// fetches once the sweep is done.
func (w *Worker) Activate(ctx context.Context) error {
	w.setState(StateActivating)

	names, err := w.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}
	var errs []error
	for _, name := range names {
		if name == w.cacheName {
			continue
		}
		if _, err := w.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete bucket %s: %w", name, err))
			continue
		}
		w.log.Info("deleted stale bucket", zap.String("cache", name))
	}

	claimed := w.clients.Claim()
	w.setState(StateActivated)
	sent := w.clients.Broadcast(ctx, SWActivated{Type: MsgSWActivated, Version: w.version})
	w.log.Info("activated", zap.Int("claimed", claimed), zap.Int("notified", sent))
	return errors.Join(errs...)
}

// Put stores resp under req in the current bucket. Only 200 same-origin
// responses are accepted; anything else returns cache.ErrNotCacheable.
func (w *Worker) Put(ctx context.Context, req *fetch.Request, resp *fetch.Response) error {
	if !resp.Cacheable() {
		w.obs.CachePut(PutRejected)
		return cache.ErrNotCacheable
	}
	b, err := w.storage.Open(ctx, w.cacheName)
	if err != nil {
		w.obs.CachePut(PutError)
		return fmt.Errorf("open bucket %s: %w", w.cacheName, err)
	}
	return w.putInto(ctx, b, req, resp)
}

func (w *Worker) putInto(ctx context.Context, b cache.Bucket, req *fetch.Request, resp *fetch.Response) error {
	if !resp.Cacheable() {
		w.obs.CachePut(PutRejected)
		return fmt.Errorf("%w: status %d, type %s", cache.ErrNotCacheable, resp.Status, resp.Type)
	}
	key, err := req.Key()
	if err != nil {
		w.obs.CachePut(PutRejected)
		return err
	}
	if err := b.Put(ctx, key, resp.Entry()); err != nil {
		w.obs.CachePut(PutError)
		return fmt.Errorf("put %s: %w", key, err)
	}
	w.obs.CachePut(PutStored)
	return nil
}

// store is the opportunistic put used by the fetch strategies.
func (w *Worker) store(ctx context.Context, req *fetch.Request, resp *fetch.Response) {
	err := w.Put(ctx, req, resp)
	if err != nil && !errors.Is(err, cache.ErrNotCacheable) {
		w.log.Warn("cache put failed", zap.String("url", req.URL.String()), zap.Error(err))
	}
}

// match looks req up in the current bucket.
func (w *Worker) match(ctx context.Context, req *fetch.Request) (*fetch.Response, bool) {
	key, err := req.Key()
	if err != nil {
		return nil, false
	}
	return w.matchKey(ctx, key)
}

func (w *Worker) matchKey(ctx context.Context, key cache.Key) (*fetch.Response, bool) {
	b, ok, err := w.storage.Lookup(ctx, w.cacheName)
	if err != nil || !ok {
		return nil, false
	}
	ent, ok, err := b.Match(ctx, key)
	if err != nil {
		w.log.Warn("cache read failed", zap.String("key", string(key)), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return fetch.FromEntry(ent), true
}

// matchPath looks up a path relative to the scope.
func (w *Worker) matchPath(ctx context.Context, p string) (*fetch.Response, bool) {
	if p == "" {
		return nil, false
	}
	ref, err := url.Parse(p)
	if err != nil {
		return nil, false
	}
	key, err := cache.KeyFor("GET", w.scope.ResolveReference(ref))
	if err != nil {
		return nil, false
	}
	return w.matchKey(ctx, key)
}

// ClearCache deletes the current bucket.
func (w *Worker) ClearCache(ctx context.Context) error {
	if _, err := w.storage.Delete(ctx, w.cacheName); err != nil {
		return fmt.Errorf("delete bucket %s: %w", w.cacheName, err)
	}
	w.log.Info("cache cleared", zap.String("cache", w.cacheName))
	return nil
}

// fetchNetwork performs one network attempt bounded by the fetch timeout.
func (w *Worker) fetchNetwork(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, w.opts.FetchTimeout)
	defer cancel()
	resp, err := w.net.Fetch(ctx, req)
	if err != nil {
		w.netLog.Warn("network fetch failed", zap.String("url", req.URL.String()), zap.Error(err))
		return nil, err
	}
	return resp, nil
}
