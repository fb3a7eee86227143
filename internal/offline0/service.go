package offline0

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"offline0/internal/cache"
	"offline0/internal/clients"
	"offline0/internal/fetch"
	"offline0/internal/worker"
)

// Service owns the storage, the worker container and the HTTP front.
type Service struct {
	cfg   Config
	log   *zap.Logger
	scope *url.URL

	httpClient *http.Client
	storage    cache.Storage
	closeStore func() error

	clients   *clients.Registry
	net       *fetch.Network
	container *worker.Container
	ws        *clients.Server

	metrics *Metrics
	stats   *respStats

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewService opens storage, builds the root worker and registers it. It
// returns once the worker is installed and active.
func NewService(ctx context.Context, cfg Config, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.origin == nil {
		if err := cfg.validate(); err != nil {
			return nil, err
		}
	}

	storage, closeStore, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	s := &Service{
		cfg:        cfg,
		log:        log,
		scope:      cfg.ScopeURL(),
		httpClient: &http.Client{Timeout: cfg.Worker.FetchTimeout.Std()},
		storage:    storage,
		closeStore: closeStore,
		clients:    clients.NewRegistry(),
		stats:      newRespStats(),
		stopCh:     make(chan struct{}),
	}
	s.metrics = NewMetrics(s.clients, s.stats)
	s.net = fetch.NewNetwork(s.httpClient, s.scope, cfg.OriginURL())

	opts := cfg.WorkerOptions()
	if len(cfg.Manifest.Sitemaps) > 0 {
		opts.Manifest = append(opts.Manifest, s.discover(ctx)...)
	}

	deps := worker.Deps{
		Storage:  storage,
		Network:  s.net,
		Clients:  s.clients,
		Log:      log.Named("worker"),
		Observer: s.metrics,
	}
	if p := strings.TrimSpace(cfg.Worker.ProbePath); p != "" {
		target := s.scope.ResolveReference(&url.URL{Path: p})
		deps.Connection = fetch.NewProbe(s.net, target, cfg.Worker.ProbeTimeout.Std())
	}

	w, err := worker.New(opts, deps)
	if err != nil {
		s.closeStorage()
		return nil, err
	}
	s.container = worker.NewContainer(s.clients, log.Named("worker"), worker.ContainerOptions{
		SelfCheckEvery: cfg.Worker.SelfCheckEvery.Std(),
		SkipWaiting:    cfg.Worker.SkipWaiting,
	})
	report, err := s.container.Register(ctx, w)
	if err != nil {
		w.Close()
		s.container.Close()
		s.closeStorage()
		return nil, err
	}
	log.Info("worker active",
		zap.String("version", w.Version()),
		zap.String("cache", w.CacheName()),
		zap.String("strategy", w.Strategy().Name()),
		zap.Int("cached", len(report.Cached)),
		zap.Int("failed", len(report.Failed)),
	)

	s.ws = clients.NewServer(s.clients, s.onMessage, log.Named("clients"))

	if every := cfg.Logging.StatsEvery.Std(); every > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(every)
		}()
	}
	return s, nil
}

func openStorage(cfg StorageConfig) (cache.Storage, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return cache.NewMemoryStorage(int64(cfg.Max)), nil, nil
	default:
		db, err := cache.OpenLevelDB(cfg.Path, int64(cfg.Max))
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	}
}

func (s *Service) discover(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Manifest.DiscoverTimeout.Std())
	defer cancel()
	paths, err := discoverManifest(ctx, s.httpClient, s.cfg.OriginURL(), s.scope, s.cfg.Manifest.Sitemaps, s.log)
	if err != nil {
		// Keep whatever was read before the failure.
		s.log.Warn("manifest discovery failed", zap.Error(err), zap.Int("found", len(paths)))
	} else {
		s.log.Info("manifest discovered", zap.Int("paths", len(paths)))
	}
	return paths
}

// Container exposes the worker container, mostly for registering updates.
func (s *Service) Container() *worker.Container { return s.container }

func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if s.ws != nil {
			s.ws.Close()
		}
		s.container.Close()
		s.closeStorage()
	})
}

func (s *Service) closeStorage() {
	if s.closeStore == nil {
		return
	}
	if err := s.closeStore(); err != nil {
		s.log.Warn("close storage", zap.Error(err))
	}
}

func (s *Service) onMessage(ctx context.Context, from clients.Client, data []byte) {
	if err := s.container.PostMessage(ctx, from, data); err != nil {
		s.log.Debug("message not handled", zap.String("client", from.ID()), zap.Error(err))
	}
}

// handle runs a page request through the worker. Requests the worker does
// not intercept go straight to the origin.
func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	req := fetch.FromHTTP(r, s.scope)
	resp, err := s.container.Fetch(r.Context(), r.UserAgent(), req)
	switch {
	case err == nil:
		writeResponse(w, resp, sourceLabel(resp.Source))
	case worker.IsPassThrough(err), errors.Is(err, worker.ErrNotActive):
		s.proxyPass(r.Context(), w, req)
	default:
		s.log.Error("fetch event failed", zap.String("url", req.URL.String()), zap.Error(err))
		setOffline0Headers(w.Header(), "error")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Service) proxyPass(ctx context.Context, w http.ResponseWriter, req *fetch.Request) {
	resp, err := s.net.Fetch(ctx, req)
	if err != nil {
		setOffline0Headers(w.Header(), "bad-gateway")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	writeResponse(w, resp, "bypass")
}

func sourceLabel(src fetch.Source) string {
	switch src {
	case fetch.SourceCache:
		return "hit"
	case fetch.SourceFallback:
		return "fallback"
	default:
		return "network"
	}
}

func writeResponse(w http.ResponseWriter, resp *fetch.Response, label string) {
	h := w.Header()
	for k, vs := range resp.Header {
		if strings.EqualFold(k, "X-Offline0") || strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	setOffline0Headers(h, label)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func setOffline0Headers(h http.Header, label string) {
	if label != "" {
		h.Set("X-Offline0", label)
	}
	// Pages read the header from JS; cross-origin callers need it exposed.
	ensureExposedHeader(h, "X-Offline0")
}

func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}
	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}
