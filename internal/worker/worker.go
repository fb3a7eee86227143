// Package worker implements the offline engine: a versioned cache bucket,
// fetch strategies chosen per browser, typed offline fallbacks, the page
// control channel and the self-check loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"offline0/internal/browser"
	"offline0/internal/cache"
	"offline0/internal/clients"
	"offline0/internal/fetch"
)

var (
	// ErrNotActive is returned for fetch events routed to a worker that has
	// not finished activation.
	ErrNotActive = errors.New("worker not active")
	// ErrNotIntercepted marks requests the worker lets through untouched.
	ErrNotIntercepted = errors.New("request not intercepted")
)

type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// ConnectionMonitor reports the current network status.
type ConnectionMonitor interface {
	Check(ctx context.Context) fetch.ConnectionStatus
}

type PushOptions struct {
	Title       string
	Body        string
	Icon        string
	Badge       string
	DefaultPath string
}

type Options struct {
	Version     string
	CachePrefix string
	// Scope is the public URL pages load the app from.
	Scope     *url.URL
	UserAgent string

	Manifest   []string
	CoreAssets []string
	CDNHosts   []string

	OfflinePage      string
	PlaceholderImage string

	RefreshMinInterval    time.Duration
	BackgroundConcurrency int
	FetchTimeout          time.Duration

	Push PushOptions
}

type Deps struct {
	Storage    cache.Storage
	Network    fetch.Fetcher
	Clients    *clients.Registry
	Connection ConnectionMonitor
	Log        *zap.Logger
	Observer   Observer
}

type Worker struct {
	opts      Options
	version   string
	cacheName string
	scope     *url.URL

	manifest []*url.URL
	core     []*url.URL
	// manifestKeys holds the cache keys of manifest assets.
	manifestKeys map[cache.Key]struct{}
	cdnHosts     []string

	profile    browser.Profile
	strategy   Strategy
	dispatcher *Dispatcher

	storage cache.Storage
	net     fetch.Fetcher
	clients *clients.Registry
	conn    ConnectionMonitor
	baseLog *zap.Logger
	log     *zap.Logger
	netLog  *rateLimitedLogger
	obs     Observer

	mu    sync.Mutex
	state State

	// skipWaiting is installed by the container while the worker waits.
	skipWaiting func(ctx context.Context) error

	bgSem     chan struct{}
	refreshed *gocache.Cache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	browserInfo sync.Map // client id -> BrowserInfo
}

// New builds a worker. The browser profile is computed here once from
// opts.UserAgent and never changes.
func New(opts Options, deps Deps) (*Worker, error) {
	if strings.TrimSpace(opts.Version) == "" {
		return nil, errors.New("worker: version is required")
	}
	if opts.Scope == nil || opts.Scope.Host == "" {
		return nil, errors.New("worker: scope must be an absolute URL")
	}
	if deps.Storage == nil || deps.Network == nil || deps.Clients == nil {
		return nil, errors.New("worker: storage, network and clients are required")
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if opts.BackgroundConcurrency <= 0 {
		opts.BackgroundConcurrency = 32
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}

	scope := *opts.Scope
	if !strings.HasSuffix(scope.Path, "/") {
		scope.Path += "/"
	}

	manifest, err := resolvePaths(&scope, opts.Manifest)
	if err != nil {
		return nil, fmt.Errorf("worker: manifest: %w", err)
	}
	core, err := resolvePaths(&scope, opts.CoreAssets)
	if err != nil {
		return nil, fmt.Errorf("worker: core assets: %w", err)
	}
	keys := make(map[cache.Key]struct{}, len(manifest))
	for _, u := range manifest {
		k, err := cache.KeyFor("GET", u)
		if err != nil {
			return nil, fmt.Errorf("worker: manifest: %w", err)
		}
		keys[k] = struct{}{}
	}

	hosts := make([]string, 0, len(opts.CDNHosts))
	for _, h := range opts.CDNHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}

	profile := browser.Classify(opts.UserAgent)
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		opts:         opts,
		version:      opts.Version,
		cacheName:    opts.CachePrefix + opts.Version,
		scope:        &scope,
		manifest:     manifest,
		core:         core,
		manifestKeys: keys,
		cdnHosts:     hosts,
		profile:      profile,
		strategy:     Select(profile),
		storage:      deps.Storage,
		net:          deps.Network,
		clients:      deps.Clients,
		conn:         deps.Connection,
		baseLog:      deps.Log,
		log:          deps.Log.With(zap.String("version", opts.Version), zap.String("browser", profile.Name)),
		obs:          deps.Observer,
		state:        StateParsed,
		bgSem:        make(chan struct{}, opts.BackgroundConcurrency),
		ctx:          ctx,
		cancel:       cancel,
	}
	w.netLog = newRateLimitedLogger(w.log, time.Minute)
	w.dispatcher = w.events()
	if opts.RefreshMinInterval > 0 {
		// No janitor goroutine; expired marks are dropped by the self-check.
		w.refreshed = gocache.New(opts.RefreshMinInterval, 0)
	}
	return w, nil
}

// resolvePaths resolves manifest entries against the scope, dropping
// duplicates while keeping order.
func resolvePaths(scope *url.URL, paths []string) ([]*url.URL, error) {
	out := make([]*url.URL, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ref, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		u := scope.ResolveReference(ref)
		u.Fragment = ""
		s := u.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, u)
	}
	return out, nil
}

func (w *Worker) Version() string          { return w.version }
func (w *Worker) CacheName() string        { return w.cacheName }
func (w *Worker) Profile() browser.Profile { return w.profile }
func (w *Worker) Strategy() Strategy       { return w.strategy }

func (w *Worker) Scope() *url.URL {
	u := *w.scope
	return &u
}

// Manifest returns the resolved manifest URLs in order.
func (w *Worker) Manifest() []string {
	out := make([]string, len(w.manifest))
	for i, u := range w.manifest {
		out[i] = u.String()
	}
	return out
}

// Dispatch delivers a lifecycle event to the worker and waits until it has
// been handled.
func (w *Worker) Dispatch(ctx context.Context, e *Event) error {
	return w.dispatcher.Dispatch(ctx, e)
}

func (w *Worker) setSkipWaiting(fn func(ctx context.Context) error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.skipWaiting = fn
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()
	if prev != s {
		w.log.Debug("state change", zap.String("from", string(prev)), zap.String("to", string(s)))
	}
}

// withUserAgent returns a sibling worker for another user agent, sharing
// storage, clients and version.
func (w *Worker) withUserAgent(ua string) (*Worker, error) {
	opts := w.opts
	opts.UserAgent = ua
	return New(opts, Deps{
		Storage:    w.storage,
		Network:    w.net,
		Clients:    w.clients,
		Connection: w.conn,
		Log:        w.baseLog,
		Observer:   w.obs,
	})
}

// Close stops background work and waits for it.
func (w *Worker) Close() {
	w.cancel()
	w.wg.Wait()
	if w.refreshed != nil {
		w.refreshed.Flush()
	}
}

// goBackground runs fn on the bounded background pool. It returns false
// when the pool is full and fn was dropped.
func (w *Worker) goBackground(name string, fn func(ctx context.Context)) bool {
	select {
	case <-w.ctx.Done():
		return false
	default:
	}
	select {
	case w.bgSem <- struct{}{}:
	default:
		return false
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.bgSem }()
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("background task panicked", zap.String("task", name), zap.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(w.ctx, w.opts.FetchTimeout)
		defer cancel()
		fn(ctx)
	}()
	return true
}
