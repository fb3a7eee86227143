package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"offline0/internal/browser"
	"offline0/internal/clients"
	"offline0/internal/fetch"
)

// Container hosts the active worker and at most one waiting worker. Requests
// are served by a per-browser sibling of the active worker so each profile
// is computed once and then reused.
type Container struct {
	clients        *clients.Registry
	log            *zap.Logger
	selfCheckEvery time.Duration
	skipWaiting    bool

	mu      sync.Mutex
	active  *Worker
	waiting *Worker
	forks   map[string]*Worker
}

type ContainerOptions struct {
	SelfCheckEvery time.Duration
	// SkipWaiting activates a newly installed worker even when clients are
	// controlled by the previous one.
	SkipWaiting bool
}

func NewContainer(reg *clients.Registry, log *zap.Logger, opts ContainerOptions) *Container {
	if log == nil {
		log = zap.NewNop()
	}
	return &Container{
		clients:        reg,
		log:            log,
		selfCheckEvery: opts.SelfCheckEvery,
		skipWaiting:    opts.SkipWaiting,
		forks:          map[string]*Worker{},
	}
}

// Register installs w. It is activated right away when there is no active
// worker or no controlled client; otherwise it waits for SKIP_WAITING and
// pages are told an update is available.
func (c *Container) Register(ctx context.Context, w *Worker) (InstallReport, error) {
	e := NewEvent(EventInstall)
	if err := w.Dispatch(ctx, e); err != nil {
		w.setState(StateRedundant)
		return InstallReport{}, fmt.Errorf("install %s: %w", w.Version(), err)
	}
	report, _ := e.Result().(InstallReport)

	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if active == nil || c.skipWaiting || len(c.clients.MatchAll(false)) == 0 {
		return report, c.activate(ctx, w)
	}

	c.mu.Lock()
	prev := c.waiting
	c.waiting = w
	c.mu.Unlock()
	if prev != nil && prev != w {
		retire(prev)
	}
	w.setSkipWaiting(c.SkipWaiting)
	c.clients.Broadcast(ctx, UpdateAvailable{Type: MsgUpdateAvailable, Version: w.Version()})
	c.log.Info("worker waiting", zap.String("version", w.Version()))
	return report, nil
}

// SkipWaiting activates the waiting worker, if any.
func (c *Container) SkipWaiting(ctx context.Context) error {
	c.mu.Lock()
	w := c.waiting
	c.mu.Unlock()
	if w == nil {
		return nil
	}
	return c.activate(ctx, w)
}

func (c *Container) activate(ctx context.Context, w *Worker) error {
	w.setSkipWaiting(nil)
	err := w.Dispatch(ctx, NewEvent(EventActivate))
	if w.State() != StateActivated {
		w.setState(StateRedundant)
		return fmt.Errorf("activate %s: %w", w.Version(), err)
	}
	if err != nil {
		c.log.Warn("activation finished with errors", zap.String("version", w.Version()), zap.Error(err))
	}

	c.mu.Lock()
	old := c.active
	oldForks := c.forks
	c.active = w
	c.forks = map[string]*Worker{forkKey(w.Profile()): w}
	if c.waiting == w {
		c.waiting = nil
	}
	c.mu.Unlock()

	for _, f := range oldForks {
		if f != old && f != w {
			retire(f)
		}
	}
	if old != nil && old != w {
		retire(old)
	}
	w.StartSelfCheck(c.selfCheckEvery)
	return nil
}

func retire(w *Worker) {
	w.setState(StateRedundant)
	w.Close()
}

func forkKey(p browser.Profile) string {
	return p.Name + "/" + strconv.FormatBool(p.Mobile)
}

func (c *Container) Active() *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Container) Waiting() *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiting
}

// WorkerFor returns the active worker for a user agent, creating a sibling
// for browsers not seen before. It returns nil before the first activation.
func (c *Container) WorkerFor(ua string) *Worker {
	p := browser.Classify(ua)
	key := forkKey(p)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	if w, ok := c.forks[key]; ok {
		return w
	}
	fork, err := c.active.withUserAgent(ua)
	if err != nil {
		c.log.Warn("cannot create browser worker", zap.String("browser", p.Name), zap.Error(err))
		return c.active
	}
	fork.setState(StateActivated)
	c.forks[key] = fork
	c.log.Debug("browser worker created",
		zap.String("browser", p.Name),
		zap.String("strategy", fork.Strategy().Name()),
	)
	return fork
}

// Fetch dispatches a fetch event for req from a page with user agent ua.
func (c *Container) Fetch(ctx context.Context, ua string, req *fetch.Request) (*fetch.Response, error) {
	w := c.WorkerFor(ua)
	if w == nil {
		return nil, ErrNotActive
	}
	e := NewEvent(EventFetch)
	e.Request = req
	if err := w.Dispatch(ctx, e); err != nil {
		return nil, err
	}
	return e.Response(), nil
}

// PostMessage delivers a control message from a page. SKIP_WAITING goes to
// the waiting worker; everything else to the active worker for the page's
// browser.
func (c *Container) PostMessage(ctx context.Context, from clients.Client, data []byte) error {
	typ, err := DecodeType(data)
	if err != nil {
		return err
	}

	var w *Worker
	if typ == MsgSkipWaiting {
		w = c.Waiting()
		if w == nil {
			return nil
		}
	} else if w = c.WorkerFor(from.UserAgent()); w == nil {
		return ErrNotActive
	}

	e := NewEvent(EventMessage)
	e.Client = from
	e.Data = data
	return w.Dispatch(ctx, e)
}

// Push dispatches a push event and returns how many clients were notified.
func (c *Container) Push(ctx context.Context, payload string) (int, error) {
	w := c.Active()
	if w == nil {
		return 0, ErrNotActive
	}
	e := NewEvent(EventPush)
	e.Data = []byte(payload)
	if err := w.Dispatch(ctx, e); err != nil {
		return 0, err
	}
	n, _ := e.Result().(int)
	return n, nil
}

func (c *Container) NotificationClick(ctx context.Context) (ClickResult, error) {
	w := c.Active()
	if w == nil {
		return ClickResult{}, ErrNotActive
	}
	e := NewEvent(EventNotificationClick)
	if err := w.Dispatch(ctx, e); err != nil {
		return ClickResult{}, err
	}
	res, _ := e.Result().(ClickResult)
	return res, nil
}

func (c *Container) Sync(ctx context.Context, tag string) error {
	w := c.Active()
	if w == nil {
		return ErrNotActive
	}
	e := NewEvent(EventSync)
	e.Tag = tag
	return w.Dispatch(ctx, e)
}

// Close stops every worker in the container.
func (c *Container) Close() {
	c.mu.Lock()
	seen := map[*Worker]struct{}{}
	var all []*Worker
	for _, w := range append([]*Worker{c.active, c.waiting}, mapValues(c.forks)...) {
		if w == nil {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		all = append(all, w)
	}
	c.mu.Unlock()

	for _, w := range all {
		w.Close()
	}
}

func mapValues(m map[string]*Worker) []*Worker {
	out := make([]*Worker, 0, len(m))
	for _, w := range m {
		out = append(out, w)
	}
	return out
}

// IsPassThrough reports whether err means the request should go straight to
// the network.
func IsPassThrough(err error) bool {
	return errors.Is(err, ErrNotIntercepted)
}
