package worker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"offline0/internal/clients"
	"offline0/internal/fetch"
)

type EventName string

const (
	EventInstall           EventName = "install"
	EventActivate          EventName = "activate"
	EventFetch             EventName = "fetch"
	EventMessage           EventName = "message"
	EventPush              EventName = "push"
	EventSync              EventName = "sync"
	EventNotificationClick EventName = "notificationclick"
)

// Event is one lifecycle event. Handlers run synchronously; work they start
// with WaitUntil keeps the event alive until it finishes.
type Event struct {
	Name    EventName
	Request *fetch.Request
	Client  clients.Client
	Data    []byte
	Tag     string

	ctx context.Context
	g   *errgroup.Group

	mu       sync.Mutex
	response *fetch.Response
	result   any
}

func NewEvent(name EventName) *Event {
	return &Event{Name: name}
}

// Context is valid while the event is being dispatched.
func (e *Event) Context() context.Context { return e.ctx }

// WaitUntil extends the event until fn returns. The first error is
// reported by Dispatch.
func (e *Event) WaitUntil(fn func(ctx context.Context) error) {
	ctx := e.ctx
	e.g.Go(func() error { return fn(ctx) })
}

// RespondWith sets the response of a fetch event.
func (e *Event) RespondWith(resp *fetch.Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.response = resp
}

func (e *Event) Response() *fetch.Response {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.response
}

// SetResult stores a handler's result for the dispatcher's caller.
func (e *Event) SetResult(v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.result = v
}

func (e *Event) Result() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Handler reacts to one event.
type Handler func(e *Event) error

// Dispatcher routes lifecycle events to registered handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[EventName][]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[EventName][]Handler{}}
}

func (d *Dispatcher) Register(name EventName, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = append(d.handlers[name], h)
}

// Dispatch runs every handler for e.Name in registration order, then waits
// for all work extended with WaitUntil. The event is handled when Dispatch
// returns.
func (d *Dispatcher) Dispatch(ctx context.Context, e *Event) error {
	d.mu.RLock()
	hs := append([]Handler(nil), d.handlers[e.Name]...)
	d.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	e.g = g
	e.ctx = gctx

	var herr error
	for _, h := range hs {
		if err := h(e); err != nil {
			herr = fmt.Errorf("%s handler: %w", e.Name, err)
			break
		}
	}
	werr := g.Wait()
	if herr != nil {
		return herr
	}
	return werr
}

// events registers the worker's handlers on a fresh dispatcher.
func (w *Worker) events() *Dispatcher {
	d := NewDispatcher()
	d.Register(EventInstall, func(e *Event) error {
		e.WaitUntil(func(ctx context.Context) error {
			report, err := w.Install(ctx)
			e.SetResult(report)
			return err
		})
		return nil
	})
	d.Register(EventActivate, func(e *Event) error {
		e.WaitUntil(w.Activate)
		return nil
	})
	d.Register(EventFetch, func(e *Event) error {
		resp, err := w.HandleFetch(e.Context(), e.Request)
		if err != nil {
			return err
		}
		e.RespondWith(resp)
		return nil
	})
	d.Register(EventMessage, func(e *Event) error {
		e.WaitUntil(func(ctx context.Context) error {
			return w.HandleMessage(ctx, e.Client, e.Data)
		})
		return nil
	})
	d.Register(EventPush, func(e *Event) error {
		e.WaitUntil(func(ctx context.Context) error {
			e.SetResult(w.HandlePush(ctx, string(e.Data)))
			return nil
		})
		return nil
	})
	d.Register(EventNotificationClick, func(e *Event) error {
		e.WaitUntil(func(ctx context.Context) error {
			e.SetResult(w.HandleNotificationClick(ctx))
			return nil
		})
		return nil
	})
	d.Register(EventSync, func(e *Event) error {
		e.WaitUntil(func(ctx context.Context) error {
			return w.HandleSync(ctx, e.Tag)
		})
		return nil
	})
	return d
}
