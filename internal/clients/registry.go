// Package clients tracks the pages a worker can talk to.
package clients

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrClientGone is returned when a message cannot be delivered because the
// page disconnected.
var ErrClientGone = errors.New("client gone")

// Client is a page connected to the worker.
type Client interface {
	ID() string
	URL() string
	UserAgent() string
	PostMessage(ctx context.Context, msg any) error
}

type entry struct {
	c          Client
	controlled bool
	seq        uint64
}

// Registry holds connected clients. Once Claim has been called, every client
// added afterwards is controlled immediately; before that, new clients stay
// uncontrolled.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*entry
	seq     uint64
	claimed bool
}

func NewRegistry() *Registry {
	return &Registry{clients: map[string]*entry{}}
}

func (r *Registry) Add(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.clients[c.ID()] = &entry{c: c, controlled: r.claimed, seq: r.seq}
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

func (r *Registry) Get(id string) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[id]
	if !ok {
		return nil, false
	}
	return e.c, true
}

// Controlled reports whether the client with id is controlled.
func (r *Registry) Controlled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[id]
	return ok && e.controlled
}

// MatchAll returns clients in connection order. Uncontrolled clients are
// included only when includeUncontrolled is set.
func (r *Registry) MatchAll(includeUncontrolled bool) []Client {
	r.mu.Lock()
	list := make([]*entry, 0, len(r.clients))
	for _, e := range r.clients {
		if e.controlled || includeUncontrolled {
			list = append(list, e)
		}
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	out := make([]Client, len(list))
	for i, e := range list {
		out[i] = e.c
	}
	return out
}

// Claim takes control of every connected client and returns how many were
// newly claimed.
func (r *Registry) Claim() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimed = true
	n := 0
	for _, e := range r.clients {
		if !e.controlled {
			e.controlled = true
			n++
		}
	}
	return n
}

// Len returns the number of connected clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Broadcast posts msg to every controlled client and returns how many
// deliveries succeeded. Clients that are gone are dropped.
func (r *Registry) Broadcast(ctx context.Context, msg any) int {
	sent := 0
	for _, c := range r.MatchAll(false) {
		if err := c.PostMessage(ctx, msg); err != nil {
			if errors.Is(err, ErrClientGone) {
				r.Remove(c.ID())
			}
			continue
		}
		sent++
	}
	return sent
}
