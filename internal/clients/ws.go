package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024
)

// MessageHandler receives one raw control message from a page.
type MessageHandler func(ctx context.Context, from Client, data []byte)

// Conn is a page connected over a websocket.
type Conn struct {
	id  string
	url string
	ua  string

	ws      *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *Conn) ID() string        { return c.id }
func (c *Conn) URL() string       { return c.url }
func (c *Conn) UserAgent() string { return c.ua }

func (c *Conn) PostMessage(ctx context.Context, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	select {
	case <-c.closed:
		return ErrClientGone
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		c.close()
		return fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	return nil
}

func (c *Conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// Server upgrades page connections and feeds their messages to a handler.
type Server struct {
	reg       *Registry
	onMessage MessageHandler
	log       *zap.Logger
	upgrader  websocket.Upgrader

	conns sync.Map // id -> *Conn
	wg    sync.WaitGroup
}

func NewServer(reg *Registry, onMessage MessageHandler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		reg:       reg,
		onMessage: onMessage,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameHost,
		},
	}
}

// sameHost rejects browser upgrades from a foreign origin. Clients that send
// no Origin (tools, tests) are allowed.
func sameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		pageURL = r.Referer()
	}
	c := &Conn{
		id:     uuid.NewString(),
		url:    pageURL,
		ua:     r.UserAgent(),
		ws:     ws,
		closed: make(chan struct{}),
	}
	s.wg.Add(1)
	defer s.wg.Done()
	s.conns.Store(c.id, c)
	defer s.conns.Delete(c.id)
	s.reg.Add(c)
	s.log.Debug("client connected", zap.String("client", c.id), zap.String("url", c.url))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		c.close()
		wg.Wait()
		s.reg.Remove(c.id)
		s.log.Debug("client disconnected", zap.String("client", c.id))
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			case <-t.C:
				if err := c.ping(); err != nil {
					c.close()
					return
				}
			}
		}
	}()

	ws.SetReadLimit(maxMsgSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.TextMessage || s.onMessage == nil {
			continue
		}
		// Each message is handled on its own; replies are unordered.
		wg.Add(1)
		go func(data []byte) {
			defer wg.Done()
			s.onMessage(ctx, c, data)
		}(data)
	}
}

// Close disconnects every page and waits for their handlers to return.
func (s *Server) Close() {
	s.conns.Range(func(_, v any) bool {
		v.(*Conn).close()
		return true
	})
	s.wg.Wait()
}
