package offline0

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"offline0/internal/worker"
)

const maxPushPayload = 4 << 10

// Handler returns the HTTP front. Control endpoints live under /__offline0;
// every other path is a page request for the worker.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/__offline0", func(r chi.Router) {
		r.Get("/ws", s.ws.ServeHTTP)
		r.Get("/health", s.serveHealth)
		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly())
			r.Post("/push", s.servePush)
			r.Post("/notificationclick", s.serveNotificationClick)
			r.Post("/sync", s.serveSync)
		})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Handle("/*", http.HandlerFunc(s.handle))
	return r
}

var errAdminDisabled = errors.New("admin endpoints are disabled: set server.admin.password")

// adminOnly requires basic auth with the configured admin credentials.
func (s *Service) adminOnly() func(http.Handler) http.Handler {
	admin := s.cfg.Server.Admin
	if admin.Password == "" {
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusForbidden, errAdminDisabled)
			})
		}
	}
	return middleware.BasicAuth("offline0", map[string]string{admin.User: admin.Password})
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Cache    string `json:"cache,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Waiting  string `json:"waiting,omitempty"`
	Clients  int    `json:"clients"`
}

func (s *Service) serveHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Clients: s.clients.Len()}
	active := s.container.Active()
	if active == nil {
		resp.Status = "inactive"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Version = active.Version()
	resp.Cache = active.CacheName()
	resp.Strategy = active.Strategy().Name()
	if waiting := s.container.Waiting(); waiting != nil {
		resp.Waiting = waiting.Version()
	}
	writeJSON(w, http.StatusOK, resp)
}

// servePush takes the push payload as the plain request body.
func (s *Service) servePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushPayload))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.container.Push(r.Context(), strings.TrimSpace(string(body)))
	if err != nil {
		s.eventError(w, "push", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"delivered": n})
}

func (s *Service) serveNotificationClick(w http.ResponseWriter, r *http.Request) {
	res, err := s.container.NotificationClick(r.Context())
	if err != nil {
		s.eventError(w, "notificationclick", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) serveSync(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		tag = "reseed"
	}
	if err := s.container.Sync(r.Context(), tag); err != nil {
		s.eventError(w, "sync", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) eventError(w http.ResponseWriter, event string, err error) {
	if errors.Is(err, worker.ErrNotActive) {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.log.Warn("event failed", zap.String("event", event), zap.Error(err))
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
