// Package httpapi exposes the lock guard over HTTP for hosts that drive
// it out of process.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mirkobrombin/go-lockguard/v1/auth"
	"github.com/mirkobrombin/go-lockguard/v1/guard"
	"github.com/mirkobrombin/go-lockguard/v1/lifecycle"
	"github.com/mirkobrombin/go-lockguard/v1/logging"
	"github.com/mirkobrombin/go-lockguard/v1/prefs"
	"github.com/mirkobrombin/go-lockguard/v1/session"
	"github.com/mirkobrombin/go-lockguard/v1/statusbus"
)

// maxBody bounds request bodies.
const maxBody = 4 << 10

// Guard is the part of the guard the API drives.
type Guard interface {
	Status() session.Status
	Retry(ctx context.Context) error
}

// Preferences reads and changes the lock preference.
type Preferences interface {
	Snapshot() prefs.Snapshot
	SetLockEnabled(ctx context.Context, enabled bool) error
}

// Prompt receives passcodes for the pending challenge.
type Prompt interface {
	Waiting() (string, bool)
	Submit(code string) error
}

// Server holds the collaborators behind the routes. Routes whose
// collaborator is not configured are not mounted.
type Server struct {
	guard    Guard
	pub      lifecycle.Publisher
	prefs    Preferences
	prompt   Prompt
	bus      statusbus.Bus
	gatherer prometheus.Gatherer
	log      *logrus.Entry
}

// Option configures a Server.
type Option func(*Server)

// WithPublisher mounts POST /lifecycle/{transition}.
func WithPublisher(p lifecycle.Publisher) Option { return func(s *Server) { s.pub = p } }

// WithPreferences mounts GET and PUT /preferences.
func WithPreferences(p Preferences) Option { return func(s *Server) { s.prefs = p } }

// WithPrompt mounts GET and POST /unlock.
func WithPrompt(p Prompt) Option { return func(s *Server) { s.prompt = p } }

// WithStatusBus mounts the status streams.
func WithStatusBus(b statusbus.Bus) Option { return func(s *Server) { s.bus = b } }

// WithGatherer mounts GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithLogger sets the request logger.
func WithLogger(l *logrus.Entry) Option { return func(s *Server) { s.log = l } }

// New returns a Server for g.
func New(g Guard, opts ...Option) *Server {
	s := &Server{guard: g}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Component(nil, "httpapi")
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/status", s.getStatus)
	r.Post("/retry", s.postRetry)
	if s.bus != nil {
		r.Get("/status/stream", statusbus.SSEHandler(s.bus))
		r.Get("/status/ws", statusbus.WebSocketHandler(s.bus))
	}
	if s.pub != nil {
		r.Post("/lifecycle/{transition}", s.postLifecycle)
	}
	if s.prefs != nil {
		r.Get("/preferences", s.getPreferences)
		r.Put("/preferences", s.putPreferences)
	}
	if s.prompt != nil {
		r.Get("/unlock", s.getUnlock)
		r.Post("/unlock", s.postUnlock)
	}
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"request_id": middleware.GetReqID(r.Context()),
			"duration":   time.Since(start).String(),
		}).Debug("request")
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.guard.Status())
}

func (s *Server) postRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.Retry(r.Context()); err != nil {
		if errors.Is(err, guard.ErrNotStarted) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.guard.Status())
}

func (s *Server) postLifecycle(w http.ResponseWriter, r *http.Request) {
	t, err := lifecycle.ParseTransition(chi.URLParam(r, "transition"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.pub.Publish(r.Context(), t); err != nil {
		s.log.WithError(err).WithField("transition", t.String()).Warn("publish transition")
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"transition": t.String()})
}

type preferencesBody struct {
	Hydrated    bool  `json:"hydrated"`
	LockEnabled *bool `json:"lock_enabled"`
}

func (s *Server) getPreferences(w http.ResponseWriter, r *http.Request) {
	snap := s.prefs.Snapshot()
	writeJSON(w, http.StatusOK, preferencesBody{Hydrated: snap.Hydrated, LockEnabled: &snap.LockEnabled})
}

func (s *Server) putPreferences(w http.ResponseWriter, r *http.Request) {
	var body preferencesBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.LockEnabled == nil {
		writeError(w, http.StatusBadRequest, errors.New("lock_enabled is required"))
		return
	}
	if err := s.prefs.SetLockEnabled(r.Context(), *body.LockEnabled); err != nil {
		if errors.Is(err, prefs.ErrNotHydrated) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.getPreferences(w, r)
}

type unlockBody struct {
	Passcode string `json:"passcode,omitempty"`
	Waiting  bool   `json:"waiting"`
	Message  string `json:"message,omitempty"`
}

func (s *Server) getUnlock(w http.ResponseWriter, r *http.Request) {
	msg, waiting := s.prompt.Waiting()
	writeJSON(w, http.StatusOK, unlockBody{Waiting: waiting, Message: msg})
}

func (s *Server) postUnlock(w http.ResponseWriter, r *http.Request) {
	var body unlockBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.prompt.Submit(body.Passcode); err != nil {
		if errors.Is(err, auth.ErrPromptBusy) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
