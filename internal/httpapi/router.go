// Package httpapi implements the REST surface of spec.md §6 over
// github.com/gorilla/mux, the router the teacher's cmd/gateway uses.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/factorial-io/scotty-sub002/internal/appstate"
	"github.com/factorial-io/scotty-sub002/internal/identity"
	"github.com/factorial-io/scotty-sub002/internal/logging"
	"github.com/factorial-io/scotty-sub002/internal/metrics"
	"github.com/factorial-io/scotty-sub002/internal/taskmanager"
)

// Server wires the Identity & Policy resolver, the App State Machine and
// the Task Manager onto a gorilla/mux router.
type Server struct {
	resolver *identity.Resolver
	machine  *appstate.Machine
	registry *appstate.Registry
	tasks    *taskmanager.Manager
	log      *logging.Logger
	metrics  *metrics.Metrics
	version  string
	authMode string
	stream   http.Handler
	cors     *corsMiddleware
}

func NewServer(resolver *identity.Resolver, machine *appstate.Machine, registry *appstate.Registry, tasks *taskmanager.Manager, log *logging.Logger, m *metrics.Metrics, version, authMode string, stream http.Handler, corsAllowedOrigins []string) *Server {
	return &Server{
		resolver: resolver,
		machine:  machine,
		registry: registry,
		tasks:    tasks,
		log:      log,
		metrics:  m,
		version:  version,
		authMode: authMode,
		stream:   stream,
		cors:     newCORSMiddleware(corsAllowedOrigins),
	}
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(securityHeadersMiddleware)
	r.Use(s.cors.handler)

	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	if s.stream != nil {
		// The streaming fabric authorizes on upgrade itself (spec.md §6),
		// so it sits outside the REST authMiddleware subrouter.
		r.Handle("/stream", s.stream).Methods(http.MethodGet)
	}

	protected := r.NewRoute().Subrouter()
	protected.Use(s.authMiddleware)

	protected.HandleFunc("/apps", s.handleCreateApp).Methods(http.MethodPost)
	protected.HandleFunc("/apps", s.handleListApps).Methods(http.MethodGet)
	protected.HandleFunc("/apps/{name}", s.handleGetApp).Methods(http.MethodGet)
	protected.HandleFunc("/apps/{name}/run", s.handleRun).Methods(http.MethodPost)
	protected.HandleFunc("/apps/{name}/stop", s.handleStop).Methods(http.MethodPost)
	protected.HandleFunc("/apps/{name}/rebuild", s.handleRebuild).Methods(http.MethodPost)
	protected.HandleFunc("/apps/{name}/destroy", s.handleDestroy).Methods(http.MethodPost)
	protected.HandleFunc("/apps/{name}/actions/{action}", s.handleAction).Methods(http.MethodPost)
	protected.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	protected.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status))
		}
		s.log.WithContext(r.Context()).WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", rec.status).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			Info("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.WithContext(r.Context()).WithField("panic", rec).Error("http handler panicked")
				writeError(w, internalErr(rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
