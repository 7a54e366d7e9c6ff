package streamfabric

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/factorial-io/scotty-sub002/internal/appstate"
	"github.com/factorial-io/scotty-sub002/internal/config"
	"github.com/factorial-io/scotty-sub002/internal/engine"
	"github.com/factorial-io/scotty-sub002/internal/identity"
	"github.com/factorial-io/scotty-sub002/internal/logging"
	"github.com/factorial-io/scotty-sub002/internal/taskmanager"
)

// Server upgrades HTTP connections to the streaming channel described in
// spec.md §6 ("one endpoint per session; authorization on upgrade").
type Server struct {
	resolver *identity.Resolver
	registry *appstate.Registry
	tasks    *taskmanager.Manager
	eng      engine.Client
	log      *logging.Logger
	cfg      config.StreamingConfig
	upgrader websocket.Upgrader
}

func NewServer(resolver *identity.Resolver, registry *appstate.Registry, tasks *taskmanager.Manager, eng engine.Client, log *logging.Logger, cfg config.StreamingConfig) *Server {
	return &Server{
		resolver: resolver,
		registry: registry,
		tasks:    tasks,
		eng:      eng,
		log:      log,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates the bearer credential (either the Authorization
// header or a ?token= query parameter, since browser WebSocket clients
// cannot set arbitrary headers on the upgrade request) before upgrading.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	principal, err := s.resolver.Resolve(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	session := newSession(r.Context(), conn, principal, s.resolver, s.registry, s.tasks, s.eng, s.log, s.cfg)
	session.Run()
}
