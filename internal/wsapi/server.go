// Package wsapi implements the Session Endpoint (§4.7): the websocket
// connection that authenticates a client, serves its Area-of-Interest reads,
// and dispatches its action commands.
package wsapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/kestrel-run/aoi-runtime/internal/aoi"
	"github.com/kestrel-run/aoi-runtime/internal/dispatcher"
	"github.com/kestrel-run/aoi-runtime/internal/eventbus"
	"github.com/kestrel-run/aoi-runtime/internal/observe"
	"github.com/kestrel-run/aoi-runtime/internal/statestore"
	"github.com/kestrel-run/aoi-runtime/internal/template"
)

const defaultHeartbeatInterval = 30 * time.Second

// Server serves the websocket upgrade endpoint and wires each accepted
// connection into a [Session].
type Server struct {
	Store             statestore.Store
	Templates         *template.Registry
	Builder           *aoi.Builder
	Dispatcher        *dispatcher.Dispatcher
	Bus               eventbus.Client
	Auth              Authenticator
	Registry          *Registry
	Metrics           *observe.Metrics
	HeartbeatInterval time.Duration
}

// ServeHTTP implements §4.7 steps 1-2: extract and validate the bearer
// token, accept the websocket, register the connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	experienceID := r.URL.Query().Get("experience_id")
	if token == "" || experienceID == "" {
		http.Error(w, "missing token or experience_id", http.StatusBadRequest)
		return
	}

	claims, err := s.Auth.Authenticate(r.Context(), token)
	if err != nil {
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	if _, err := s.Store.LoadExperienceConfig(experienceID); err != nil {
		http.Error(w, "unknown experience", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The gateway proxy terminates origin checks; the session endpoint
		// also runs directly behind it in single-process deployments.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("wsapi: accept websocket", "error", err)
		return
	}

	heartbeat := s.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	sess := &Session{
		id:                newConnectionID(),
		userID:            claims.UserID,
		experienceID:      experienceID,
		isAdmin:           claims.IsAdmin,
		conn:              conn,
		store:             s.Store,
		templates:         s.Templates,
		builder:           s.Builder,
		dispatcher:        s.Dispatcher,
		bus:               s.Bus,
		registry:          s.Registry,
		metrics:           s.Metrics,
		heartbeatInterval: heartbeat,
		done:              make(chan struct{}),
	}
	sess.state.Store(int32(stateAuthOK))

	s.Registry.Register(experienceID, claims.UserID, sess)
	sess.run(r.Context())
}
