// Package httpapi implements the read-only introspection HTTP/WS
// surface named in SPEC_FULL.md: active sessions, running agents, a
// swarm's blackboard, a circuit breaker's state, live file claims, a
// pipeline's artifact progress, and a WebSocket tail of every
// broadcast as it is posted. Nothing here mutates coordination state —
// every write path belongs to the hook dispatcher. Grounded on the
// teacher's internal/handlers/coordination.go and
// internal/handlers/supervisor.go for the route-per-concern JSON
// handler shape, and internal/server/hub.go for the WebSocket fan-out.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/agentcoord/runtime/internal/blackboard"
	"github.com/agentcoord/runtime/internal/logging"
	"github.com/agentcoord/runtime/internal/registry"
	"github.com/agentcoord/runtime/internal/session"
	"github.com/agentcoord/runtime/internal/store"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// RequestTimeout bounds every handler's work against the Store, so a
// slow query ends in an error response (500) rather than hanging an
// operator's browser tab indefinitely.
const RequestTimeout = 5 * time.Second

// Server is the introspection HTTP/WS surface.
type Server struct {
	router *mux.Router
	hub    *hub
	db     *store.DB
	bb     *blackboard.Blackboard
	reg    *registry.Registry
	sup    *session.Supervisor
	log    *logging.Logger
}

// New constructs a Server and wires its routes. If bb has a Bus
// attached, the server also subscribes to every swarm's broadcasts
// (blackboard.AllSwarms) to feed WS /live.
func New(db *store.DB, bb *blackboard.Blackboard, bus *blackboard.Bus) *Server {
	s := &Server{
		router: mux.NewRouter(),
		hub:    newHub(),
		db:     db,
		bb:     bb,
		reg:    registry.New(db),
		sup:    session.New(db, nil),
		log:    logging.New("HTTPAPI"),
	}
	s.routes()

	if bus != nil {
		ch := bus.Subscribe(blackboard.AllSwarms, nil)
		go s.tailBus(ch)
	}
	return s
}

func (s *Server) tailBus(ch <-chan blackboard.Broadcast) {
	for evt := range ch {
		s.hub.broadcastBroadcast(evt)
	}
}

// Handler returns the composed HTTP handler, ready for http.Server.
func (s *Server) Handler() http.Handler {
	return securityHeadersMiddleware(s.router)
}

func (s *Server) routes() {
	s.router.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	s.router.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	s.router.HandleFunc("/blackboard/{swarm_id}", s.handleBlackboard).Methods(http.MethodGet)
	s.router.HandleFunc("/circuit/{cb_id}", s.handleCircuit).Methods(http.MethodGet)
	s.router.HandleFunc("/claims", s.handleClaims).Methods(http.MethodGet)
	s.router.HandleFunc("/pipeline/{pipeline_id}", s.handlePipeline).Methods(http.MethodGet)
	s.router.HandleFunc("/live", s.handleLive)
}

func (s *Server) budgeted(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), RequestTimeout)
}

var upgrader = websocket.Upgrader{
	// This surface is a local read-only operator tool; it has no
	// mutation endpoints for a forged cross-origin request to abuse.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &wsClient{hub: s.hub, conn: conn, send: make(chan []byte, WebSocketBufferSize)}
	s.hub.register(client)

	go client.readPump()
	go client.writePump()
}
