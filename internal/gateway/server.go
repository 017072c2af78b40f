package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Server is the websocket upgrade endpoint. It owns no listener of its
// own — internal/httpapi mounts Handler at /ws on the same mux as
// /health (/metrics has its own port), and cmd/engine starts the Hub's
// run loop through Run.
type Server struct {
	hub        *Hub
	dispatcher *Dispatcher
	log        *slog.Logger
	upgrader   websocket.Upgrader
}

// NewServer builds a Server wiring every upgraded connection through
// hub and dispatcher.
func NewServer(hub *Hub, dispatcher *Dispatcher, log *slog.Logger) *Server {
	return &Server{
		hub:        hub,
		dispatcher: dispatcher,
		log:        log.With("component", "gateway_server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler upgrades an incoming request to a websocket session and
// registers it with the Hub.
func (s *Server) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	session := newSession(s.hub, conn, s.log)
	s.hub.register <- session

	session.sendCritical(OutConnected, map[string]any{
		"sessionId":         session.ID,
		"serverTime":        time.Now().UTC(),
		"heartbeatInterval": pingPeriod.Milliseconds(),
	})

	go session.writePump()
	go session.readPump(s.dispatcher.Handle)
}

// ConnectionCount reports the number of live sessions, for /health.
func (s *Server) ConnectionCount() int {
	return s.hub.count()
}

// Run starts the Hub's registration loop; it blocks until stop fires.
func (s *Server) Run(stop <-chan struct{}) {
	s.hub.Run(stop)
}
