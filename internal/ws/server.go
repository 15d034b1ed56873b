package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

type identity interface {
	GetUserID(token string) (string, error)
}

// Server upgrades authenticated HTTP requests to websocket sessions.
type Server struct {
	sessions identity
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewServer(sessions identity, hub *Hub) *Server {
	return &Server{
		sessions: sessions,
		hub:      hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The token is the access control, not the origin
				return true
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	userID, err := s.sessions.GetUserID(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	c, err := NewConnection(s.hub, conn, userID)
	if err != nil {
		slog.Error("failed to attach connection", "user_id", userID, "error", err)
		conn.Close()
		return
	}
	if err := c.Handle(r.Context()); err != nil {
		slog.Debug("websocket session ended", "user_id", userID, "error", err)
	}
}
