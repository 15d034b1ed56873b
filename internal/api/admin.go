package api

import (
	"encoding/json"
	"net/http"

	"gutorka/internal/auth"
	"gutorka/internal/ws"
)

// AdminHandler serves the ops-only surface: token issuing and presence
// stats. It is mounted on its own listener, never on the public API.
type AdminHandler struct {
	sessions *auth.Sessions
	registry *ws.Registry
}

func NewAdminHandler(sessions *auth.Sessions, registry *ws.Registry) *AdminHandler {
	return &AdminHandler{sessions: sessions, registry: registry}
}

type IssueTokenRequest struct {
	UserID string `json:"userId"`
}

type IssueTokenResponse struct {
	Token string `json:"token"`
}

func (h *AdminHandler) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "User id is required", http.StatusBadRequest)
		return
	}

	token, err := h.sessions.Issue(req.UserID)
	if err != nil {
		http.Error(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, IssueTokenResponse{Token: token})
}

func (h *AdminHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		OnlineUsers int `json:"onlineUsers"`
	}{OnlineUsers: h.registry.OnlineCount()})
}
