package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"gutorka/internal/api"
	"gutorka/internal/auth"
	"gutorka/internal/chat"
	"gutorka/internal/service"
	"gutorka/internal/storage"
	"gutorka/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(
	sessions *auth.Sessions,
	svc *service.Service,
	repo *chat.Repository,
	store *storage.BboltStorage,
	hub *ws.Hub,
	addr string,
	maxUpload int64,
) *APIServer {
	wsServer := ws.NewServer(sessions, hub)
	handlers := api.New(sessions, svc, repo, store, maxUpload)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/logoff", handlers.LogoffHandler)

	mux.HandleFunc("POST /api/chats", handlers.RequireAuth(handlers.CreateChatHandler))
	mux.HandleFunc("GET /api/chats", handlers.RequireAuth(handlers.ListChatsHandler))
	mux.HandleFunc("GET /api/chats/{id}", handlers.RequireAuth(handlers.GetChatHandler))
	mux.HandleFunc("DELETE /api/chats/{id}", handlers.RequireAuth(handlers.DeleteChatHandler))
	mux.HandleFunc("PUT /api/chats/{id}/title", handlers.RequireAuth(handlers.ChangeTitleHandler))
	mux.HandleFunc("POST /api/chats/{id}/members", handlers.RequireAuth(handlers.AddMembersHandler))
	mux.HandleFunc("DELETE /api/chats/{id}/members", handlers.RequireAuth(handlers.RemoveMembersHandler))
	mux.HandleFunc("POST /api/chats/{id}/messages", handlers.RequireAuth(handlers.SendMessageHandler))
	mux.HandleFunc("GET /api/chats/{id}/attachments", handlers.RequireAuth(handlers.ListAttachmentsHandler))

	mux.HandleFunc("GET /api/search", handlers.RequireAuth(handlers.SearchHandler))

	mux.HandleFunc("GET /api/attachments/{id}", handlers.RequireAuth(handlers.GetAttachmentHandler))
	mux.HandleFunc("DELETE /api/attachments/{id}", handlers.RequireAuth(handlers.DeleteAttachmentHandler))

	mux.HandleFunc("GET /api/notifications", handlers.RequireAuth(handlers.ListNotificationsHandler))
	mux.HandleFunc("POST /api/push-subscriptions", handlers.RequireAuth(handlers.SubscribePushHandler))
	mux.HandleFunc("DELETE /api/push-subscriptions", handlers.RequireAuth(handlers.UnsubscribePushHandler))

	// WebSocket endpoint, auth happens inside the handler
	mux.HandleFunc("/api/ws", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
