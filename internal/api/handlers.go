package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"gutorka/internal/auth"
	"gutorka/internal/chat"
	"gutorka/internal/models"
	"gutorka/internal/service"
	"gutorka/internal/storage"
)

type contextKey string

const userIDKey contextKey = "userID"

const (
	defaultPageSize = 50
	defaultPage     = 1
)

type API struct {
	sessions  *auth.Sessions
	svc       *service.Service
	repo      *chat.Repository
	store     *storage.BboltStorage
	maxUpload int64
}

func New(sessions *auth.Sessions, svc *service.Service, repo *chat.Repository, store *storage.BboltStorage, maxUpload int64) *API {
	return &API{
		sessions:  sessions,
		svc:       svc,
		repo:      repo,
		store:     store,
		maxUpload: maxUpload,
	}
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// RequireAuth resolves the session token and stashes the user id in the
// request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.sessions.GetUserID(a.getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func userIDFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

// errStatus maps the sentinel error taxonomy to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrEmptyChat),
		errors.Is(err, models.ErrSelfChat),
		errors.Is(err, models.ErrBadTimeZone),
		errors.Is(err, models.ErrBadSearchTarget):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrContentTypeUnresolved):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, models.ErrNotInContacts),
		errors.Is(err, models.ErrNotModerator):
		return http.StatusForbidden
	case errors.Is(err, models.ErrChatNotFound),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, models.ErrChatUserNotFound),
		errors.Is(err, models.ErrAttachmentNotFound),
		errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyInChat),
		errors.Is(err, models.ErrNotInChat),
		errors.Is(err, models.ErrStatusRegression):
		return http.StatusConflict
	case errors.Is(err, models.ErrDirectoryUnavailable),
		errors.Is(err, models.ErrUploadFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		http.Error(w, "Internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func pageParams(r *http.Request) (int, int) {
	pageSize := defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil {
		pageSize = v
	}
	page := defaultPage
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		page = v
	}
	return pageSize, page
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.getToken(r); token != "" {
		_ = a.sessions.Revoke(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusOK)
}

func (a *API) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberIDs []string `json:"memberIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	chat, created, err := a.svc.CreateChat(r.Context(), userIDFrom(r), req.MemberIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	if created {
		w.WriteHeader(http.StatusCreated)
	}
	writeJSON(w, chat)
}

func (a *API) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	pageSize, page := pageParams(r)
	chats, err := a.repo.GetAllForUser(userIDFrom(r), r.URL.Query().Get("tz"), pageSize, page)
	if err != nil {
		writeError(w, err)
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}
	writeJSON(w, chats)
}

func (a *API) GetChatHandler(w http.ResponseWriter, r *http.Request) {
	pageSize, page := pageParams(r)
	chat, err := a.repo.Get(r.PathValue("id"), userIDFrom(r), r.URL.Query().Get("tz"), pageSize, page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, chat)
}

func (a *API) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteChat(userIDFrom(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) ChangeTitleHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		http.Error(w, "Title is required", http.StatusBadRequest)
		return
	}

	chat, err := a.svc.ChangeTitle(userIDFrom(r), r.PathValue("id"), req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, chat)
}

func (a *API) AddMembersHandler(w http.ResponseWriter, r *http.Request) {
	a.membersHandler(w, r, a.svc.AddMembers)
}

func (a *API) RemoveMembersHandler(w http.ResponseWriter, r *http.Request) {
	a.membersHandler(w, r, a.svc.RemoveMembers)
}

func (a *API) membersHandler(
	w http.ResponseWriter,
	r *http.Request,
	mutate func(ctx context.Context, actingUserID, chatID string, memberIDs []string) (models.Chat, error),
) {
	var req struct {
		MemberIDs []string `json:"memberIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.MemberIDs) == 0 {
		http.Error(w, "Member ids are required", http.StatusBadRequest)
		return
	}

	chat, err := mutate(r.Context(), userIDFrom(r), r.PathValue("id"), req.MemberIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, chat)
}

// SendMessageHandler accepts a multipart form with a "text" field and
// an optional "file" part, capped at the configured upload size.
func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	if err := r.ParseMultipartForm(a.maxUpload); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	var attachment io.Reader
	fileName := ""
	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		attachment = file
		fileName = header.Filename
	}

	msg, err := a.svc.SendMessage(userIDFrom(r), r.PathValue("id"), r.FormValue("text"), attachment, fileName)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, msg)
}

// SearchHandler dispatches on the target parameter: messages or chats.
func (a *API) SearchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageSize, page := pageParams(r)
	userID := userIDFrom(r)

	switch q.Get("target") {
	case "messages":
		msgs, err := a.repo.SearchMessages(userID, q.Get("chatId"), q.Get("tz"), q.Get("filter"), pageSize, page)
		if err != nil {
			writeError(w, err)
			return
		}
		if msgs == nil {
			msgs = []models.Message{}
		}
		writeJSON(w, msgs)
	case "chats":
		chats, err := a.repo.SearchChats(userID, q.Get("tz"), q.Get("filter"), pageSize, page)
		if err != nil {
			writeError(w, err)
			return
		}
		if chats == nil {
			chats = []models.Chat{}
		}
		writeJSON(w, chats)
	default:
		writeError(w, models.ErrBadSearchTarget)
	}
}

func (a *API) GetAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	rc, att, contentType, err := a.repo.OpenAttachment(r.PathValue("id"), userIDFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+att.FileName+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(att.Size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("failed to stream attachment %s: %v", att.ID, err)
	}
}

func (a *API) DeleteAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := a.repo.DeleteAttachment(r.PathValue("id"), userIDFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) ListAttachmentsHandler(w http.ResponseWriter, r *http.Request) {
	pageSize, page := pageParams(r)
	atts, err := a.repo.ListAttachments(r.PathValue("id"), userIDFrom(r), pageSize, page)
	if err != nil {
		writeError(w, err)
		return
	}
	if atts == nil {
		atts = []models.Attachment{}
	}
	writeJSON(w, atts)
}

func (a *API) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	notifications, err := a.store.ListNotifications(userIDFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	writeJSON(w, notifications)
}

func (a *API) SubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
		Auth     string `json:"auth"`
		P256dh   string `json:"p256dh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		http.Error(w, "Endpoint is required", http.StatusBadRequest)
		return
	}

	err := a.store.UpsertPushSubscription(models.PushSubscription{
		UserID:   userIDFrom(r),
		Endpoint: req.Endpoint,
		Auth:     req.Auth,
		P256dh:   req.P256dh,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (a *API) UnsubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		http.Error(w, "Endpoint is required", http.StatusBadRequest)
		return
	}
	if err := a.store.DeletePushSubscription(req.Endpoint); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
