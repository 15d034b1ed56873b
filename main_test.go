package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"gutorka/internal/api"
	"gutorka/internal/models"
	"gutorka/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeDirectoryServer mimics the external user directory: everyone is
// everyone's contact.
func fakeDirectoryServer() *httptest.Server {
	users := map[string]models.User{
		"alice": {ID: "alice", RealName: "Alice Johnson"},
		"bob":   {ID: "bob", RealName: "Bob Smith"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		user, ok := users[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(user)
	})
	mux.HandleFunc("GET /api/users/{acting}/contacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, ok := users[r.PathValue("id")]
		_ = json.NewEncoder(w).Encode(struct {
			IsContact bool `json:"isContact"`
		}{IsContact: ok})
	})
	mux.HandleFunc("GET /api/users/{id}/display", func(w http.ResponseWriter, r *http.Request) {
		user, ok := users[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(struct {
			RealName string `json:"realName"`
		}{RealName: user.RealName})
	})
	return httptest.NewServer(mux)
}

func TestIntegration(t *testing.T) {
	dir := fakeDirectoryServer()
	defer dir.Close()

	tmp := t.TempDir()
	adminAddr := "127.0.0.1:18881"
	apiAddr := "127.0.0.1:18880"

	t.Setenv("GUTORKA_DB", filepath.Join(tmp, "integration_test.db"))
	t.Setenv("UPLOADS_PATH", filepath.Join(tmp, "uploads"))
	t.Setenv("ADMIN_ADDR", adminAddr)
	t.Setenv("API_ADDR", apiAddr)
	t.Setenv("DIRECTORY_URL", dir.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Server error: %v", err)
		}
	}()

	waitForServer(t, fmt.Sprintf("http://%s/admin/stats", adminAddr), 20)

	client := &http.Client{}

	issueToken := func(userID string) string {
		body, _ := json.Marshal(api.IssueTokenRequest{UserID: userID})
		resp, err := client.Post(fmt.Sprintf("http://%s/admin/tokens", adminAddr), "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var tokenResp api.IssueTokenResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokenResp))
		require.NotEmpty(t, tokenResp.Token)
		return tokenResp.Token
	}

	aliceToken := issueToken("alice")
	bobToken := issueToken("bob")

	doJSON := func(method, path, token string, reqBody any) *http.Response {
		var body *bytes.Reader
		if reqBody != nil {
			data, err := json.Marshal(reqBody)
			require.NoError(t, err)
			body = bytes.NewReader(data)
		} else {
			body = bytes.NewReader(nil)
		}
		req, err := http.NewRequest(method, fmt.Sprintf("http://%s%s", apiAddr, path), body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("token", token)
		resp, err := client.Do(req)
		require.NoError(t, err)
		return resp
	}

	// Unauthenticated requests are rejected
	resp := doJSON("GET", "/api/chats", "bogus", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	// Bob connects over websocket to watch events
	wsURL := fmt.Sprintf("ws://%s/api/ws?token=%s", apiAddr, bobToken)
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if wsResp != nil {
		_ = wsResp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	// Wait until the hub has registered bob's connection
	require.Eventually(t, func() bool {
		resp, err := client.Get(fmt.Sprintf("http://%s/admin/stats", adminAddr))
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		var stats struct {
			OnlineUsers int `json:"onlineUsers"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			return false
		}
		return stats.OnlineUsers >= 1
	}, 2*time.Second, 50*time.Millisecond)

	// Alice creates a chat with bob
	resp = doJSON("POST", "/api/chats", aliceToken, struct {
		MemberIDs []string `json:"memberIds"`
	}{MemberIDs: []string{"bob"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var chat models.Chat
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))
	_ = resp.Body.Close()
	require.Equal(t, "Alice Johnson, Bob Smith", chat.Name)
	require.Len(t, chat.Members, 2)

	readEvent := func() ws.Event {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev ws.Event
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	ev := readEvent()
	require.Equal(t, ws.EventChatsChanged, ev.Type)

	// Alice sends a message with an attachment
	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	require.NoError(t, mw.WriteField("text", "hello **bob**"))
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("attachment body"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest("POST", fmt.Sprintf("http://%s/api/chats/%s/messages", apiAddr, chat.ID), &form)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("token", aliceToken)
	resp, err = client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var msg models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	_ = resp.Body.Close()
	require.Equal(t, models.MessageStatusSent, msg.Status)
	require.NotEmpty(t, msg.AttachmentID)

	// Bob sees notify, then the broadcast, then the Sent status
	ev = readEvent()
	require.Equal(t, ws.EventNotify, ev.Type)
	require.Equal(t, msg.ID, ev.MessageID)

	ev = readEvent()
	require.Equal(t, ws.EventMessageBroadcast, ev.Type)
	require.NotNil(t, ev.Message)
	require.Equal(t, msg.ID, ev.Message.ID)

	ev = readEvent()
	require.Equal(t, ws.EventMessageStatusChanged, ev.Type)
	require.Equal(t, string(models.MessageStatusSent), ev.Status)

	// Bob reads the chat
	resp = doJSON("GET", fmt.Sprintf("/api/chats/%s?tz=Europe/Berlin", chat.ID), bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Chat
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	_ = resp.Body.Close()
	require.Len(t, got.Messages, 1)
	require.Contains(t, got.Messages[0].HTML, "<strong>bob</strong>")

	// Bob marks it seen over the socket
	require.NoError(t, conn.WriteJSON(ws.ClientMessage{
		Type:      ws.ClientMessageTypeSeen,
		MessageID: msg.ID,
	}))

	// Bob downloads the attachment
	resp = doJSON("GET", "/api/attachments/"+msg.AttachmentID, bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// Search finds the message
	resp = doJSON("GET", "/api/search?target=messages&filter=HELLO", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var foundMsgs []models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&foundMsgs))
	_ = resp.Body.Close()
	require.Len(t, foundMsgs, 1)

	// Bad search target is a validation error
	resp = doJSON("GET", "/api/search?target=users&filter=x", bobToken, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// Only moderators may rename
	resp = doJSON("PUT", fmt.Sprintf("/api/chats/%s/title", chat.ID), bobToken, struct {
		Title string `json:"title"`
	}{Title: "Bob's place"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doJSON("PUT", fmt.Sprintf("/api/chats/%s/title", chat.ID), aliceToken, struct {
		Title string `json:"title"`
	}{Title: "Our chat"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// Alice deletes the chat
	resp = doJSON("DELETE", "/api/chats/"+chat.ID, aliceToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doJSON("GET", "/api/chats/"+chat.ID, aliceToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	t.Helper()
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("server did not start in time")
}
