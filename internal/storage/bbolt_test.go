package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gutorka/internal/models"
)

func TestStorage(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "storage_test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := NewBboltStorage(dbPath)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	t.Run("Users", func(t *testing.T) {
		user := models.User{
			ID:       "user1",
			RealName: "Alice Johnson",
		}
		if err := store.UpsertUser(user); err != nil {
			t.Fatalf("UpsertUser failed: %v", err)
		}

		got, err := store.GetUser("user1")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if got.RealName != user.RealName {
			t.Errorf("expected RealName %s, got %s", user.RealName, got.RealName)
		}

		if _, err := store.GetUser("nope"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Chats", func(t *testing.T) {
		chat := models.Chat{
			ID:   "chat1",
			Name: "Alice Johnson, Bob Stone",
			Members: []models.ChatUser{
				{UserID: "user1", IsModerator: true},
				{UserID: "user2"},
			},
		}
		if err := store.UpsertChat(chat); err != nil {
			t.Fatalf("UpsertChat failed: %v", err)
		}

		got, err := store.GetChat("chat1")
		if err != nil {
			t.Fatalf("GetChat failed: %v", err)
		}
		if len(got.Members) != 2 {
			t.Fatalf("expected 2 members, got %d", len(got.Members))
		}
		if !got.Members[0].IsModerator {
			t.Error("expected first member to be moderator")
		}
		if got.Members[1].IsModerator {
			t.Error("expected second member to not be moderator")
		}

		listChats, err := store.ListChats()
		if err != nil {
			t.Fatalf("ListChats failed: %v", err)
		}
		if len(listChats) != 1 {
			t.Errorf("expected 1 chat, got %d", len(listChats))
		}

		if _, err := store.GetChat("nope"); !errors.Is(err, models.ErrChatNotFound) {
			t.Errorf("expected ErrChatNotFound, got %v", err)
		}
	})

	t.Run("Messages", func(t *testing.T) {
		msg1 := models.Message{
			ID:       "msg1",
			ChatID:   "chat1",
			SenderID: "user1",
			Text:     "hello",
			HTML:     "<p>hello <strong>bob</strong></p>",
			SentAt:   time.Now().UTC(),
			Status:   models.MessageStatusSent,
		}
		saved1, err := store.AppendMessage(msg1)
		if err != nil {
			t.Fatalf("AppendMessage 1 failed: %v", err)
		}
		if saved1.Seq != 1 {
			t.Errorf("expected seq 1, got %d", saved1.Seq)
		}

		msg2 := msg1
		msg2.ID = "msg2"
		msg2.Text = "world"
		saved2, err := store.AppendMessage(msg2)
		if err != nil {
			t.Fatalf("AppendMessage 2 failed: %v", err)
		}
		if saved2.Seq != 2 {
			t.Errorf("expected seq 2, got %d", saved2.Seq)
		}

		msgs, err := store.ListMessagesDesc("chat1")
		if err != nil {
			t.Fatalf("ListMessagesDesc failed: %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		// Newest first
		if msgs[0].Text != "world" || msgs[1].Text != "hello" {
			t.Errorf("wrong order: %s, %s", msgs[0].Text, msgs[1].Text)
		}

		last, err := store.LastMessage("chat1")
		if err != nil {
			t.Fatalf("LastMessage failed: %v", err)
		}
		if last == nil || last.ID != "msg2" {
			t.Errorf("expected last message msg2, got %+v", last)
		}

		got, err := store.GetMessage("msg1")
		if err != nil {
			t.Fatalf("GetMessage failed: %v", err)
		}
		if got.Text != "hello" {
			t.Errorf("expected text hello, got %s", got.Text)
		}
		if got.HTML != msg1.HTML {
			t.Errorf("expected HTML %q, got %q", msg1.HTML, got.HTML)
		}
		if msgs[1].HTML != msg1.HTML {
			t.Errorf("expected listed HTML %q, got %q", msg1.HTML, msgs[1].HTML)
		}

		// Append to a missing chat must fail.
		bad := msg1
		bad.ID = "msg3"
		bad.ChatID = "nochat"
		if _, err := store.AppendMessage(bad); !errors.Is(err, models.ErrChatNotFound) {
			t.Errorf("expected ErrChatNotFound, got %v", err)
		}
	})

	t.Run("MessageStatus", func(t *testing.T) {
		msg, err := store.SetMessageStatus("msg1", models.MessageStatusSeen)
		if err != nil {
			t.Fatalf("SetMessageStatus failed: %v", err)
		}
		if msg.Status != models.MessageStatusSeen {
			t.Errorf("expected Seen, got %s", msg.Status)
		}

		// Idempotent second transition
		msg, err = store.SetMessageStatus("msg1", models.MessageStatusSeen)
		if err != nil {
			t.Fatalf("second SetMessageStatus failed: %v", err)
		}
		if msg.Status != models.MessageStatusSeen {
			t.Errorf("expected Seen, got %s", msg.Status)
		}

		// Regression is rejected
		if _, err := store.SetMessageStatus("msg1", models.MessageStatusSent); !errors.Is(err, models.ErrStatusRegression) {
			t.Errorf("expected ErrStatusRegression, got %v", err)
		}

		if _, err := store.SetMessageStatus("nope", models.MessageStatusSeen); !errors.Is(err, models.ErrMessageNotFound) {
			t.Errorf("expected ErrMessageNotFound, got %v", err)
		}
	})

	t.Run("Attachments", func(t *testing.T) {
		att := models.Attachment{
			ID:          "att1",
			StoreHandle: "ab/abcdef",
			FileName:    "report.pdf",
			Size:        1024,
			CreatedAt:   time.Now().Unix(),
		}
		if err := store.UpsertAttachment(att); err != nil {
			t.Fatalf("UpsertAttachment failed: %v", err)
		}

		msg := models.Message{
			ID:           "msg_att",
			ChatID:       "chat1",
			SenderID:     "user1",
			Text:         "see attached",
			SentAt:       time.Now().UTC(),
			Status:       models.MessageStatusSent,
			AttachmentID: "att1",
		}
		if _, err := store.AppendMessage(msg); err != nil {
			t.Fatalf("AppendMessage with attachment failed: %v", err)
		}

		got, err := store.GetAttachment("att1")
		if err != nil {
			t.Fatalf("GetAttachment failed: %v", err)
		}
		if got.MessageID != "msg_att" || got.ChatID != "chat1" {
			t.Errorf("attachment not bound to message: %+v", got)
		}

		byChat, err := store.ListAttachmentsByChat("chat1")
		if err != nil {
			t.Fatalf("ListAttachmentsByChat failed: %v", err)
		}
		if len(byChat) != 1 {
			t.Fatalf("expected 1 attachment, got %d", len(byChat))
		}

		if err := store.DeleteAttachment("att1"); err != nil {
			t.Fatalf("DeleteAttachment failed: %v", err)
		}
		if _, err := store.GetAttachment("att1"); !errors.Is(err, models.ErrAttachmentNotFound) {
			t.Errorf("expected ErrAttachmentNotFound, got %v", err)
		}
		// Owning message loses the reference
		ownMsg, err := store.GetMessage("msg_att")
		if err != nil {
			t.Fatalf("GetMessage failed: %v", err)
		}
		if ownMsg.AttachmentID != "" {
			t.Errorf("expected cleared attachment reference, got %s", ownMsg.AttachmentID)
		}
	})

	t.Run("Tokens", func(t *testing.T) {
		if err := store.UpsertToken("user2", "token_hash_123"); err != nil {
			t.Fatalf("UpsertToken failed: %v", err)
		}

		userID, err := store.LookupToken("token_hash_123")
		if err != nil {
			t.Fatalf("LookupToken failed: %v", err)
		}
		if userID != "user2" {
			t.Errorf("expected user2, got %s", userID)
		}

		if err := store.DeleteToken("token_hash_123"); err != nil {
			t.Fatalf("DeleteToken failed: %v", err)
		}
		if _, err := store.LookupToken("token_hash_123"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("Notifications", func(t *testing.T) {
		note := models.Notification{
			ID:        "note1",
			UserID:    "user2",
			ChatID:    "chat1",
			MessageID: "msg1",
			CreatedAt: time.Now().Unix(),
		}
		if err := store.AppendNotification(note); err != nil {
			t.Fatalf("AppendNotification failed: %v", err)
		}

		notes, err := store.ListNotifications("user2")
		if err != nil {
			t.Fatalf("ListNotifications failed: %v", err)
		}
		if len(notes) != 1 || notes[0].MessageID != "msg1" {
			t.Errorf("unexpected notifications: %+v", notes)
		}

		other, err := store.ListNotifications("user1")
		if err != nil {
			t.Fatalf("ListNotifications failed: %v", err)
		}
		if len(other) != 0 {
			t.Errorf("expected no notifications for user1, got %d", len(other))
		}
	})

	t.Run("PushSubscriptions", func(t *testing.T) {
		sub := models.PushSubscription{
			UserID:   "user2",
			Endpoint: "https://push.example.com/sub/1",
			Auth:     "authkey",
			P256dh:   "p256key",
		}
		if err := store.UpsertPushSubscription(sub); err != nil {
			t.Fatalf("UpsertPushSubscription failed: %v", err)
		}

		subs, err := store.ListPushSubscriptions("user2")
		if err != nil {
			t.Fatalf("ListPushSubscriptions failed: %v", err)
		}
		if len(subs) != 1 || subs[0].Endpoint != sub.Endpoint {
			t.Errorf("unexpected subscriptions: %+v", subs)
		}

		if err := store.DeletePushSubscription(sub.Endpoint); err != nil {
			t.Fatalf("DeletePushSubscription failed: %v", err)
		}
		subs, _ = store.ListPushSubscriptions("user2")
		if len(subs) != 0 {
			t.Errorf("expected no subscriptions after delete, got %d", len(subs))
		}
	})

	t.Run("CreateChatUnique", func(t *testing.T) {
		first := models.Chat{
			ID:   "uniq1",
			Name: "Alice Johnson, Carol White",
			Members: []models.ChatUser{
				{UserID: "user1", IsModerator: true},
				{UserID: "user3"},
			},
		}
		got, created, err := store.CreateChatUnique(first)
		if err != nil {
			t.Fatalf("CreateChatUnique failed: %v", err)
		}
		if !created || got.ID != "uniq1" {
			t.Errorf("expected fresh insert of uniq1, got created=%v chat=%+v", created, got)
		}

		// Same member set in a different order loses to the first insert
		dup := models.Chat{
			ID:   "uniq2",
			Name: "Carol White, Alice Johnson",
			Members: []models.ChatUser{
				{UserID: "user3", IsModerator: true},
				{UserID: "user1"},
			},
		}
		got, created, err = store.CreateChatUnique(dup)
		if err != nil {
			t.Fatalf("CreateChatUnique dup failed: %v", err)
		}
		if created {
			t.Error("expected duplicate member set to be refused")
		}
		if got.ID != "uniq1" {
			t.Errorf("expected surviving chat uniq1, got %s", got.ID)
		}
		if _, err := store.GetChat("uniq2"); !errors.Is(err, models.ErrChatNotFound) {
			t.Errorf("expected uniq2 absent, got %v", err)
		}

		// A different set still inserts
		other := models.Chat{
			ID:   "uniq3",
			Name: "Alice Johnson, Carol White, Dave Black",
			Members: []models.ChatUser{
				{UserID: "user1", IsModerator: true},
				{UserID: "user3"},
				{UserID: "user4"},
			},
		}
		if _, created, err = store.CreateChatUnique(other); err != nil || !created {
			t.Errorf("expected insert of distinct set, created=%v err=%v", created, err)
		}

		for _, id := range []string{"uniq1", "uniq3"} {
			if err := store.DeleteChat(id); err != nil {
				t.Fatalf("cleanup DeleteChat %s failed: %v", id, err)
			}
		}
	})

	t.Run("DeleteChatCascade", func(t *testing.T) {
		if err := store.DeleteChat("chat1"); err != nil {
			t.Fatalf("DeleteChat failed: %v", err)
		}

		if _, err := store.GetChat("chat1"); !errors.Is(err, models.ErrChatNotFound) {
			t.Errorf("expected ErrChatNotFound, got %v", err)
		}
		msgs, err := store.ListMessagesDesc("chat1")
		if err != nil {
			t.Fatalf("ListMessagesDesc failed: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("expected no messages after cascade, got %d", len(msgs))
		}
		if _, err := store.GetMessage("msg1"); !errors.Is(err, models.ErrMessageNotFound) {
			t.Errorf("expected index entry removed, got %v", err)
		}

		if err := store.DeleteChat("chat1"); !errors.Is(err, models.ErrChatNotFound) {
			t.Errorf("expected ErrChatNotFound on second delete, got %v", err)
		}
	})
}
