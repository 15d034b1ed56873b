package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gutorka/internal/content"
	"gutorka/internal/models"
)

// repository is the slice of the chat repository the service
// orchestrates.
type repository interface {
	CreateOrGet(ctx context.Context, actingUserID string, memberIDs []string) (models.Chat, bool, error)
	AddMembers(ctx context.Context, actingUserID, chatID string, memberIDs []string) (models.Chat, error)
	RemoveMembers(ctx context.Context, chatID string, memberIDs []string) (models.Chat, error)
	ChangeTitle(chatID, title string) (models.Chat, error)
	Delete(chatID string) (models.Chat, error)
	AppendMessage(chatID, senderID, text, html, attachmentID string) (models.Message, error)
	CreateAttachment(chatID, userID string, src io.Reader, fileName string) (models.Attachment, error)
}

// userStore reads chats for authorization checks and keeps the cached
// user records fresh.
type userStore interface {
	GetChat(id string) (models.Chat, error)
	GetUser(id string) (models.User, error)
	UpsertUser(user models.User) error
}

// Notifier receives one call per successful mutation so the gateway can
// fan the change out.
type Notifier interface {
	ChatCreated(chat models.Chat)
	ChatDeleted(chat models.Chat)
	ChatUpdated(chat models.Chat)
	MembersAdded(chat models.Chat, added []string)
	MembersRemoved(chat models.Chat, removed []string)
	MessageSent(chat models.Chat, msg models.Message)
}

// Service orchestrates chat mutations: it sanitizes input, enforces
// moderator rights and triggers gateway fan-out after each successful
// write.
type Service struct {
	repo     repository
	store    userStore
	notifier Notifier
	now      func() time.Time
}

func New(repo repository, store userStore, notifier Notifier) *Service {
	return &Service{
		repo:     repo,
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// CreateChat creates or finds the chat for the member set. Fan-out
// happens only when a chat was actually created.
func (s *Service) CreateChat(ctx context.Context, actingUserID string, memberIDs []string) (models.Chat, bool, error) {
	chat, created, err := s.repo.CreateOrGet(ctx, actingUserID, memberIDs)
	if err != nil {
		return models.Chat{}, false, err
	}
	if created {
		s.notifier.ChatCreated(chat)
	}
	return chat, created, nil
}

func (s *Service) DeleteChat(actingUserID, chatID string) error {
	if err := s.requireModerator(actingUserID, chatID); err != nil {
		return err
	}
	chat, err := s.repo.Delete(chatID)
	if err != nil {
		return err
	}
	s.notifier.ChatDeleted(chat)
	return nil
}

func (s *Service) ChangeTitle(actingUserID, chatID, title string) (models.Chat, error) {
	if err := s.requireModerator(actingUserID, chatID); err != nil {
		return models.Chat{}, err
	}
	chat, err := s.repo.ChangeTitle(chatID, content.Sanitize(title))
	if err != nil {
		return models.Chat{}, err
	}
	s.notifier.ChatUpdated(chat)
	return chat, nil
}

func (s *Service) AddMembers(ctx context.Context, actingUserID, chatID string, memberIDs []string) (models.Chat, error) {
	if err := s.requireModerator(actingUserID, chatID); err != nil {
		return models.Chat{}, err
	}
	chat, err := s.repo.AddMembers(ctx, actingUserID, chatID, memberIDs)
	if err != nil {
		return models.Chat{}, err
	}
	s.notifier.MembersAdded(chat, memberIDs)
	return chat, nil
}

func (s *Service) RemoveMembers(ctx context.Context, actingUserID, chatID string, memberIDs []string) (models.Chat, error) {
	if err := s.requireModerator(actingUserID, chatID); err != nil {
		return models.Chat{}, err
	}
	chat, err := s.repo.RemoveMembers(ctx, chatID, memberIDs)
	if err != nil {
		return models.Chat{}, err
	}
	s.notifier.MembersRemoved(chat, memberIDs)
	return chat, nil
}

// SendMessage persists one message with an optional attachment. The
// attachment is uploaded first, a failed upload means no message. The
// sender's last activity is bumped after the message is durable.
func (s *Service) SendMessage(actingUserID, chatID, text string, attachment io.Reader, fileName string) (models.Message, error) {
	attachmentID := ""
	if attachment != nil {
		att, err := s.repo.CreateAttachment(chatID, actingUserID, attachment, fileName)
		if err != nil {
			return models.Message{}, err
		}
		attachmentID = att.ID
	}

	text = content.Sanitize(text)
	msg, err := s.repo.AppendMessage(chatID, actingUserID, text, content.RenderMarkdown(text), attachmentID)
	if err != nil {
		return models.Message{}, err
	}

	s.bumpLastActivity(actingUserID)

	chat, err := s.store.GetChat(chatID)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to load chat for fan-out: %w", err)
	}
	s.notifier.MessageSent(chat, msg)

	return msg, nil
}

func (s *Service) requireModerator(actingUserID, chatID string) error {
	chat, err := s.store.GetChat(chatID)
	if err != nil {
		return err
	}
	for _, m := range chat.Members {
		if m.UserID != actingUserID {
			continue
		}
		if !m.IsModerator {
			return models.ErrNotModerator
		}
		return nil
	}
	return models.ErrChatUserNotFound
}

func (s *Service) bumpLastActivity(userID string) {
	user, err := s.store.GetUser(userID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return
		}
		user = models.User{ID: userID}
	}
	user.LastActivity = s.now().Unix()
	// Best effort, the message is already durable
	_ = s.store.UpsertUser(user)
}
