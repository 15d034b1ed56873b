package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gutorka/internal/directory"
	"gutorka/internal/filestore"
	"gutorka/internal/models"
	"gutorka/internal/storage"

	"github.com/google/uuid"
)

// Repository implements the chat invariants over the durable store:
// creation and set-equality dedup, membership mutations, naming,
// the message lifecycle, pagination, search and attachment binding.
type Repository struct {
	store *storage.BboltStorage
	dir   directory.Directory
	files filestore.FileStore
	now   func() time.Time
}

func NewRepository(store *storage.BboltStorage, dir directory.Directory, files filestore.FileStore) *Repository {
	return &Repository{
		store: store,
		dir:   dir,
		files: files,
		now:   time.Now,
	}
}

// CreateOrGet creates a chat for the acting user and the given members,
// or returns the existing chat with exactly that member set. The acting
// user is always a member and the only initial moderator. The second
// return value reports whether a new chat was created.
func (r *Repository) CreateOrGet(ctx context.Context, actingUserID string, memberIDs []string) (models.Chat, bool, error) {
	if len(memberIDs) == 0 {
		return models.Chat{}, false, models.ErrEmptyChat
	}

	// Deduplicate and drop the acting user from the requested set.
	seen := map[string]bool{actingUserID: true}
	others := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		others = append(others, id)
	}
	if len(others) == 0 {
		return models.Chat{}, false, models.ErrSelfChat
	}

	want := append([]string{actingUserID}, others...)
	existing, err := r.findChatByMembers(want)
	if err != nil {
		return models.Chat{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	acting, err := r.resolveAndCache(ctx, actingUserID)
	if err != nil {
		return models.Chat{}, false, err
	}
	names := []string{acting.RealName}
	members := []models.ChatUser{{UserID: actingUserID, IsModerator: true}}
	for _, id := range others {
		user, err := r.resolveContact(ctx, actingUserID, id)
		if err != nil {
			return models.Chat{}, false, err
		}
		names = append(names, user.RealName)
		members = append(members, models.ChatUser{UserID: id})
	}

	chat := models.Chat{
		ID:      uuid.NewString(),
		Name:    strings.Join(names, ", "),
		Members: members,
	}
	// The insert re-checks member-set uniqueness inside the write
	// transaction. A concurrent creation of the same set loses the race
	// and gets the surviving chat back.
	saved, created, err := r.store.CreateChatUnique(chat)
	if err != nil {
		return models.Chat{}, false, fmt.Errorf("failed to save chat: %w", err)
	}

	return saved, created, nil
}

// AddMembers adds the given users to the chat. The whole batch is
// validated before anything is written, so a single bad member leaves
// the chat untouched.
func (r *Repository) AddMembers(ctx context.Context, actingUserID, chatID string, memberIDs []string) (models.Chat, error) {
	chat, err := r.store.GetChat(chatID)
	if err != nil {
		return models.Chat{}, err
	}

	seen := map[string]bool{}
	for _, id := range memberIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if chat.HasMember(id) {
			return models.Chat{}, fmt.Errorf("%w: %s", models.ErrAlreadyInChat, id)
		}
		if _, err := r.resolveContact(ctx, actingUserID, id); err != nil {
			return models.Chat{}, err
		}
		chat.Members = append(chat.Members, models.ChatUser{UserID: id})
	}

	if !chat.CustomName {
		name, err := r.nameFromMembers(ctx, chat.Members)
		if err != nil {
			return models.Chat{}, err
		}
		chat.Name = name
	}

	if err := r.store.UpsertChat(chat); err != nil {
		return models.Chat{}, fmt.Errorf("failed to save chat: %w", err)
	}
	return chat, nil
}

// RemoveMembers removes the given users from the chat. Removing the
// last member is rejected, a chat never exists without members.
func (r *Repository) RemoveMembers(ctx context.Context, chatID string, memberIDs []string) (models.Chat, error) {
	chat, err := r.store.GetChat(chatID)
	if err != nil {
		return models.Chat{}, err
	}

	drop := map[string]bool{}
	for _, id := range memberIDs {
		if !chat.HasMember(id) {
			return models.Chat{}, fmt.Errorf("%w: %s", models.ErrNotInChat, id)
		}
		drop[id] = true
	}

	kept := make([]models.ChatUser, 0, len(chat.Members))
	for _, m := range chat.Members {
		if !drop[m.UserID] {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return models.Chat{}, models.ErrEmptyChat
	}
	chat.Members = kept

	if !chat.CustomName {
		name, err := r.nameFromMembers(ctx, chat.Members)
		if err != nil {
			return models.Chat{}, err
		}
		chat.Name = name
	}

	if err := r.store.UpsertChat(chat); err != nil {
		return models.Chat{}, fmt.Errorf("failed to save chat: %w", err)
	}
	return chat, nil
}

// ChangeTitle renames the chat. From here on the name is pinned and no
// longer tracks the member list.
func (r *Repository) ChangeTitle(chatID, title string) (models.Chat, error) {
	chat, err := r.store.GetChat(chatID)
	if err != nil {
		return models.Chat{}, err
	}
	chat.Name = title
	chat.CustomName = true
	if err := r.store.UpsertChat(chat); err != nil {
		return models.Chat{}, fmt.Errorf("failed to save chat: %w", err)
	}
	return chat, nil
}

// Delete removes the chat with its messages and attachments. Stored
// attachment bytes are removed best effort after the records are gone.
func (r *Repository) Delete(chatID string) (models.Chat, error) {
	chat, err := r.store.GetChat(chatID)
	if err != nil {
		return models.Chat{}, err
	}
	atts, err := r.store.ListAttachmentsByChat(chatID)
	if err != nil {
		return models.Chat{}, fmt.Errorf("failed to list attachments: %w", err)
	}
	if err := r.store.DeleteChat(chatID); err != nil {
		return models.Chat{}, err
	}
	for _, att := range atts {
		if err := r.files.Delete(att.StoreHandle); err != nil {
			slog.Warn("failed to delete attachment file",
				"attachment_id", att.ID, "error", err)
		}
	}
	return chat, nil
}

// AppendMessage persists a new message from a chat member. The stored
// timestamp is always UTC.
func (r *Repository) AppendMessage(chatID, senderID, text, html, attachmentID string) (models.Message, error) {
	chat, err := r.store.GetChat(chatID)
	if err != nil {
		return models.Message{}, err
	}
	if !chat.HasMember(senderID) {
		return models.Message{}, fmt.Errorf("%w: %s", models.ErrNotInChat, senderID)
	}

	msg := models.Message{
		ID:           uuid.NewString(),
		ChatID:       chatID,
		SenderID:     senderID,
		Text:         text,
		HTML:         html,
		SentAt:       r.now().UTC(),
		Status:       models.MessageStatusSent,
		AttachmentID: attachmentID,
	}
	stored, err := r.store.AppendMessage(msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	return stored, nil
}

// SetMessageStatus transitions a message's delivery status. Repeating
// the current status is a no-op, moving backwards is rejected.
func (r *Repository) SetMessageStatus(messageID string, status models.MessageStatus) (models.Message, error) {
	return r.store.SetMessageStatus(messageID, status)
}

func (r *Repository) GetMessage(messageID string) (models.Message, error) {
	return r.store.GetMessage(messageID)
}

// Get returns the chat with one page of its messages, newest first,
// timestamps converted to the caller's time zone. Non-members get
// ErrChatNotFound, the chat's existence is not revealed.
func (r *Repository) Get(chatID, userID, tz string, pageSize, pageNumber int) (models.Chat, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return models.Chat{}, err
	}
	chat, err := r.store.GetChat(chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !chat.HasMember(userID) {
		return models.Chat{}, models.ErrChatNotFound
	}

	msgs, err := r.store.ListMessagesDesc(chatID)
	if err != nil {
		return models.Chat{}, fmt.Errorf("failed to list messages: %w", err)
	}
	chat.Messages = inLocation(paginate(msgs, pageSize, pageNumber), loc)

	return chat, nil
}

// GetAllForUser returns the user's chats annotated with their last
// message, newest activity first. Chats with no messages yet are
// skipped.
func (r *Repository) GetAllForUser(userID, tz string, pageSize, pageNumber int) ([]models.Chat, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return nil, err
	}
	chats, err := r.chatsForUser(userID)
	if err != nil {
		return nil, err
	}

	withLast := make([]models.Chat, 0, len(chats))
	for _, chat := range chats {
		last, err := r.store.LastMessage(chat.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get last message: %w", err)
		}
		if last == nil {
			continue
		}
		withLast = append(withLast, chat)
		withLast[len(withLast)-1].LastMessage = last
	}
	sort.SliceStable(withLast, func(i, j int) bool {
		return withLast[i].LastMessage.SentAt.After(withLast[j].LastMessage.SentAt)
	})

	page := paginate(withLast, pageSize, pageNumber)
	for i := range page {
		m := *page[i].LastMessage
		m.SentAt = m.SentAt.In(loc)
		page[i].LastMessage = &m
	}
	return page, nil
}

// SearchMessages finds the user's messages whose text contains the
// filter, case-insensitive. When chatID is set the search is restricted
// to that chat before pagination.
func (r *Repository) SearchMessages(userID, chatID, tz, filter string, pageSize, pageNumber int) ([]models.Message, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return nil, err
	}

	var chats []models.Chat
	if chatID != "" {
		chat, err := r.store.GetChat(chatID)
		if err != nil {
			return nil, err
		}
		if !chat.HasMember(userID) {
			return nil, models.ErrChatNotFound
		}
		chats = []models.Chat{chat}
	} else {
		chats, err = r.chatsForUser(userID)
		if err != nil {
			return nil, err
		}
	}

	needle := strings.ToLower(filter)
	var found []models.Message
	for _, chat := range chats {
		msgs, err := r.store.ListMessagesDesc(chat.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		for _, msg := range msgs {
			if strings.Contains(strings.ToLower(msg.Text), needle) {
				found = append(found, msg)
			}
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].SentAt.After(found[j].SentAt)
	})

	return inLocation(paginate(found, pageSize, pageNumber), loc), nil
}

// SearchChats finds the user's chats whose name or any member's real or
// contact name contains the filter, case-insensitive. Results are
// deduplicated and ordered by last activity, chats without messages
// last.
func (r *Repository) SearchChats(userID, tz, filter string, pageSize, pageNumber int) ([]models.Chat, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return nil, err
	}
	chats, err := r.chatsForUser(userID)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(filter)
	var matched []models.Chat
	for _, chat := range chats {
		ok := strings.Contains(strings.ToLower(chat.Name), needle)
		if !ok {
			for _, m := range chat.Members {
				user, err := r.store.GetUser(m.UserID)
				if err != nil {
					if errors.Is(err, models.ErrNotFound) {
						continue
					}
					return nil, err
				}
				if strings.Contains(strings.ToLower(user.RealName), needle) ||
					strings.Contains(strings.ToLower(user.ContactName), needle) {
					ok = true
					break
				}
			}
		}
		if !ok {
			continue
		}
		last, err := r.store.LastMessage(chat.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get last message: %w", err)
		}
		chat.LastMessage = last
		matched = append(matched, chat)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		li, lj := matched[i].LastMessage, matched[j].LastMessage
		switch {
		case li == nil:
			return false
		case lj == nil:
			return true
		default:
			return li.SentAt.After(lj.SentAt)
		}
	})

	page := paginate(matched, pageSize, pageNumber)
	for i := range page {
		if page[i].LastMessage == nil {
			continue
		}
		m := *page[i].LastMessage
		m.SentAt = m.SentAt.In(loc)
		page[i].LastMessage = &m
	}
	return page, nil
}

// ChatsOf returns every chat the user is a member of, including chats
// without messages.
func (r *Repository) ChatsOf(userID string) ([]models.Chat, error) {
	return r.chatsForUser(userID)
}

func (r *Repository) chatsForUser(userID string) ([]models.Chat, error) {
	all, err := r.store.ListChats()
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	var chats []models.Chat
	for _, chat := range all {
		if chat.HasMember(userID) {
			chats = append(chats, chat)
		}
	}
	return chats, nil
}

func (r *Repository) findChatByMembers(memberIDs []string) (*models.Chat, error) {
	want := map[string]bool{}
	for _, id := range memberIDs {
		want[id] = true
	}
	all, err := r.store.ListChats()
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	for _, chat := range all {
		if len(chat.Members) != len(want) {
			continue
		}
		same := true
		for _, m := range chat.Members {
			if !want[m.UserID] {
				same = false
				break
			}
		}
		if same {
			return &chat, nil
		}
	}
	return nil, nil
}

// resolveContact checks the contact relationship and resolves the
// directory user, caching the result locally.
func (r *Repository) resolveContact(ctx context.Context, actingUserID, contactID string) (models.User, error) {
	ok, err := r.dir.IsContactOf(ctx, actingUserID, contactID)
	if err != nil {
		return models.User{}, err
	}
	if !ok {
		return models.User{}, fmt.Errorf("%w: %s", models.ErrNotInContacts, contactID)
	}
	return r.resolveAndCache(ctx, contactID)
}

func (r *Repository) resolveAndCache(ctx context.Context, userID string) (models.User, error) {
	user, err := r.dir.ResolveUser(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	if err := r.store.UpsertUser(user); err != nil {
		return models.User{}, fmt.Errorf("failed to cache user: %w", err)
	}
	return user, nil
}

// nameFromMembers rebuilds the auto name from the full member list in
// insertion order. Cached directory users are preferred, missing ones
// are resolved and cached.
func (r *Repository) nameFromMembers(ctx context.Context, members []models.ChatUser) (string, error) {
	names := make([]string, 0, len(members))
	for _, m := range members {
		user, err := r.store.GetUser(m.UserID)
		if errors.Is(err, models.ErrNotFound) {
			user, err = r.resolveAndCache(ctx, m.UserID)
		}
		if err != nil {
			return "", err
		}
		names = append(names, user.RealName)
	}
	return strings.Join(names, ", "), nil
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrBadTimeZone, tz)
	}
	return loc, nil
}

func inLocation(msgs []models.Message, loc *time.Location) []models.Message {
	out := make([]models.Message, len(msgs))
	for i, msg := range msgs {
		msg.SentAt = msg.SentAt.In(loc)
		out[i] = msg
	}
	return out
}

// paginate cuts one 1-based page out of items. Pages past the end and
// invalid page parameters yield an empty page, never an error.
func paginate[T any](items []T, pageSize, pageNumber int) []T {
	if pageSize < 1 || pageNumber < 1 {
		return nil
	}
	start := (pageNumber - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
