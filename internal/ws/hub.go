package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"gutorka/internal/models"

	"github.com/google/uuid"
)

// chatRepository is the slice of the chat repository the gateway needs.
type chatRepository interface {
	ChatsOf(userID string) ([]models.Chat, error)
	GetMessage(messageID string) (models.Message, error)
	SetMessageStatus(messageID string, status models.MessageStatus) (models.Message, error)
}

// notificationStore persists the durable side of offline delivery.
type notificationStore interface {
	AppendNotification(n models.Notification) error
	ListPushSubscriptions(userID string) ([]models.PushSubscription, error)
}

// pushSender delivers best-effort web push to one subscription.
type pushSender interface {
	Notify(sub models.PushSubscription, payload []byte) error
}

// Hub drives the presence and broadcast protocol on top of the
// registry. Store reads always happen before registry locks are taken.
type Hub struct {
	reg   *Registry
	repo  chatRepository
	store notificationStore
	push  pushSender
	now   func() time.Time
}

func NewHub(reg *Registry, repo chatRepository, store notificationStore, push pushSender) *Hub {
	return &Hub{
		reg:   reg,
		repo:  repo,
		store: store,
		push:  push,
		now:   time.Now,
	}
}

// Connect binds a new connection for the user, subscribes them to all
// their chats and announces the presence change to everyone they share
// a chat with.
func (h *Hub) Connect(userID string) (chan Event, error) {
	chats, err := h.repo.ChatsOf(userID)
	if err != nil {
		return nil, err
	}

	ch := h.reg.Bind(userID)
	for _, chat := range chats {
		h.reg.Subscribe(chat.ID, userID)
	}

	h.announcePresence(userID, chats, models.UserStatusOnline)

	return ch, nil
}

// Disconnect tears down the user's connection. The membership list is
// computed before unsubscription so the offline announcement still
// reaches the right audience. A stale handle from a replaced
// connection is ignored.
func (h *Hub) Disconnect(userID string, ch chan Event) {
	chats, err := h.repo.ChatsOf(userID)
	if err != nil {
		slog.Error("failed to load chats on disconnect", "user_id", userID, "error", err)
		chats = nil
	}

	if !h.reg.Unbind(userID, ch) {
		return
	}
	h.reg.UnsubscribeAll(userID)

	h.announcePresence(userID, chats, models.UserStatusOffline)
}

func (h *Hub) announcePresence(userID string, chats []models.Chat, status models.UserStatus) {
	ev := Event{
		Type:   EventPresenceChanged,
		UserID: userID,
		Status: string(status),
	}
	for _, peer := range peersOf(userID, chats) {
		h.reg.Send(peer, ev)
	}
}

// ChatCreated subscribes the members' live connections to the new
// group and tells each member their chat list changed.
func (h *Hub) ChatCreated(chat models.Chat) {
	for _, m := range chat.Members {
		if h.reg.Online(m.UserID) {
			h.reg.Subscribe(chat.ID, m.UserID)
		}
		h.reg.Send(m.UserID, Event{Type: EventChatsChanged})
	}
}

func (h *Hub) ChatDeleted(chat models.Chat) {
	h.reg.DropGroup(chat.ID)
	for _, m := range chat.Members {
		h.reg.Send(m.UserID, Event{Type: EventChatsChanged})
	}
}

// ChatUpdated announces a rename or other metadata change to the group.
func (h *Hub) ChatUpdated(chat models.Chat) {
	h.reg.Broadcast(chat.ID, Event{Type: EventChatChanged, ChatID: chat.ID}, "")
}

func (h *Hub) MembersAdded(chat models.Chat, added []string) {
	for _, userID := range added {
		if h.reg.Online(userID) {
			h.reg.Subscribe(chat.ID, userID)
		}
		h.reg.Send(userID, Event{Type: EventChatsChanged})
	}
	h.reg.Broadcast(chat.ID, Event{Type: EventChatChanged, ChatID: chat.ID}, "")
}

func (h *Hub) MembersRemoved(chat models.Chat, removed []string) {
	for _, userID := range removed {
		h.reg.Unsubscribe(chat.ID, userID)
		h.reg.Send(userID, Event{Type: EventChatsChanged})
	}
	h.reg.Broadcast(chat.ID, Event{Type: EventChatChanged, ChatID: chat.ID}, "")
}

// MessageSent fans a new message out. Per member other than the
// sender: offline members get a durable notification record plus best
// effort web push, online members get a notify event. Then the message
// is broadcast to the group and its Sent status is announced, strictly
// in that order.
func (h *Hub) MessageSent(chat models.Chat, msg models.Message) {
	notify := Event{
		Type:      EventNotify,
		ChatID:    chat.ID,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Message:   &msg,
	}
	for _, m := range chat.Members {
		if m.UserID == msg.SenderID {
			continue
		}
		if h.reg.Online(m.UserID) {
			h.reg.Send(m.UserID, notify)
			continue
		}
		h.notifyOffline(m.UserID, chat.ID, msg.ID)
	}

	h.reg.Broadcast(chat.ID, Event{
		Type:     EventMessageBroadcast,
		ChatID:   chat.ID,
		SenderID: msg.SenderID,
		Message:  &msg,
	}, "")
	h.reg.Broadcast(chat.ID, Event{
		Type:      EventMessageStatusChanged,
		ChatID:    chat.ID,
		MessageID: msg.ID,
		Status:    string(models.MessageStatusSent),
	}, "")
}

func (h *Hub) notifyOffline(userID, chatID, messageID string) {
	err := h.store.AppendNotification(models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChatID:    chatID,
		MessageID: messageID,
		CreatedAt: h.now().Unix(),
	})
	if err != nil {
		slog.Error("failed to persist notification", "user_id", userID, "error", err)
		return
	}

	if h.push == nil {
		return
	}
	subs, err := h.store.ListPushSubscriptions(userID)
	if err != nil {
		slog.Error("failed to list push subscriptions", "user_id", userID, "error", err)
		return
	}
	payload, err := json.Marshal(Event{
		Type:      EventNotify,
		ChatID:    chatID,
		MessageID: messageID,
	})
	if err != nil {
		return
	}
	for _, sub := range subs {
		if err := h.push.Notify(sub, payload); err != nil {
			slog.Warn("push delivery failed", "user_id", userID, "error", err)
		}
	}
}

// Typing relays the typing indicator to the whole group, the typist
// included.
func (h *Hub) Typing(chatID, userID string, started bool) {
	typ := EventTypingCleared
	if started {
		typ = EventTypingStarted
	}
	h.reg.Broadcast(chatID, Event{Type: typ, ChatID: chatID, UserID: userID}, "")
}

// Seen marks a message seen on behalf of a reader and announces the
// transition to the group. Marking your own message is a silent no-op.
func (h *Hub) Seen(userID, messageID string) {
	msg, err := h.repo.GetMessage(messageID)
	if err != nil {
		slog.Warn("seen for unknown message", "message_id", messageID, "error", err)
		return
	}
	if msg.SenderID == userID {
		return
	}

	msg, err = h.repo.SetMessageStatus(messageID, models.MessageStatusSeen)
	if err != nil {
		slog.Error("failed to mark message seen", "message_id", messageID, "error", err)
		return
	}

	h.reg.Broadcast(msg.ChatID, Event{
		Type:      EventMessageStatusChanged,
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		Status:    string(msg.Status),
	}, "")
}

// HandleClientMessage dispatches one inbound socket frame.
func (h *Hub) HandleClientMessage(userID string, msg ClientMessage) {
	switch msg.Type {
	case ClientMessageTypeTyping:
		h.Typing(msg.ChatID, userID, true)
	case ClientMessageTypeStopTyping:
		h.Typing(msg.ChatID, userID, false)
	case ClientMessageTypeSeen:
		h.Seen(userID, msg.MessageID)
	default:
		slog.Warn("unknown client message type", "type", msg.Type, "user_id", userID)
	}
}

// peersOf collects every distinct member of the user's chats except the
// user.
func peersOf(userID string, chats []models.Chat) []string {
	seen := map[string]bool{userID: true}
	var peers []string
	for _, chat := range chats {
		for _, m := range chat.Members {
			if !seen[m.UserID] {
				seen[m.UserID] = true
				peers = append(peers, m.UserID)
			}
		}
	}
	return peers
}
