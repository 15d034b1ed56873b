package ws

import "gutorka/internal/models"

type EventType string

// The full outbound event catalogue. Clients never receive anything
// outside this set.
const (
	EventPresenceChanged      EventType = "presenceChanged"
	EventChatsChanged         EventType = "chatsChanged"
	EventChatChanged          EventType = "chatChanged"
	EventMessageBroadcast     EventType = "messageBroadcast"
	EventMessageStatusChanged EventType = "messageStatusChanged"
	EventNotify               EventType = "notify"
	EventTypingStarted        EventType = "typingStarted"
	EventTypingCleared        EventType = "typingCleared"
)

// Event is the single outbound wire frame. Which payload fields are set
// depends on Type.
type Event struct {
	Type      EventType       `json:"type"`
	UserID    string          `json:"userId,omitempty"`
	Status    string          `json:"status,omitempty"`
	ChatID    string          `json:"chatId,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	SenderID  string          `json:"senderId,omitempty"`
	Message   *models.Message `json:"message,omitempty"`
}

type ClientMessageType string

const (
	ClientMessageTypeTyping     ClientMessageType = "typing"
	ClientMessageTypeStopTyping ClientMessageType = "stopTyping"
	ClientMessageTypeSeen       ClientMessageType = "seen"
)

// ClientMessage is what a connected client may send over the socket.
// Everything else goes through the HTTP API.
type ClientMessage struct {
	Type      ClientMessageType `json:"type"`
	ChatID    string            `json:"chatId,omitempty"`
	MessageID string            `json:"messageId,omitempty"`
}
