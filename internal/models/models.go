package models

import "time"

type UserStatus string

const (
	UserStatusOnline  UserStatus = "Online"
	UserStatusOffline UserStatus = "Offline"
)

// User is the cached projection of a directory user. The directory
// service owns identity; we keep the resolved names and the last
// activity timestamp locally.
type User struct {
	ID           string `json:"id"`
	RealName     string `json:"realName"`
	ContactName  string `json:"contactName,omitempty"`
	LastActivity int64  `json:"lastActivity,omitempty"` // Unix timestamp (seconds)
}

// Presence is a user's live state. It is owned by the in-process
// registry and never persisted.
type Presence struct {
	Status   UserStatus `json:"status"`
	LastSeen int64      `json:"lastSeen,omitempty"` // Unix timestamp (seconds)
}

// ChatUser binds a directory user to a chat and carries moderator rights.
type ChatUser struct {
	UserID      string `json:"userId"`
	IsModerator bool   `json:"isModerator"`
}

// Chat is a conversation with an ordered member list.
// Messages and LastMessage are filled only on reads that request them.
type Chat struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	CustomName  bool       `json:"customName"`
	Members     []ChatUser `json:"members"`
	Messages    []Message  `json:"messages,omitempty"`
	LastMessage *Message   `json:"lastMessage,omitempty"`
}

// MemberIDs returns the ids of all chat members in insertion order.
func (c Chat) MemberIDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.UserID
	}
	return ids
}

// HasMember reports whether userID is a member of the chat.
func (c Chat) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

type MessageStatus string

const (
	MessageStatusSent MessageStatus = "Sent"
	MessageStatusSeen MessageStatus = "Seen"
)

// Message is a chat message. Seq orders messages within one chat.
// SentAt is stored in UTC and converted to the caller's time zone on read.
type Message struct {
	ID           string        `json:"id"`
	ChatID       string        `json:"chatId"`
	Seq          uint64        `json:"seq"`
	SenderID     string        `json:"senderId"`
	Text         string        `json:"text"`
	HTML         string        `json:"html,omitempty"`
	SentAt       time.Time     `json:"sentAt"`
	Status       MessageStatus `json:"status"`
	AttachmentID string        `json:"attachmentId,omitempty"`
}

// Attachment binds a message to a stored file. StoreHandle is an opaque
// handle into the attachment store.
type Attachment struct {
	ID          string `json:"id"`
	StoreHandle string `json:"-"`
	FileName    string `json:"fileName"`
	Size        int64  `json:"size"`
	ChatID      string `json:"chatId"`
	MessageID   string `json:"messageId,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

// Notification is the durable record left for a member who was offline
// when a message arrived.
type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	CreatedAt int64  `json:"createdAt"`
}

// PushSubscription is a web-push endpoint registered by a user's client.
type PushSubscription struct {
	UserID   string `json:"userId"`
	Endpoint string `json:"endpoint"`
	Auth     string `json:"auth"`
	P256dh   string `json:"p256dh"`
}
