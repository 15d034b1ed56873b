package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string `msgpack:"id"`
	RealName     string `msgpack:"realName"`
	ContactName  string `msgpack:"contactName"`
	LastActivity int64  `msgpack:"lastActivity"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBChatUser struct {
	UserID      string `msgpack:"userId"`
	IsModerator bool   `msgpack:"isModerator"`
}

type DBChat struct {
	ID         string       `msgpack:"id"`
	Name       string       `msgpack:"name"`
	CustomName bool         `msgpack:"customName"`
	Members    []DBChatUser `msgpack:"members"`
}

func (c *DBChat) Key() []byte {
	return []byte(c.ID)
}

func (c *DBChat) MarshalBinary() (data []byte, err error) {
	type alias DBChat
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChat) UnmarshalBinary(data []byte) error {
	type alias DBChat
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	ID           string `msgpack:"id"`
	ChatID       string `msgpack:"chatId"`
	Seq          uint64 `msgpack:"seq"`
	SenderID     string `msgpack:"senderId"`
	Text         string `msgpack:"text"`
	HTML         string `msgpack:"html"`
	SentAt       int64  `msgpack:"sentAt"` // Unix timestamp (seconds, UTC)
	Status       string `msgpack:"status"`
	AttachmentID string `msgpack:"attachmentId"`
}

// Key orders messages within the per-chat bucket by sequence number.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessageRef is the message-index entry mapping a message id to its
// location in the per-chat bucket.
type DBMessageRef struct {
	ChatID string `msgpack:"chatId"`
	Seq    uint64 `msgpack:"seq"`
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBAttachment struct {
	ID          string `msgpack:"id"`
	StoreHandle string `msgpack:"storeHandle"`
	FileName    string `msgpack:"fileName"`
	Size        int64  `msgpack:"size"`
	ChatID      string `msgpack:"chatId"`
	MessageID   string `msgpack:"messageId"`
	CreatedAt   int64  `msgpack:"createdAt"`
}

func (a *DBAttachment) Key() []byte {
	return []byte(a.ID)
}

func (a *DBAttachment) MarshalBinary() (data []byte, err error) {
	type alias DBAttachment
	return msgpack.Marshal((*alias)(a))
}

func (a *DBAttachment) UnmarshalBinary(data []byte) error {
	type alias DBAttachment
	return msgpack.Unmarshal(data, (*alias)(a))
}

type DBToken struct {
	UserID    string `msgpack:"userId"`
	TokenHash string `msgpack:"tokenHash"`
}

func (t *DBToken) Key() []byte {
	return []byte(t.TokenHash)
}

func (t *DBToken) MarshalBinary() (data []byte, err error) {
	type alias DBToken
	return msgpack.Marshal((*alias)(t))
}

func (t *DBToken) UnmarshalBinary(data []byte) error {
	type alias DBToken
	return msgpack.Unmarshal(data, (*alias)(t))
}

type DBNotification struct {
	ID        string `msgpack:"id"`
	UserID    string `msgpack:"userId"`
	ChatID    string `msgpack:"chatId"`
	MessageID string `msgpack:"messageId"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (n *DBNotification) Key() []byte {
	return []byte(n.ID)
}

func (n *DBNotification) MarshalBinary() (data []byte, err error) {
	type alias DBNotification
	return msgpack.Marshal((*alias)(n))
}

func (n *DBNotification) UnmarshalBinary(data []byte) error {
	type alias DBNotification
	return msgpack.Unmarshal(data, (*alias)(n))
}

type DBPushSubscription struct {
	UserID   string `msgpack:"userId"`
	Endpoint string `msgpack:"endpoint"`
	Auth     string `msgpack:"auth"`
	P256dh   string `msgpack:"p256dh"`
}

func (s *DBPushSubscription) Key() []byte {
	return []byte(s.Endpoint)
}

func (s *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}
