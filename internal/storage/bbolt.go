package storage

import (
	"fmt"
	"time"

	"gutorka/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers         = []byte("users")
	bucketChats         = []byte("chats")
	bucketMessages      = []byte("messages")
	bucketMessageIndex  = []byte("message_index")
	bucketAttachments   = []byte("attachments")
	bucketTokens        = []byte("tokens")
	bucketNotifications = []byte("notifications")
	bucketPushSubs      = []byte("push_subscriptions")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers,
			bucketChats,
			bucketMessages,
			bucketMessageIndex,
			bucketAttachments,
			bucketTokens,
			bucketNotifications,
			bucketPushSubs,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertUser stores a new or refreshed directory-user projection.
func (s *BboltStorage) UpsertUser(user models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           user.ID,
			RealName:     user.RealName,
			ContactName:  user.ContactName,
			LastActivity: user.LastActivity,
		}
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

func (s *BboltStorage) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		user = models.User{
			ID:           dbUser.ID,
			RealName:     dbUser.RealName,
			ContactName:  dbUser.ContactName,
			LastActivity: dbUser.LastActivity,
		}
		return nil
	})
	return user, err
}

// UpsertChat saves the chat record with its member list.
// Messages are stored separately and ignored here.
func (s *BboltStorage) UpsertChat(chat models.Chat) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChats)
		dbChat := dbChatFromModel(chat)
		data, err := dbChat.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbChat.Key(), data)
	})
}

// CreateChatUnique inserts the chat unless one with exactly the same
// member set already exists. The scan and the insert share a single
// write transaction, so two concurrent creations of the same set cannot
// both commit. Returns the surviving chat and whether it was inserted.
func (s *BboltStorage) CreateChatUnique(chat models.Chat) (models.Chat, bool, error) {
	want := map[string]bool{}
	for _, m := range chat.Members {
		want[m.UserID] = true
	}

	created := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChats)
		var found *DBChat
		err := b.ForEach(func(k, v []byte) error {
			if found != nil {
				return nil
			}
			var dbChat DBChat
			if err := dbChat.UnmarshalBinary(v); err != nil {
				return err
			}
			if len(dbChat.Members) != len(want) {
				return nil
			}
			for _, m := range dbChat.Members {
				if !want[m.UserID] {
					return nil
				}
			}
			found = &dbChat
			return nil
		})
		if err != nil {
			return err
		}
		if found != nil {
			chat = found.toModel()
			return nil
		}

		dbChat := dbChatFromModel(chat)
		data, err := dbChat.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dbChat.Key(), data); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return models.Chat{}, false, err
	}
	return chat, created, nil
}

func (s *BboltStorage) GetChat(id string) (models.Chat, error) {
	var chat models.Chat
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChats).Get([]byte(id))
		if data == nil {
			return models.ErrChatNotFound
		}
		var dbChat DBChat
		if err := dbChat.UnmarshalBinary(data); err != nil {
			return err
		}
		chat = dbChat.toModel()
		return nil
	})
	return chat, err
}

// ListChats returns all chats stored in the database.
func (s *BboltStorage) ListChats() ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChats)
		return b.ForEach(func(k, v []byte) error {
			var dbChat DBChat
			if err := dbChat.UnmarshalBinary(v); err != nil {
				return err
			}
			chats = append(chats, dbChat.toModel())
			return nil
		})
	})
	return chats, err
}

// DeleteChat removes the chat record and cascades to its messages,
// message-index entries and attachment records in a single transaction.
// Stored attachment bytes are the caller's responsibility.
func (s *BboltStorage) DeleteChat(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		chatKey := []byte(id)
		if tx.Bucket(bucketChats).Get(chatKey) == nil {
			return models.ErrChatNotFound
		}

		idx := tx.Bucket(bucketMessageIndex)
		msgRoot := tx.Bucket(bucketMessages)
		if chatBucket := msgRoot.Bucket(chatKey); chatBucket != nil {
			err := chatBucket.ForEach(func(k, v []byte) error {
				var dbMsg DBMessage
				if err := dbMsg.UnmarshalBinary(v); err != nil {
					return err
				}
				return idx.Delete([]byte(dbMsg.ID))
			})
			if err != nil {
				return err
			}
			if err := msgRoot.DeleteBucket(chatKey); err != nil {
				return err
			}
		}

		atts := tx.Bucket(bucketAttachments)
		var attKeys [][]byte
		err := atts.ForEach(func(k, v []byte) error {
			var dbAtt DBAttachment
			if err := dbAtt.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbAtt.ChatID == id {
				attKeys = append(attKeys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range attKeys {
			if err := atts.Delete(k); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketChats).Delete(chatKey)
	})
}

// AppendMessage assigns the next per-chat sequence number, saves the
// message, indexes its id and, if an attachment accompanies it, binds
// the attachment record to the message. The chat record must exist.
func (s *BboltStorage) AppendMessage(msg models.Message) (models.Message, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketChats).Get([]byte(msg.ChatID)) == nil {
			return models.ErrChatNotFound
		}

		chatBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(msg.ChatID))
		if err != nil {
			return fmt.Errorf("failed to create chat bucket: %w", err)
		}

		seq, err := chatBucket.NextSequence()
		if err != nil {
			return err
		}
		msg.Seq = seq

		dbMsg := dbMessageFromModel(msg)
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := chatBucket.Put(dbMsg.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		ref := DBMessageRef{ChatID: msg.ChatID, Seq: seq}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketMessageIndex).Put([]byte(msg.ID), refData); err != nil {
			return err
		}

		if msg.AttachmentID != "" {
			atts := tx.Bucket(bucketAttachments)
			attData := atts.Get([]byte(msg.AttachmentID))
			if attData == nil {
				return models.ErrAttachmentNotFound
			}
			var dbAtt DBAttachment
			if err := dbAtt.UnmarshalBinary(attData); err != nil {
				return err
			}
			dbAtt.ChatID = msg.ChatID
			dbAtt.MessageID = msg.ID
			newData, err := dbAtt.MarshalBinary()
			if err != nil {
				return err
			}
			if err := atts.Put(dbAtt.Key(), newData); err != nil {
				return err
			}
		}

		return nil
	})
	return msg, err
}

func (s *BboltStorage) GetMessage(id string) (models.Message, error) {
	var msg models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessageTx(tx, id)
		if err != nil {
			return err
		}
		msg = dbMsg.toModel()
		return nil
	})
	return msg, err
}

// SetMessageStatus transitions a message to the given status.
// Repeating the current status is a no-op; regressing from Seen to Sent
// is rejected.
func (s *BboltStorage) SetMessageStatus(id string, status models.MessageStatus) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessageTx(tx, id)
		if err != nil {
			return err
		}

		if dbMsg.Status == string(status) {
			msg = dbMsg.toModel()
			return nil
		}
		if dbMsg.Status == string(models.MessageStatusSeen) && status == models.MessageStatusSent {
			return models.ErrStatusRegression
		}

		dbMsg.Status = string(status)
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketMessages).Bucket([]byte(dbMsg.ChatID)).Put(dbMsg.Key(), data); err != nil {
			return err
		}
		msg = dbMsg.toModel()
		return nil
	})
	return msg, err
}

// ListMessagesDesc returns all of a chat's messages, newest first.
func (s *BboltStorage) ListMessagesDesc(chatID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(chatID))
		if chatBucket == nil {
			return nil // No messages for this chat
		}

		c := chatBucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.toModel())
		}
		return nil
	})
	return messages, err
}

// LastMessage returns the most recent message of a chat, or nil if the
// chat has none.
func (s *BboltStorage) LastMessage(chatID string) (*models.Message, error) {
	var msg *models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(chatID))
		if chatBucket == nil {
			return nil
		}
		k, v := chatBucket.Cursor().Last()
		if k == nil {
			return nil
		}
		var dbMsg DBMessage
		if err := dbMsg.UnmarshalBinary(v); err != nil {
			return err
		}
		m := dbMsg.toModel()
		msg = &m
		return nil
	})
	return msg, err
}

func getMessageTx(tx *bbolt.Tx, id string) (*DBMessage, error) {
	refData := tx.Bucket(bucketMessageIndex).Get([]byte(id))
	if refData == nil {
		return nil, models.ErrMessageNotFound
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(refData); err != nil {
		return nil, err
	}

	chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.ChatID))
	if chatBucket == nil {
		return nil, models.ErrMessageNotFound
	}
	dbMsg := DBMessage{Seq: ref.Seq}
	data := chatBucket.Get(dbMsg.Key())
	if data == nil {
		return nil, models.ErrMessageNotFound
	}
	if err := dbMsg.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &dbMsg, nil
}

func dbChatFromModel(chat models.Chat) *DBChat {
	dbChat := &DBChat{
		ID:         chat.ID,
		Name:       chat.Name,
		CustomName: chat.CustomName,
		Members:    make([]DBChatUser, len(chat.Members)),
	}
	for i, m := range chat.Members {
		dbChat.Members[i] = DBChatUser{UserID: m.UserID, IsModerator: m.IsModerator}
	}
	return dbChat
}

func (c *DBChat) toModel() models.Chat {
	chat := models.Chat{
		ID:         c.ID,
		Name:       c.Name,
		CustomName: c.CustomName,
		Members:    make([]models.ChatUser, len(c.Members)),
	}
	for i, m := range c.Members {
		chat.Members[i] = models.ChatUser{UserID: m.UserID, IsModerator: m.IsModerator}
	}
	return chat
}

func dbMessageFromModel(msg models.Message) *DBMessage {
	return &DBMessage{
		ID:           msg.ID,
		ChatID:       msg.ChatID,
		Seq:          msg.Seq,
		SenderID:     msg.SenderID,
		Text:         msg.Text,
		HTML:         msg.HTML,
		SentAt:       msg.SentAt.UTC().Unix(),
		Status:       string(msg.Status),
		AttachmentID: msg.AttachmentID,
	}
}

func (m *DBMessage) toModel() models.Message {
	return models.Message{
		ID:           m.ID,
		ChatID:       m.ChatID,
		Seq:          m.Seq,
		SenderID:     m.SenderID,
		Text:         m.Text,
		HTML:         m.HTML,
		SentAt:       time.Unix(m.SentAt, 0).UTC(),
		Status:       models.MessageStatus(m.Status),
		AttachmentID: m.AttachmentID,
	}
}
