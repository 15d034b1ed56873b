package storage

import (
	"errors"
	"fmt"

	"gutorka/internal/models"

	"go.etcd.io/bbolt"
)

func (s *BboltStorage) UpsertAttachment(att models.Attachment) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAttachments)
		dbAtt := &DBAttachment{
			ID:          att.ID,
			StoreHandle: att.StoreHandle,
			FileName:    att.FileName,
			Size:        att.Size,
			ChatID:      att.ChatID,
			MessageID:   att.MessageID,
			CreatedAt:   att.CreatedAt,
		}
		data, err := dbAtt.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal attachment: %w", err)
		}
		return b.Put(dbAtt.Key(), data)
	})
}

func (s *BboltStorage) GetAttachment(id string) (models.Attachment, error) {
	var att models.Attachment
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAttachments).Get([]byte(id))
		if data == nil {
			return models.ErrAttachmentNotFound
		}
		var dbAtt DBAttachment
		if err := dbAtt.UnmarshalBinary(data); err != nil {
			return err
		}
		att = dbAtt.toModel()
		return nil
	})
	return att, err
}

// DeleteAttachment removes the attachment record and clears the owning
// message's attachment reference in the same transaction.
func (s *BboltStorage) DeleteAttachment(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAttachments)
		data := b.Get([]byte(id))
		if data == nil {
			return models.ErrAttachmentNotFound
		}
		var dbAtt DBAttachment
		if err := dbAtt.UnmarshalBinary(data); err != nil {
			return err
		}

		if dbAtt.MessageID != "" {
			dbMsg, err := getMessageTx(tx, dbAtt.MessageID)
			if err == nil {
				dbMsg.AttachmentID = ""
				msgData, err := dbMsg.MarshalBinary()
				if err != nil {
					return err
				}
				chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(dbMsg.ChatID))
				if err := chatBucket.Put(dbMsg.Key(), msgData); err != nil {
					return err
				}
			} else if !errors.Is(err, models.ErrMessageNotFound) {
				return err
			}
		}

		return b.Delete([]byte(id))
	})
}

// ListAttachmentsByChat returns all attachment records that belong to
// messages of one chat, in no particular order.
func (s *BboltStorage) ListAttachmentsByChat(chatID string) ([]models.Attachment, error) {
	var atts []models.Attachment
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAttachments).ForEach(func(k, v []byte) error {
			var dbAtt DBAttachment
			if err := dbAtt.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbAtt.ChatID == chatID {
				atts = append(atts, dbAtt.toModel())
			}
			return nil
		})
	})
	return atts, err
}

func (a *DBAttachment) toModel() models.Attachment {
	return models.Attachment{
		ID:          a.ID,
		StoreHandle: a.StoreHandle,
		FileName:    a.FileName,
		Size:        a.Size,
		ChatID:      a.ChatID,
		MessageID:   a.MessageID,
		CreatedAt:   a.CreatedAt,
	}
}
