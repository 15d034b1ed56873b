package storage

import (
	"gutorka/internal/models"

	"go.etcd.io/bbolt"
)

func (s *BboltStorage) AppendNotification(n models.Notification) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNotifications)
		dbNote := &DBNotification{
			ID:        n.ID,
			UserID:    n.UserID,
			ChatID:    n.ChatID,
			MessageID: n.MessageID,
			CreatedAt: n.CreatedAt,
		}
		data, err := dbNote.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbNote.Key(), data)
	})
}

func (s *BboltStorage) ListNotifications(userID string) ([]models.Notification, error) {
	var notes []models.Notification
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketNotifications).ForEach(func(k, v []byte) error {
			var dbNote DBNotification
			if err := dbNote.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbNote.UserID == userID {
				notes = append(notes, models.Notification{
					ID:        dbNote.ID,
					UserID:    dbNote.UserID,
					ChatID:    dbNote.ChatID,
					MessageID: dbNote.MessageID,
					CreatedAt: dbNote.CreatedAt,
				})
			}
			return nil
		})
	})
	return notes, err
}

func (s *BboltStorage) UpsertPushSubscription(sub models.PushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubs)
		dbSub := &DBPushSubscription{
			UserID:   sub.UserID,
			Endpoint: sub.Endpoint,
			Auth:     sub.Auth,
			P256dh:   sub.P256dh,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbSub.Key(), data)
	})
}

func (s *BboltStorage) ListPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPushSubs).ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbSub.UserID == userID {
				subs = append(subs, models.PushSubscription{
					UserID:   dbSub.UserID,
					Endpoint: dbSub.Endpoint,
					Auth:     dbSub.Auth,
					P256dh:   dbSub.P256dh,
				})
			}
			return nil
		})
	})
	return subs, err
}

func (s *BboltStorage) DeletePushSubscription(endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPushSubs).Delete([]byte(endpoint))
	})
}
