package storage

import (
	"gutorka/internal/models"

	"go.etcd.io/bbolt"
)

// UpsertToken stores a hashed session token. Raw tokens never touch the
// database.
func (s *BboltStorage) UpsertToken(userID string, tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		dbToken := &DBToken{
			UserID:    userID,
			TokenHash: tokenHash,
		}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbToken.Key(), data)
	})
}

func (s *BboltStorage) LookupToken(tokenHash string) (string, error) {
	var userID string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketTokens).Get([]byte(tokenHash))
		if data == nil {
			return models.ErrNotFound
		}
		var dbToken DBToken
		if err := dbToken.UnmarshalBinary(data); err != nil {
			return err
		}
		userID = dbToken.UserID
		return nil
	})
	return userID, err
}

func (s *BboltStorage) DeleteToken(tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(tokenHash))
	})
}
