package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"gutorka/internal/models"

	"github.com/c-pro/geche"
	"golang.org/x/crypto/blake2b"
)

const DefaultTokenExpiry = 12 * time.Hour

// TokenStore persists hashed tokens so sessions survive restarts.
// Only the blake2b hash of a token ever touches the disk.
type TokenStore interface {
	UpsertToken(userID, tokenHash string) error
	LookupToken(tokenHash string) (string, error)
	DeleteToken(tokenHash string) error
}

// Sessions issues bearer tokens and resolves them back to user IDs.
// Lookups are served from an in-memory TTL cache with a fallback to
// the token store for tokens issued before the last restart.
type Sessions struct {
	store TokenStore
	cache geche.Geche[string, string]
}

func NewSessions(ctx context.Context, store TokenStore, expiry time.Duration) *Sessions {
	if expiry == 0 {
		expiry = DefaultTokenExpiry
	}
	return &Sessions{
		store: store,
		cache: geche.NewMapTTLCache[string, string](ctx, expiry, time.Minute),
	}
}

// Issue creates a new token for the user and returns it in plain form.
func (s *Sessions) Issue(userID string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(b)

	if err := s.store.UpsertToken(userID, hashToken(token)); err != nil {
		return "", fmt.Errorf("failed to persist token: %w", err)
	}
	s.cache.Set(token, userID)

	return token, nil
}

// GetUserID resolves a token to the user it was issued to.
// Returns models.ErrNotFound for unknown or revoked tokens.
func (s *Sessions) GetUserID(token string) (string, error) {
	if userID, err := s.cache.Get(token); err == nil {
		return userID, nil
	}

	userID, err := s.store.LookupToken(hashToken(token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("failed to look up token: %w", err)
	}
	s.cache.Set(token, userID)

	return userID, nil
}

func (s *Sessions) Revoke(token string) error {
	_ = s.cache.Del(token)
	if err := s.store.DeleteToken(hashToken(token)); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

func hashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(sum[:])
}
