package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"gutorka/internal/models"
)

type memTokenStore struct {
	tokens map[string]string
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{tokens: map[string]string{}}
}

func (m *memTokenStore) UpsertToken(userID, tokenHash string) error {
	m.tokens[tokenHash] = userID
	return nil
}

func (m *memTokenStore) LookupToken(tokenHash string) (string, error) {
	userID, ok := m.tokens[tokenHash]
	if !ok {
		return "", models.ErrNotFound
	}
	return userID, nil
}

func (m *memTokenStore) DeleteToken(tokenHash string) error {
	if _, ok := m.tokens[tokenHash]; !ok {
		return models.ErrNotFound
	}
	delete(m.tokens, tokenHash)
	return nil
}

func TestSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemTokenStore()
	sessions := NewSessions(ctx, store, time.Hour)

	token, err := sessions.Issue("user1")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	userID, err := sessions.GetUserID(token)
	if err != nil {
		t.Fatalf("failed to resolve token: %v", err)
	}
	if userID != "user1" {
		t.Errorf("expected user1, got %q", userID)
	}

	// Plain token must never be persisted
	if _, ok := store.tokens[token]; ok {
		t.Error("plain token found in store")
	}
	if len(store.tokens) != 1 {
		t.Errorf("expected 1 stored token hash, got %d", len(store.tokens))
	}

	if _, err := sessions.GetUserID("bogus"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown token, got %v", err)
	}

	if err := sessions.Revoke(token); err != nil {
		t.Fatalf("failed to revoke token: %v", err)
	}
	if _, err := sessions.GetUserID(token); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound after revoke, got %v", err)
	}
	// Revoking twice is fine
	if err := sessions.Revoke(token); err != nil {
		t.Errorf("expected nil revoking missing token, got %v", err)
	}
}

func TestSessionsStoreFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemTokenStore()

	token, err := NewSessions(ctx, store, time.Hour).Issue("user2")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	// Fresh Sessions with a cold cache simulates a restart.
	restarted := NewSessions(ctx, store, time.Hour)
	userID, err := restarted.GetUserID(token)
	if err != nil {
		t.Fatalf("failed to resolve token after restart: %v", err)
	}
	if userID != "user2" {
		t.Errorf("expected user2, got %q", userID)
	}
}
