package directory

import (
	"context"

	"gutorka/internal/models"
)

// DisplayInfo carries the names the directory knows a user by.
// ContactName is the private name the acting user gave the contact and
// may be empty.
type DisplayInfo struct {
	RealName    string `json:"realName"`
	ContactName string `json:"contactName,omitempty"`
}

// Directory is the contract to the external user/contact system of
// record. Lookup failures map to models.ErrNotFound; transport and
// server failures map to models.ErrDirectoryUnavailable so callers can
// tell a retryable outage from a bad request.
type Directory interface {
	// ResolveUser returns the directory user for the given id.
	ResolveUser(ctx context.Context, contactID string) (models.User, error)

	// IsContactOf reports whether contactID is among the acting user's
	// contacts.
	IsContactOf(ctx context.Context, actingUserID, contactID string) (bool, error)

	// GetDisplayInfo returns the resolved display names for a user.
	GetDisplayInfo(ctx context.Context, contactID string) (DisplayInfo, error)
}
