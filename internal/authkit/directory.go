package authkit

import (
	"context"
	"errors"
)

// UserProfile is the directory record for an application user.
type UserProfile struct {
	Email       string
	DisplayName string
}

// UserDirectory persists and retrieves application users. It is the first of
// the two record stores consulted when a verified credential lacks an email.
type UserDirectory interface {
	UpsertGoogleUser(ctx context.Context, googleSub string, userEmail string, userDisplayName string) (applicationUserID string, err error)
	UserProfile(ctx context.Context, applicationUserID string) (UserProfile, error)
}

// CardDirectory stores business card records. Its contact email is the second
// backfill source; sign-in guarantees every user owns a primary card.
type CardDirectory interface {
	EnsurePrimaryCard(ctx context.Context, ownerUserID string, contactEmail string, displayName string) error
	PrimaryCardEmail(ctx context.Context, ownerUserID string) (string, error)
}

// Sentinel errors shared by directory implementations.
var (
	// ErrUserNotFound indicates no user record matched the identifier.
	ErrUserNotFound = errors.New("directory.user_not_found")
	// ErrCardNotFound indicates the owner has no primary card record.
	ErrCardNotFound = errors.New("directory.card_not_found")
)
