// Package sessionclient implements the client half of the session lifecycle:
// a credential cache, the freshness estimator, the refresh coordinator, an
// authenticated request dispatcher, and the forced-logout handler.
package sessionclient

import (
	"context"
	"errors"
	"time"
)

// Credential is a bearer token together with the moment it was issued. The
// two travel as a pair: a store or clear always covers both.
type Credential struct {
	Token    string
	IssuedAt time.Time
}

// Profile is the cached user profile.
type Profile struct {
	UserID      string `json:"user_id"`
	Email       string `json:"user_email"`
	DisplayName string `json:"display_name"`
}

// CredentialCache persists the session's local state: the credential pair,
// the keep-logged-in preference, and the cached profile.
type CredentialCache interface {
	// Credential returns the stored pair, or ErrNoCredential when either half
	// is absent.
	Credential(ctx context.Context) (Credential, error)
	// StoreCredential writes token and issuance timestamp together.
	StoreCredential(ctx context.Context, credential Credential) error
	// KeepLoggedIn reports the stored preference; false when never set.
	KeepLoggedIn(ctx context.Context) (bool, error)
	// SetKeepLoggedIn stores the preference.
	SetKeepLoggedIn(ctx context.Context, keepLoggedIn bool) error
	// Profile returns the cached profile, or ErrNoProfile when absent.
	Profile(ctx context.Context) (Profile, error)
	// StoreProfile caches the profile.
	StoreProfile(ctx context.Context, profile Profile) error
	// ClearSession removes credential, timestamp, and profile while leaving
	// the keep-logged-in preference in place.
	ClearSession(ctx context.Context) error
	// ClearAll removes every stored key, preference included.
	ClearAll(ctx context.Context) error
}

// Sentinel errors shared by all CredentialCache implementations.
var (
	ErrNoCredential         = errors.New("session.cache.no_credential")
	ErrNoProfile            = errors.New("session.cache.no_profile")
	ErrIncompleteCredential = errors.New("session.cache.incomplete_credential")
)
