package authkit

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// Revocation reasons recorded alongside entries.
const (
	RevocationReasonLogout     = "logout"
	RevocationReasonSuperseded = "superseded"
)

// RevocationStore marks exact credential strings unusable regardless of
// cryptographic validity. Entries are keyed by a SHA-256 hash of the
// credential so raw tokens never sit at rest.
type RevocationStore interface {
	// Insert records a credential as revoked. Inserting the same credential
	// twice is a no-op.
	Insert(ctx context.Context, credential string, expiresUnix int64, reason string) error
	// Contains reports whether the credential has a revocation entry.
	Contains(ctx context.Context, credential string) (bool, error)
	// PruneExpired removes entries whose credential expiry passed before
	// cutoffUnix and returns how many were removed.
	PruneExpired(ctx context.Context, cutoffUnix int64) (int64, error)
}

// Sentinel errors shared by all RevocationStore implementations.
var (
	// ErrRevocationEmptyCredential indicates an empty credential was passed.
	ErrRevocationEmptyCredential = errors.New("revocation_store.empty_credential")
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("revocation_store.unsupported_dialect")
)

// CredentialDigest is the storage key for a credential. Every RevocationStore
// implementation must key entries with it.
func CredentialDigest(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
