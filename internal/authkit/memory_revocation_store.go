package authkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryRevocationStore is an in-memory store intended for tests and dev.
type MemoryRevocationStore struct {
	mutex   sync.Mutex
	entries map[string]*memoryRevocation
	now     func() time.Time
}

type memoryRevocation struct {
	Hash          string
	ExpiresUnix   int64
	Reason        string
	RevokedAtUnix int64
}

// NewMemoryRevocationStore creates a new in-memory revocation store.
func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{
		entries: make(map[string]*memoryRevocation),
		now:     time.Now,
	}
}

// Insert records a credential as revoked. Re-inserting is a no-op so logout
// stays idempotent.
func (store *MemoryRevocationStore) Insert(ctx context.Context, credential string, expiresUnix int64, reason string) error {
	if strings.TrimSpace(credential) == "" {
		return fmt.Errorf("revocation_store.insert.memory: %w", ErrRevocationEmptyCredential)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	hashValue := CredentialDigest(credential)
	if _, exists := store.entries[hashValue]; exists {
		return nil
	}
	store.entries[hashValue] = &memoryRevocation{
		Hash:          hashValue,
		ExpiresUnix:   expiresUnix,
		Reason:        reason,
		RevokedAtUnix: store.now().UTC().Unix(),
	}
	return nil
}

// Contains reports whether the credential has a revocation entry.
func (store *MemoryRevocationStore) Contains(ctx context.Context, credential string) (bool, error) {
	if strings.TrimSpace(credential) == "" {
		return false, fmt.Errorf("revocation_store.contains.memory: %w", ErrRevocationEmptyCredential)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	_, exists := store.entries[CredentialDigest(credential)]
	return exists, nil
}

// PruneExpired removes entries whose credential expiry passed before cutoffUnix.
func (store *MemoryRevocationStore) PruneExpired(ctx context.Context, cutoffUnix int64) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	var pruned int64
	for hashValue, entry := range store.entries {
		if entry.ExpiresUnix != 0 && entry.ExpiresUnix < cutoffUnix {
			delete(store.entries, hashValue)
			pruned++
		}
	}
	return pruned, nil
}
