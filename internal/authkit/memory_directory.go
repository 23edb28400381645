package authkit

import (
	"context"
	"fmt"
	"sync"
)

// MemoryDirectory keeps user and card records in process memory. It backs
// tests and dev runs the same way the memory revocation store does.
type MemoryDirectory struct {
	mutex sync.Mutex
	users map[string]UserProfile
	cards map[string]memoryCard
}

type memoryCard struct {
	ContactEmail string
	DisplayName  string
}

// NewMemoryDirectory constructs an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users: make(map[string]UserProfile),
		cards: make(map[string]memoryCard),
	}
}

// UpsertGoogleUser inserts or updates a user keyed by Google subject.
func (directory *MemoryDirectory) UpsertGoogleUser(ctx context.Context, googleSub string, userEmail string, userDisplayName string) (string, error) {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()

	applicationUserID := "google:" + googleSub
	directory.users[applicationUserID] = UserProfile{
		Email:       userEmail,
		DisplayName: userDisplayName,
	}
	return applicationUserID, nil
}

// UserProfile returns a profile by application user id.
func (directory *MemoryDirectory) UserProfile(ctx context.Context, applicationUserID string) (UserProfile, error) {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()

	profile, ok := directory.users[applicationUserID]
	if !ok {
		return UserProfile{}, fmt.Errorf("directory.user_profile.memory: %w", ErrUserNotFound)
	}
	return profile, nil
}

// EnsurePrimaryCard creates the owner's primary card when absent.
func (directory *MemoryDirectory) EnsurePrimaryCard(ctx context.Context, ownerUserID string, contactEmail string, displayName string) error {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()

	if _, exists := directory.cards[ownerUserID]; exists {
		return nil
	}
	directory.cards[ownerUserID] = memoryCard{
		ContactEmail: contactEmail,
		DisplayName:  displayName,
	}
	return nil
}

// PrimaryCardEmail returns the contact email on the owner's primary card.
func (directory *MemoryDirectory) PrimaryCardEmail(ctx context.Context, ownerUserID string) (string, error) {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()

	card, ok := directory.cards[ownerUserID]
	if !ok {
		return "", fmt.Errorf("directory.card_email.memory: %w", ErrCardNotFound)
	}
	return card.ContactEmail, nil
}
