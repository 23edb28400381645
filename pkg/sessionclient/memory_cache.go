package sessionclient

import (
	"context"
	"strings"
	"sync"
)

// MemoryCache keeps session state in process memory. Suited to tests and to
// hosts that hold credentials only for the lifetime of the process.
type MemoryCache struct {
	mutex        sync.Mutex
	credential   *Credential
	profile      *Profile
	keepLoggedIn bool
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (cache *MemoryCache) Credential(_ context.Context) (Credential, error) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.credential == nil {
		return Credential{}, ErrNoCredential
	}
	return *cache.credential, nil
}

func (cache *MemoryCache) StoreCredential(_ context.Context, credential Credential) error {
	if strings.TrimSpace(credential.Token) == "" || credential.IssuedAt.IsZero() {
		return ErrIncompleteCredential
	}
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	stored := credential
	cache.credential = &stored
	return nil
}

func (cache *MemoryCache) KeepLoggedIn(_ context.Context) (bool, error) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	return cache.keepLoggedIn, nil
}

func (cache *MemoryCache) SetKeepLoggedIn(_ context.Context, keepLoggedIn bool) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.keepLoggedIn = keepLoggedIn
	return nil
}

func (cache *MemoryCache) Profile(_ context.Context) (Profile, error) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.profile == nil {
		return Profile{}, ErrNoProfile
	}
	return *cache.profile, nil
}

func (cache *MemoryCache) StoreProfile(_ context.Context, profile Profile) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	stored := profile
	cache.profile = &stored
	return nil
}

// ClearSession drops the credential pair and profile. The keep-logged-in
// preference survives so the next sign-in starts from the user's choice.
func (cache *MemoryCache) ClearSession(_ context.Context) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.credential = nil
	cache.profile = nil
	return nil
}

func (cache *MemoryCache) ClearAll(_ context.Context) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.credential = nil
	cache.profile = nil
	cache.keepLoggedIn = false
	return nil
}
