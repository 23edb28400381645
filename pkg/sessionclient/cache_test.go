package sessionclient

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func cacheImplementations(t *testing.T) map[string]CredentialCache {
	t.Helper()
	sqliteCache, sqliteErr := NewSQLiteCache(context.Background(), filepath.Join(t.TempDir(), "session.db"))
	if sqliteErr != nil {
		t.Fatalf("NewSQLiteCache: %v", sqliteErr)
	}
	return map[string]CredentialCache{
		"memory": NewMemoryCache(),
		"sqlite": sqliteCache,
	}
}

func TestCacheCredentialRoundTrip(t *testing.T) {
	t.Parallel()
	issuedAt := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

	for name, cache := range cacheImplementations(t) {
		cache := cache
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := cache.Credential(context.Background()); !errors.Is(err, ErrNoCredential) {
				t.Fatalf("empty cache: got %v, want ErrNoCredential", err)
			}

			stored := Credential{Token: "session-token-1", IssuedAt: issuedAt}
			if err := cache.StoreCredential(context.Background(), stored); err != nil {
				t.Fatalf("StoreCredential: %v", err)
			}
			loaded, loadErr := cache.Credential(context.Background())
			if loadErr != nil {
				t.Fatalf("Credential: %v", loadErr)
			}
			if loaded.Token != stored.Token {
				t.Fatalf("token: got %q, want %q", loaded.Token, stored.Token)
			}
			if !loaded.IssuedAt.Equal(stored.IssuedAt) {
				t.Fatalf("issued at: got %v, want %v", loaded.IssuedAt, stored.IssuedAt)
			}

			replacement := Credential{Token: "session-token-2", IssuedAt: issuedAt.Add(time.Hour)}
			if err := cache.StoreCredential(context.Background(), replacement); err != nil {
				t.Fatalf("StoreCredential replacement: %v", err)
			}
			reloaded, reloadErr := cache.Credential(context.Background())
			if reloadErr != nil {
				t.Fatalf("Credential after replacement: %v", reloadErr)
			}
			if reloaded.Token != replacement.Token || !reloaded.IssuedAt.Equal(replacement.IssuedAt) {
				t.Fatalf("replacement: got %+v, want %+v", reloaded, replacement)
			}
		})
	}
}

func TestCacheRejectsIncompleteCredential(t *testing.T) {
	t.Parallel()
	issuedAt := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

	for name, cache := range cacheImplementations(t) {
		cache := cache
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			testCases := map[string]Credential{
				"missing token":     {Token: "", IssuedAt: issuedAt},
				"whitespace token":  {Token: "   ", IssuedAt: issuedAt},
				"missing timestamp": {Token: "session-token-1"},
			}
			for caseName, credential := range testCases {
				if err := cache.StoreCredential(context.Background(), credential); !errors.Is(err, ErrIncompleteCredential) {
					t.Fatalf("%s: got %v, want ErrIncompleteCredential", caseName, err)
				}
			}
			if _, err := cache.Credential(context.Background()); !errors.Is(err, ErrNoCredential) {
				t.Fatalf("after rejected writes: got %v, want ErrNoCredential", err)
			}
		})
	}
}

func TestCacheKeepLoggedInPreference(t *testing.T) {
	t.Parallel()

	for name, cache := range cacheImplementations(t) {
		cache := cache
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			keep, readErr := cache.KeepLoggedIn(context.Background())
			if readErr != nil {
				t.Fatalf("KeepLoggedIn: %v", readErr)
			}
			if keep {
				t.Fatal("unset preference must read as false")
			}
			if err := cache.SetKeepLoggedIn(context.Background(), true); err != nil {
				t.Fatalf("SetKeepLoggedIn: %v", err)
			}
			keep, readErr = cache.KeepLoggedIn(context.Background())
			if readErr != nil || !keep {
				t.Fatalf("after set: got (%v, %v), want (true, nil)", keep, readErr)
			}
			if err := cache.SetKeepLoggedIn(context.Background(), false); err != nil {
				t.Fatalf("SetKeepLoggedIn false: %v", err)
			}
			keep, readErr = cache.KeepLoggedIn(context.Background())
			if readErr != nil || keep {
				t.Fatalf("after unset: got (%v, %v), want (false, nil)", keep, readErr)
			}
		})
	}
}

func TestCacheProfileRoundTrip(t *testing.T) {
	t.Parallel()
	profile := Profile{UserID: "google:sub-1", Email: "person@example.com", DisplayName: "Pat Person"}

	for name, cache := range cacheImplementations(t) {
		cache := cache
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := cache.Profile(context.Background()); !errors.Is(err, ErrNoProfile) {
				t.Fatalf("empty cache: got %v, want ErrNoProfile", err)
			}
			if err := cache.StoreProfile(context.Background(), profile); err != nil {
				t.Fatalf("StoreProfile: %v", err)
			}
			loaded, loadErr := cache.Profile(context.Background())
			if loadErr != nil {
				t.Fatalf("Profile: %v", loadErr)
			}
			if loaded != profile {
				t.Fatalf("profile: got %+v, want %+v", loaded, profile)
			}
		})
	}
}

func TestCacheClearSessionPreservesPreference(t *testing.T) {
	t.Parallel()
	issuedAt := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

	for name, cache := range cacheImplementations(t) {
		cache := cache
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			seedCache(t, cache, issuedAt)

			if err := cache.ClearSession(context.Background()); err != nil {
				t.Fatalf("ClearSession: %v", err)
			}
			if _, err := cache.Credential(context.Background()); !errors.Is(err, ErrNoCredential) {
				t.Fatalf("credential after clear: got %v, want ErrNoCredential", err)
			}
			if _, err := cache.Profile(context.Background()); !errors.Is(err, ErrNoProfile) {
				t.Fatalf("profile after clear: got %v, want ErrNoProfile", err)
			}
			keep, keepErr := cache.KeepLoggedIn(context.Background())
			if keepErr != nil || !keep {
				t.Fatalf("preference after clear: got (%v, %v), want (true, nil)", keep, keepErr)
			}

			// A second clear of an already-empty session changes nothing.
			if err := cache.ClearSession(context.Background()); err != nil {
				t.Fatalf("repeated ClearSession: %v", err)
			}
		})
	}
}

func TestCacheClearAllErasesEverything(t *testing.T) {
	t.Parallel()
	issuedAt := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

	for name, cache := range cacheImplementations(t) {
		cache := cache
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			seedCache(t, cache, issuedAt)

			if err := cache.ClearAll(context.Background()); err != nil {
				t.Fatalf("ClearAll: %v", err)
			}
			if _, err := cache.Credential(context.Background()); !errors.Is(err, ErrNoCredential) {
				t.Fatalf("credential after wipe: got %v, want ErrNoCredential", err)
			}
			if _, err := cache.Profile(context.Background()); !errors.Is(err, ErrNoProfile) {
				t.Fatalf("profile after wipe: got %v, want ErrNoProfile", err)
			}
			keep, keepErr := cache.KeepLoggedIn(context.Background())
			if keepErr != nil || keep {
				t.Fatalf("preference after wipe: got (%v, %v), want (false, nil)", keep, keepErr)
			}
		})
	}
}

func TestSQLiteCacheSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "session.db")
	issuedAt := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

	first, firstErr := NewSQLiteCache(context.Background(), path)
	if firstErr != nil {
		t.Fatalf("NewSQLiteCache: %v", firstErr)
	}
	seedCache(t, first, issuedAt)

	second, secondErr := NewSQLiteCache(context.Background(), path)
	if secondErr != nil {
		t.Fatalf("NewSQLiteCache reopen: %v", secondErr)
	}
	credential, credentialErr := second.Credential(context.Background())
	if credentialErr != nil {
		t.Fatalf("Credential after reopen: %v", credentialErr)
	}
	if credential.Token != "session-token-1" || !credential.IssuedAt.Equal(issuedAt) {
		t.Fatalf("credential after reopen: got %+v", credential)
	}
	keep, keepErr := second.KeepLoggedIn(context.Background())
	if keepErr != nil || !keep {
		t.Fatalf("preference after reopen: got (%v, %v), want (true, nil)", keep, keepErr)
	}
	profile, profileErr := second.Profile(context.Background())
	if profileErr != nil {
		t.Fatalf("Profile after reopen: %v", profileErr)
	}
	if profile.UserID != "google:sub-1" {
		t.Fatalf("profile after reopen: got %+v", profile)
	}
}

func TestSQLiteCacheHalfPairReadsAsAbsent(t *testing.T) {
	t.Parallel()
	cache, cacheErr := NewSQLiteCache(context.Background(), filepath.Join(t.TempDir(), "session.db"))
	if cacheErr != nil {
		t.Fatalf("NewSQLiteCache: %v", cacheErr)
	}
	issuedAt := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	if err := cache.StoreCredential(context.Background(), Credential{Token: "session-token-1", IssuedAt: issuedAt}); err != nil {
		t.Fatalf("StoreCredential: %v", err)
	}

	deleteResult := cache.db.Where("key = ?", stateKeyIssuedAt).Delete(&clientStateRecord{})
	if deleteResult.Error != nil || deleteResult.RowsAffected != 1 {
		t.Fatalf("timestamp delete: error %v, rows %d", deleteResult.Error, deleteResult.RowsAffected)
	}

	if _, err := cache.Credential(context.Background()); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("half pair: got %v, want ErrNoCredential", err)
	}
}

func seedCache(t *testing.T, cache CredentialCache, issuedAt time.Time) {
	t.Helper()
	if err := cache.StoreCredential(context.Background(), Credential{Token: "session-token-1", IssuedAt: issuedAt}); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	if err := cache.SetKeepLoggedIn(context.Background(), true); err != nil {
		t.Fatalf("seed preference: %v", err)
	}
	if err := cache.StoreProfile(context.Background(), Profile{UserID: "google:sub-1", Email: "person@example.com", DisplayName: "Pat Person"}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}
