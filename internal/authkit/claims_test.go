package authkit

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMintAndParseSessionToken(t *testing.T) {
	t.Parallel()

	clock := &controllableClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	signingKey := []byte("secret-key-1234567890")

	token, expiresAt, mintErr := MintSessionToken(clock, "google:sub-1", "user@example.com", "test-issuer", signingKey, time.Hour)
	if mintErr != nil {
		t.Fatalf("mint failed: %v", mintErr)
	}
	if !expiresAt.Equal(clock.current.Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %v", expiresAt)
	}

	claims, parseErr := ParseSessionToken(token, "test-issuer", signingKey, clock)
	if parseErr != nil {
		t.Fatalf("parse failed: %v", parseErr)
	}
	if claims.UserID != "google:sub-1" {
		t.Fatalf("unexpected subject: %q", claims.UserID)
	}
	if claims.UserEmail != "user@example.com" {
		t.Fatalf("unexpected email: %q", claims.UserEmail)
	}
	if claims.ID == "" {
		t.Fatalf("expected a token id claim")
	}
}

func TestMintSessionTokenRejectsEmptySubject(t *testing.T) {
	t.Parallel()

	_, _, mintErr := MintSessionToken(NewSystemClock(), "  ", "user@example.com", "test-issuer", []byte("key"), time.Hour)
	if mintErr == nil {
		t.Fatalf("expected error for blank subject")
	}
}

func TestMintSessionTokenUniquePerMint(t *testing.T) {
	t.Parallel()

	clock := &controllableClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	signingKey := []byte("secret-key-1234567890")

	first, _, firstErr := MintSessionToken(clock, "google:sub-1", "user@example.com", "test-issuer", signingKey, time.Hour)
	second, _, secondErr := MintSessionToken(clock, "google:sub-1", "user@example.com", "test-issuer", signingKey, time.Hour)
	if firstErr != nil || secondErr != nil {
		t.Fatalf("mint failed: %v %v", firstErr, secondErr)
	}
	if first == second {
		t.Fatalf("two mints at the same instant produced identical tokens")
	}
}

func TestParseSessionTokenExpired(t *testing.T) {
	t.Parallel()

	clock := &controllableClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	signingKey := []byte("secret-key-1234567890")

	token, _, mintErr := MintSessionToken(clock, "google:sub-1", "", "test-issuer", signingKey, time.Minute)
	if mintErr != nil {
		t.Fatalf("mint failed: %v", mintErr)
	}

	clock.Advance(2 * time.Minute)
	_, parseErr := ParseSessionToken(token, "test-issuer", signingKey, clock)
	if !errors.Is(parseErr, ErrSessionTokenExpired) {
		t.Fatalf("expected expired sentinel, got %v", parseErr)
	}
}

func TestParseSessionTokenIssuerMismatch(t *testing.T) {
	t.Parallel()

	clock := &controllableClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	signingKey := []byte("secret-key-1234567890")

	token, _, mintErr := MintSessionToken(clock, "google:sub-1", "", "test-issuer", signingKey, time.Hour)
	if mintErr != nil {
		t.Fatalf("mint failed: %v", mintErr)
	}

	_, parseErr := ParseSessionToken(token, "another-issuer", signingKey, clock)
	if !errors.Is(parseErr, ErrSessionTokenIssuer) {
		t.Fatalf("expected issuer sentinel, got %v", parseErr)
	}
}

func TestParseSessionTokenTamperRejected(t *testing.T) {
	t.Parallel()

	clock := &controllableClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	signingKey := []byte("secret-key-1234567890")

	token, _, mintErr := MintSessionToken(clock, "google:sub-1", "", "test-issuer", signingKey, time.Hour)
	if mintErr != nil {
		t.Fatalf("mint failed: %v", mintErr)
	}

	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		t.Fatalf("unexpected token shape")
	}
	signature := []byte(segments[2])
	if signature[0] == 'A' {
		signature[0] = 'B'
	} else {
		signature[0] = 'A'
	}
	tampered := segments[0] + "." + segments[1] + "." + string(signature)
	if _, parseErr := ParseSessionToken(tampered, "test-issuer", signingKey, clock); parseErr == nil {
		t.Fatalf("expected signature rejection")
	}
	if _, parseErr := ParseSessionToken(token, "test-issuer", []byte("another-key"), clock); parseErr == nil {
		t.Fatalf("expected wrong-key rejection")
	}
}

func TestParseSessionTokenAllowExpired(t *testing.T) {
	t.Parallel()

	clock := &controllableClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	signingKey := []byte("secret-key-1234567890")

	token, _, mintErr := MintSessionToken(clock, "google:sub-1", "user@example.com", "test-issuer", signingKey, time.Minute)
	if mintErr != nil {
		t.Fatalf("mint failed: %v", mintErr)
	}

	clock.Advance(48 * time.Hour)
	claims, parseErr := ParseSessionTokenAllowExpired(token, "test-issuer", signingKey)
	if parseErr != nil {
		t.Fatalf("lenient parse failed: %v", parseErr)
	}
	if claims.UserID != "google:sub-1" {
		t.Fatalf("unexpected subject: %q", claims.UserID)
	}

	if _, parseErr := ParseSessionTokenAllowExpired(token, "another-issuer", signingKey); !errors.Is(parseErr, ErrSessionTokenIssuer) {
		t.Fatalf("expected issuer sentinel, got %v", parseErr)
	}
	if _, parseErr := ParseSessionTokenAllowExpired(token, "test-issuer", []byte("another-key")); parseErr == nil {
		t.Fatalf("expected wrong-key rejection")
	}
}
