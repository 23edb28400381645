package sessionclient

import (
	"strings"
	"time"
)

// Issued tokens live for an hour; the client refreshes once fifty minutes of
// that hour are spent, leaving a margin before expiry.
const (
	TokenValidity    = time.Hour
	RefreshThreshold = 50 * time.Minute
)

// NeedsRefresh reports whether the credential's age puts it past the refresh
// threshold. Without a token or its issuance timestamp the age is unknown and
// the answer is false; there is nothing to exchange, so a refresh could only
// spin.
func NeedsRefresh(credential Credential, now time.Time) bool {
	if strings.TrimSpace(credential.Token) == "" {
		return false
	}
	if credential.IssuedAt.IsZero() {
		return false
	}
	return now.Sub(credential.IssuedAt) > RefreshThreshold
}
