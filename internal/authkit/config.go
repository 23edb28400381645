package authkit

import "time"

// ServerConfig configures the identity-provider audience, session token
// signing, and token lifetimes.
type ServerConfig struct {
	GoogleWebClientID  string
	SessionSigningKey  []byte
	SessionIssuer      string
	SessionTTL         time.Duration
	RefreshGraceWindow time.Duration
	RevocationRetain   time.Duration
	AllowInsecureHTTP  bool
}
