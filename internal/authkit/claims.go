package authkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims are embedded in the self-issued session token.
type SessionClaims struct {
	UserID    string `json:"uid"`
	UserEmail string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// MintSessionToken creates a signed HS256 session token.
func MintSessionToken(clock Clock, userID string, userEmail string, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: subject must be non-empty")
	}
	issuedAt := clock.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:    userID,
		UserEmail: userEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			ID:        uuid.NewString(), // one jti per mint, so re-mints never collide
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.mint.sign: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseSessionToken validates a session token's signature, lifetime, and
// issuer, and returns its claims.
func ParseSessionToken(tokenString string, issuer string, signingKey []byte, clock Clock) (*SessionClaims, error) {
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return clock.Now()
	}))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("jwt.parse: %w", ErrSessionTokenExpired)
		}
		return nil, fmt.Errorf("jwt.parse: %w", parseErr)
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("jwt.parse: token not valid")
	}
	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok {
		return nil, fmt.Errorf("jwt.parse: unexpected claims type")
	}
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("jwt.parse: %w", ErrSessionTokenIssuer)
	}
	return claims, nil
}

// ParseSessionTokenAllowExpired verifies signature and issuer but skips
// lifetime validation. The refresh path uses it to exchange a stale credential
// whose signature still proves authenticity.
func ParseSessionTokenAllowExpired(tokenString string, issuer string, signingKey []byte) (*SessionClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	parsedToken, parseErr := parser.ParseWithClaims(tokenString, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return signingKey, nil
	})
	if parseErr != nil {
		return nil, fmt.Errorf("jwt.parse_lenient: %w", parseErr)
	}
	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok {
		return nil, fmt.Errorf("jwt.parse_lenient: unexpected claims type")
	}
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("jwt.parse_lenient: %w", ErrSessionTokenIssuer)
	}
	return claims, nil
}

// Sentinel errors surfaced by session token parsing.
var (
	ErrSessionTokenExpired = errors.New("jwt.expired")
	ErrSessionTokenIssuer  = errors.New("jwt.invalid_issuer")
)
