package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/idtoken"
)

// Credential sources reported on a verified identity.
const (
	CredentialSourceGoogle  = "google"
	CredentialSourceSession = "session"
)

const bearerSchemePrefix = "Bearer "

// Verification failure taxonomy. Handlers translate every one of these to a
// generic 401; the distinction exists for logs and metrics.
var (
	ErrMissingCredential = errors.New("verifier.credential_missing")
	ErrEmptyCredential   = errors.New("verifier.credential_empty")
	ErrCredentialRevoked = errors.New("verifier.credential_revoked")
	ErrCredentialInvalid = errors.New("verifier.credential_invalid")
)

// GoogleTokenValidator verifies a provider-issued ID token against an audience.
// *idtoken.Validator satisfies it.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, credential string, audience string) (*idtoken.Payload, error)
}

// NewGoogleTokenValidator builds the live Google validator.
func NewGoogleTokenValidator(ctx context.Context) (GoogleTokenValidator, error) {
	return idtoken.NewValidator(ctx)
}

// VerifiedCredential is the identity extracted from an accepted credential.
type VerifiedCredential struct {
	ApplicationUserID string
	UserEmail         string
	Source            string
	ExpiresAt         time.Time
}

// CredentialVerifier classifies bearer credentials. A credential is accepted
// when it is a Google-issued ID token for the configured audience or a session
// token signed with the service key; everything else is rejected. Revocation
// wins over every other property of the credential.
type CredentialVerifier struct {
	configuration ServerConfig
	clock         Clock
	revocations   RevocationStore
	googleTokens  GoogleTokenValidator
	users         UserDirectory
	cards         CardDirectory
	logger        *zap.Logger
}

// NewCredentialVerifier wires the verifier's collaborators. users and cards
// are optional; without them email backfill is skipped.
func NewCredentialVerifier(configuration ServerConfig, clock Clock, revocations RevocationStore, googleTokens GoogleTokenValidator, users UserDirectory, cards CardDirectory, logger *zap.Logger) *CredentialVerifier {
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialVerifier{
		configuration: configuration,
		clock:         clock,
		revocations:   revocations,
		googleTokens:  googleTokens,
		users:         users,
		cards:         cards,
		logger:        logger,
	}
}

// VerifyAuthorization classifies a raw Authorization header. headerPresent
// distinguishes an absent header from a blank one.
func (verifier *CredentialVerifier) VerifyAuthorization(ctx context.Context, authorizationHeader string, headerPresent bool) (*VerifiedCredential, error) {
	if !headerPresent {
		return nil, ErrMissingCredential
	}
	credential := credentialFromAuthorization(authorizationHeader)
	if credential == "" {
		return nil, ErrEmptyCredential
	}
	return verifier.VerifyCredential(ctx, credential)
}

// VerifyCredential classifies a bearer credential that has already been
// extracted from its transport envelope.
func (verifier *CredentialVerifier) VerifyCredential(ctx context.Context, credential string) (*VerifiedCredential, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrEmptyCredential
	}

	revoked, revokedErr := verifier.revocations.Contains(ctx, credential)
	if revokedErr != nil {
		return nil, fmt.Errorf("verifier.revocation_lookup: %w", revokedErr)
	}
	if revoked {
		return nil, ErrCredentialRevoked
	}

	verified, googleErr := verifier.verifyGoogleCredential(ctx, credential)
	if googleErr == nil {
		verifier.backfillEmail(ctx, verified)
		return verified, nil
	}

	verified, sessionErr := verifier.verifySessionCredential(credential)
	if sessionErr == nil {
		verifier.backfillEmail(ctx, verified)
		return verified, nil
	}

	verifier.logger.Debug("credential rejected by both verifiers",
		zap.NamedError("google_error", googleErr),
		zap.NamedError("session_error", sessionErr))
	return nil, ErrCredentialInvalid
}

func (verifier *CredentialVerifier) verifyGoogleCredential(ctx context.Context, credential string) (*VerifiedCredential, error) {
	if verifier.googleTokens == nil {
		return nil, errors.New("verifier.google_validator_absent")
	}
	payload, validateErr := verifier.googleTokens.Validate(ctx, credential, verifier.configuration.GoogleWebClientID)
	if validateErr != nil {
		return nil, validateErr
	}
	issuerValue, okIssuer := payload.Claims["iss"].(string)
	if !okIssuer || (issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com") {
		return nil, errors.New("verifier.google_issuer_mismatch")
	}
	googleSub, _ := payload.Claims["sub"].(string)
	if googleSub == "" {
		return nil, errors.New("verifier.google_subject_absent")
	}
	userEmail, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	if !emailVerified {
		userEmail = ""
	}
	return &VerifiedCredential{
		ApplicationUserID: "google:" + googleSub,
		UserEmail:         userEmail,
		Source:            CredentialSourceGoogle,
		ExpiresAt:         time.Unix(payload.Expires, 0).UTC(),
	}, nil
}

func (verifier *CredentialVerifier) verifySessionCredential(credential string) (*VerifiedCredential, error) {
	claims, parseErr := ParseSessionToken(credential, verifier.configuration.SessionIssuer, verifier.configuration.SessionSigningKey, verifier.clock)
	if parseErr != nil {
		return nil, parseErr
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, errors.New("verifier.session_subject_absent")
	}
	verified := &VerifiedCredential{
		ApplicationUserID: claims.UserID,
		UserEmail:         claims.UserEmail,
		Source:            CredentialSourceSession,
	}
	if claims.ExpiresAt != nil {
		verified.ExpiresAt = claims.ExpiresAt.Time
	}
	return verified, nil
}

// backfillEmail fills a missing email from the user directory first and the
// card directory second. Lookup failures are logged and swallowed.
func (verifier *CredentialVerifier) backfillEmail(ctx context.Context, verified *VerifiedCredential) {
	if strings.TrimSpace(verified.UserEmail) != "" {
		return
	}
	if verifier.users != nil {
		profile, profileErr := verifier.users.UserProfile(ctx, verified.ApplicationUserID)
		if profileErr == nil && strings.TrimSpace(profile.Email) != "" {
			verified.UserEmail = profile.Email
			return
		}
		if profileErr != nil && !errors.Is(profileErr, ErrUserNotFound) {
			verifier.logger.Warn("user directory email backfill failed",
				zap.String("user_id", verified.ApplicationUserID),
				zap.Error(profileErr))
		}
	}
	if verifier.cards != nil {
		cardEmail, cardErr := verifier.cards.PrimaryCardEmail(ctx, verified.ApplicationUserID)
		if cardErr == nil && strings.TrimSpace(cardEmail) != "" {
			verified.UserEmail = cardEmail
			return
		}
		if cardErr != nil && !errors.Is(cardErr, ErrCardNotFound) {
			verifier.logger.Warn("card directory email backfill failed",
				zap.String("user_id", verified.ApplicationUserID),
				zap.Error(cardErr))
		}
	}
}

func credentialFromAuthorization(headerValue string) string {
	credential := strings.TrimSpace(headerValue)
	credential = strings.TrimPrefix(credential, bearerSchemePrefix)
	return strings.TrimSpace(credential)
}
