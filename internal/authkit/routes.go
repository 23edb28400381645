package authkit

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthRoutes serves the token lifecycle endpoints: sign-in, refresh,
// validation, and logout. All collaborators are injected at construction.
type AuthRoutes struct {
	configuration ServerConfig
	clock         Clock
	verifier      *CredentialVerifier
	googleTokens  GoogleTokenValidator
	revocations   RevocationStore
	users         UserDirectory
	cards         CardDirectory
	metrics       MetricsRecorder
	logger        *zap.Logger
}

// NewAuthRoutes wires the endpoint handlers.
func NewAuthRoutes(configuration ServerConfig, clock Clock, verifier *CredentialVerifier, googleTokens GoogleTokenValidator, revocations RevocationStore, users UserDirectory, cards CardDirectory, metrics MetricsRecorder, logger *zap.Logger) *AuthRoutes {
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthRoutes{
		configuration: configuration,
		clock:         clock,
		verifier:      verifier,
		googleTokens:  googleTokens,
		revocations:   revocations,
		users:         users,
		cards:         cards,
		metrics:       metrics,
		logger:        logger,
	}
}

// Mount registers /sign-in, /refresh-token, /validate-token, and /logout.
func (routes *AuthRoutes) Mount(router gin.IRouter) {
	router.POST("/sign-in", routes.handleSignIn)
	router.POST("/refresh-token", routes.handleRefreshToken)
	router.POST("/validate-token", routes.handleValidateToken)
	router.POST("/logout", routes.handleLogout)
}

func (routes *AuthRoutes) handleSignIn(contextGin *gin.Context) {
	var inbound struct {
		GoogleIDToken string `json:"google_id_token"`
	}
	if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.GoogleIDToken) == "" {
		routes.count(metricSignInFailure)
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}

	if !routes.configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
		routes.count(metricSignInFailure)
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "https_required"})
		return
	}

	payload, validateErr := routes.googleTokens.Validate(contextGin.Request.Context(), inbound.GoogleIDToken, routes.configuration.GoogleWebClientID)
	if validateErr != nil {
		routes.count(metricSignInFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_google_token"})
		return
	}
	issuerValue, okIssuer := payload.Claims["iss"].(string)
	if !okIssuer || (issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com") {
		routes.count(metricSignInFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_issuer"})
		return
	}
	googleSub, _ := payload.Claims["sub"].(string)
	userEmail, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	userDisplayName, _ := payload.Claims["name"].(string)

	if googleSub == "" || userEmail == "" || !emailVerified {
		routes.count(metricSignInFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unverified_identity"})
		return
	}

	applicationUserID, upsertErr := routes.users.UpsertGoogleUser(contextGin, googleSub, userEmail, userDisplayName)
	if upsertErr != nil || applicationUserID == "" {
		routes.count(metricSignInFailure)
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if routes.cards != nil {
		if cardErr := routes.cards.EnsurePrimaryCard(contextGin, applicationUserID, userEmail, userDisplayName); cardErr != nil {
			routes.logger.Warn("primary card provisioning failed",
				zap.String("user_id", applicationUserID),
				zap.Error(cardErr))
		}
	}

	sessionToken, _, mintErr := MintSessionToken(routes.clock, applicationUserID, userEmail, routes.configuration.SessionIssuer, routes.configuration.SessionSigningKey, routes.configuration.SessionTTL)
	if mintErr != nil {
		routes.count(metricSignInFailure)
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	routes.count(metricSignInSuccess)
	announceSessionEvent(contextGin, SessionEventSignIn, applicationUserID)
	contextGin.JSON(http.StatusOK, gin.H{
		"success":   true,
		"token":     sessionToken,
		"expiresIn": int64(routes.configuration.SessionTTL.Seconds()),
		"user": gin.H{
			"user_id":      applicationUserID,
			"user_email":   userEmail,
			"display_name": userDisplayName,
		},
	})
}

// handleRefreshToken exchanges a current, possibly stale, credential for a
// fresh session token. A credential that cannot be tied to a subject answers
// 401 so callers know the session is beyond salvage.
func (routes *AuthRoutes) handleRefreshToken(contextGin *gin.Context) {
	headerValue, headerPresent := authorizationHeader(contextGin.Request)
	credential := ""
	if headerPresent {
		credential = credentialFromAuthorization(headerValue)
	}
	if credential == "" {
		routes.count(metricRefreshFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credential"})
		return
	}

	revoked, revokedErr := routes.revocations.Contains(contextGin, credential)
	if revokedErr != nil {
		routes.count(metricRefreshFailure)
		routes.logger.Error("revocation lookup failed during refresh", zap.Error(revokedErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if revoked {
		routes.count(metricRefreshFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credential"})
		return
	}

	applicationUserID, userEmail, previousExpiry, classifyErr := routes.classifyRefreshCredential(contextGin, credential)
	if classifyErr != nil {
		routes.count(metricRefreshFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credential"})
		return
	}

	if strings.TrimSpace(userEmail) == "" && routes.users != nil {
		if profile, profileErr := routes.users.UserProfile(contextGin, applicationUserID); profileErr == nil {
			userEmail = profile.Email
		}
	}

	sessionToken, _, mintErr := MintSessionToken(routes.clock, applicationUserID, userEmail, routes.configuration.SessionIssuer, routes.configuration.SessionSigningKey, routes.configuration.SessionTTL)
	if mintErr != nil {
		routes.count(metricRefreshFailure)
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	if insertErr := routes.revocations.Insert(contextGin, credential, previousExpiry, RevocationReasonSuperseded); insertErr != nil {
		routes.logger.Warn("superseded credential revocation failed", zap.Error(insertErr))
	}

	routes.count(metricRefreshSuccess)
	announceSessionEvent(contextGin, SessionEventRefresh, applicationUserID)
	contextGin.JSON(http.StatusOK, gin.H{
		"success":   true,
		"token":     sessionToken,
		"expiresIn": int64(routes.configuration.SessionTTL.Seconds()),
	})
}

// classifyRefreshCredential decides whether a credential may be exchanged.
// Live session tokens qualify, expired ones qualify within the grace window,
// and Google ID tokens qualify as long as Google still vouches for them.
func (routes *AuthRoutes) classifyRefreshCredential(contextGin *gin.Context, credential string) (string, string, int64, error) {
	claims, parseErr := ParseSessionToken(credential, routes.configuration.SessionIssuer, routes.configuration.SessionSigningKey, routes.clock)
	if parseErr == nil {
		if strings.TrimSpace(claims.UserID) == "" {
			return "", "", 0, errors.New("refresh.subject_absent")
		}
		return claims.UserID, claims.UserEmail, claimExpiryUnix(claims), nil
	}

	if errors.Is(parseErr, ErrSessionTokenExpired) {
		expiredClaims, expiredErr := ParseSessionTokenAllowExpired(credential, routes.configuration.SessionIssuer, routes.configuration.SessionSigningKey)
		if expiredErr == nil && expiredClaims.ExpiresAt != nil && strings.TrimSpace(expiredClaims.UserID) != "" {
			elapsed := routes.clock.Now().Sub(expiredClaims.ExpiresAt.Time)
			if elapsed <= routes.configuration.RefreshGraceWindow {
				return expiredClaims.UserID, expiredClaims.UserEmail, claimExpiryUnix(expiredClaims), nil
			}
		}
		return "", "", 0, ErrSessionTokenExpired
	}

	if routes.googleTokens != nil {
		payload, googleErr := routes.googleTokens.Validate(contextGin.Request.Context(), credential, routes.configuration.GoogleWebClientID)
		if googleErr == nil {
			googleSub, _ := payload.Claims["sub"].(string)
			if googleSub != "" {
				googleEmail, _ := payload.Claims["email"].(string)
				emailVerified, _ := payload.Claims["email_verified"].(bool)
				if !emailVerified {
					googleEmail = ""
				}
				return "google:" + googleSub, googleEmail, payload.Expires, nil
			}
		}
	}

	return "", "", 0, parseErr
}

func (routes *AuthRoutes) handleValidateToken(contextGin *gin.Context) {
	headerValue, headerPresent := authorizationHeader(contextGin.Request)
	verified, verifyErr := routes.verifier.VerifyAuthorization(contextGin.Request.Context(), headerValue, headerPresent)
	if verifyErr != nil {
		routes.count(metricValidateInvalid)
		contextGin.JSON(http.StatusOK, gin.H{
			"valid":   false,
			"message": "invalid_credential",
		})
		return
	}
	routes.count(metricValidateValid)
	contextGin.JSON(http.StatusOK, gin.H{
		"valid":     true,
		"expiresAt": verified.ExpiresAt.Unix(),
	})
}

// handleLogout records a revocation entry for the presented credential. The
// endpoint always succeeds; a client clearing local state must never be held
// up by server-side bookkeeping.
func (routes *AuthRoutes) handleLogout(contextGin *gin.Context) {
	headerValue, headerPresent := authorizationHeader(contextGin.Request)
	credential := ""
	if headerPresent {
		credential = credentialFromAuthorization(headerValue)
	}
	if credential != "" {
		expiresUnix := routes.clock.Now().Add(routes.configuration.RevocationRetain).Unix()
		applicationUserID := ""
		if claims, parseErr := ParseSessionTokenAllowExpired(credential, routes.configuration.SessionIssuer, routes.configuration.SessionSigningKey); parseErr == nil {
			applicationUserID = claims.UserID
			if claims.ExpiresAt != nil {
				expiresUnix = claims.ExpiresAt.Unix()
			}
		}
		if insertErr := routes.revocations.Insert(contextGin, credential, expiresUnix, RevocationReasonLogout); insertErr != nil {
			routes.logger.Warn("logout revocation failed", zap.Error(insertErr))
		}
		announceSessionEvent(contextGin, SessionEventLogout, applicationUserID)
	}
	routes.count(metricLogoutSuccess)
	contextGin.JSON(http.StatusOK, gin.H{"success": true})
}

func (routes *AuthRoutes) count(event string) {
	if routes.metrics != nil {
		routes.metrics.Increment(event)
	}
}

func claimExpiryUnix(claims *SessionClaims) int64 {
	if claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Unix()
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	scheme := request.Header.Get("X-Forwarded-Proto")
	if strings.EqualFold(scheme, "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	if splitErr == nil && host == "localhost" {
		return true
	}
	return false
}
