package authkit

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ContextKeyVerifiedCredential is the gin context key under which
// RequireCredential stores the verified identity.
const ContextKeyVerifiedCredential = "verified_credential"

// RequireCredential verifies the Authorization bearer credential and injects
// the verified identity. Every rejection answers 401 with the same generic
// body; the failure class goes to logs and metrics only.
func RequireCredential(verifier *CredentialVerifier, metrics MetricsRecorder, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		headerValue, headerPresent := authorizationHeader(contextGin.Request)
		verified, verifyErr := verifier.VerifyAuthorization(contextGin.Request.Context(), headerValue, headerPresent)
		if verifyErr != nil {
			if metrics != nil {
				metrics.Increment(metricVerifyRejected)
			}
			logger.Debug("credential rejected",
				zap.String("reason", verifyFailureReason(verifyErr)),
				zap.String("path", contextGin.FullPath()))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credential"})
			return
		}
		if metrics != nil {
			metrics.Increment(metricVerifyAccepted)
		}
		contextGin.Set(ContextKeyVerifiedCredential, verified)
		contextGin.Next()
	}
}

// VerifiedFromContext retrieves the identity stored by RequireCredential.
func VerifiedFromContext(contextGin *gin.Context) (*VerifiedCredential, bool) {
	value, exists := contextGin.Get(ContextKeyVerifiedCredential)
	if !exists {
		return nil, false
	}
	verified, ok := value.(*VerifiedCredential)
	return verified, ok
}

func authorizationHeader(request *http.Request) (string, bool) {
	values := request.Header.Values("Authorization")
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func verifyFailureReason(verifyErr error) string {
	switch {
	case errors.Is(verifyErr, ErrMissingCredential):
		return "missing"
	case errors.Is(verifyErr, ErrEmptyCredential):
		return "empty"
	case errors.Is(verifyErr, ErrCredentialRevoked):
		return "revoked"
	case errors.Is(verifyErr, ErrCredentialInvalid):
		return "invalid"
	default:
		return "lookup_error"
	}
}
