package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xscard/sessiond/internal/authkit"
)

// HandleProfile resolves the authenticated user's profile. It expects to run
// behind authkit.RequireCredential. The card email is best-effort; a user
// without a card still gets their profile.
func HandleProfile(users authkit.UserDirectory, cards authkit.CardDirectory, logger *zap.Logger) gin.HandlerFunc {
	if users == nil {
		panic("user directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(contextGin *gin.Context) {
		verified, found := authkit.VerifiedFromContext(contextGin)
		if !found || verified == nil || verified.ApplicationUserID == "" {
			logger.Warn("missing verified credential on context",
				zap.String("code", "api.profile.missing_credential"))
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		profile, profileErr := users.UserProfile(contextGin, verified.ApplicationUserID)
		if profileErr != nil {
			if errors.Is(profileErr, authkit.ErrUserNotFound) {
				logger.Warn("user profile missing",
					zap.String("code", "api.profile.not_found"),
					zap.String("user_id", verified.ApplicationUserID))
				contextGin.AbortWithStatus(http.StatusNotFound)
				return
			}
			logger.Error("user profile lookup error",
				zap.String("code", "api.profile.lookup_error"),
				zap.String("user_id", verified.ApplicationUserID),
				zap.Error(profileErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		cardEmail := ""
		if cards != nil {
			email, cardErr := cards.PrimaryCardEmail(contextGin, verified.ApplicationUserID)
			switch {
			case cardErr == nil:
				cardEmail = email
			case !errors.Is(cardErr, authkit.ErrCardNotFound):
				logger.Warn("card email lookup error",
					zap.String("code", "api.profile.card_error"),
					zap.String("user_id", verified.ApplicationUserID),
					zap.Error(cardErr))
			}
		}

		contextGin.JSON(http.StatusOK, gin.H{
			"user_id":      verified.ApplicationUserID,
			"user_email":   profile.Email,
			"display_name": profile.DisplayName,
			"card_email":   cardEmail,
			"expires_at":   verified.ExpiresAt.Unix(),
		})
	}
}
