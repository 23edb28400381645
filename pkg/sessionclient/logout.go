package sessionclient

import (
	"context"

	"go.uber.org/zap"
)

// AuthStateSink is notified when the session has been torn down so any
// in-memory auth state can drop its user and keep-logged-in flag.
type AuthStateSink interface {
	SessionCleared()
}

// SignInRedirector sends the user back to the sign-in entry point.
type SignInRedirector interface {
	RedirectToSignIn()
}

// ForcedLogoutHandler tears a dead session down: persisted credential and
// profile go, the auth state is told, and the user lands on sign-in. The
// persisted keep-logged-in preference survives so the next sign-in honors it.
type ForcedLogoutHandler struct {
	cache     CredentialCache
	authState AuthStateSink
	signIn    SignInRedirector
	logger    *zap.Logger
}

// NewForcedLogoutHandler wires the handler. authState and signIn may be nil;
// the corresponding step is then skipped.
func NewForcedLogoutHandler(cache CredentialCache, authState AuthStateSink, signIn SignInRedirector, logger *zap.Logger) *ForcedLogoutHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForcedLogoutHandler{
		cache:     cache,
		authState: authState,
		signIn:    signIn,
		logger:    logger,
	}
}

// ForceLogout clears the session. It reports nothing and survives anything:
// storage failures fall back to a full clear, a panicking collaborator is
// contained, and running it twice is the same as running it once. When
// redirectOverride is non-nil it wins over the configured redirector.
func (handler *ForcedLogoutHandler) ForceLogout(ctx context.Context, redirectOverride func()) {
	if clearErr := handler.cache.ClearSession(ctx); clearErr != nil {
		handler.logger.Error("session clear failed, clearing all state", zap.Error(clearErr))
		if wipeErr := handler.cache.ClearAll(ctx); wipeErr != nil {
			handler.logger.Error("full state clear failed", zap.Error(wipeErr))
		}
	}
	if handler.authState != nil {
		handler.guarded("auth state notification", handler.authState.SessionCleared)
	}
	switch {
	case redirectOverride != nil:
		handler.guarded("logout redirect override", redirectOverride)
	case handler.signIn != nil:
		handler.guarded("sign-in redirect", handler.signIn.RedirectToSignIn)
	}
}

func (handler *ForcedLogoutHandler) guarded(step string, run func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			handler.logger.Error("forced logout step panicked",
				zap.String("step", step),
				zap.Any("panic", recovered))
		}
	}()
	run()
}
