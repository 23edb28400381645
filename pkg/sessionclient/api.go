package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrSignInFailed reports that the provider token was not exchanged for a
// session.
var ErrSignInFailed = errors.New("session.client.signin_failed")

// SignIn exchanges a Google ID token for a session credential and persists
// credential, profile, and the keep-logged-in choice.
func (client *Client) SignIn(ctx context.Context, googleIDToken string, keepLoggedIn bool) (Profile, error) {
	if strings.TrimSpace(googleIDToken) == "" {
		return Profile{}, fmt.Errorf("session.client.signin: empty provider token: %w", ErrSignInFailed)
	}
	body, encodeErr := json.Marshal(map[string]string{"google_id_token": googleIDToken})
	if encodeErr != nil {
		return Profile{}, fmt.Errorf("session.client.signin: %w", encodeErr)
	}
	request, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+"/sign-in", bytes.NewReader(body))
	if buildErr != nil {
		return Profile{}, fmt.Errorf("session.client.signin: %w", buildErr)
	}
	request.Header.Set("Content-Type", "application/json")

	response, sendErr := client.httpClient.Do(request)
	if sendErr != nil {
		return Profile{}, fmt.Errorf("session.client.signin: %w: %v", ErrSignInFailed, sendErr)
	}
	defer drainAndClose(response)
	if response.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("session.client.signin: %w: status %d", ErrSignInFailed, response.StatusCode)
	}

	var payload struct {
		Success bool    `json:"success"`
		Token   string  `json:"token"`
		User    Profile `json:"user"`
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(&payload); decodeErr != nil {
		return Profile{}, fmt.Errorf("session.client.signin: %w: %v", ErrSignInFailed, decodeErr)
	}
	if !payload.Success || strings.TrimSpace(payload.Token) == "" {
		return Profile{}, fmt.Errorf("session.client.signin: %w: empty token in response", ErrSignInFailed)
	}

	credential := Credential{Token: payload.Token, IssuedAt: client.clock.Now().UTC()}
	if storeErr := client.cache.StoreCredential(ctx, credential); storeErr != nil {
		return Profile{}, fmt.Errorf("session.client.signin_persist: %w", storeErr)
	}
	if profileErr := client.cache.StoreProfile(ctx, payload.User); profileErr != nil {
		client.logger.Warn("profile cache write failed", zap.Error(profileErr))
	}
	if preferenceErr := client.cache.SetKeepLoggedIn(ctx, keepLoggedIn); preferenceErr != nil {
		client.logger.Warn("keep-logged-in write failed", zap.Error(preferenceErr))
	}
	return payload.User, nil
}

// ValidateSession asks the backend whether the stored credential still
// stands. Without a stored credential the session is simply not valid.
func (client *Client) ValidateSession(ctx context.Context) (bool, time.Time, error) {
	credential, credentialErr := client.cache.Credential(ctx)
	if credentialErr != nil {
		if errors.Is(credentialErr, ErrNoCredential) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("session.client.validate: %w", credentialErr)
	}

	request, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+"/validate-token", nil)
	if buildErr != nil {
		return false, time.Time{}, fmt.Errorf("session.client.validate: %w", buildErr)
	}
	request.Header.Set("Authorization", "Bearer "+credential.Token)

	response, sendErr := client.httpClient.Do(request)
	if sendErr != nil {
		return false, time.Time{}, fmt.Errorf("session.client.validate: %w", sendErr)
	}
	defer drainAndClose(response)
	if response.StatusCode != http.StatusOK {
		return false, time.Time{}, fmt.Errorf("session.client.validate: status %d", response.StatusCode)
	}

	var payload struct {
		Valid     bool  `json:"valid"`
		ExpiresAt int64 `json:"expiresAt"`
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(&payload); decodeErr != nil {
		return false, time.Time{}, fmt.Errorf("session.client.validate: %w", decodeErr)
	}
	if !payload.Valid {
		return false, time.Time{}, nil
	}
	return true, time.Unix(payload.ExpiresAt, 0).UTC(), nil
}

// FetchProfile loads the profile through the dispatcher, so a stale session
// refreshes itself on the way, and caches the result.
func (client *Client) FetchProfile(ctx context.Context) (Profile, error) {
	request, buildErr := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+"/profile", nil)
	if buildErr != nil {
		return Profile{}, fmt.Errorf("session.client.profile: %w", buildErr)
	}
	response, sendErr := client.Do(ctx, request)
	if sendErr != nil {
		return Profile{}, sendErr
	}
	defer drainAndClose(response)
	if response.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("session.client.profile: status %d", response.StatusCode)
	}
	var profile Profile
	if decodeErr := json.NewDecoder(response.Body).Decode(&profile); decodeErr != nil {
		return Profile{}, fmt.Errorf("session.client.profile: %w", decodeErr)
	}
	if cacheErr := client.cache.StoreProfile(ctx, profile); cacheErr != nil {
		client.logger.Warn("profile cache write failed", zap.Error(cacheErr))
	}
	return profile, nil
}

// Logout ends the session on the user's say-so. The backend revocation is
// best effort; local state always goes, preference included.
func (client *Client) Logout(ctx context.Context) error {
	if credential, credentialErr := client.cache.Credential(ctx); credentialErr == nil {
		request, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+"/logout", nil)
		if buildErr == nil {
			request.Header.Set("Authorization", "Bearer "+credential.Token)
			if response, sendErr := client.httpClient.Do(request); sendErr != nil {
				client.logger.Warn("server logout failed, clearing locally", zap.Error(sendErr))
			} else {
				drainAndClose(response)
			}
		}
	}
	if clearErr := client.cache.ClearAll(ctx); clearErr != nil {
		return fmt.Errorf("session.client.logout: %w", clearErr)
	}
	if client.logout.authState != nil {
		client.logout.authState.SessionCleared()
	}
	return nil
}
