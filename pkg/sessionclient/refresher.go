package sessionclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ProviderSession is a live identity-provider session able to mint a fresh
// credential without touching the backend. Hosts that keep the provider SDK
// signed in supply one; headless hosts leave it nil.
type ProviderSession interface {
	ForceRefresh(ctx context.Context) (string, error)
}

var (
	// ErrInvalidCredential reports that the backend refused the current
	// credential outright. There is no recovering the session from it.
	ErrInvalidCredential = errors.New("session.client.invalid_credential")
	// ErrRefreshFailed reports a refresh that did not produce a new
	// credential for a reason other than outright rejection.
	ErrRefreshFailed = errors.New("session.client.refresh_failed")
)

// RefreshCoordinator exchanges the current credential for a fresh one and
// persists the result. Concurrent callers are collapsed into a single
// exchange; everyone waiting receives the same outcome.
type RefreshCoordinator struct {
	baseURL    string
	httpClient *http.Client
	cache      CredentialCache
	provider   ProviderSession
	clock      Clock
	logger     *zap.Logger
	flight     singleflight.Group
}

func NewRefreshCoordinator(baseURL string, httpClient *http.Client, cache CredentialCache, provider ProviderSession, clock Clock, logger *zap.Logger) *RefreshCoordinator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshCoordinator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		cache:      cache,
		provider:   provider,
		clock:      clock,
		logger:     logger,
	}
}

// Refresh runs the full exchange: provider first when available, backend
// otherwise, then a paired write of token and timestamp. The credential is
// returned only after it has been persisted.
func (coordinator *RefreshCoordinator) Refresh(ctx context.Context) (Credential, error) {
	result, refreshErr, _ := coordinator.flight.Do("refresh", func() (interface{}, error) {
		return coordinator.refresh(ctx)
	})
	if refreshErr != nil {
		return Credential{}, refreshErr
	}
	credential, ok := result.(Credential)
	if !ok {
		return Credential{}, fmt.Errorf("session.client.refresh: %w", ErrRefreshFailed)
	}
	return credential, nil
}

func (coordinator *RefreshCoordinator) refresh(ctx context.Context) (Credential, error) {
	if coordinator.provider != nil {
		token, providerErr := coordinator.provider.ForceRefresh(ctx)
		if providerErr == nil && strings.TrimSpace(token) != "" {
			return coordinator.persist(ctx, token)
		}
		coordinator.logger.Debug("provider refresh unavailable, falling back to backend",
			zap.Error(providerErr))
	}
	return coordinator.refreshViaBackend(ctx)
}

func (coordinator *RefreshCoordinator) refreshViaBackend(ctx context.Context) (Credential, error) {
	current, credentialErr := coordinator.cache.Credential(ctx)
	if credentialErr != nil {
		return Credential{}, fmt.Errorf("session.client.refresh: no credential to exchange: %w", ErrRefreshFailed)
	}

	request, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, coordinator.baseURL+"/refresh-token", nil)
	if buildErr != nil {
		return Credential{}, fmt.Errorf("session.client.refresh: %w", buildErr)
	}
	request.Header.Set("Authorization", "Bearer "+current.Token)

	response, sendErr := coordinator.httpClient.Do(request)
	if sendErr != nil {
		return Credential{}, fmt.Errorf("session.client.refresh: %w: %v", ErrRefreshFailed, sendErr)
	}
	defer drainAndClose(response)

	if response.StatusCode == http.StatusUnauthorized {
		return Credential{}, fmt.Errorf("session.client.refresh: %w", ErrInvalidCredential)
	}
	if response.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("session.client.refresh: %w: status %d", ErrRefreshFailed, response.StatusCode)
	}

	var payload struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(&payload); decodeErr != nil {
		return Credential{}, fmt.Errorf("session.client.refresh: %w: %v", ErrRefreshFailed, decodeErr)
	}
	if !payload.Success || strings.TrimSpace(payload.Token) == "" {
		return Credential{}, fmt.Errorf("session.client.refresh: %w: empty token in response", ErrRefreshFailed)
	}
	return coordinator.persist(ctx, payload.Token)
}

func (coordinator *RefreshCoordinator) persist(ctx context.Context, token string) (Credential, error) {
	credential := Credential{Token: token, IssuedAt: coordinator.clock.Now().UTC()}
	if storeErr := coordinator.cache.StoreCredential(ctx, credential); storeErr != nil {
		return Credential{}, fmt.Errorf("session.client.refresh_persist: %w", storeErr)
	}
	return credential, nil
}

func drainAndClose(response *http.Response) {
	if response == nil || response.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, response.Body)
	_ = response.Body.Close()
}
