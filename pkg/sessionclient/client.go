package sessionclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	retry "github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// Transport-level failures are retried a couple of times before the
	// response or error is surfaced. Auth rejections are never retried here.
	transportRetryLimit = 2
	transportRetryDelay = 500 * time.Millisecond
)

var (
	// ErrSessionExpired is the terminal dispatcher outcome: the session could
	// not be kept alive and a forced logout has already run.
	ErrSessionExpired = errors.New("session.client.session_expired")

	ErrMissingBaseURL = errors.New("session.client.missing_base_url")
	ErrMissingCache   = errors.New("session.client.missing_cache")
)

// Config collects the client's collaborators. BaseURL and Cache are
// required; everything else has a working default or is optional.
type Config struct {
	// BaseURL is the session service root, without a trailing slash.
	BaseURL string
	// HTTPClient carries every request. Defaults to a client with a timeout.
	HTTPClient *http.Client
	// Cache persists credential, preference, and profile.
	Cache CredentialCache
	// Provider, when set, is tried before the backend on refresh.
	Provider ProviderSession
	// AuthState, when set, is told about forced logouts.
	AuthState AuthStateSink
	// SignIn, when set, receives the user after a forced logout.
	SignIn SignInRedirector
	Clock  Clock
	Logger *zap.Logger
}

// Client dispatches authenticated requests. Each request passes a freshness
// check, goes out with the cached credential attached, and gets one refresh
// plus resend when the backend answers 401. When the session cannot be kept
// alive the client forces a logout and reports ErrSessionExpired.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      CredentialCache
	refresher  *RefreshCoordinator
	logout     *ForcedLogoutHandler
	clock      Clock
	logger     *zap.Logger
}

func NewClient(configuration Config) (*Client, error) {
	if strings.TrimSpace(configuration.BaseURL) == "" {
		return nil, fmt.Errorf("session.client.new: %w", ErrMissingBaseURL)
	}
	if configuration.Cache == nil {
		return nil, fmt.Errorf("session.client.new: %w", ErrMissingCache)
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(configuration.BaseURL, "/")
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		cache:      configuration.Cache,
		refresher:  NewRefreshCoordinator(baseURL, httpClient, configuration.Cache, configuration.Provider, clock, logger),
		logout:     NewForcedLogoutHandler(configuration.Cache, configuration.AuthState, configuration.SignIn, logger),
		clock:      clock,
		logger:     logger,
	}, nil
}

// Refresh exposes the coordinator for callers that want a new credential
// ahead of schedule.
func (client *Client) Refresh(ctx context.Context) (Credential, error) {
	return client.refresher.Refresh(ctx)
}

// ForceLogout tears the session down immediately.
func (client *Client) ForceLogout(ctx context.Context) {
	client.logout.ForceLogout(ctx, nil)
}

// Do sends the request with the session credential attached.
//
// A stale credential is refreshed before the send when the user chose to stay
// logged in; without that choice the session ends right here, with nothing
// put on the wire. A 401 answer triggers one refresh plus one resend of the
// identical request. A second 401 ends the session. Responses other than 401
// belong to the caller, 5xx and transport failures after a short retry run.
//
// The request body is buffered up front so resends replay identical bytes.
// An Authorization header set by the caller survives only when the cache
// holds no credential.
func (client *Client) Do(ctx context.Context, request *http.Request) (*http.Response, error) {
	replayable, bufferErr := bufferRequest(request)
	if bufferErr != nil {
		return nil, fmt.Errorf("session.client.buffer_request: %w", bufferErr)
	}

	if preCheckDone, preCheckErr := client.preCheck(ctx); preCheckDone {
		return nil, preCheckErr
	}

	response, sendErr := client.send(ctx, replayable)
	if sendErr != nil {
		return nil, sendErr
	}
	if response.StatusCode != http.StatusUnauthorized {
		client.observeResponse(replayable, response)
		return response, nil
	}
	drainAndClose(response)

	if recovered, recoverErr := client.recoverSession(ctx); !recovered {
		return nil, recoverErr
	}

	retryResponse, retryErr := client.send(ctx, replayable)
	if retryErr != nil {
		return nil, retryErr
	}
	if retryResponse.StatusCode == http.StatusUnauthorized {
		drainAndClose(retryResponse)
		client.logger.Info("request rejected twice, ending session",
			zap.String("path", replayable.url))
		client.logout.ForceLogout(ctx, nil)
		return nil, ErrSessionExpired
	}
	client.observeResponse(replayable, retryResponse)
	return retryResponse, nil
}

// preCheck refreshes a stale credential ahead of the send. The returned bool
// reports that the dispatch is already settled: a stale session the user did
// not ask to keep ends before anything reaches the wire.
func (client *Client) preCheck(ctx context.Context) (bool, error) {
	credential, credentialErr := client.cache.Credential(ctx)
	if credentialErr != nil {
		if !errors.Is(credentialErr, ErrNoCredential) {
			client.logger.Debug("credential read failed, sending without refresh", zap.Error(credentialErr))
		}
		return false, nil
	}
	if !NeedsRefresh(credential, client.clock.Now()) {
		return false, nil
	}
	if !client.keepLoggedIn(ctx) {
		client.logout.ForceLogout(ctx, nil)
		return true, ErrSessionExpired
	}
	if _, refreshErr := client.refresher.Refresh(ctx); refreshErr != nil {
		client.logger.Warn("pre-send refresh failed, sending with current credential",
			zap.Error(refreshErr))
	}
	return false, nil
}

// recoverSession decides what a 401 means for the session: a refresh and
// resend when the user chose to stay signed in and the exchange works, a
// forced logout otherwise.
func (client *Client) recoverSession(ctx context.Context) (bool, error) {
	if !client.keepLoggedIn(ctx) {
		client.logout.ForceLogout(ctx, nil)
		return false, ErrSessionExpired
	}
	if _, refreshErr := client.refresher.Refresh(ctx); refreshErr != nil {
		client.logger.Info("refresh after rejection failed, ending session",
			zap.Error(refreshErr))
		client.logout.ForceLogout(ctx, nil)
		return false, ErrSessionExpired
	}
	return true, nil
}

func (client *Client) keepLoggedIn(ctx context.Context) bool {
	keep, keepErr := client.cache.KeepLoggedIn(ctx)
	if keepErr != nil {
		client.logger.Warn("keep-logged-in read failed, assuming false", zap.Error(keepErr))
		return false
	}
	return keep
}

// send puts one logical attempt on the wire. Transport failures and 5xx
// answers are retried a bounded number of times; the final 5xx response is
// handed back rather than swallowed. The credential is read fresh for every
// attempt so a resend after refresh carries the new token.
func (client *Client) send(ctx context.Context, replayable *replayableRequest) (*http.Response, error) {
	var response *http.Response
	backoff := retry.WithMaxRetries(transportRetryLimit, retry.NewConstant(transportRetryDelay))
	retryErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if response != nil {
			drainAndClose(response)
			response = nil
		}
		request, buildErr := replayable.build(ctx)
		if buildErr != nil {
			return buildErr
		}
		credential, credentialErr := client.cache.Credential(ctx)
		if credentialErr == nil && credential.Token != "" {
			request.Header.Set("Authorization", "Bearer "+credential.Token)
		}
		attemptResponse, attemptErr := client.httpClient.Do(request)
		if attemptErr != nil {
			return retry.RetryableError(fmt.Errorf("session.client.network: %w", attemptErr))
		}
		response = attemptResponse
		if attemptResponse.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(fmt.Errorf("session.client.server_error: status %d", attemptResponse.StatusCode))
		}
		return nil
	})
	if response != nil {
		return response, nil
	}
	return nil, retryErr
}

// replayableRequest is a request reduced to bytes so it can be rebuilt for
// every attempt.
type replayableRequest struct {
	method string
	url    string
	header http.Header
	body   []byte
}

func bufferRequest(request *http.Request) (*replayableRequest, error) {
	replayable := &replayableRequest{
		method: request.Method,
		url:    request.URL.String(),
		header: request.Header.Clone(),
	}
	if request.Body != nil {
		body, readErr := io.ReadAll(request.Body)
		closeErr := request.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		if closeErr != nil {
			return nil, closeErr
		}
		replayable.body = body
	}
	return replayable, nil
}

func (replayable *replayableRequest) build(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(replayable.body) > 0 {
		body = bytes.NewReader(replayable.body)
	}
	request, buildErr := http.NewRequestWithContext(ctx, replayable.method, replayable.url, body)
	if buildErr != nil {
		return nil, buildErr
	}
	if replayable.header != nil {
		request.Header = replayable.header.Clone()
	}
	return request, nil
}
