package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xscard/sessiond/internal/authkit"
	"github.com/xscard/sessiond/internal/authkitpg"
	"github.com/xscard/sessiond/internal/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGoogleTokenValidator = func(ctx context.Context) (authkit.GoogleTokenValidator, error) {
	return authkit.NewGoogleTokenValidator(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "sessiond",
		Short:   "Session service with Google Sign-In verification, bearer session tokens, and credential revocation",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("google_web_client_id", "", "Google Web OAuth Client ID")
	rootCmd.Flags().String("session_signing_key", "", "HS256 signing secret for session tokens")
	rootCmd.Flags().String("session_issuer", "sessiond", "Issuer claim stamped into session tokens")
	rootCmd.Flags().Duration("session_ttl", time.Hour, "Session token TTL")
	rootCmd.Flags().Duration("refresh_grace_window", 168*time.Hour, "How long past expiry a session token may still be exchanged")
	rootCmd.Flags().Duration("revocation_retain", 24*time.Hour, "How long revocation entries outlive the credential they block")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().String("database_url", "", "Database URL for revocations and users (postgres:// or sqlite://; leave empty for in-memory stores)")
	rootCmd.Flags().String("revocation_backend", "auto", "Revocation store backend: auto, memory, gorm, or pgx")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")
	rootCmd.Flags().Int("requests_per_minute", 120, "Per-client request budget per minute")
	rootCmd.Flags().Int("rate_limit_burst", 30, "Per-client burst on top of the request budget")
	rootCmd.Flags().Duration("prune_interval", time.Hour, "How often expired revocation entries are pruned")
	rootCmd.Flags().String("public_base_url", "", "Base URL advertised to clients; inferred from the request when empty")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("google_web_client_id", rootCmd.Flags().Lookup("google_web_client_id"))
	_ = viper.BindPFlag("session_signing_key", rootCmd.Flags().Lookup("session_signing_key"))
	_ = viper.BindPFlag("session_issuer", rootCmd.Flags().Lookup("session_issuer"))
	_ = viper.BindPFlag("session_ttl", rootCmd.Flags().Lookup("session_ttl"))
	_ = viper.BindPFlag("refresh_grace_window", rootCmd.Flags().Lookup("refresh_grace_window"))
	_ = viper.BindPFlag("revocation_retain", rootCmd.Flags().Lookup("revocation_retain"))
	_ = viper.BindPFlag("dev_insecure_http", rootCmd.Flags().Lookup("dev_insecure_http"))
	_ = viper.BindPFlag("database_url", rootCmd.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("revocation_backend", rootCmd.Flags().Lookup("revocation_backend"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))
	_ = viper.BindPFlag("requests_per_minute", rootCmd.Flags().Lookup("requests_per_minute"))
	_ = viper.BindPFlag("rate_limit_burst", rootCmd.Flags().Lookup("rate_limit_burst"))
	_ = viper.BindPFlag("prune_interval", rootCmd.Flags().Lookup("prune_interval"))
	_ = viper.BindPFlag("public_base_url", rootCmd.Flags().Lookup("public_base_url"))

	viper.SetEnvPrefix("SESSIOND")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingGoogleClientID   = "config.missing_google_web_client_id"
	configCodeMissingSigningKey       = "config.missing_session_signing_key"
	configCodeMissingIssuer           = "config.missing_session_issuer"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeInvalidGraceWindow      = "config.invalid_refresh_grace_window"
	configCodeInvalidRevocationRetain = "config.invalid_revocation_retain"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeGoogleValidatorInit     = "config.google_validator_init"
	configCodeUnknownBackend          = "config.unknown_revocation_backend"
	configCodeBackendNeedsDatabase    = "config.revocation_backend_needs_database_url"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadServerConfig() (authkit.ServerConfig, error) {
	googleWebClientID := viper.GetString("google_web_client_id")
	if googleWebClientID == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingGoogleClientID, "google_web_client_id must be provided")
	}

	sessionSigningKey := viper.GetString("session_signing_key")
	if sessionSigningKey == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingSigningKey, "session_signing_key must be provided")
	}

	sessionIssuer := viper.GetString("session_issuer")
	if strings.TrimSpace(sessionIssuer) == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingIssuer, "session_issuer must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	refreshGraceWindow := viper.GetDuration("refresh_grace_window")
	if refreshGraceWindow < 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidGraceWindow, "refresh_grace_window must not be negative")
	}

	revocationRetain := viper.GetDuration("revocation_retain")
	if revocationRetain <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRevocationRetain, "revocation_retain must be greater than zero")
	}

	return authkit.ServerConfig{
		GoogleWebClientID:  googleWebClientID,
		SessionSigningKey:  []byte(sessionSigningKey),
		SessionIssuer:      sessionIssuer,
		SessionTTL:         sessionTTL,
		RefreshGraceWindow: refreshGraceWindow,
		RevocationRetain:   revocationRetain,
	}, nil
}

// buildRevocationStore resolves the configured backend. The closer tears the
// pgx pool down; for the other backends it is a no-op.
func buildRevocationStore(ctx context.Context, backend string, databaseURL string, clock authkit.Clock, logger *zap.Logger) (authkit.RevocationStore, func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "memory":
		logger.Info("using in-memory revocation store")
		return authkit.NewMemoryRevocationStore(), noop, nil
	case "pgx":
		if databaseURL == "" {
			return nil, noop, configError(configCodeBackendNeedsDatabase, "revocation_backend=pgx requires database_url")
		}
		store, openErr := authkitpg.Open(ctx, databaseURL, clock)
		if openErr != nil {
			return nil, noop, openErr
		}
		logger.Info("using pgx revocation store")
		return store, func() { _ = store.Close() }, nil
	case "", "auto", "gorm":
		if databaseURL == "" {
			logger.Info("using in-memory revocation store")
			return authkit.NewMemoryRevocationStore(), noop, nil
		}
		store, openErr := authkit.NewDatabaseRevocationStore(ctx, databaseURL, clock)
		if openErr != nil {
			return nil, noop, openErr
		}
		logger.Info("using persistent revocation store", zap.String("driver", store.Driver()))
		return store, noop, nil
	default:
		return nil, noop, configError(configCodeUnknownBackend, fmt.Sprintf("revocation_backend %q is not one of auto, memory, gorm, pgx", backend))
	}
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	devInsecureHTTP := viper.GetBool("dev_insecure_http")
	databaseURL := viper.GetString("database_url")
	revocationBackend := viper.GetString("revocation_backend")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	requestsPerMinute := viper.GetInt("requests_per_minute")
	rateLimitBurst := viper.GetInt("rate_limit_burst")
	pruneInterval := viper.GetDuration("prune_interval")
	publicBaseURL := viper.GetString("public_base_url")

	serverConfig.AllowInsecureHTTP = devInsecureHTTP
	clock := authkit.NewSystemClock()

	registry := prometheus.NewRegistry()
	metricsRecorder := authkit.NewPrometheusMetrics(registry)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))
	router.Use(authkit.SecurityHeaders())

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	limiterConfig := authkit.DefaultRateLimiterConfig()
	if requestsPerMinute > 0 {
		limiterConfig.RequestsPerMinute = float64(requestsPerMinute)
	}
	if rateLimitBurst > 0 {
		limiterConfig.Burst = rateLimitBurst
	}
	limiter := authkit.NewRateLimiter(limiterConfig, metricsRecorder, logger)
	defer limiter.Stop()
	router.Use(limiter.Middleware())

	eventBus := authkit.NewSessionEventBus(0)
	defer eventBus.Close()
	go func() {
		for event := range eventBus.Events() {
			logger.Info("session event",
				zap.String("event", event.Name),
				zap.String("user_id", event.UserID),
				zap.String("path", event.Path),
				zap.Int("status", event.Status),
				zap.Time("occurred_at", event.OccurredAt),
			)
		}
	}()
	router.Use(authkit.AfterResponse(eventBus, clock))

	revocations, closeRevocations, storeErr := buildRevocationStore(context.Background(), revocationBackend, databaseURL, clock, logger)
	if storeErr != nil {
		return storeErr
	}
	defer closeRevocations()

	var users authkit.UserDirectory
	var cards authkit.CardDirectory
	if databaseURL != "" {
		directory, directoryErr := authkit.NewDatabaseDirectory(context.Background(), databaseURL, clock)
		if directoryErr != nil {
			return directoryErr
		}
		users, cards = directory, directory
		logger.Info("using persistent user directory")
	} else {
		directory := authkit.NewMemoryDirectory()
		users, cards = directory, directory
		logger.Info("using in-memory user directory")
	}

	validator, validatorErr := buildGoogleTokenValidator(command.Context())
	if validatorErr != nil {
		return fmt.Errorf("%s: %w", configCodeGoogleValidatorInit, validatorErr)
	}

	verifier := authkit.NewCredentialVerifier(serverConfig, clock, revocations, validator, users, cards, logger)
	routes := authkit.NewAuthRoutes(serverConfig, clock, verifier, validator, revocations, users, cards, metricsRecorder, logger)
	routes.Mount(router)

	router.GET("/client-config", web.HandleClientConfig(web.ClientConfig{
		GoogleClientID: serverConfig.GoogleWebClientID,
		BaseURL:        publicBaseURL,
	}))
	router.GET("/profile",
		authkit.RequireCredential(verifier, metricsRecorder, logger),
		web.HandleProfile(users, cards, logger))
	router.GET("/metrics", gin.WrapH(authkit.MetricsHandler(registry)))

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go pruneRevocationsLoop(shutdownCtx, revocations, clock, serverConfig.RevocationRetain, pruneInterval, logger)

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

// pruneRevocationsLoop deletes revocation entries whose credential expired
// more than retain ago. Entries without a known expiry stay forever.
func pruneRevocationsLoop(ctx context.Context, revocations authkit.RevocationStore, clock authkit.Clock, retain time.Duration, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoffUnix := clock.Now().Add(-retain).Unix()
			removed, pruneErr := revocations.PruneExpired(ctx, cutoffUnix)
			if pruneErr != nil {
				logger.Warn("revocation prune failed", zap.Error(pruneErr))
				continue
			}
			if removed > 0 {
				logger.Info("pruned expired revocations", zap.Int64("removed", removed))
			}
		}
	}
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
