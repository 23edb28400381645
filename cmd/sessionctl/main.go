// Command sessionctl drives a session against a running sessiond from the
// terminal: sign in with a Google ID token, inspect the session, refresh it,
// and log out. Session state lives in a local SQLite file, so consecutive
// invocations share one session the way an app process would.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xscard/sessiond/pkg/sessionclient"
	"go.uber.org/zap"
)

const (
	cliCodeMissingBaseURL     = "cli.missing_base_url"
	cliCodeMissingGoogleToken = "cli.missing_google_id_token"
	cliCodeStateDir           = "cli.state_dir"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sessionctl",
		Short: "Manage a session against a session service from the terminal",
	}

	rootCmd.PersistentFlags().String("base_url", "", "Base URL of the session service")
	rootCmd.PersistentFlags().String("state_file", defaultStateFile(), "SQLite file holding the local session state")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log client internals to stderr")

	_ = viper.BindPFlag("base_url", rootCmd.PersistentFlags().Lookup("base_url"))
	_ = viper.BindPFlag("state_file", rootCmd.PersistentFlags().Lookup("state_file"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	viper.SetEnvPrefix("SESSIONCTL")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newSignInCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newWhoamiCommand())
	rootCmd.AddCommand(newRefreshCommand())
	rootCmd.AddCommand(newLogoutCommand())

	return rootCmd
}

func newSignInCommand() *cobra.Command {
	signInCmd := &cobra.Command{
		Use:   "sign-in",
		Short: "Exchange a Google ID token for a session and store it locally",
		RunE:  runSignIn,
	}
	signInCmd.Flags().String("google_id_token", "", "Google ID token obtained from Google Sign-In")
	signInCmd.Flags().Bool("keep_logged_in", false, "Keep the session alive by refreshing it instead of letting it expire")
	_ = viper.BindPFlag("google_id_token", signInCmd.Flags().Lookup("google_id_token"))
	_ = viper.BindPFlag("keep_logged_in", signInCmd.Flags().Lookup("keep_logged_in"))
	return signInCmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Ask the service whether the stored session still stands",
		RunE:  runStatus,
	}
}

func newWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Fetch the signed-in profile, refreshing the session on the way if needed",
		RunE:  runWhoami,
	}
}

func newRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the stored session token for a fresh one",
		RunE:  runRefresh,
	}
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session on the service and clear the local state",
		RunE:  runLogout,
	}
}

func cliError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func defaultStateFile() string {
	home, homeErr := os.UserHomeDir()
	if homeErr != nil {
		return "sessionctl-state.db"
	}
	return filepath.Join(home, ".sessionctl", "state.db")
}

// terminalAuthObserver narrates session-ending events on stderr so forced
// logouts are visible even when the command itself succeeds.
type terminalAuthObserver struct {
	stderr io.Writer
}

func (observer *terminalAuthObserver) SessionCleared() {
	fmt.Fprintln(observer.stderr, "session cleared")
}

func (observer *terminalAuthObserver) RedirectToSignIn() {
	fmt.Fprintln(observer.stderr, `session ended; run "sessionctl sign-in" to start a new one`)
}

func buildSessionClient(command *cobra.Command) (*sessionclient.Client, error) {
	baseURL := viper.GetString("base_url")
	if strings.TrimSpace(baseURL) == "" {
		return nil, cliError(cliCodeMissingBaseURL, "base_url must be provided")
	}

	stateFile := viper.GetString("state_file")
	if stateFile == "" {
		stateFile = defaultStateFile()
	}
	if mkdirErr := os.MkdirAll(filepath.Dir(stateFile), 0o700); mkdirErr != nil {
		return nil, fmt.Errorf("%s: %w", cliCodeStateDir, mkdirErr)
	}
	cache, cacheErr := sessionclient.NewSQLiteCache(command.Context(), stateFile)
	if cacheErr != nil {
		return nil, cacheErr
	}

	logger := zap.NewNop()
	if viper.GetBool("verbose") {
		productionLogger, loggerErr := zap.NewProduction()
		if loggerErr != nil {
			return nil, loggerErr
		}
		logger = productionLogger
	}

	observer := &terminalAuthObserver{stderr: command.ErrOrStderr()}
	return sessionclient.NewClient(sessionclient.Config{
		BaseURL:   baseURL,
		Cache:     cache,
		AuthState: observer,
		SignIn:    observer,
		Logger:    logger,
	})
}

func runSignIn(command *cobra.Command, arguments []string) error {
	googleIDToken := viper.GetString("google_id_token")
	if strings.TrimSpace(googleIDToken) == "" {
		return cliError(cliCodeMissingGoogleToken, "google_id_token must be provided")
	}

	client, clientErr := buildSessionClient(command)
	if clientErr != nil {
		return clientErr
	}

	profile, signInErr := client.SignIn(command.Context(), googleIDToken, viper.GetBool("keep_logged_in"))
	if signInErr != nil {
		return signInErr
	}
	fmt.Fprintf(command.OutOrStdout(), "signed in as %s (%s)\n", profile.Email, profile.UserID)
	return nil
}

func runStatus(command *cobra.Command, arguments []string) error {
	client, clientErr := buildSessionClient(command)
	if clientErr != nil {
		return clientErr
	}

	valid, expiresAt, validateErr := client.ValidateSession(command.Context())
	if validateErr != nil {
		return validateErr
	}
	if !valid {
		fmt.Fprintln(command.OutOrStdout(), "no active session")
		return nil
	}
	fmt.Fprintf(command.OutOrStdout(), "session valid until %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}

func runWhoami(command *cobra.Command, arguments []string) error {
	client, clientErr := buildSessionClient(command)
	if clientErr != nil {
		return clientErr
	}

	profile, profileErr := client.FetchProfile(command.Context())
	if profileErr != nil {
		return profileErr
	}
	fmt.Fprintf(command.OutOrStdout(), "user_id:      %s\n", profile.UserID)
	fmt.Fprintf(command.OutOrStdout(), "email:        %s\n", profile.Email)
	fmt.Fprintf(command.OutOrStdout(), "display_name: %s\n", profile.DisplayName)
	return nil
}

func runRefresh(command *cobra.Command, arguments []string) error {
	client, clientErr := buildSessionClient(command)
	if clientErr != nil {
		return clientErr
	}

	credential, refreshErr := client.Refresh(command.Context())
	if refreshErr != nil {
		return refreshErr
	}
	fmt.Fprintf(command.OutOrStdout(), "session refreshed at %s\n", credential.IssuedAt.UTC().Format(time.RFC3339))
	return nil
}

func runLogout(command *cobra.Command, arguments []string) error {
	client, clientErr := buildSessionClient(command)
	if clientErr != nil {
		return clientErr
	}

	if logoutErr := client.Logout(command.Context()); logoutErr != nil {
		return logoutErr
	}
	fmt.Fprintln(command.OutOrStdout(), "logged out")
	return nil
}
