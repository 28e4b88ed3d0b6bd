package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Abhijagtp/ThinkThank/internal/auth"
	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/config"
	"github.com/Abhijagtp/ThinkThank/internal/notify"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "thinkthank",
	Short: "ThinkThank research dashboard client",
	Long: `thinkthank talks to the ThinkThank analysis backend: it serves the local
dashboard API and offers the same operations from the command line.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command; main calls it once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringP("config", "c", os.Getenv("THINKTHANK_CONFIG"), "YAML config file applied over the environment")
	rootCmd.PersistentFlags().String("access", os.Getenv("THINKTHANK_ACCESS_TOKEN"), "backend access token")
	rootCmd.PersistentFlags().String("refresh", os.Getenv("THINKTHANK_REFRESH_TOKEN"), "backend refresh token")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.LoadWithFile(path)
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// newClient builds a backend client from the --access and --refresh flags.
// Refreshed credentials live only for the duration of the command.
func newClient(cmd *cobra.Command, cfg config.Config) (*backend.Client, *auth.Holder, error) {
	access, _ := cmd.Flags().GetString("access")
	refresh, _ := cmd.Flags().GetString("refresh")
	access = strings.TrimSpace(access)
	if access == "" {
		return nil, nil, fmt.Errorf("an access token is required (--access or THINKTHANK_ACCESS_TOKEN)")
	}
	holder := auth.NewHolder(auth.Credential{Access: access, Refresh: strings.TrimSpace(refresh)})
	refresher := backend.NewTokenRefresher(cfg.BackendURL, cfg.RefreshPath, holder, nil)
	client := backend.New(cfg.BackendURL, holder,
		backend.WithTimeout(cfg.RequestTimeout),
		backend.WithRateLimit(cfg.RequestRPS, cfg.RequestBurst),
		backend.WithRefresher(refresher),
	)
	return client, holder, nil
}

// owner keys local mirrors for the token's user.
func owner(holder *auth.Holder) string {
	if subject := auth.Subject(holder.Current().Access); subject != "" {
		return subject
	}
	return "local"
}

// printNotifier writes notices to stderr so command output stays clean.
type printNotifier struct{}

func (printNotifier) Notify(level notify.Level, message string) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", level, message)
}
