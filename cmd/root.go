// Package cmd defines and implements the CLI commands for the lifelog
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kestrelworks/lifelog/internal/app"
	"github.com/kestrelworks/lifelog/internal/archive"
	"github.com/kestrelworks/lifelog/internal/checkpoint"
	"github.com/kestrelworks/lifelog/internal/indexer"
	"github.com/kestrelworks/lifelog/internal/policy/breaker"
	"github.com/kestrelworks/lifelog/internal/policy/ratelimit"
	"github.com/kestrelworks/lifelog/internal/search"
	"github.com/kestrelworks/lifelog/pkg/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// errPartialFailure marks a run that completed but skipped records.
// It maps to exit code 1 so operators notice coverage gaps.
var errPartialFailure = errors.New("completed with skipped records")

// App is the service surface commands consume. An interface so tests
// can inject a fake container.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetWriter() *archive.Writer
	GetManager() *archive.Manager
	GetCheckpoints() *checkpoint.Store
	GetSearchStore() *search.Store
	GetPipeline() *indexer.Pipeline
	GetLimiter() *ratelimit.Limiter
	GetBreakers() *breaker.Group
}

// newApp is the application factory, a variable so tests can replace
// it with a mock factory.
var newApp = func(ctx context.Context) (App, error) {
	return app.NewApp(ctx)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lifelog",
		Short: "Archive and full-text index for time-stamped personal records.",
		Long: `lifelog durably archives time-stamped records from chat, calendar and
document sources into append-only per-day segments, then feeds them
through a batch pipeline into an embedded full-text search index.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Build the service container after config loads, before any
		// subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cobra.OnInitialize(config.InitConfig)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.lifelog/config.yaml)")

	cmd.AddCommand(newCollectCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newCompressCmd())
	cmd.AddCommand(newRotateCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute runs the CLI and maps errors onto the exit-code contract:
// 0 success, 1 partial failure (records skipped), 2 fatal (archive
// unreadable or corrupt).
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lifelog: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode classifies a command error. Corruption and unreadable
// segments are fatal; everything else is a partial failure.
func exitCode(err error) int {
	if errors.Is(err, archive.ErrArchiveIntegrity) || errors.Is(err, archive.ErrArchiveUnreadable) {
		return 2
	}
	return 1
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
