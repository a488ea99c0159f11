// Package cmd defines and implements the CLI commands for the minigist executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/app"
	"github.com/JakeFAU/minigist/internal/config"
	"github.com/JakeFAU/minigist/internal/logging"
)

const closeTimeout = 10 * time.Second

// appKeyType is the key for storing the App in the command context.
type appKeyType struct{}

// newApp is the application factory. It is a variable so tests can swap it.
var newApp = app.New

type rootOptions struct {
	configFile string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "minigist",
		Short: "Summarize unread Miniflux entries with an LLM.",
		Long: `minigist watches a Miniflux instance for unread entries that have no
generated summary, downloads the full article, asks an LLM for a short
synopsis and writes the enriched content back to Miniflux.`,
		SilenceUsage: true,

		// Builds the shared services after flags are parsed and before the
		// subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, opts.configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return
			}
			closeApp(appInstance)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "path to a YAML config file")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.Bool("dry-run", false, "log the changes instead of writing them to Miniflux")
	cobra.CheckErr(v.BindPFlag("logging.level", flags.Lookup("log-level")))
	cobra.CheckErr(v.BindPFlag("dry_run", flags.Lookup("dry-run")))

	cmd.AddCommand(newRunCmd(), newStripCmd())
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context so that a run drains and reports before exiting.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKeyType{}).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// closeApp flushes the progress sinks and the logger. It is safe to call
// more than once.
func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	logger := a.Logger()
	if err := a.Close(ctx); err != nil {
		logger.Warn("error shutting down services", zap.Error(err))
	}
	_ = logger.Sync()
}
