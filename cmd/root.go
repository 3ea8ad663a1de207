// Package cmd defines the CLI commands of the catalogcrawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
)

// Runner is the part of app.App the commands use. Tests substitute it.
type Runner interface {
	Run(ctx context.Context) (crawler.RunSummary, error)
	RunID() string
	Close()
}

// newRunner is the application factory; a variable so tests can replace it.
var newRunner = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

// newLogger is swapped in tests to capture output.
var newLogger = logging.New

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "catalogcrawler",
		Short: "Snapshot the music catalog's browse categories",
		Long: `catalogcrawler authenticates with client credentials, walks every browse
category, its playlists and their tracks, enriches the referenced artists and
hands one snapshot per category to the configured sinks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (yaml, toml or json)")
	cmd.AddCommand(newCrawlCmd(opts))
	return cmd
}

// Execute runs the root command with SIGINT/SIGTERM cancellation and exits
// non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "catalogcrawler: %v\n", err)
		os.Exit(1)
	}
}
