// Package cmd defines the omnicrawler CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/omnicrawler/internal/config"
	"github.com/JakeFAU/omnicrawler/internal/crawler"
	"github.com/JakeFAU/omnicrawler/internal/server"
	"github.com/JakeFAU/omnicrawler/internal/worker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of the application the commands use. Tests inject a fake.
type App interface {
	Run(ctx context.Context) error
	RunCrawl(ctx context.Context, seed crawler.SeedDescriptor) (worker.Summary, error)
	Logger() *zap.Logger
	Close()
}

// session is what PersistentPreRunE hands to subcommands.
type session struct {
	cfg config.Config
	app App
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "omnicrawler",
		Short: "Profile ingestion service",
		Long: `omnicrawler resolves seeds into profile records, fingerprints them, and
persists only what changed. Run "serve" for the HTTP API or "crawl" for a
single crawl from the command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &session{cfg: cfg, app: appInstance}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := resolveSession(cmd.Context()); err == nil {
				rt.app.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); env vars use the CRAWLER_ prefix")

	cmd.AddCommand(newServeCmd(), newCrawlCmd())
	return cmd
}

func resolveSession(ctx context.Context) (*session, error) {
	rt, ok := ctx.Value(appKey).(*session)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
