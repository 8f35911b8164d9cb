package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
)

type crawlFlags struct {
	seedType    string
	seedValue   string
	mode        string
	maxProfiles int
}

// newCrawlCmd runs a single crawl in-process and prints its summary.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl synchronously and print the summary",
		Long: `Resolves one seed with the configured crawl defaults, runs every record
through the ingestion pipeline and prints the outcome counts as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			seed := crawler.SeedDescriptor{
				Type:   crawler.SeedType(flags.seedType),
				Value:  flags.seedValue,
				Config: rt.cfg.CrawlDefaults(),
			}
			if cmd.Flags().Changed("mode") {
				seed.Config.Mode = crawler.Mode(flags.mode)
			}
			if cmd.Flags().Changed("max-profiles") {
				seed.Config.MaxRecords = flags.maxProfiles
			}

			summary, err := rt.app.RunCrawl(cmd.Context(), seed)
			if err != nil {
				return err
			}
			rt.app.Logger().Info("crawl command finished",
				zap.String("seed_type", flags.seedType),
				zap.String("seed_value", flags.seedValue),
				zap.Int("changed", summary.Changed),
			)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.seedType, "seed-type", string(crawler.SeedTypeUser), "seed type: url, tag, user or a templated type")
	cmd.Flags().StringVar(&flags.seedValue, "seed-value", "", "seed value (URL, tag or username)")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "override the configured crawl mode (fake or real)")
	cmd.Flags().IntVar(&flags.maxProfiles, "max-profiles", 0, "override the configured record cap")
	_ = cmd.MarkFlagRequired("seed-value")
	return cmd
}
