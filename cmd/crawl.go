package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// newCrawlCmd runs one crawl in the foreground and prints the run report.
func newCrawlCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl and exits",
		Long: `Runs the crawl orchestrator to completion. A fresh cached snapshot is
reused unless --force is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			orch := appInstance.Crawler()
			var res crawler.Result
			if force {
				res = orch.Force(cmd.Context())
			} else {
				res = orch.Start(cmd.Context())
			}
			if res.Err != nil {
				return fmt.Errorf("crawl failed: %w", res.Err)
			}
			appInstance.Logger().Info("crawl finished",
				zap.String("outcome", string(res.Outcome)),
				zap.Int("items", res.Items),
			)
			report, _ := orch.LastRun()
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "discard the cache and crawl again")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
