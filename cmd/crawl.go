package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl to a
// terminal state.
func newCrawlCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl",
		Long: `Crawls the tree under --root-path, publishing file families to a
queue provisioned for the crawl. A crawl id is generated when --crawl-id is
omitted. The command fails if the crawl ends in the FAILED state.`,
		RunE: runCrawlCommand,
	}

	cmd.Flags().String("root-path", "", "directory to crawl (crawl.root_path)")
	cmd.Flags().String("endpoint", "", "listing endpoint id (crawl.endpoint_id)")
	cmd.Flags().String("crawl-id", "", "crawl id; a UUIDv4 is generated when empty (crawl.crawl_id)")
	bindFlag(v, cmd, "crawl.root_path", "root-path")
	bindFlag(v, cmd, "crawl.endpoint_id", "endpoint")
	bindFlag(v, cmd, "crawl.crawl_id", "crawl-id")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	s, err := resolveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	crawl, err := s.app.NewCrawl(s.cfg.Crawl.CrawlID)
	if err != nil {
		return err
	}
	snap := crawl.Snapshot()
	s.logger.Info("crawl starting",
		zap.String("crawl_id", snap.CrawlID),
		zap.String("root_path", s.cfg.Crawl.RootPath),
	)

	if err := s.app.Run(cmd.Context(), crawl); err != nil {
		return fmt.Errorf("crawl %s: %w", snap.CrawlID, err)
	}

	snap = crawl.Snapshot()
	s.logger.Info("crawl finished",
		zap.String("crawl_id", snap.CrawlID),
		zap.String("state", string(snap.State)),
		zap.Int64("files", snap.Stats.FilesCrawled),
		zap.Int64("bytes", snap.Stats.BytesCrawled),
		zap.Int64("dead_letters", snap.Stats.ItemsDeadLettered),
	)
	fmt.Fprintln(cmd.OutOrStdout(), snap.CrawlID)
	return nil
}
