package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/lifelog/internal/ingest"
)

// newCollectCmd creates the 'collect' subcommand, which backfills the
// archive from an exported NDJSON file.
func newCollectCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "collect <source> <export.ndjson>",
		Short: "Backfill the archive from an NDJSON export file",
		Long: `Replays an exported NDJSON file into the archive through the same
rate-limited, checkpointed path live collectors use. An interrupted
run resumes from the last committed batch.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			source, path := args[0], args[1]

			runner := ingest.NewRunner(
				appInstance.GetWriter(),
				appInstance.GetLimiter(),
				appInstance.GetBreakers(),
				appInstance.GetCheckpoints(),
				appInstance.GetLogger(),
			)
			report, err := runner.Run(cmd.Context(), ingest.NewFileCollector(source, path, batchSize))
			fmt.Printf("source=%s appended=%d rejected=%d batches=%d\n",
				report.Source, report.Appended, report.Rejected, report.Batches)
			if err != nil {
				return err
			}
			if report.Rejected > 0 {
				return fmt.Errorf("%w: %d record(s) rejected", errPartialFailure, report.Rejected)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 200, "records per checkpointed batch")
	return cmd
}
