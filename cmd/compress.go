package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCompressCmd creates the 'compress' subcommand.
func newCompressCmd() *cobra.Command {
	var olderThan int
	cmd := &cobra.Command{
		Use:   "compress <source>",
		Short: "Seal and compress hot segments older than a threshold",
		Long: `Seals and gzip-compresses every hot segment of the source whose day
ended at least --older-than days ago. Each artifact is verified against
the manifest before the hot copy is retired; a mismatch aborts with a
fatal integrity error and leaves the hot copy in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			source := args[0]

			n, err := appInstance.GetManager().CompressOlderThan(cmd.Context(), source, olderThan)
			fmt.Printf("source=%s compressed=%d\n", source, n)
			return err
		},
	}
	cmd.Flags().IntVar(&olderThan, "older-than", 30, "minimum age in days before compression")
	return cmd
}
