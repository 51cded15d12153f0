package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRotateCmd creates the 'rotate' subcommand.
func newRotateCmd() *cobra.Command {
	var retention int
	cmd := &cobra.Command{
		Use:   "rotate <source>",
		Short: "Relocate compressed segments past retention into long-term storage",
		Long: `Moves every compressed segment of the source older than --retention
days into the configured long-term storage tier. Rotation never deletes
record data; hot segments in range are reported and skipped because
compression always precedes rotation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			source := args[0]

			rotated, skippedHot, err := appInstance.GetManager().RotateOlderThan(cmd.Context(), source, retention)
			fmt.Printf("source=%s rotated=%d skipped_hot=%d\n", source, rotated, skippedHot)
			if err != nil {
				return err
			}
			if skippedHot > 0 {
				return fmt.Errorf("%w: %d segment(s) still hot; run compress first",
					errPartialFailure, skippedHot)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&retention, "retention", 365, "minimum age in days before rotation")
	return cmd
}
