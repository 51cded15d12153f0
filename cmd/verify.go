package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVerifyCmd creates the 'verify' subcommand, an integrity check of
// one segment against the manifest.
func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <source> <day>",
		Short: "Verify a segment's record count and checksum against the manifest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			source, day := args[0], args[1]

			entry, err := appInstance.GetManager().Verify(cmd.Context(), source, day)
			if err != nil {
				return err
			}
			fmt.Printf("ok: %s/%s records=%d bytes=%d tier=%s checksum=%s\n",
				source, day, entry.RecordCount, entry.ByteSize,
				entry.CompressionState, entry.Checksum)
			return nil
		},
	}
	return cmd
}
