package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/lifelog/internal/archive"
	"github.com/kestrelworks/lifelog/internal/search"
)

// newSearchCmd creates the 'search' subcommand.
func newSearchCmd() *cobra.Command {
	var (
		source string
		from   string
		to     string
		limit  int
		offset int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over indexed records",
		Long: `Runs a ranked full-text query against the search index. The query
supports bare terms, "quoted phrases" and AND/OR/NOT combinations.
Every hit includes the segment path and line of the archived record.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			query := search.Query{
				Text:   strings.Join(args, " "),
				Source: source,
				Limit:  limit,
				Offset: offset,
			}
			if query.From, err = parseTimeFlag(from); err != nil {
				return fmt.Errorf("bad --from value: %w", err)
			}
			if query.To, err = parseTimeFlag(to); err != nil {
				return fmt.Errorf("bad --to value: %w", err)
			}

			results, err := appInstance.GetSearchStore().Search(cmd.Context(), query)
			if err != nil {
				return err
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(results)
			}
			for i, r := range results {
				fmt.Printf("%2d. [%s] %s  %s\n", offset+i+1,
					r.Source, r.Timestamp.Format(time.RFC3339), r.OriginID)
				fmt.Printf("    %s\n", excerpt(r.Content, 160))
				fmt.Printf("    %s:%d\n", r.SegmentPath, r.SegmentLine)
			}
			fmt.Printf("%d result(s)\n", len(results))
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "restrict to one source")
	cmd.Flags().StringVar(&from, "from", "", "earliest timestamp (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "latest timestamp (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit raw JSON results")
	return cmd
}

func parseTimeFlag(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(archive.DayFormat, v)
}

func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
