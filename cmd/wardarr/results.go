package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/result"
)

func newResultsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "results",
		Short: "List stored verification results, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, appOptions{logOut: os.Stderr})
			if err != nil {
				return err
			}
			defer a.close()

			records, err := a.results.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				if records == nil {
					records = []result.Record{}
				}
				return writeJSON(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No results recorded")
				return nil
			}
			fmt.Fprintln(out, renderTable([]column{
				{Title: "ID", Numeric: true},
				{Title: "File", MaxWidth: 60},
				{Title: "Episode"},
				{Title: "Score", Numeric: true},
				{Title: "Verified"},
				{Title: "Scanned"},
			}, resultRows(records)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of results")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print results as JSON")
	return cmd
}

func resultRows(records []result.Record) [][]string {
	rows := make([][]string, 0, len(records))
	for i := range records {
		r := &records[i]
		episode := "-"
		if r.EpisodeInfo != nil {
			episode = *r.EpisodeInfo
		}
		verified := "no"
		switch {
		case r.Failed():
			verified = "failed"
		case r.IsVerified:
			verified = "yes"
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			r.FilePath,
			episode,
			strconv.FormatFloat(r.MatchScore, 'f', 3, 64),
			verified,
			humanize.Time(r.ScannedAt()),
		})
	}
	return rows
}
