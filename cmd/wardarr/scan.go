package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/config"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/scanner"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan in the foreground",
		Long: "Run one scan over every enabled library and print progress. " +
			"Interrupt once to stop after the file in flight.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runScan(cmd.Context(), cfg, cmd.OutOrStdout(), jsonOut, interval)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the final scan state as JSON")
	cmd.Flags().DurationVar(&interval, "progress-interval", time.Second, "How often to print progress")
	return cmd
}

func runScan(parent context.Context, cfg *config.Config, out io.Writer, jsonOut bool, interval time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	if interval <= 0 {
		interval = time.Second
	}

	a, err := openApp(parent, cfg, appOptions{exclusive: true, logOut: os.Stderr})
	if err != nil {
		return err
	}
	defer a.close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	state, err := a.scanner.Start(parent)
	if err != nil {
		return err
	}
	done := a.scanner.Done()
	started := time.Now()
	if !jsonOut {
		fmt.Fprintf(out, "Scan %s started\n", state.ScanID)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-done:
			final := a.scanner.Status(parent)
			if jsonOut {
				return writeJSON(out, final)
			}
			printScanSummary(out, final, started)
			return nil

		case <-sigs:
			if err := a.scanner.Stop(); err == nil && !jsonOut {
				fmt.Fprintln(out, "Stop requested; finishing the current file")
			}

		case <-ticker.C:
			if jsonOut {
				continue
			}
			st := a.scanner.Status(parent)
			line := progressLine(st)
			if line != last {
				fmt.Fprintln(out, line)
				last = line
			}
		}
	}
}

func progressLine(st scanner.State) string {
	if st.TotalFiles == 0 {
		return "Discovering files..."
	}
	pct := float64(st.ProcessedFiles) / float64(st.TotalFiles) * 100
	line := fmt.Sprintf("[%d/%d %5.1f%%]", st.ProcessedFiles, st.TotalFiles, pct)
	if st.CurrentFile != "" {
		line += " " + st.CurrentFile
	}
	return line
}

func printScanSummary(out io.Writer, st scanner.State, started time.Time) {
	fmt.Fprintf(out, "Processed %s of %s files in %s\n",
		humanize.Comma(int64(st.ProcessedFiles)),
		humanize.Comma(int64(st.TotalFiles)),
		time.Since(started).Round(time.Millisecond))
	if m := st.LatestMatch; m != nil {
		fmt.Fprintf(out, "Latest match: %s (%s, score %.2f)\n", m.FilePath, m.Episode, m.MatchScore)
	}
	if len(st.Errors) == 0 {
		return
	}
	fmt.Fprintf(out, "%s:\n", english.Plural(len(st.Errors), "error", ""))
	for _, e := range st.Errors {
		fmt.Fprintf(out, "  %s\n", e)
	}
}
