package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newMatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "match <file>",
		Short: "Run the matcher on one file and print the outcome as JSON",
		Long: "Run the matcher once without touching the result store. " +
			"Exits non-zero when the outcome is a failure.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("matching %s: %w", args[0], err)
			}

			logs, logger := newLogging(cfg, os.Stderr)
			defer logs.Close() //nolint:errcheck

			out := newMatcher(cfg, logger).Match(cmd.Context(), path)
			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if !out.Success {
				return fmt.Errorf("match failed: %s", out.Error)
			}
			return nil
		},
	}
}
