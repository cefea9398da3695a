package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "wardarr "+version.String())
			return err
		},
	}
}
