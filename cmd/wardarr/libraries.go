package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/library"
)

func newLibrariesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "libraries",
		Aliases: []string{"library", "libs"},
		Short:   "Manage media libraries",
	}
	cmd.AddCommand(newLibrariesListCommand(ctx))
	cmd.AddCommand(newLibrariesAddCommand(ctx))
	cmd.AddCommand(newLibrariesRemoveCommand(ctx))
	return cmd
}

func newLibrariesListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured libraries",
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

			libs, err := a.libraries.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				if libs == nil {
					libs = []library.Library{}
				}
				return writeJSON(out, libs)
			}
			if len(libs) == 0 {
				fmt.Fprintln(out, "No libraries configured")
				return nil
			}
			rows := make([][]string, 0, len(libs))
			for _, l := range libs {
				enabled := "yes"
				if !l.Enabled {
					enabled = "no"
				}
				rows = append(rows, []string{l.ID, l.Name, l.Type, l.Path, enabled})
			}
			fmt.Fprintln(out, renderTable([]column{
				{Title: "ID"},
				{Title: "Name"},
				{Title: "Type"},
				{Title: "Path", MaxWidth: 60},
				{Title: "Enabled"},
			}, rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print libraries as JSON")
	return cmd
}

func newLibrariesAddCommand(ctx *commandContext) *cobra.Command {
	var name, kind string
	var disabled bool
	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Register a library root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(path)
			}

			a, err := openApp(cmd.Context(), cfg, appOptions{logOut: os.Stderr})
			if err != nil {
				return err
			}
			defer a.close()

			lib := &library.Library{Name: name, Path: path, Type: kind, Enabled: !disabled}
			if err := a.libraries.Create(cmd.Context(), lib); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added library %s (%s)\n", lib.Name, lib.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the directory name)")
	cmd.Flags().StringVar(&kind, "type", library.TypeTV, "Content kind: tv or movie")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Register the library without scanning it")
	return cmd
}

func newLibrariesRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a library by id",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, appOptions{logOut: os.Stderr})
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.libraries.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed library %s\n", args[0])
			return nil
		},
	}
}
