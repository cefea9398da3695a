package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/backup"
)

func newBackupCommand(ctx *commandContext) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database, or list existing snapshots",
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

			svc := backup.NewService(a.db, cfg.Database.BackupDir, cfg.Database.BackupKeep, a.logger)
			out := cmd.OutOrStdout()
			if !list {
				snap, err := svc.CreateAndPrune(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote %s (%s) to %s\n", snap.Name, snap.SizeHuman, svc.Dir())
				return nil
			}

			snaps, err := svc.List()
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Fprintln(out, "No snapshots in", svc.Dir())
				return nil
			}
			rows := make([][]string, 0, len(snaps))
			for _, s := range snaps {
				rows = append(rows, []string{s.Name, s.SizeHuman, humanize.Time(s.CreatedAt)})
			}
			fmt.Fprintln(out, renderTable([]column{
				{Title: "Name"},
				{Title: "Size", Numeric: true},
				{Title: "Created"},
			}, rows))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "List snapshots instead of creating one")
	return cmd
}
