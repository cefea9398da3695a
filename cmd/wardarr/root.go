package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/config"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		if path == "" {
			path = config.PathFromEnv()
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "wardarr",
		Short:         "Verify media libraries against an external matcher",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default $WARDARR_CONFIG_PATH or /data/config.yaml)")

	serve := newServeCommand(ctx)
	rootCmd.RunE = serve.RunE

	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newMatchCommand(ctx))
	rootCmd.AddCommand(newResultsCommand(ctx))
	rootCmd.AddCommand(newLibrariesCommand(ctx))
	rootCmd.AddCommand(newBackupCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
