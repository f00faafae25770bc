package main

import (
	"bitbucket.org/mmdatafocus/pos_sync/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootOptions is shared by every subcommand once PersistentPreRunE has run.
type rootOptions struct {
	cfg    *config.Config
	logger *logrus.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "posync",
		Short:         "Offline-first POS sync core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = config.ConfigureLogger(cfg)
			return nil
		},
	}

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}
