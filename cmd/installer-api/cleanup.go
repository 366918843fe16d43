package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/serverkit/installer/internal/joblog"
)

var retentionDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove installation logs older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, done, err := setup()
		if err != nil {
			return err
		}
		defer done()

		days := cfg.Logs.RetentionDays
		if cmd.Flags().Changed("days") {
			days = retentionDays
		}

		logs, err := joblog.NewManager(cfg.Logs.Dir)
		if err != nil {
			zap.S().Errorw("opening log directory", "dir", cfg.Logs.Dir, "error", err)
			return err
		}

		n, err := logs.Cleanup(days)
		if err != nil {
			return err
		}
		zap.S().Infow("log cleanup completed", "removed", n, "retention_days", days)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&retentionDays, "days", 7, "Delete log files older than this many days")
}
