package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ayoubh/wardenctl/internal/backup"
	"github.com/ayoubh/wardenctl/internal/logger"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove backup runs older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.Global()

		removed := backup.Prune(
			log,
			filepath.Join(cfg.Backup.Directory, "db"),
			cfg.Backup.TimestampFormat,
			cfg.Retention.Days,
		)
		log.Info("prune finished", "removed", removed, "retention_days", cfg.Retention.Days)
		return nil
	},
}
