package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/ayoubh/wardenctl/internal/backup"
	"github.com/ayoubh/wardenctl/internal/logger"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create encrypted backups of the deployment",
}

var backupDBCmd = &cobra.Command{
	Use:   "db",
	Short: "Back up the database in five verified, encrypted formats",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.Global()

		passphrase, err := fetchPassphrase(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		runner := backup.NewRunner(cfg, log, passphrase)
		_, err = runner.Run(cmd.Context())
		return err
	},
}

var backupFullCmd = &cobra.Command{
	Use:   "full",
	Short: "Archive and encrypt the whole application data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.Global()

		passphrase, err := fetchPassphrase(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		token := time.Now().Format(cfg.Backup.TimestampFormat)
		_, err = backup.FullBackup(
			cmd.Context(), log,
			cfg.Data.Directory, cfg.Backup.Directory, token, passphrase,
		)
		return err
	},
}

func init() {
	backupCmd.AddCommand(backupDBCmd)
	backupCmd.AddCommand(backupFullCmd)
}
