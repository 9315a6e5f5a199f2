package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ayoubh/wardenctl/internal/backup"
	"github.com/ayoubh/wardenctl/internal/logger"
	"github.com/ayoubh/wardenctl/internal/restore"
	"github.com/ayoubh/wardenctl/internal/stack"
)

var (
	restoreArchive string
	restoreFormat  string
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the database from an encrypted archive",
	Long: `restore decrypts a backup archive, stops the service stack,
installs the database atomically, restarts the stack, and waits for
every core container to report healthy. Without --archive the most
recent archive of the chosen format is used.`,
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

		st := stack.New(cfg.Stack.ComposeFile, cfg.Stack.CoreContainers, log)
		orch := restore.New(cfg, log, st, passphrase)
		return orch.Restore(cmd.Context(), restoreArchive, backup.Format(restoreFormat))
	},
}

func init() {
	restoreCmd.Flags().
		StringVarP(&restoreArchive, "archive", "a", "", "path to a specific .gpg archive (default: most recent)")
	restoreCmd.Flags().
		StringVarP(&restoreFormat, "format", "f", string(backup.FormatBinary), "archive format to select: sqlite3 or sql")
}
