package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ayoubh/wardenctl/internal/backup"
	"github.com/ayoubh/wardenctl/internal/config"
	"github.com/ayoubh/wardenctl/internal/logger"
	"github.com/ayoubh/wardenctl/internal/vault"
)

// Exit codes are the contract with schedulers: 0 full success, 1 fatal,
// 2 partial success (some backup formats failed, at least one usable).
const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

var (
	// ConfigFile is the path to the YAML configuration.
	ConfigFile string
	// Verbose lowers the log level to debug.
	Verbose bool

	rootCmd = &cobra.Command{
		Use:   "wardenctl",
		Short: "Operate and protect a single-node password-manager deployment",
		Long: `wardenctl backs up and restores a self-hosted password manager:
its SQLite database (five independent, verified, encrypted formats)
and its application volume state, with health-gated restores.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Flags are only parsed once a command runs; the logger level
		// depends on --verbose, so it is built here, not in Execute.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := logger.Init(Verbose)
			return err
		},
	}
)

// Execute runs the root command and returns the process exit code.
func Execute() int {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		log := logger.Global()
		if errors.Is(err, backup.ErrPartial) {
			log.Warn("finished with partial success", "error", err.Error())
			return exitPartial
		}
		log.Error("command failed", "error", err.Error())
		return exitFatal
	}
	return exitOK
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", "wardenctl.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().
		BoolVarP(&Verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(statusCmd)
}

// loadConfig loads and validates the YAML configuration.
func loadConfig() (config.Config, error) {
	var cfg config.Config
	if err := cfg.Load(ConfigFile); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// fetchPassphrase resolves the backup passphrase: Vault when configured,
// the local secret file otherwise.
func fetchPassphrase(ctx context.Context, cfg config.Config) (string, error) {
	if cfg.Vault.Address != "" {
		client, err := vault.NewClient(ctx,
			vault.WithAddress(cfg.Vault.Address),
			vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.RoleName),
		)
		if err != nil {
			return "", err
		}
		return client.BackupPassphrase(ctx, cfg.Vault.SecretPath)
	}

	data, err := os.ReadFile(cfg.Backup.PassphraseFile)
	if err != nil {
		return "", fmt.Errorf("read passphrase file: %w", err)
	}
	pass := strings.TrimSpace(string(data))
	if pass == "" {
		return "", fmt.Errorf("passphrase file %q is empty", cfg.Backup.PassphraseFile)
	}
	return pass, nil
}
