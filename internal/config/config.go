package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// Config is the top-level YAML configuration. It is loaded once in the
// cmd layer and handed by value to every component constructor; nothing
// reads configuration through package-level state.
type Config struct {
	Data      DataConfig      `mapstructure:"data"      yaml:"data"`
	Backup    BackupConfig    `mapstructure:"backup"    yaml:"backup"`
	Stack     StackConfig     `mapstructure:"stack"     yaml:"stack"`
	Vault     VaultConfig     `mapstructure:"vault"     yaml:"vault,omitempty"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`
	Sync      SyncConfig      `mapstructure:"sync"      yaml:"sync,omitempty"`
	Restore   RestoreConfig   `mapstructure:"restore"   yaml:"restore"`
}

// DataConfig locates the live application state.
type DataConfig struct {
	// DatabasePath is the SQLite database file of the password manager.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	// Directory is the application data directory (attachments, config,
	// RSA keys) captured by full backups.
	Directory string `mapstructure:"directory" yaml:"directory"`
}

// BackupConfig contains global backup options.
type BackupConfig struct {
	// Directory is the backup root; database runs go under <dir>/db,
	// full archives under <dir>/full.
	Directory       string `mapstructure:"directory"        yaml:"directory"`
	TimestampFormat string `mapstructure:"timestamp_format" yaml:"timestamp_format"`
	// PassphraseFile is the local fallback when Vault is not configured.
	PassphraseFile string `mapstructure:"passphrase_file" yaml:"passphrase_file,omitempty"`
}

// StackConfig describes the docker compose deployment.
type StackConfig struct {
	ComposeFile string `mapstructure:"compose_file" yaml:"compose_file"`
	// CoreContainers must all report healthy after a restore.
	CoreContainers []string `mapstructure:"core_containers" yaml:"core_containers"`
}

// VaultConfig holds connection settings for HashiCorp Vault. When
// Address is empty the passphrase file is used instead.
type VaultConfig struct {
	Address    string `mapstructure:"address"     yaml:"address,omitempty"`
	RoleID     string `mapstructure:"role_id"     yaml:"role_id,omitempty"`
	RoleName   string `mapstructure:"role_name"   yaml:"role_name,omitempty"`
	SecretPath string `mapstructure:"secret_path" yaml:"secret_path,omitempty"`
}

// RetentionConfig specifies how long finished runs are kept. A
// non-positive Days disables pruning.
type RetentionConfig struct {
	Days int `mapstructure:"days" yaml:"days"`
}

// SyncConfig names an optional rclone remote that finished run
// directories are handed to. Empty disables the hand-off.
type SyncConfig struct {
	Remote string `mapstructure:"remote" yaml:"remote,omitempty"`
}

// RestoreConfig bounds the post-restore health gate.
type RestoreConfig struct {
	HealthRetries  int           `mapstructure:"health_retries"  yaml:"health_retries"`
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
}

// Load reads the configuration from the given YAML file using Viper and
// unmarshals it into the Config struct. Missing optional keys fall back
// to the literal defaults below.
func (c *Config) Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("WARDENCTL")
	v.AutomaticEnv()

	v.SetDefault("data.database_path", "data/db.sqlite3")
	v.SetDefault("data.directory", "data")
	v.SetDefault("backup.directory", "backups")
	v.SetDefault("backup.timestamp_format", "20060102-150405")
	v.SetDefault("stack.compose_file", "docker-compose.yml")
	v.SetDefault("stack.core_containers", []string{"vaultwarden", "caddy"})
	v.SetDefault("retention.days", 30)
	v.SetDefault("restore.health_retries", 30)
	v.SetDefault("restore.health_interval", 10*time.Second)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read config %s: %v", ErrLoadConfig, path, err)
	}

	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	return c.Validate()
}

// Validate checks the constraints that cannot wait until a component
// trips over them mid-run.
func (c *Config) Validate() error {
	if c.Data.DatabasePath == "" {
		return fmt.Errorf("%w: data.database_path is required", ErrValidateConfig)
	}
	if c.Backup.Directory == "" {
		return fmt.Errorf("%w: backup.directory is required", ErrValidateConfig)
	}
	if c.Vault.Address == "" && c.Backup.PassphraseFile == "" {
		return fmt.Errorf(
			"%w: either vault.address or backup.passphrase_file must be set",
			ErrValidateConfig,
		)
	}
	if c.Vault.Address != "" && c.Vault.SecretPath == "" {
		return fmt.Errorf(
			"%w: vault.secret_path is required when vault.address is set",
			ErrValidateConfig,
		)
	}
	if len(c.Stack.CoreContainers) == 0 {
		return fmt.Errorf("%w: stack.core_containers must not be empty", ErrValidateConfig)
	}
	if c.Restore.HealthRetries <= 0 || c.Restore.HealthInterval <= 0 {
		return fmt.Errorf("%w: restore health budget must be positive", ErrValidateConfig)
	}
	return nil
}
