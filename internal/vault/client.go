package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/mitchellh/mapstructure"
)

const (
	approleSecretIDPath = "auth/approle/role/%s/secret-id"
	approleLoginPath    = "auth/approle/login"

	// The secret-fetch step is the only retried external call: Vault may
	// still be sealing/electing when a scheduled backup fires.
	fetchAttempts = 3
	fetchBackoff  = 2 * time.Second
)

// ErrClientInit indicates failure to initialize the Vault API client.
var ErrClientInit = errors.New("vault client initialization failed")

// ErrNoPassphrase indicates the secret exists but carries no usable passphrase.
var ErrNoPassphrase = errors.New("no passphrase in vault secret")

type Option func(*config)

type config struct {
	address  string
	token    string
	roleID   string
	roleName string
}

// Client wraps the Vault API client for this deployment's single use:
// fetching the backup passphrase.
type Client struct {
	api    *vault.Client
	config *config
}

// backupSecret is the shape of the KV entry holding the passphrase.
type backupSecret struct {
	Passphrase string `mapstructure:"passphrase"`
}

func WithAddress(address string) Option {
	return func(c *config) {
		c.address = address
	}
}

func WithToken(token string) Option {
	return func(c *config) {
		c.token = token
	}
}

func WithAppRole(roleID, roleName string) Option {
	return func(c *config) {
		c.roleID = roleID
		c.roleName = roleName
	}
}

// NewClient creates and initializes a Vault Client using provided options.
// It performs AppRole login if roleID and roleName are both set, otherwise
// a static token (from env or WithToken) is used.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	// Build default config from environment
	cfg := &config{
		address: os.Getenv("VAULT_ADDR"),
		token:   os.Getenv("VAULT_TOKEN"),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	apiCfg := vault.DefaultConfig()
	if cfg.address != "" {
		apiCfg.Address = cfg.address
	}

	api, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, err)
	}

	client := &Client{api: api, config: cfg}

	if cfg.token != "" {
		client.api.SetToken(cfg.token)
	}

	if cfg.roleID != "" && cfg.roleName != "" {
		if err := client.loginAppRole(ctx); err != nil {
			return nil, fmt.Errorf("AppRole login failed: %w", err)
		}
	}

	return client, nil
}

// loginAppRole performs AppRole login using the configured roleID and roleName.
func (c *Client) loginAppRole(ctx context.Context) error {
	// Generate Secret ID
	path := fmt.Sprintf(approleSecretIDPath, c.config.roleName)
	resp, err := c.api.Logical().WriteWithContext(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("generate secret_id: %w", err)
	}
	sid, ok := resp.Data["secret_id"].(string)
	if !ok || sid == "" {
		return fmt.Errorf("no secret_id returned from %s", path)
	}

	loginData := map[string]any{
		"role_id":   c.config.roleID,
		"secret_id": sid,
	}
	loginResp, err := c.api.Logical().WriteWithContext(ctx, approleLoginPath, loginData)
	if err != nil {
		return fmt.Errorf("approle login request: %w", err)
	}
	if loginResp.Auth == nil || loginResp.Auth.ClientToken == "" {
		return fmt.Errorf("no token in login response")
	}
	c.api.SetToken(loginResp.Auth.ClientToken)
	return nil
}

// BackupPassphrase reads the symmetric backup passphrase from the KV
// secret at path. The read is retried a bounded number of times with a
// fixed backoff; every other external call in the tool fails on first
// error.
func (c *Client) BackupPassphrase(ctx context.Context, path string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		secret, err := c.api.Logical().ReadWithContext(ctx, path)
		if err == nil && secret != nil {
			data := secret.Data
			// KV v2 nests the payload under "data".
			if nested, ok := secret.Data["data"].(map[string]any); ok {
				data = nested
			}
			var bs backupSecret
			if err := mapstructure.Decode(data, &bs); err != nil {
				return "", fmt.Errorf("decode secret at %s: %w", path, err)
			}
			if bs.Passphrase == "" {
				return "", fmt.Errorf("%w: path %s", ErrNoPassphrase, path)
			}
			return bs.Passphrase, nil
		}
		if err == nil {
			err = fmt.Errorf("no data found at path: %s", path)
		}
		lastErr = err
		if attempt < fetchAttempts {
			select {
			case <-time.After(fetchBackoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("vault read %s after %d attempts: %w", path, fetchAttempts, lastErr)
}
