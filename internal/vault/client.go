// Package vault resolves exchange API credentials from HashiCorp Vault,
// with an in-memory fallback when Vault is disabled.
package vault

import (
	"context"
	"fmt"
	"sync"

	"bybit-tpsl-sync/config"

	"github.com/hashicorp/vault/api"
)

// CredentialData is one set of exchange credentials stored in Vault,
// keyed by environment ("mainnet", "testnet", "demo").
type CredentialData struct {
	APIKey      string `json:"api_key"`
	APISecret   string `json:"api_secret"`
	Environment string `json:"environment"`
}

// Client wraps the HashiCorp Vault client behind a KV v2 secrets engine.
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]*CredentialData // environment -> credentials
	cacheEnabled bool
}

// NewClient creates a new Vault client. With Vault disabled the client
// serves only what was stored into it at runtime, which lets tests and
// development setups inject credentials without a Vault server.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config:       cfg,
			cache:        make(map[string]*CredentialData),
			cacheEnabled: true,
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client:       client,
		config:       cfg,
		cache:        make(map[string]*CredentialData),
		cacheEnabled: true,
	}, nil
}

// StoreCredentials writes exchange credentials for an environment.
func (c *Client) StoreCredentials(ctx context.Context, data CredentialData) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[data.Environment] = &data
		c.mu.Unlock()
		return nil
	}

	path := c.secretPath(data.Environment)

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":     data.APIKey,
			"api_secret":  data.APISecret,
			"environment": data.Environment,
		},
	}

	_, err := c.client.Logical().WriteWithContext(ctx, path, secretData)
	if err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[data.Environment] = &data
		c.mu.Unlock()
	}

	return nil
}

// GetCredentials retrieves exchange credentials for an environment.
func (c *Client) GetCredentials(ctx context.Context, environment string) (*CredentialData, error) {
	if c.cacheEnabled {
		c.mu.RLock()
		if cached, ok := c.cache[environment]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()
	}

	if !c.config.Enabled {
		return nil, fmt.Errorf("credentials for %s not found and vault is disabled", environment)
	}

	path := c.secretPath(environment)

	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credentials for %s not found", environment)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &CredentialData{
		APIKey:      getString(data, "api_key"),
		APISecret:   getString(data, "api_secret"),
		Environment: getString(data, "environment"),
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("credentials for %s are incomplete", environment)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[environment] = creds
		c.mu.Unlock()
	}

	return creds, nil
}

// DeleteCredentials removes stored credentials for an environment.
func (c *Client) DeleteCredentials(ctx context.Context, environment string) error {
	c.mu.Lock()
	delete(c.cache, environment)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	path := c.metadataPath(environment)

	_, err := c.client.Logical().DeleteWithContext(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}

	return nil
}

// ClearCache clears the in-memory cache, forcing the next read through
// to Vault. Used after credential rotation.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*CredentialData)
	c.mu.Unlock()
}

// SetCacheEnabled enables or disables caching.
func (c *Client) SetCacheEnabled(enabled bool) {
	c.mu.Lock()
	c.cacheEnabled = enabled
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection.
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// secretPath returns the KV v2 data path for an environment's credentials.
func (c *Client) secretPath(environment string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, environment)
}

// metadataPath returns the KV v2 metadata path for an environment.
func (c *Client) metadataPath(environment string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, environment)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// NewMockClient creates a disabled-mode client for testing.
func NewMockClient() *Client {
	return &Client{
		config: config.VaultConfig{
			Enabled: false,
		},
		cache:        make(map[string]*CredentialData),
		cacheEnabled: true,
	}
}
