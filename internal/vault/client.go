package vault

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"

	"appliance-license/config"
)

// ErrKeyNotFound is returned when no key is escrowed for a serial
var ErrKeyNotFound = errors.New("license key not found")

// EscrowedKey is the license key blob stored in Vault for one system serial
type EscrowedKey struct {
	SystemSerial string    `json:"system_serial"`
	LicenseKey   string    `json:"license_key"`
	IssuedBy     string    `json:"issued_by"`
	StoredAt     time.Time `json:"stored_at"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]*EscrowedKey // serial -> key
	cacheEnabled bool
}

// NewClient creates a new Vault client. When Vault is disabled the client
// keeps escrowed keys in memory only.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config:       cfg,
			cache:        make(map[string]*EscrowedKey),
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
		cache:        make(map[string]*EscrowedKey),
		cacheEnabled: true,
	}, nil
}

// StoreLicenseKey escrows the key issued to a system serial, replacing any earlier one
func (c *Client) StoreLicenseKey(ctx context.Context, key EscrowedKey) error {
	if key.SystemSerial == "" {
		return fmt.Errorf("system serial is required")
	}
	if key.StoredAt.IsZero() {
		key.StoredAt = time.Now().UTC()
	}

	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[key.SystemSerial] = &key
		c.mu.Unlock()
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"system_serial": key.SystemSerial,
			"license_key":   key.LicenseKey,
			"issued_by":     key.IssuedBy,
			"stored_at":     key.StoredAt.Format(time.RFC3339),
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(key.SystemSerial), secretData); err != nil {
		return fmt.Errorf("failed to store license key in vault: %w", err)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[key.SystemSerial] = &key
		c.mu.Unlock()
	}

	return nil
}

// GetLicenseKey returns the key escrowed for serial
func (c *Client) GetLicenseKey(ctx context.Context, serial string) (*EscrowedKey, error) {
	if c.cacheEnabled {
		c.mu.RLock()
		if cached, ok := c.cache[serial]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()
	}

	if !c.config.Enabled {
		return nil, ErrKeyNotFound
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(serial))
	if err != nil {
		return nil, fmt.Errorf("failed to read license key from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrKeyNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	key := &EscrowedKey{
		SystemSerial: getString(data, "system_serial"),
		LicenseKey:   getString(data, "license_key"),
		IssuedBy:     getString(data, "issued_by"),
	}
	if ts := getString(data, "stored_at"); ts != "" {
		key.StoredAt, _ = time.Parse(time.RFC3339, ts)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[serial] = key
		c.mu.Unlock()
	}

	return key, nil
}

// DeleteLicenseKey removes the escrowed key and all its versions
func (c *Client) DeleteLicenseKey(ctx context.Context, serial string) error {
	c.mu.Lock()
	delete(c.cache, serial)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(serial)); err != nil {
		return fmt.Errorf("failed to delete license key from vault: %w", err)
	}

	return nil
}

// ListSerials lists the serials that have an escrowed key
func (c *Client) ListSerials(ctx context.Context) ([]string, error) {
	if !c.config.Enabled {
		c.mu.RLock()
		defer c.mu.RUnlock()

		serials := make([]string, 0, len(c.cache))
		for serial := range c.cache {
			serials = append(serials, serial)
		}
		sort.Strings(serials)
		return serials, nil
	}

	path := fmt.Sprintf("%s/metadata/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ListWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list license keys: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	var serials []string
	for _, k := range keys {
		if s, ok := k.(string); ok && !strings.HasSuffix(s, "/") {
			serials = append(serials, s)
		}
	}
	sort.Strings(serials)
	return serials, nil
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*EscrowedKey)
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
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

func (c *Client) secretPath(serial string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, serial)
}

func (c *Client) metadataPath(serial string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, serial)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// NewMockClient creates an in-memory client for testing
func NewMockClient() *Client {
	return &Client{
		config: config.VaultConfig{
			Enabled:    false,
			MountPath:  "secret",
			SecretPath: "appliance-license/keys",
		},
		cache:        make(map[string]*EscrowedKey),
		cacheEnabled: true,
	}
}
