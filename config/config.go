package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigFile is read when LICENSE_CONFIG does not name another file
const DefaultConfigFile = "config.json"

type Config struct {
	LoggingConfig  LoggingConfig  `json:"logging" mapstructure:"logging"`
	ServerConfig   ServerConfig   `json:"server" mapstructure:"server"`
	DatabaseConfig DatabaseConfig `json:"database" mapstructure:"database"`
	RedisConfig    RedisConfig    `json:"redis" mapstructure:"redis"`
	VaultConfig    VaultConfig    `json:"vault" mapstructure:"vault"`
	AuthConfig     AuthConfig     `json:"auth" mapstructure:"auth"`
	IssuerConfig   IssuerConfig   `json:"issuer" mapstructure:"issuer"`
}

type LoggingConfig struct {
	Level       string `json:"level" mapstructure:"level"`               // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output" mapstructure:"output"`             // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format" mapstructure:"json_format"`   // Output as JSON
	IncludeFile bool   `json:"include_file" mapstructure:"include_file"` // Include file and line number
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port" mapstructure:"port"`
	Host            string `json:"host" mapstructure:"host"`
	AllowedOrigins  string `json:"allowed_origins" mapstructure:"allowed_origins"` // CORS allowed origins, comma separated
	ProductionMode  bool   `json:"production_mode" mapstructure:"production_mode"`
	ReadTimeout     int    `json:"read_timeout" mapstructure:"read_timeout"`         // Seconds
	WriteTimeout    int    `json:"write_timeout" mapstructure:"write_timeout"`       // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout" mapstructure:"shutdown_timeout"` // Seconds

	// Decode requests per client IP per minute, 0 disables
	DecodeRateLimit int `json:"decode_rate_limit" mapstructure:"decode_rate_limit"`
}

// DatabaseConfig holds the issuance registry connection settings
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"ssl_mode" mapstructure:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the issued license cache
type RedisConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Address  string        `json:"address" mapstructure:"address"`
	Password string        `json:"password" mapstructure:"password"`
	DB       int           `json:"db" mapstructure:"db"`
	PoolSize int           `json:"pool_size" mapstructure:"pool_size"`
	TTL      time.Duration `json:"ttl" mapstructure:"ttl"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Address    string `json:"address" mapstructure:"address"`
	Token      string `json:"token" mapstructure:"token"`
	MountPath  string `json:"mount_path" mapstructure:"mount_path"`   // KV secrets engine mount path
	SecretPath string `json:"secret_path" mapstructure:"secret_path"` // Path prefix for escrowed license keys
	TLSEnabled bool   `json:"tls_enabled" mapstructure:"tls_enabled"`
	CACert     string `json:"ca_cert" mapstructure:"ca_cert"`
}

// AuthConfig holds operator token configuration
type AuthConfig struct {
	Enabled             bool          `json:"enabled" mapstructure:"enabled"`
	JWTSecret           string        `json:"jwt_secret" mapstructure:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration" mapstructure:"access_token_duration"`
	Issuer              string        `json:"issuer" mapstructure:"issuer"`
}

// IssuerConfig holds defaults used when issuing new licenses
type IssuerConfig struct {
	KeyFile             string `json:"key_file" mapstructure:"key_file"`
	DefaultDurationDays uint64 `json:"default_duration_days" mapstructure:"default_duration_days"`
}

// setting binds one config key to its environment variable and default
type setting struct {
	key   string
	env   string
	value interface{}
}

var settings = []setting{
	{"logging.level", "LOG_LEVEL", "INFO"},
	{"logging.output", "LOG_OUTPUT", "stdout"},
	{"logging.json_format", "LOG_JSON", true},
	{"logging.include_file", "LOG_INCLUDE_FILE", false},

	{"server.port", "WEB_PORT", 8080},
	{"server.host", "WEB_HOST", "0.0.0.0"},
	{"server.allowed_origins", "SERVER_ALLOWED_ORIGINS", "*"},
	{"server.production_mode", "SERVER_PRODUCTION_MODE", false},
	{"server.read_timeout", "SERVER_READ_TIMEOUT", 30},
	{"server.write_timeout", "SERVER_WRITE_TIMEOUT", 30},
	{"server.shutdown_timeout", "SERVER_SHUTDOWN_TIMEOUT", 10},
	{"server.decode_rate_limit", "SERVER_DECODE_RATE_LIMIT", 120},

	{"database.enabled", "DB_ENABLED", false},
	{"database.host", "DB_HOST", "localhost"},
	{"database.port", "DB_PORT", 5432},
	{"database.user", "DB_USER", "license"},
	{"database.password", "DB_PASSWORD", ""},
	{"database.database", "DB_NAME", "licenses"},
	{"database.ssl_mode", "DB_SSLMODE", "disable"},

	{"redis.enabled", "REDIS_ENABLED", false},
	{"redis.address", "REDIS_ADDRESS", "localhost:6379"},
	{"redis.password", "REDIS_PASSWORD", ""},
	{"redis.db", "REDIS_DB", 0},
	{"redis.pool_size", "REDIS_POOL_SIZE", 10},
	{"redis.ttl", "REDIS_TTL", 24 * time.Hour},

	{"vault.enabled", "VAULT_ENABLED", false},
	{"vault.address", "VAULT_ADDR", "http://localhost:8200"},
	{"vault.token", "VAULT_TOKEN", ""},
	{"vault.mount_path", "VAULT_MOUNT_PATH", "secret"},
	{"vault.secret_path", "VAULT_SECRET_PATH", "appliance-license/keys"},
	{"vault.tls_enabled", "VAULT_TLS_ENABLED", false},
	{"vault.ca_cert", "VAULT_CACERT", ""},

	{"auth.enabled", "AUTH_ENABLED", false},
	{"auth.jwt_secret", "AUTH_JWT_SECRET", ""},
	{"auth.access_token_duration", "AUTH_ACCESS_TOKEN_DURATION", 15 * time.Minute},
	{"auth.issuer", "AUTH_ISSUER", "appliance-license"},

	{"issuer.key_file", "LICENSE_KEY_FILE", "license.key"},
	{"issuer.default_duration_days", "LICENSE_DEFAULT_DURATION_DAYS", 365},
}

// Load reads the config file named by LICENSE_CONFIG (or config.json) if it
// exists, then applies environment variable overrides.
func Load() (*Config, error) {
	filename := os.Getenv("LICENSE_CONFIG")
	if filename == "" {
		filename = DefaultConfigFile
	}
	return LoadFile(filename)
}

// LoadFile is Load with an explicit config file. A missing file is not an error.
func LoadFile(filename string) (*Config, error) {
	v := newViper()

	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, s := range settings {
		v.SetDefault(s.key, s.value)
		_ = v.BindEnv(s.key, s.env)
	}

	return v
}

// Validate checks settings that would otherwise fail at first use
func (c *Config) Validate() error {
	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth is enabled but AUTH_JWT_SECRET is empty")
	}
	if c.VaultConfig.Enabled && c.VaultConfig.Token == "" {
		return fmt.Errorf("vault is enabled but VAULT_TOKEN is empty")
	}
	if c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.ServerConfig.Port)
	}
	return nil
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	cfg, err := LoadFile("")
	if err != nil {
		return err
	}
	cfg.DatabaseConfig.Password = "change-me"
	cfg.AuthConfig.JWTSecret = "change-me"

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
