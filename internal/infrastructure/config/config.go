package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Solar Fleet Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Ingest       IngestConfig       `yaml:"ingest"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Vault        VaultConfig        `yaml:"vault"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for the ingest consumer.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// IngestConfig contains inbound measurement intake settings.
type IngestConfig struct {
	// Enabled controls whether the MQTT intake consumer is started.
	Enabled bool `yaml:"enabled"`

	// TopicFilter is the subscription pattern for plant data topics.
	// Default subscribes to every plant: solar/+/data
	TopicFilter string `yaml:"topic_filter"`
}

// ProvisioningConfig contains external messaging-identity provisioning settings.
//
// When Enabled is false, or Simulation is true, the provisioning saga performs
// no network calls and returns deterministic placeholder identifiers. Callers
// never branch on which mode is active.
type ProvisioningConfig struct {
	Enabled    bool `yaml:"enabled"`
	Simulation bool `yaml:"simulation"`
}

// VaultConfig contains credential vault settings.
type VaultConfig struct {
	// Secret is the server-held master secret the envelope-encryption key is
	// derived from. Required; set via SOLARFLEET_VAULT_SECRET in production.
	Secret string `yaml:"secret"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file, applies environment variable
// overrides, and validates the result.
//
// Environment variables follow the pattern SOLARFLEET_SECTION_KEY,
// for example: SOLARFLEET_DATABASE_PATH, SOLARFLEET_VAULT_SECRET.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/solarfleet.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "solarfleet-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Ingest: IngestConfig{
			Enabled:     false,
			TopicFilter: "solar/+/data",
		},
		Provisioning: ProvisioningConfig{
			Enabled:    false,
			Simulation: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SOLARFLEET_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SOLARFLEET_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SOLARFLEET_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SOLARFLEET_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SOLARFLEET_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Provisioning mode flags
	if v := os.Getenv("SOLARFLEET_PROVISIONING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Provisioning.Enabled = b
		}
	}
	if v := os.Getenv("SOLARFLEET_PROVISIONING_SIMULATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Provisioning.Simulation = b
		}
	}

	// Vault secret (IMPORTANT: always set via environment in production)
	if v := os.Getenv("SOLARFLEET_VAULT_SECRET"); v != "" {
		cfg.Vault.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Ingest validation
	if c.Ingest.Enabled && c.Ingest.TopicFilter == "" {
		errs = append(errs, "ingest.topic_filter is required when ingest is enabled")
	}

	// Vault validation - the secret protects credential key material at rest.
	// A weak secret would let an attacker with database access recover plant
	// private keys, so a minimum length is enforced unconditionally.
	const minVaultSecretLength = 32
	if c.Vault.Secret == "" {
		errs = append(errs, "vault.secret is required (set SOLARFLEET_VAULT_SECRET environment variable)")
	} else if len(c.Vault.Secret) < minVaultSecretLength {
		errs = append(errs, "vault.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReconnectInitialDelay returns the MQTT initial reconnect delay as a Duration.
func (c *Config) ReconnectInitialDelay() time.Duration {
	return time.Duration(c.MQTT.Reconnect.InitialDelay) * time.Second
}

// ReconnectMaxDelay returns the MQTT maximum reconnect delay as a Duration.
func (c *Config) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.MQTT.Reconnect.MaxDelay) * time.Second
}
