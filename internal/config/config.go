// Package config loads ledger-engine settings: built-in defaults, then an
// optional YAML file, then environment variables (a local .env file is
// read first when present).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration.
type Config struct {
	Port            string        `yaml:"port"`
	DatabaseURL     string        `yaml:"database_url"`
	RedisURL        string        `yaml:"redis_url"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Kafka           KafkaConfig   `yaml:"kafka"`
	Custody         CustodyConfig `yaml:"custody"`
}

// KafkaConfig enables the Kafka audit publisher when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// CustodyConfig names the custody accounts holding platform and vault funds
// and the identities that sign transfers out of them.
type CustodyConfig struct {
	TreasuryAccount string `yaml:"treasury_account"`
	TreasurySigner  string `yaml:"treasury_signer"`
	VaultAccount    string `yaml:"vault_account"`
	VaultSigner     string `yaml:"vault_signer"`

	// DevMint funds wallets of the in-memory custody service at startup,
	// keyed by identity.
	DevMint map[string]uint64 `yaml:"dev_mint"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:            "8080",
		CacheTTL:        30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Kafka: KafkaConfig{
			Topic: "ledger.events",
		},
		Custody: CustodyConfig{
			TreasuryAccount: "treasury:platform",
			TreasurySigner:  "platform-signer",
			VaultAccount:    "vault:main",
			VaultSigner:     "vault-signer",
		},
	}
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.Kafka.Topic, "KAFKA_TOPIC")
	setString(&c.Custody.TreasuryAccount, "TREASURY_ACCOUNT")
	setString(&c.Custody.TreasurySigner, "TREASURY_SIGNER")
	setString(&c.Custody.VaultAccount, "VAULT_ACCOUNT")
	setString(&c.Custody.VaultSigner, "VAULT_SIGNER")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if err := setDuration(&c.CacheTTL, "CACHE_TTL"); err != nil {
		return err
	}
	return setDuration(&c.ShutdownTimeout, "SHUTDOWN_TIMEOUT")
}

// Validate checks the loaded values.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: port is required")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: cache_ttl must be positive, got %s", c.CacheTTL)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("config: kafka topic is required when brokers are set")
	}
	cu := c.Custody
	if cu.TreasuryAccount == "" || cu.VaultAccount == "" {
		return errors.New("config: custody accounts are required")
	}
	if cu.TreasuryAccount == cu.VaultAccount {
		return errors.New("config: treasury and vault must use different custody accounts")
	}
	if cu.TreasurySigner == "" || cu.VaultSigner == "" {
		return errors.New("config: custody signers are required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
