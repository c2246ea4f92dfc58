// Package config loads node, relay and indexer settings with viper from an
// optional YAML file and RXCHAIN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. RXCHAIN_HTTP_ADDR
const EnvPrefix = "RXCHAIN"

type Config struct {
	Env      string         `mapstructure:"env"`
	LogLevel string         `mapstructure:"log_level"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Receipts ReceiptsConfig `mapstructure:"receipts"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Genesis  GenesisConfig  `mapstructure:"genesis"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// DatabaseConfig enables the PostgreSQL event store when URL is set
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

func (d DatabaseConfig) Enabled() bool { return d.URL != "" }

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	Workers int      `mapstructure:"workers"`
}

// ReceiptsConfig locates the LevelDB receipt store; an empty path keeps it in memory
type ReceiptsConfig struct {
	Path string `mapstructure:"path"`
}

type OutboxConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	// Insecure disables TLS towards the collector
	Insecure bool `mapstructure:"insecure"`
}

// GenesisConfig describes the initial deployment. Whitelist roots are
// computed from the listed addresses at boot.
type GenesisConfig struct {
	Admin               string             `mapstructure:"admin"`
	PrescriptionBaseURI string             `mapstructure:"prescription_base_uri"`
	LaboratoryBaseURI   string             `mapstructure:"laboratory_base_uri"`
	Doctors             []string           `mapstructure:"doctors"`
	Patients            []string           `mapstructure:"patients"`
	Pharmacies          []string           `mapstructure:"pharmacies"`
	Users               []string           `mapstructure:"users"`
	Medications         []MedicationConfig `mapstructure:"medications"`
	Accounts            []AccountConfig    `mapstructure:"accounts"`
}

type MedicationConfig struct {
	ID    uint64 `mapstructure:"id"`
	Name  string `mapstructure:"name"`
	Price uint64 `mapstructure:"price"`
	Rate  uint64 `mapstructure:"rate"`
}

type AccountConfig struct {
	Address string `mapstructure:"address"`
	Balance uint64 `mapstructure:"balance"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "rxchain")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "rxchain-indexer")
	v.SetDefault("kafka.workers", 8)

	v.SetDefault("receipts.path", "")

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 200*time.Millisecond)
	v.SetDefault("outbox.max_retries", 5)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("genesis.admin", "0x0000000000000000000000000000000000000a11")
	v.SetDefault("genesis.prescription_base_uri", "ipfs://QmV9w4bXjS5k5JLs5mZ6q2sQwqNqZc2y4HnF7f4b7v4b7/")
	v.SetDefault("genesis.laboratory_base_uri", "ipfs://")
	v.SetDefault("genesis.doctors", []string{})
	v.SetDefault("genesis.patients", []string{})
	v.SetDefault("genesis.pharmacies", []string{})
	v.SetDefault("genesis.users", []string{})
}

// Load reads path (if not empty), then overlays environment variables
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks the configuration is safe to run
func (c *Config) Validate() error {
	var errs []error
	if len(c.Auth.JWTSecret) < 32 && !c.IsDev() {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 bytes outside development"))
	}
	if c.Genesis.Admin == "" {
		errs = append(errs, errors.New("genesis.admin is required"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate must be within [0,1], got %v", c.Tracing.SampleRate))
	}
	if c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, errors.New("database.min_conns exceeds database.max_conns"))
	}
	return errors.Join(errs...)
}
