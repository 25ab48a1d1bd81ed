/*
Package config loads booksd configuration.

PURPOSE:
  Values come from, in priority order: command-line flags bound by the
  CLI, BOOKS_* environment variables (a .env file is loaded into the
  environment first), an optional books.yaml, then the defaults below.

KEYS:
  db_path              books.db
  http_addr            :8080
  log_level            info
  log_format           ""            console | json; empty = json in production
  audit_hash_timeout   3s
  stockout_policy      allow         allow | reject
  tax_rates_file       ""            empty = built-in Florida table
  integrity_interval   1h            0 disables the scheduler
  environment          development

SEE ALSO:
  - cmd/booksd/root.go: flag bindings
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/warp/books-engine/inventory"
	"github.com/warp/books-engine/tax"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "BOOKS"

// Config is the resolved process configuration.
type Config struct {
	DBPath            string
	HTTPAddr          string
	LogLevel          string
	LogFormat         string
	AuditHashTimeout  time.Duration
	StockoutPolicy    inventory.StockoutPolicy
	TaxRatesFile      string
	IntegrityInterval time.Duration
	Environment       string
}

// New returns a viper instance with defaults and environment binding.
// Callers may bind flags to it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("db_path", "books.db")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "")
	v.SetDefault("audit_hash_timeout", "3s")
	v.SetDefault("stockout_policy", string(inventory.StockoutAllow))
	v.SetDefault("tax_rates_file", "")
	v.SetDefault("integrity_interval", "1h")
	v.SetDefault("environment", "development")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load resolves the configuration. configFile may be empty, in which case
// books.yaml is looked up in the working directory and ./config.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	// A missing .env is not an error.
	_ = godotenv.Load()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("books")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	policy, err := inventory.ParseStockoutPolicy(v.GetString("stockout_policy"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBPath:            strings.TrimSpace(v.GetString("db_path")),
		HTTPAddr:          strings.TrimSpace(v.GetString("http_addr")),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),
		AuditHashTimeout:  v.GetDuration("audit_hash_timeout"),
		StockoutPolicy:    policy,
		TaxRatesFile:      strings.TrimSpace(v.GetString("tax_rates_file")),
		IntegrityInterval: v.GetDuration("integrity_interval"),
		Environment:       strings.TrimSpace(v.GetString("environment")),
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
		if cfg.IsProduction() {
			cfg.LogFormat = "json"
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unusable values.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("config: db_path is required")
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("config: log_format %q must be console or json", c.LogFormat)
	}
	if c.AuditHashTimeout <= 0 {
		return fmt.Errorf("config: audit_hash_timeout must be positive, got %s", c.AuditHashTimeout)
	}
	if c.IntegrityInterval < 0 {
		return fmt.Errorf("config: integrity_interval must not be negative, got %s", c.IntegrityInterval)
	}
	return nil
}

// IsProduction reports whether environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// TaxRates returns the rate table from TaxRatesFile, or the built-in table.
func (c *Config) TaxRates() (tax.RateTable, error) {
	if c.TaxRatesFile == "" {
		return tax.DefaultRateTable(), nil
	}
	f, err := os.Open(c.TaxRatesFile)
	if err != nil {
		return tax.RateTable{}, fmt.Errorf("open tax rates: %w", err)
	}
	defer f.Close()

	table, err := tax.LoadRateTable(f)
	if err != nil {
		return tax.RateTable{}, fmt.Errorf("load tax rates %s: %w", c.TaxRatesFile, err)
	}
	return table, nil
}
