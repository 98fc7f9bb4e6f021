// Package config loads certd settings from an optional file and CERTLEDGER_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"certledger.org/internal/auth"
)

const EnvPrefix = "CERTLEDGER"

type Log struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type HTTP struct {
	Addr         string `mapstructure:"addr"`
	RateBurst    int    `mapstructure:"rate_burst"`
	RatePerSec   int    `mapstructure:"rate_per_sec"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

type GRPC struct {
	Addr string `mapstructure:"addr"`
}

// Storage selects the contract state backend: "memory" or "badger".
type Storage struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// Bank selects the balance backend: "memory" or "postgres".
type Bank struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
	// DevFunds opens the contract, owner and signer accounts with this
	// balance on the memory backend.
	DevFunds int64 `mapstructure:"dev_funds"`
}

// Ledger holds the contract parameters. The bootstrap fields are applied
// only when the store holds no contract yet.
type Ledger struct {
	ContractAccount string   `mapstructure:"contract_account"`
	Currency        string   `mapstructure:"currency"`
	StorageByteCost int64    `mapstructure:"storage_byte_cost"`
	Owner           string   `mapstructure:"owner"`
	Name            string   `mapstructure:"name"`
	Symbol          string   `mapstructure:"symbol"`
	Icon            string   `mapstructure:"icon"`
	BaseURI         string   `mapstructure:"base_uri"`
	CanTransfer     bool     `mapstructure:"can_transfer"`
	CanInvalidate   bool     `mapstructure:"can_invalidate"`
	TrashAccount    string   `mapstructure:"trash_account"`
	Issuers         []string `mapstructure:"issuers"`
}

type Auth struct {
	Secret        string        `mapstructure:"secret"`
	APIKey        string        `mapstructure:"api_key"`
	SignerAccount string        `mapstructure:"signer_account"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
}

type Mint struct {
	Deposit int64 `mapstructure:"deposit"`
}

type Payout struct {
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queue_size"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	Grace             time.Duration `mapstructure:"grace"`
}

type Explorer struct {
	DSN string `mapstructure:"dsn"`
}

// Config is the complete certd configuration.
type Config struct {
	Log      Log      `mapstructure:"log"`
	HTTP     HTTP     `mapstructure:"http"`
	GRPC     GRPC     `mapstructure:"grpc"`
	Storage  Storage  `mapstructure:"storage"`
	Bank     Bank     `mapstructure:"bank"`
	Ledger   Ledger   `mapstructure:"ledger"`
	Auth     Auth     `mapstructure:"auth"`
	Mint     Mint     `mapstructure:"mint"`
	Payout   Payout   `mapstructure:"payout"`
	Explorer Explorer `mapstructure:"explorer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", false)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.rate_burst", 20)
	v.SetDefault("http.rate_per_sec", 10)
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.path", "data/certledger")
	v.SetDefault("bank.backend", "memory")
	v.SetDefault("bank.dsn", "")
	v.SetDefault("bank.dev_funds", 0)
	v.SetDefault("ledger.contract_account", "")
	v.SetDefault("ledger.currency", "CRD")
	v.SetDefault("ledger.storage_byte_cost", 100)
	v.SetDefault("ledger.owner", "")
	v.SetDefault("ledger.name", "Certifications")
	v.SetDefault("ledger.symbol", "CERT")
	v.SetDefault("ledger.icon", "")
	v.SetDefault("ledger.base_uri", "")
	v.SetDefault("ledger.can_transfer", false)
	v.SetDefault("ledger.can_invalidate", true)
	v.SetDefault("ledger.trash_account", "")
	v.SetDefault("ledger.issuers", []string{})
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.signer_account", "")
	v.SetDefault("auth.token_ttl", 15*time.Minute)
	v.SetDefault("mint.deposit", 100_000)
	v.SetDefault("payout.workers", 2)
	v.SetDefault("payout.queue_size", 256)
	v.SetDefault("payout.reconcile_interval", time.Minute)
	v.SetDefault("payout.grace", 30*time.Second)
	v.SetDefault("explorer.dsn", "")
}

// Load reads file (optional) and the environment. Environment variables win
// over the file: ledger.owner is CERTLEDGER_LEDGER_OWNER.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Ledger.Issuers = splitList(cfg.Ledger.Issuers)
	if cfg.Auth.SignerAccount == "" {
		cfg.Auth.SignerAccount = cfg.Ledger.Owner
	}
	return &cfg, nil
}

// splitList flattens comma separated entries, as env vars deliver one string.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate checks the settings needed to serve.
func (c *Config) Validate() error {
	var errs []error
	if err := auth.ValidateAccountID(c.Ledger.ContractAccount); err != nil {
		errs = append(errs, fmt.Errorf("ledger.contract_account: %w", err))
	}
	if c.Ledger.Owner != "" {
		if err := auth.ValidateAccountID(c.Ledger.Owner); err != nil {
			errs = append(errs, fmt.Errorf("ledger.owner: %w", err))
		}
	}
	for _, acc := range c.Ledger.Issuers {
		if err := auth.ValidateAccountID(acc); err != nil {
			errs = append(errs, fmt.Errorf("ledger.issuers %q: %w", acc, err))
		}
	}
	if c.Ledger.StorageByteCost <= 0 {
		errs = append(errs, errors.New("ledger.storage_byte_cost must be > 0"))
	}
	switch c.Storage.Backend {
	case "memory":
	case "badger":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for badger"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: want memory or badger", c.Storage.Backend))
	}
	switch c.Bank.Backend {
	case "memory":
	case "postgres":
		if c.Bank.DSN == "" {
			errs = append(errs, errors.New("bank.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("bank.backend %q: want memory or postgres", c.Bank.Backend))
	}
	if c.Auth.APIKey != "" && c.Auth.SignerAccount == "" {
		errs = append(errs, errors.New("auth.signer_account is required with auth.api_key"))
	}
	if c.Mint.Deposit < 0 {
		errs = append(errs, errors.New("mint.deposit must be >= 0"))
	}
	if c.Payout.Workers <= 0 {
		errs = append(errs, errors.New("payout.workers must be > 0"))
	}
	return errors.Join(errs...)
}
