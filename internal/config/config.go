// Package config loads service settings from an optional YAML file and
// GIVEAWAY_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"giveaway/internal/ledger"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "giveaway"

type Config struct {
	ListenAddr string `yaml:"listenAddr" split_words:"true"`

	StoreBackend   string        `yaml:"storeBackend"   split_words:"true"`
	BadgerPath     string        `yaml:"badgerPath"     split_words:"true"`
	RedisAddr      string        `yaml:"redisAddr"      split_words:"true"`
	RedisPassword  string        `yaml:"redisPassword"  split_words:"true"`
	RedisDB        int           `yaml:"redisDb"        envconfig:"REDIS_DB"`
	RedisPrefix    string        `yaml:"redisPrefix"    split_words:"true"`

	// CompletedTTL is how long a record is kept once its prize is paid.
	// The id counter and unfinished records never expire.
	CompletedTTL   time.Duration `yaml:"completedTtl"   envconfig:"COMPLETED_TTL"`
	// ParticipantTTL is how long entry flags are kept after the giveaway's
	// end time. A winner must be designated within this window.
	ParticipantTTL time.Duration `yaml:"participantTtl" envconfig:"PARTICIPANT_TTL"`

	JWTSecret string        `yaml:"jwtSecret" envconfig:"JWT_SECRET"`
	JWTIssuer string        `yaml:"jwtIssuer" envconfig:"JWT_ISSUER"`
	TokenTTL  time.Duration `yaml:"tokenTtl"  envconfig:"TOKEN_TTL"`

	// CustodyAddress holds escrowed prizes.
	CustodyAddress string `yaml:"custodyAddress" split_words:"true"`

	// RateLimit is requests per second per caller; 0 disables limiting.
	RateLimit float64 `yaml:"rateLimit" split_words:"true"`
	RateBurst int     `yaml:"rateBurst" split_words:"true"`

	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" split_words:"true"`
	LogVerbose      bool          `yaml:"logVerbose"      split_words:"true"`
	LogFile         string        `yaml:"logFile"         split_words:"true"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		ListenAddr:      ":8080",
		StoreBackend:    ledger.BackendMemory,
		RedisPrefix:     "giveaway:",
		JWTIssuer:       "giveaway",
		TokenTTL:        24 * time.Hour,
		CustodyAddress:  "GIVEAWAY-CUSTODY",
		RateLimit:       20,
		RateBurst:       40,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Load reads configFile, if given, over the defaults and then applies the
// environment.
func Load(configFile string) (*Config, error) {
	cfg := Default()
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case ledger.BackendMemory, ledger.BackendBadger:
	case ledger.BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("redisAddr is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.JWTSecret == "" {
		return errors.New("jwtSecret is required")
	}
	if c.CustodyAddress == "" {
		return errors.New("custodyAddress is required")
	}
	if c.TokenTTL <= 0 {
		return errors.New("tokenTtl must be positive")
	}
	if c.CompletedTTL < 0 || c.ParticipantTTL < 0 {
		return errors.New("storage TTLs must not be negative")
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst < 1) {
		return errors.New("rateLimit must be >= 0 with a positive rateBurst")
	}
	return nil
}

// LedgerOptions maps the storage settings onto ledger.Options.
func (c *Config) LedgerOptions() ledger.Options {
	return ledger.Options{
		Backend:       c.StoreBackend,
		BadgerPath:    c.BadgerPath,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		RedisPrefix:   c.RedisPrefix,
		TTL: ledger.TTLPolicy{
			Completed:     c.CompletedTTL,
			Participation: c.ParticipantTTL,
		},
	}
}
