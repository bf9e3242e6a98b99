/*
Package config loads server configuration.

PRECEDENCE (lowest to highest):
  1. Defaults below
  2. .env file in the working directory, if present
  3. Process environment
  4. Command-line flags (-port, -db)

MONEY VALUES:
  LEVEL1_BASE, LEVEL1_BONUS, LEVELN_AMOUNT, QUALIFYING_AMOUNT and
  MIN_WITHDRAWAL are whole numbers in the single currency unit. "50000",
  "50000.00" and "5e4" are accepted; "12.5" is not.
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/referral"
)

type Config struct {
	Port        int
	DBPath      string
	Environment string
	LogLevel    string

	RedisAddr      string
	PlatformURL    string
	PlatformAPIKey string

	Schedule          referral.Schedule
	MinWithdrawal     referral.Amount
	BalanceCacheTTL   time.Duration
	AutoCompleteAfter time.Duration // 0 disables the completion scheduler
}

// Defaults reproduce the observed payout table.
func Defaults() Config {
	return Config{
		Port:        8080,
		DBPath:      "commissions.db",
		Environment: "development",
		LogLevel:    "info",
		Schedule: referral.Schedule{
			MaxLevel:         referral.MaxLevel,
			Level1Base:       50_000,
			Level1Bonus:      25_000,
			LevelN:           10_000,
			QualifyingAmount: 500_000,
		},
		MinWithdrawal:   50_000,
		BalanceCacheTTL: 30 * time.Second,
	}
}

// Load builds the configuration from .env, the environment and args (usually
// os.Args[1:]).
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	fset := flag.NewFlagSet("server", flag.ContinueOnError)
	fset.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fset.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("DB_PATH", &c.DBPath)
	str("ENVIRONMENT", &c.Environment)
	str("LOG_LEVEL", &c.LogLevel)
	str("REDIS_ADDR", &c.RedisAddr)
	str("PLATFORM_URL", &c.PlatformURL)
	str("PLATFORM_API_KEY", &c.PlatformAPIKey)

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Port = port
	}
	if v, ok := lookup("MAX_LEVEL"); ok && v != "" {
		level, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_LEVEL: %w", err)
		}
		c.Schedule.MaxLevel = level
	}

	money := []struct {
		key string
		dst *referral.Amount
	}{
		{"LEVEL1_BASE", &c.Schedule.Level1Base},
		{"LEVEL1_BONUS", &c.Schedule.Level1Bonus},
		{"LEVELN_AMOUNT", &c.Schedule.LevelN},
		{"QUALIFYING_AMOUNT", &c.Schedule.QualifyingAmount},
		{"MIN_WITHDRAWAL", &c.MinWithdrawal},
	}
	for _, m := range money {
		v, ok := lookup(m.key)
		if !ok || v == "" {
			continue
		}
		amount, err := ParseAmount(v)
		if err != nil {
			return fmt.Errorf("%s: %w", m.key, err)
		}
		*m.dst = amount
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BALANCE_CACHE_TTL", &c.BalanceCacheTTL},
		{"AUTO_COMPLETE_AFTER", &c.AutoCompleteAfter},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("database path is required")
	}
	if c.MinWithdrawal < 0 {
		return errors.New("MIN_WITHDRAWAL must not be negative")
	}
	if c.BalanceCacheTTL < 0 || c.AutoCompleteAfter < 0 {
		return errors.New("durations must not be negative")
	}
	return c.Schedule.Validate()
}

// ParseAmount parses a whole-number money value.
func ParseAmount(s string) (referral.Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal rejects fractional values and values outside int64.
func AmountFromDecimal(d decimal.Decimal) (referral.Amount, error) {
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("amount %s is not a whole number", d)
	}
	if !d.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s out of range", d)
	}
	return referral.Amount(d.IntPart()), nil
}
