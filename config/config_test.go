package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/referral"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, referral.Amount(50_000), cfg.Schedule.Level1Base)
	assert.Equal(t, referral.Amount(25_000), cfg.Schedule.Level1Bonus)
	assert.Equal(t, referral.Amount(10_000), cfg.Schedule.LevelN)
	assert.Equal(t, referral.Amount(500_000), cfg.Schedule.QualifyingAmount)
	assert.Equal(t, 10, cfg.Schedule.MaxLevel)
	assert.Zero(t, cfg.AutoCompleteAfter)
}

func TestApplyEnv(t *testing.T) {
	// GIVEN: Every supported variable set
	cfg := Defaults()
	env := map[string]string{
		"PORT":                "9090",
		"DB_PATH":             " /tmp/ledger.db ",
		"ENVIRONMENT":         "production",
		"LOG_LEVEL":           "debug",
		"REDIS_ADDR":          "localhost:6379",
		"PLATFORM_URL":        "https://platform.example",
		"PLATFORM_API_KEY":    "secret",
		"MAX_LEVEL":           "5",
		"LEVEL1_BASE":         "60000.00",
		"LEVEL1_BONUS":        "3e4",
		"LEVELN_AMOUNT":       "12000",
		"QUALIFYING_AMOUNT":   "750000",
		"MIN_WITHDRAWAL":      "20000",
		"BALANCE_CACHE_TTL":   "1m",
		"AUTO_COMPLETE_AFTER": "24h",
	}

	// WHEN: Applying them
	require.NoError(t, cfg.applyEnv(lookupFrom(env)))

	// THEN: Each one lands in its field
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/tmp/ledger.db", cfg.DBPath)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "https://platform.example", cfg.PlatformURL)
	assert.Equal(t, "secret", cfg.PlatformAPIKey)
	assert.Equal(t, referral.Schedule{
		MaxLevel:         5,
		Level1Base:       60_000,
		Level1Bonus:      30_000,
		LevelN:           12_000,
		QualifyingAmount: 750_000,
	}, cfg.Schedule)
	assert.Equal(t, referral.Amount(20_000), cfg.MinWithdrawal)
	assert.Equal(t, time.Minute, cfg.BalanceCacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.AutoCompleteAfter)
}

func TestApplyEnv_BlankValuesKeepDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.applyEnv(lookupFrom(map[string]string{
		"DB_PATH":     "   ",
		"PORT":        "",
		"LEVEL1_BASE": "",
	})))

	assert.Equal(t, Defaults(), cfg)
}

func TestApplyEnv_Errors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "eighty"},
		{"MAX_LEVEL", "ten"},
		{"LEVEL1_BASE", "12.5"},
		{"MIN_WITHDRAWAL", "lots"},
		{"BALANCE_CACHE_TTL", "30"},
		{"AUTO_COMPLETE_AFTER", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := Defaults()
			err := cfg.applyEnv(lookupFrom(map[string]string{tt.key: tt.value}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70_000 }},
		{"no database", func(c *Config) { c.DBPath = "" }},
		{"negative minimum", func(c *Config) { c.MinWithdrawal = -1 }},
		{"negative ttl", func(c *Config) { c.BalanceCacheTTL = -time.Second }},
		{"negative delay", func(c *Config) { c.AutoCompleteAfter = -time.Second }},
		{"schedule too deep", func(c *Config) { c.Schedule.MaxLevel = 11 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    referral.Amount
		wantErr bool
	}{
		{"50000", 50_000, false},
		{" 50000.00 ", 50_000, false},
		{"5e4", 50_000, false},
		{"0", 0, false},
		{"-10000", -10_000, false},
		{"12.5", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"99999999999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmountFromDecimal(t *testing.T) {
	got, err := AmountFromDecimal(decimal.NewFromInt(112_500))
	require.NoError(t, err)
	assert.Equal(t, referral.Amount(112_500), got)

	_, err = AmountFromDecimal(decimal.RequireFromString("0.01"))
	assert.Error(t, err)
}

func TestLoad_Flags(t *testing.T) {
	// GIVEN: Environment and flags both set the port
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", "env.db")

	// WHEN: Loading with flags
	cfg, err := Load([]string{"-port", "7070"})

	// THEN: Flags win, the environment fills the rest
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "env.db", cfg.DBPath)
}

func TestLoad_InvalidFlag(t *testing.T) {
	_, err := Load([]string{"-port", "nope"})
	assert.Error(t, err)
}

func TestLoad_InvalidResult(t *testing.T) {
	_, err := Load([]string{"-port", "0"})
	assert.Error(t, err)
}
