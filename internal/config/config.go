// Package config loads server settings from an optional YAML file and the
// environment. Environment variables override the file; the file overrides
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/league-engine/internal/leaderboard"
)

// Config is the full server configuration.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	NATSURL     string `yaml:"nats_url"`
	OracleURL   string `yaml:"oracle_url"`

	ValidatorID     string        `yaml:"validator_id"`
	DelegationDelay time.Duration `yaml:"delegation_delay"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	OracleMaxAge    time.Duration `yaml:"oracle_max_age"`
	OracleRPS       float64       `yaml:"oracle_rps"`

	Policy  PolicyConfig   `yaml:"policy"`
	Program *ProgramSeed   `yaml:"program,omitempty"`
	Markets []MarketSeed   `yaml:"markets"`
	Tokens  []TokenBalance `yaml:"tokens"`
}

// PolicyConfig holds the game-rule knobs.
type PolicyConfig struct {
	AllowPendingJoin bool   `yaml:"allow_pending_join"`
	TieBreak         string `yaml:"tie_break"`
}

// ProgramSeed initializes the global configuration at startup.
type ProgramSeed struct {
	Admin    string `yaml:"admin"`
	Treasury string `yaml:"treasury"`
	FeeBps   uint16 `yaml:"fee_bps"`
}

// MarketSeed lists a market and, for the static oracle, its opening price.
type MarketSeed struct {
	Symbol      string          `yaml:"symbol"`
	PriceFeed   string          `yaml:"price_feed"`
	Decimals    uint8           `yaml:"decimals"`
	MaxLeverage uint8           `yaml:"max_leverage"`
	Price       decimal.Decimal `yaml:"price"`
	Exponent    int32           `yaml:"exponent"`
}

// TokenBalance funds an owner in the in-memory token ledger.
type TokenBalance struct {
	Mint   string `yaml:"mint"`
	Owner  string `yaml:"owner"`
	Amount int64  `yaml:"amount"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:            "8080",
		ValidatorID:     "rollup-validator",
		DelegationDelay: 2 * time.Second,
		CacheTTL:        30 * time.Second,
		OracleMaxAge:    time.Minute,
		OracleRPS:       10,
		Policy:          PolicyConfig{TieBreak: string(leaderboard.TieBreakVolume)},
	}
}

// Load reads LEAGUE_CONFIG_FILE if set, then applies the environment.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("LEAGUE_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := map[string]*string{
		"PORT":                  &c.Port,
		"DATABASE_URL":          &c.DatabaseURL,
		"REDIS_URL":             &c.RedisURL,
		"NATS_URL":              &c.NATSURL,
		"ORACLE_URL":            &c.OracleURL,
		"VALIDATOR_ID":          &c.ValidatorID,
		"LEADERBOARD_TIE_BREAK": &c.Policy.TieBreak,
	}
	for name, dst := range str {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	if v := getenv("DELEGATION_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DELEGATION_DELAY: %w", err)
		}
		c.DelegationDelay = d
	}
	if v := getenv("ORACLE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ORACLE_RPS: %w", err)
		}
		c.OracleRPS = f
	}
	if v := getenv("ALLOW_PENDING_JOIN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ALLOW_PENDING_JOIN: %w", err)
		}
		c.Policy.AllowPendingJoin = b
	}
	return nil
}

// Validate checks values the server cannot start without.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port is required")
	}
	if c.ValidatorID == "" {
		return fmt.Errorf("config: validator id is required")
	}
	if c.DelegationDelay < 0 {
		return fmt.Errorf("config: negative delegation delay %s", c.DelegationDelay)
	}
	if c.OracleURL != "" && c.OracleRPS <= 0 {
		return fmt.Errorf("config: oracle_rps must be positive, got %v", c.OracleRPS)
	}
	if _, err := leaderboard.ParseTieBreak(c.Policy.TieBreak); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for _, m := range c.Markets {
		if m.PriceFeed == "" {
			return fmt.Errorf("config: market %q has no price feed", m.Symbol)
		}
	}
	return nil
}

// TieBreak returns the parsed leaderboard policy.
func (c *Config) TieBreak() leaderboard.TieBreak {
	tb, _ := leaderboard.ParseTieBreak(c.Policy.TieBreak)
	return tb
}
