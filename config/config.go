package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"lendledger/crypto"
)

// Config holds the daemon's TOML configuration.
type Config struct {
	RPCAddress string `toml:"RPCAddress"`
	DataDir    string `toml:"DataDir"`
	Env        string `toml:"Env"`
	Owner      string `toml:"Owner"`

	LogLevel      string `toml:"LogLevel"`
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`

	Lending LendingConfig    `toml:"lending"`
	Oracle  OracleConfig     `toml:"oracle"`
	Markets []MarketConfig   `toml:"markets"`
	Genesis []GenesisBalance `toml:"genesis"`
}

// MarketConfig declares a collateral market the daemon registers at startup.
type MarketConfig struct {
	Token       string `toml:"Token"`
	Symbol      string `toml:"Symbol"`
	MinRatioBps uint64 `toml:"MinRatioBps"`
}

// GenesisBalance seeds an account balance the first time the daemon starts on
// an empty database. Symbol "base" targets the base-asset ledger.
type GenesisBalance struct {
	Address string `toml:"Address"`
	Symbol  string `toml:"Symbol"`
	Amount  string `toml:"Amount"`
}

// LendingConfig carries the engine's risk parameters. Zero values fall back
// to the engine defaults.
type LendingConfig struct {
	FeeBps                 uint64 `toml:"FeeBps"`
	LiquidationBonusBps    uint64 `toml:"LiquidationBonusBps"`
	FullLiquidationDropBps uint64 `toml:"FullLiquidationDropBps"`
	SecondsPerYear         uint64 `toml:"SecondsPerYear"`
}

// OracleConfig configures the collateral price source. RateE8 is the fixed
// base-asset rate at 1e8 scale used by the static source.
type OracleConfig struct {
	RateE8 string `toml:"RateE8"`
}

// Load reads the configuration at path, creating a commented default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if strings.TrimSpace(c.Oracle.RateE8) == "" {
		c.Oracle.RateE8 = "200000000000"
	}
}

// Validate rejects configurations the daemon could not start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("config: Owner is required")
	}
	if _, err := crypto.DecodeAddress(c.Owner); err != nil {
		return fmt.Errorf("config: invalid Owner address: %w", err)
	}
	for _, digit := range strings.TrimSpace(c.Oracle.RateE8) {
		if digit < '0' || digit > '9' {
			return fmt.Errorf("config: Oracle.RateE8 must be a decimal integer")
		}
	}
	for i, market := range c.Markets {
		if _, err := crypto.DecodeAddress(market.Token); err != nil {
			return fmt.Errorf("config: markets[%d]: invalid Token address: %w", i, err)
		}
		if strings.TrimSpace(market.Symbol) == "" {
			return fmt.Errorf("config: markets[%d]: Symbol is required", i)
		}
		if market.MinRatioBps == 0 {
			return fmt.Errorf("config: markets[%d]: MinRatioBps must be positive", i)
		}
	}
	for i, balance := range c.Genesis {
		if _, err := crypto.DecodeAddress(balance.Address); err != nil {
			return fmt.Errorf("config: genesis[%d]: invalid Address: %w", i, err)
		}
		if strings.TrimSpace(balance.Symbol) == "" {
			return fmt.Errorf("config: genesis[%d]: Symbol is required", i)
		}
		if strings.TrimSpace(balance.Amount) == "" {
			return fmt.Errorf("config: genesis[%d]: Amount is required", i)
		}
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	cfg := &Config{Owner: key.PubKey().Address().String()}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
