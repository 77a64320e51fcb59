// config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// RiskConfig holds every limit the risk manager enforces. All monetary values
// are denominated in quote currency (USDT).
type RiskConfig struct {
	MaxTotalBudget         float64 `yaml:"max_total_budget"`
	MaxLeveragePerTrader   float64 `yaml:"max_leverage_per_trader"`
	MaxTotalLeverage       float64 `yaml:"max_total_leverage"`
	MaxExposurePerTrader   float64 `yaml:"max_exposure_per_trader"`
	MaxTotalExposure       float64 `yaml:"max_total_exposure"`
	MaxDailyLoss           float64 `yaml:"max_daily_loss"`
	StopLossPercentage     float64 `yaml:"stop_loss_percentage"`
	MonitorIntervalSeconds int     `yaml:"monitor_interval_seconds"`
	ScoreReduceThreshold   float64 `yaml:"score_reduce_threshold"`
	ScoreStopThreshold     float64 `yaml:"score_stop_threshold"`
}

// StrategyConfig selects and parameterizes one of the known signal generators.
type StrategyConfig struct {
	Name        string  `yaml:"name"`
	ShortWindow int     `yaml:"short_window"`
	LongWindow  int     `yaml:"long_window"`
	Threshold   float64 `yaml:"threshold"`
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds all general, non-strategy-specific configuration.
type NormalConfig struct {
	HTTPTimeoutSeconds     int    `yaml:"http_timeout_seconds"`
	RecvWindowSeconds      int    `yaml:"recv_window_seconds"`
	MonitorIntervalSeconds int    `yaml:"monitor_interval_seconds"`
	CandleIntervalSeconds  int    `yaml:"candle_interval_seconds"`
	OpsListenAddr          string `yaml:"ops_listen_addr"`
	LogDirectory           string `yaml:"log_directory"`
	DataDirectory          string `yaml:"data_directory"`
}

// Config is the top-level configuration structure.
type Config struct {
	Symbol        string          `yaml:"symbol"`
	TraderID      string          `yaml:"trader_id"`
	TradeQuantity float64         `yaml:"trade_quantity"`
	Leverage      float64         `yaml:"leverage"`
	TraderStake   float64         `yaml:"trader_stake"`
	UseSimulation bool            `yaml:"use_simulation"`
	Risk          *RiskConfig     `yaml:"risk"`
	Strategy      *StrategyConfig `yaml:"strategy"`
	Logs          *LogConfig      `yaml:"logs"`
	Normal        *NormalConfig   `yaml:"normal_config"`
}

// NewConfig creates a Config with nested structs allocated but zero-valued.
// All critical parameters MUST be provided in the config.yaml file; validation
// enforces that they were populated.
func NewConfig() *Config {
	return &Config{
		UseSimulation: false,
		Risk:          &RiskConfig{},
		Strategy:      &StrategyConfig{},
		Logs:          &LogConfig{},
		Normal:        &NormalConfig{},
	}
}

// LoadConfig loads configuration from a given path, applies defaults, and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("Error: Config file not found at %s. Program cannot run without a config file", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills the few parameters that have safe defaults. Risk limits
// never default; a missing limit is a validation error, not an implicit zero.
func (c *Config) applyDefaults() {
	if c.Risk.ScoreReduceThreshold == 0 {
		c.Risk.ScoreReduceThreshold = 0.60
	}
	if c.Risk.ScoreStopThreshold == 0 {
		c.Risk.ScoreStopThreshold = 0.85
	}
	if c.Leverage == 0 {
		c.Leverage = 1
	}
	if c.Normal.CandleIntervalSeconds == 0 {
		c.Normal.CandleIntervalSeconds = 60
	}
}

// Validate checks the logical consistency and completeness of the entire configuration.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("Critical config missing: 'symbol' must be explicitly specified in config.yaml")
	}
	if c.TraderID == "" {
		return fmt.Errorf("Critical config missing: 'trader_id' must be explicitly specified in config.yaml")
	}
	if c.TradeQuantity <= 0 {
		return fmt.Errorf("Critical config missing: 'trade_quantity' must be explicitly specified in config.yaml and be positive")
	}
	if c.Leverage < 1 {
		return fmt.Errorf("Config error: 'leverage' must be at least 1")
	}
	if c.TraderStake <= 0 {
		return fmt.Errorf("Critical config missing: 'trader_stake' must be explicitly specified in config.yaml and be positive")
	}

	if c.Normal == nil {
		return fmt.Errorf("Critical config missing: 'normal_config' block must be provided in config.yaml")
	}
	if c.Normal.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.http_timeout_seconds' must be positive")
	}
	if c.Normal.RecvWindowSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.recv_window_seconds' must be positive")
	}
	if c.Normal.MonitorIntervalSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.monitor_interval_seconds' must be positive")
	}
	if c.Normal.LogDirectory == "" {
		return fmt.Errorf("Critical config missing: 'normal_config.log_directory' must be specified (e.g., 'logs')")
	}
	if c.Normal.DataDirectory == "" {
		return fmt.Errorf("Critical config missing: 'normal_config.data_directory' must be specified (e.g., 'data')")
	}

	if c.Logs == nil {
		return fmt.Errorf("Critical config missing: 'logs' block must be provided in config.yaml")
	}
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("Critical config missing: 'logs.log_level' must be specified (e.g., 'info', 'debug')")
	}
	if c.Logs.MaxSizeMB <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_size_mb' must be positive")
	}
	if c.Logs.MaxBackups <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_backups' must be positive")
	}
	if c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_age_days' must be positive")
	}

	if err := c.Risk.Validate(); err != nil {
		return err
	}

	if c.Strategy == nil || c.Strategy.Name == "" {
		return fmt.Errorf("Critical config missing: 'strategy.name' must be specified in config.yaml")
	}

	return nil
}

// Validate checks that every risk limit was populated and is internally consistent.
func (r *RiskConfig) Validate() error {
	if r == nil {
		return fmt.Errorf("Critical config missing: 'risk' block must be provided in config.yaml")
	}
	if r.MaxTotalBudget <= 0 {
		return fmt.Errorf("Critical config missing: 'risk.max_total_budget' must be positive")
	}
	if r.MaxLeveragePerTrader < 1 {
		return fmt.Errorf("Critical config missing: 'risk.max_leverage_per_trader' must be at least 1")
	}
	if r.MaxTotalLeverage < r.MaxLeveragePerTrader {
		return fmt.Errorf("Config error: risk.max_total_leverage (%.1f) must not be below risk.max_leverage_per_trader (%.1f)",
			r.MaxTotalLeverage, r.MaxLeveragePerTrader)
	}
	if r.MaxExposurePerTrader <= 0 {
		return fmt.Errorf("Critical config missing: 'risk.max_exposure_per_trader' must be positive")
	}
	if r.MaxTotalExposure < r.MaxExposurePerTrader {
		return fmt.Errorf("Config error: risk.max_total_exposure (%.2f) must not be below risk.max_exposure_per_trader (%.2f)",
			r.MaxTotalExposure, r.MaxExposurePerTrader)
	}
	if r.MaxDailyLoss <= 0 {
		return fmt.Errorf("Critical config missing: 'risk.max_daily_loss' must be positive")
	}
	if r.StopLossPercentage <= 0 || r.StopLossPercentage >= 100 {
		return fmt.Errorf("Config error: risk.stop_loss_percentage must be between 0 and 100")
	}
	if r.MonitorIntervalSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'risk.monitor_interval_seconds' must be positive")
	}
	if r.ScoreReduceThreshold <= 0 || r.ScoreStopThreshold <= r.ScoreReduceThreshold {
		return fmt.Errorf("Config error: risk score thresholds must satisfy 0 < reduce < stop")
	}
	return nil
}

type EnvConfig struct {
	ApiKey    string
	ApiSecret string
	BaseURL   string
}

func LoadEnvConfig() *EnvConfig {
	return &EnvConfig{
		ApiKey:    os.Getenv("BINANCE_API_KEY"),
		ApiSecret: os.Getenv("BINANCE_SECRET_KEY"),
		BaseURL:   os.Getenv("BINANCE_TESTNET_BASE_URL"),
	}
}
