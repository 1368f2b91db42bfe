package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Hyperliquid HyperliquidConfig `mapstructure:"hyperliquid"`
	Poller      PollerConfig      `mapstructure:"poller"`
	Detection   DetectionConfig   `mapstructure:"detection"`
	Accounts    []AccountConfig   `mapstructure:"accounts"`
	Themes      ThemesConfig      `mapstructure:"themes"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// HyperliquidConfig holds Hyperliquid API configuration
type HyperliquidConfig struct {
	APIURL     string        `mapstructure:"api_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// PollerConfig holds polling behavior configuration
type PollerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RebaselineAge time.Duration `mapstructure:"rebaseline_age"`
}

// DetectionConfig seeds the detection rules on first run. Once persisted,
// the stored rules win over these values.
type DetectionConfig struct {
	InstrumentCount  int           `mapstructure:"instrument_count"`
	InstrumentWindow time.Duration `mapstructure:"instrument_window"`
	ThemeCount       int           `mapstructure:"theme_count"`
	ThemeWindow      time.Duration `mapstructure:"theme_window"`
	MinTradeValue    float64       `mapstructure:"min_trade_value"`
}

// AccountConfig describes one tracked account to seed into storage.
type AccountConfig struct {
	Address string `mapstructure:"address"`
	Name    string `mapstructure:"name"`
	Kind    string `mapstructure:"kind"`
}

// ThemesConfig points at the theme taxonomy file.
type ThemesConfig struct {
	FilePath string `mapstructure:"file_path"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath        string        `mapstructure:"db_path"`
	HistoryMaxAge time.Duration `mapstructure:"history_max_age"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("VAULTWATCH")
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Hyperliquid defaults
	v.SetDefault("hyperliquid.api_url", "https://api.hyperliquid.xyz")
	v.SetDefault("hyperliquid.timeout", "30s")
	v.SetDefault("hyperliquid.max_retries", 3)

	// Poller defaults
	v.SetDefault("poller.interval", "1m")
	v.SetDefault("poller.fetch_timeout", "30s")
	v.SetDefault("poller.max_concurrent", 5)
	v.SetDefault("poller.rebaseline_age", "30m")

	// Detection defaults
	v.SetDefault("detection.instrument_count", 2)
	v.SetDefault("detection.instrument_window", "10m")
	v.SetDefault("detection.theme_count", 2)
	v.SetDefault("detection.theme_window", "15m")
	v.SetDefault("detection.min_trade_value", 1000.0)

	// Themes defaults
	v.SetDefault("themes.file_path", "./configs/themes.yaml")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/vaultwatch.db")
	v.SetDefault("storage.history_max_age", "720h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Hyperliquid config
	if c.Hyperliquid.APIURL == "" {
		return fmt.Errorf("hyperliquid.api_url is required")
	}
	if c.Hyperliquid.Timeout < time.Second {
		return fmt.Errorf("hyperliquid.timeout must be at least 1 second")
	}
	if c.Hyperliquid.MaxRetries < 1 {
		return fmt.Errorf("hyperliquid.max_retries must be at least 1")
	}

	// Validate Poller config
	if c.Poller.Interval < 10*time.Second {
		return fmt.Errorf("poller.interval must be at least 10 seconds")
	}
	if c.Poller.FetchTimeout < time.Second {
		return fmt.Errorf("poller.fetch_timeout must be at least 1 second")
	}
	if c.Poller.MaxConcurrent < 1 {
		return fmt.Errorf("poller.max_concurrent must be at least 1")
	}
	if c.Poller.RebaselineAge < time.Minute {
		return fmt.Errorf("poller.rebaseline_age must be at least 1 minute")
	}

	// Validate Detection config
	if c.Detection.InstrumentCount < 2 {
		return fmt.Errorf("detection.instrument_count must be at least 2")
	}
	if c.Detection.InstrumentWindow < time.Minute {
		return fmt.Errorf("detection.instrument_window must be at least 1 minute")
	}
	if c.Detection.ThemeCount < 2 {
		return fmt.Errorf("detection.theme_count must be at least 2")
	}
	if c.Detection.ThemeWindow < time.Minute {
		return fmt.Errorf("detection.theme_window must be at least 1 minute")
	}
	if c.Detection.MinTradeValue < 0 {
		return fmt.Errorf("detection.min_trade_value must not be negative")
	}

	// Validate account entries
	for i, acc := range c.Accounts {
		if acc.Address == "" {
			return fmt.Errorf("accounts[%d].address is required", i)
		}
		if acc.Kind != "" && acc.Kind != "vault" && acc.Kind != "wallet" {
			return fmt.Errorf("accounts[%d].kind must be vault or wallet", i)
		}
	}

	// Validate Themes config
	if c.Themes.FilePath == "" {
		return fmt.Errorf("themes.file_path is required")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.HistoryMaxAge < time.Hour {
		return fmt.Errorf("storage.history_max_age must be at least 1 hour")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
